// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit applies an independent token bucket per key. The
// bridge keys it by runtime session so one chatty phone cannot starve
// another session sharing the same bridge.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long a key may go unused before its bucket is
// discarded.
const DefaultIdleTTL = 10 * time.Minute

// evictEvery is how many Allow calls pass between idle sweeps.
const evictEvery = 256

// Keyed is a set of token buckets indexed by string key. A nil *Keyed
// allows everything. It is safe for concurrent use.
type Keyed struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*bucket
	calls uint64
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New returns a limiter allowing perSecond sustained events and burst
// immediate events per key. It returns nil, which disables limiting,
// when either bound is not positive. A non-positive idleTTL uses
// DefaultIdleTTL.
func New(perSecond float64, burst int, idleTTL time.Duration) *Keyed {
	if perSecond <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Keyed{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: idleTTL,
		byKey:   make(map[string]*bucket),
	}
}

// Allow reports whether one event for key may happen at now, consuming a
// token if so.
func (k *Keyed) Allow(key string, now time.Time) bool {
	if k == nil {
		return true
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	entry, ok := k.byKey[key]
	if !ok {
		entry = &bucket{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.byKey[key] = entry
	}
	entry.lastSeen = now
	allowed := entry.limiter.AllowN(now, 1)

	k.calls++
	if k.calls%evictEvery == 0 {
		k.evictLocked(now)
	}
	return allowed
}

// Len returns the number of keys currently tracked.
func (k *Keyed) Len() int {
	if k == nil {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.byKey)
}

func (k *Keyed) evictLocked(now time.Time) {
	cutoff := now.Add(-k.idleTTL)
	for key, entry := range k.byKey {
		if entry.lastSeen.Before(cutoff) {
			delete(k.byKey, key)
		}
	}
}
