// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry maps owner ids (a user, a desktop session) to their live
// adapter. It is safe for concurrent use. The zero value is ready to
// use.
type Registry struct {
	// Logger receives lifecycle records. Nil uses slog.Default().
	Logger *slog.Logger

	mu       sync.Mutex
	adapters map[string]Adapter
}

func (r *Registry) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Register associates adapter with owner. An adapter previously
// registered for owner is disconnected and cleaned up, unless it is the
// same adapter.
func (r *Registry) Register(owner string, adapter Adapter) {
	r.mu.Lock()
	if r.adapters == nil {
		r.adapters = make(map[string]Adapter)
	}
	previous := r.adapters[owner]
	r.adapters[owner] = adapter
	r.mu.Unlock()

	if previous != nil && previous != adapter {
		r.logger().Info("replacing adapter", "owner", owner)
		release(previous)
	}
}

// Lookup returns the adapter registered for owner.
func (r *Registry) Lookup(owner string) (Adapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	adapter, ok := r.adapters[owner]
	return adapter, ok
}

// Remove disconnects, cleans up and forgets the adapter for owner. It
// reports whether one was registered.
func (r *Registry) Remove(owner string) bool {
	r.mu.Lock()
	adapter, ok := r.adapters[owner]
	delete(r.adapters, owner)
	r.mu.Unlock()

	if ok {
		r.logger().Info("removing adapter", "owner", owner)
		release(adapter)
	}
	return ok
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.adapters)
}

// Owners returns the registered owner ids in sorted order.
func (r *Registry) Owners() []string {
	r.mu.Lock()
	owners := make([]string, 0, len(r.adapters))
	for owner := range r.adapters {
		owners = append(owners, owner)
	}
	r.mu.Unlock()
	sort.Strings(owners)
	return owners
}

// Close removes every adapter.
func (r *Registry) Close() {
	for _, owner := range r.Owners() {
		r.Remove(owner)
	}
}

func release(adapter Adapter) {
	adapter.Disconnect()
	adapter.Cleanup()
}
