// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time moves only when Advance is
// called. It is safe for concurrent use.
//
// AfterFunc callbacks run synchronously in the goroutine calling
// Advance, in deadline order. A callback may register new timers but must
// not call Advance.
type FakeClock struct {
	mu      sync.Mutex
	changed *sync.Cond
	now     time.Time
	pending []*fakeTimer
}

type fakeTimer struct {
	deadline time.Time
	interval time.Duration // non-zero for tickers
	channel  chan time.Time
	callback func()
	done     bool // stopped, or a one-shot that already fired
}

// Fake returns a FakeClock whose current time is start.
func Fake(start time.Time) *FakeClock {
	clock := &FakeClock{now: start}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives when the clock reaches now+d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.addLocked(&fakeTimer{deadline: c.now.Add(d), channel: channel})
	return channel
}

// AfterFunc registers f to run when the clock reaches now+d. If d <= 0
// f runs before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}

	c.mu.Lock()
	entry := &fakeTimer{deadline: c.now.Add(d), callback: f}
	c.addLocked(entry)
	c.mu.Unlock()

	return &Timer{stop: func() bool { return c.cancel(entry) }}
}

// NewTicker returns a ticker firing every d of fake time.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	channel := make(chan time.Time, 1)
	entry := &fakeTimer{deadline: c.now.Add(d), interval: d, channel: channel}
	c.addLocked(entry)
	c.mu.Unlock()

	return &Ticker{C: channel, stop: func() { c.cancel(entry) }}
}

// Advance moves the clock forward by d and fires everything whose
// deadline is at or before the new time. A ticker spanning several
// intervals fires once per interval; ticks that do not fit in the
// channel buffer are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.collect(target)
		if len(due) == 0 {
			return
		}
		for _, entry := range due {
			if entry.callback != nil {
				entry.callback()
				continue
			}
			select {
			case entry.channel <- target:
			default:
			}
		}
	}
}

// WaitForTimers blocks until at least n timers or tickers are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of timers and tickers that have not
// fired or been stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) addLocked(entry *fakeTimer) {
	c.pending = append(c.pending, entry)
	c.changed.Broadcast()
}

func (c *FakeClock) cancel(entry *fakeTimer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.done {
		return false
	}
	entry.done = true
	c.changed.Broadcast()
	return true
}

func (c *FakeClock) pendingLocked() int {
	count := 0
	for _, entry := range c.pending {
		if !entry.done {
			count++
		}
	}
	return count
}

// collect removes due entries from the pending list, reschedules tickers
// and returns what should fire, ordered by deadline.
func (c *FakeClock) collect(target time.Time) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, remaining []*fakeTimer
	for _, entry := range c.pending {
		if entry.done {
			continue
		}
		if entry.deadline.After(target) {
			remaining = append(remaining, entry)
			continue
		}
		due = append(due, entry)
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})

	fired := make([]*fakeTimer, 0, len(due))
	for _, entry := range due {
		fired = append(fired, entry)
		if entry.interval > 0 {
			entry.deadline = entry.deadline.Add(entry.interval)
			remaining = append(remaining, entry)
		} else {
			entry.done = true
		}
	}

	c.pending = remaining
	c.changed.Broadcast()
	return fired
}
