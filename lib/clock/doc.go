// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the bridge's
// timers: the registration timeout, the reconnect delay, the keep-alive
// ticker and the reachability probe.
//
// Production code holds a Clock field set to Real(). Tests set it to
// Fake(t0) and drive time explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	supervisor := relay.NewSupervisor(connection, relay.SupervisorOptions{Clock: fake})
//	// ... trigger a disconnect ...
//	fake.WaitForTimers(1)
//	fake.Advance(relay.ReconnectDelay)
//
// WaitForTimers closes the race between a goroutine registering a timer
// and the test advancing past it.
package clock
