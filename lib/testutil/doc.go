// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireClosed] and [RequireNoReceive] wrap the
// select-with-timeout pattern so tests never block forever on a channel
// and individual tests do not need direct time.After calls. These and
// [Eventually] are the only places tests use real wall-clock timeouts;
// everything else runs on lib/clock's fake clock.
//
// [UniqueID] produces distinct identifiers for conversation ids,
// session keys and similar values that must not collide between
// parallel tests.
//
// All helpers call t.Fatalf on failure rather than returning errors.
package testutil
