// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

// Package copaw adapts a local CoPaw runtime, an HTTP server that
// answers each chat turn with an AG-UI event stream, to agent.Adapter.
//
// Each Chat is one POST /ag-ui whose response body is translated by
// lib/agui: content deltas become stream fragments, tool call phases go
// to the tool event listener, RUN_ERROR fails the stream with the
// runtime's message verbatim, and the end of the run completes it. A
// non-200 status fails Chat itself with an [*HTTPError] before any
// fragment is produced.
//
// HTTP is stateless, so "connected" means the adapter has been started
// and not stopped. Whether the runtime actually answers is tracked
// separately by a probe of GET /health every [ProbeInterval] and exposed
// as [Adapter.LocalRuntimeReachable]. A failed probe only flips that
// flag.
//
// The runtime's built-in skills (GET /skills) are listed through
// agent.SkillManager; CoPaw has no install or toggle API, so those
// operations return agent.ErrUnsupported.
package copaw
