// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

// Package agui translates an AG-UI server-sent event stream into the
// small set of events the bridge relays: content deltas, tool call
// phases, and exactly one terminal event (run finished or run error).
//
// [Translator] is push-style: feed it transport chunks as they arrive.
// Chunk boundaries do not matter; a line split across two chunks is
// reassembled before it is parsed. [Stream] wraps an [io.Reader] and
// pulls chunks on demand.
//
// Only "data: " lines are meaningful. Everything else (event names,
// comments, ids, blank separators) is ignored, as is any payload that
// is not valid JSON or has an event type the bridge does not relay.
// "data: [DONE]" ends the run.
package agui
