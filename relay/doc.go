// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay connects the bridge to the AgentOS relay over a single
// long-lived WebSocket control socket.
//
// A [Connection] registers with a signed device block, then serves
// bridge.chat.request messages by driving an [agent.Adapter]: every
// fragment the adapter yields becomes a bridge.chat.chunk, and each
// conversation ends with exactly one bridge.chat.done or
// bridge.chat.error. Tool calls surface as bridge.skill.event and
// unsolicited runtime output as bridge.push.message.
//
// A [Supervisor] owns the reconnect policy. Each time a registered socket
// closes it arms one retry timer; a close while the timer is pending is
// a no-op. It probes the local runtime on its own schedule, so relay
// connectivity and runtime reachability are reported independently in
// [Status].
//
// Every message travels in an [Envelope] whose payload is one of the
// *Payload types in this package.
package relay
