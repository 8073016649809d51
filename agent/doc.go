// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent defines the contract between the relay connection and a
// local agent runtime.
//
// [Adapter] is the mandatory capability set every backend implements:
// lifecycle (Connect, IsConnected, Disconnect, Cleanup), streaming chat,
// and three replaceable listeners for tool events, unsolicited push
// messages and disconnects. Backends with more to offer implement
// optional interfaces that callers check explicitly:
//
//	if skills, ok := agent.SupportsSkills(adapter); ok {
//	    list, err := skills.ListSkills(ctx)
//	    ...
//	}
//
// Three variants live in subpackages: agent/openclaw (a local WebSocket
// gateway), agent/copaw (a local HTTP runtime speaking AG-UI), and
// agent/desktop (a desktop companion that runs chats itself and only
// exposes skill management).
//
// [Registry] tracks live adapters by owner so replacing or removing one
// always releases its resources.
package agent
