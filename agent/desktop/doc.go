// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

// Package desktop is the agent.Adapter for a desktop companion app.
//
// The desktop runs no model itself: Chat always returns
// agent.ErrDelegateToBuiltin and the caller answers with its builtin
// provider. The adapter's job is bookkeeping. It tracks whether the
// desktop is online, the capabilities it declared, and the skills it
// last reported, and it implements agent.SkillManager by sending
// commands back to the desktop through a [Link].
package desktop
