// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

// Agentos-bridge connects a local agent runtime (CoPaw, an OpenClaw
// gateway, or a desktop companion) to the AgentOS relay, so chats
// started on a phone run on the user's own machine.
//
// The run command loads the configuration, loads or creates the device
// identity, builds the adapter for the configured runtime and keeps a
// registered control socket to the relay until SIGINT or SIGTERM. The
// identity command prints the device id and public key for pairing.
//
// With agent type desktop the bridge only registers presence: every chat
// is answered with a request to use the relay's builtin provider, and
// skills stay with the desktop app's own relay session.
package main
