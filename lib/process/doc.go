// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers for the bridge binary: fatal
// error reporting before a structured logger exists, and the signal
// context main() runs under.
package process
