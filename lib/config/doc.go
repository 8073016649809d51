// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the bridge's configuration.
//
// Configuration starts from [Default] and is overlaid by at most one
// file, named by the --config flag (via [LoadFile]) or the
// AGENTOS_CONFIG environment variable (via [Load]). There is no file
// discovery. Files ending in .json or .jsonc are parsed as JSON with
// comments and trailing commas allowed; anything else is YAML. Command
// line flags are applied by the caller after loading.
//
// ${VAR} and ${VAR:-default} references in the relay URL, agent URL,
// tokens, and the identity and metrics paths are expanded after the
// file is read. This keeps secrets out of the file itself:
//
//	relay:
//	  url: wss://relay.example.com/bridge
//	  auth_token: ${AGENTOS_RELAY_TOKEN}
//	agent:
//	  type: copaw
//	  url: http://127.0.0.1:8088
//
// Key exports:
//
//   - [Config] with Relay, Agent, Identity, Metrics and Limits sections
//   - [Default] and [Load]/[LoadFile]
//   - [Config.Validate], which reports every problem at once
//
// This package depends on no other packages in this module.
package config
