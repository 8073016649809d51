// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the bridge binary.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] are injected with
// -ldflags -X and default to "unknown" and "0.1.0-dev" in development
// builds and tests:
//
//	go build -ldflags "-X github.com/agentos-dev/agentos/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// [Info] is the --version line, [Full] adds the Go toolchain and
// platform, and [UserAgent] is what the bridge presents to the relay and
// to local runtimes.
package version
