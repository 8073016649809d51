// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity manages the bridge's per-machine device identity: an
// Ed25519 key pair persisted to a local file, the device id derived
// from it, and the signed authentication payloads the bridge presents to
// the relay and to a local gateway.
//
// The device id is always the lowercase hex SHA-256 of the raw 32-byte
// public key. It is recomputed on every load; a deviceId stored in the
// file is written for operator convenience and never trusted.
//
// [LoadOrCreate] never fails on a corrupt or missing file: it generates
// a fresh identity instead. The relay treats a new fingerprint as a new,
// unlinked device until a human links it, so regeneration is safe. Only
// a failure to write the fresh file is reported.
//
// Two bridge processes starting for the first time on the same machine
// can race to create the file; the last rename wins and the loser keeps
// an identity that no longer matches the file. There is no interprocess
// lock.
package identity
