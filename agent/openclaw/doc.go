// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

// Package openclaw adapts a local OpenClaw gateway to agent.Adapter over
// the gateway's WebSocket protocol (version 3).
//
// Every frame is JSON: requests {type:"req", id, method, params},
// responses {type:"res", id, ok, payload|error}, and events
// {type:"event", event, payload}. Connecting is a challenge handshake:
// the gateway opens with a connect.challenge event carrying a nonce, and
// the adapter answers with a connect request whose device block is the
// v2 auth payload over that nonce, signed with the machine's
// lib/identity key. The connection is usable once the gateway answers
// ok.
//
// A chat turn is one chat.send request. Its output arrives as chat
// events for the run: each delta carries the whole assistant message so
// far, which the adapter turns into the increments a ChatStream yields.
// The final event completes the stream; error and aborted fail it. Tool
// activity arrives as agent events on the "tool" stream. Final chat
// output for runs the adapter did not start (another client, a
// scheduled job) is delivered as push messages.
//
// When the socket closes, every in-flight request and stream fails with
// [ErrConnectionLost] and the disconnect listener fires once. An
// abandoned stream sends a best-effort chat.abort.
package openclaw
