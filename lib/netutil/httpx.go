// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds the HTTP and connection I/O helpers shared by the
// bridge's adapters and relay connection.
//
// Response helpers (ReadResponse, DecodeResponse, ErrorBody) bound body
// reads so a misbehaving local runtime cannot exhaust memory. They are
// for small JSON bodies and error text, not for the AG-UI event stream,
// which is read incrementally.
//
// IsExpectedCloseError classifies errors from normal connection teardown
// on TCP and WebSocket connections so they are not logged as failures.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// MaxResponseSize bounds JSON response body reads: 16 MB. Health and
// skill list responses are a few kilobytes.
const MaxResponseSize int64 = 16 << 20

// MaxErrorBodySize bounds how much of an error response is kept for an
// error message.
const MaxErrorBodySize int64 = 4 << 10

// ReadResponse reads a JSON response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a JSON response body (up to MaxResponseSize
// bytes) and decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads up to MaxErrorBodySize bytes of an error response and
// returns them with surrounding whitespace trimmed. Read errors are
// ignored; a partial or empty body is still useful in a message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxErrorBodySize))
	return strings.TrimSpace(string(data))
}
