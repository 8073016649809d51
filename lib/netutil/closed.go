// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"strconv"
	"syscall"

	"github.com/gorilla/websocket"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, a closed connection, broken pipe, connection reset,
// or a WebSocket close frame with a normal, going-away or no-status code.
// These are what the surviving side sees when the peer disconnects and
// should not be logged as errors.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	var closeError *websocket.CloseError
	if errors.As(err, &closeError) {
		switch closeError.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return true
		}
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// CloseReason returns a short human-readable description of why a
// connection ended, for status reporting.
func CloseReason(err error) string {
	if err == nil {
		return "closed"
	}
	var closeError *websocket.CloseError
	if errors.As(err, &closeError) {
		if closeError.Text != "" {
			return closeError.Text
		}
		return closeCodeName(closeError.Code)
	}
	return err.Error()
}

func closeCodeName(code int) string {
	switch code {
	case websocket.CloseNormalClosure:
		return "normal closure"
	case websocket.CloseGoingAway:
		return "going away"
	case websocket.CloseNoStatusReceived:
		return "no status"
	case websocket.CloseAbnormalClosure:
		return "abnormal closure"
	case websocket.ClosePolicyViolation:
		return "policy violation"
	case websocket.CloseInternalServerErr:
		return "server error"
	}
	return "close code " + strconv.Itoa(code)
}
