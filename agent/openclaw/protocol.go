// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package openclaw

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentos-dev/agentos/lib/identity"
)

// ProtocolVersion is the gateway protocol spoken, sent as both the
// minimum and maximum in the connect request.
const ProtocolVersion = 3

// Client identification sent in the connect request and covered by the
// signed device payload.
const (
	ClientID   = "gateway-client"
	ClientMode = "backend"
	Role       = "operator"
)

// Frame types.
const (
	frameRequest  = "req"
	frameResponse = "res"
	frameEvent    = "event"
)

// Request methods.
const (
	methodConnect   = "connect"
	methodChatSend  = "chat.send"
	methodChatAbort = "chat.abort"
)

// Event names.
const (
	eventChallenge = "connect.challenge"
	eventChat      = "chat"
	eventAgent     = "agent"
	eventTick      = "tick"
	eventShutdown  = "shutdown"
)

// Chat event states.
const (
	stateDelta   = "delta"
	stateFinal   = "final"
	stateError   = "error"
	stateAborted = "aborted"
)

// requestFrame is an outbound request.
type requestFrame struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// inboundFrame is the union of response and event frames.
type inboundFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *errorShape     `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
}

type errorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// GatewayError is a request the gateway answered with ok=false.
type GatewayError struct {
	Method  string
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("openclaw: %s rejected: %s", e.Method, e.Message)
	}
	return fmt.Sprintf("openclaw: %s rejected (%s): %s", e.Method, e.Code, e.Message)
}

func responseError(method string, frame inboundFrame) error {
	if frame.OK {
		return nil
	}
	err := &GatewayError{Method: method, Message: "request failed"}
	if frame.Error != nil {
		err.Code = frame.Error.Code
		if frame.Error.Message != "" {
			err.Message = frame.Error.Message
		}
	}
	return err
}

type challengePayload struct {
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"ts"`
}

type clientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

type connectAuth struct {
	Token string `json:"token,omitempty"`
}

type connectParams struct {
	MinProtocol int                   `json:"minProtocol"`
	MaxProtocol int                   `json:"maxProtocol"`
	Client      clientInfo            `json:"client"`
	Role        string                `json:"role"`
	Scopes      []string              `json:"scopes"`
	Auth        *connectAuth          `json:"auth,omitempty"`
	Device      identity.SignedDevice `json:"device"`
}

type chatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type chatSendResult struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

type chatAbortParams struct {
	SessionKey string `json:"sessionKey"`
	RunID      string `json:"runId"`
}

// chatEvent carries a run's state. Message is the cumulative assistant
// message so far, not a delta.
type chatEvent struct {
	RunID        string          `json:"runId"`
	SessionKey   string          `json:"sessionKey"`
	Seq          int             `json:"seq"`
	State        string          `json:"state"`
	Message      json.RawMessage `json:"message,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

type agentEvent struct {
	RunID  string          `json:"runId"`
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type toolData struct {
	Phase      string          `json:"phase"`
	Name       string          `json:"name"`
	ToolCallID string          `json:"toolCallId"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
}

type messagePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// messageText extracts the text of a gateway chat message. The message
// may be a bare string, or an object whose content is a string or a
// list of typed parts; only text parts count.
func messageText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return text
	}

	var message struct {
		Content json.RawMessage `json:"content"`
		Text    string          `json:"text"`
	}
	if json.Unmarshal(raw, &message) != nil {
		return ""
	}
	if json.Unmarshal(message.Content, &text) == nil {
		return text
	}
	var parts []messagePart
	if json.Unmarshal(message.Content, &parts) != nil {
		return message.Text
	}
	var builder strings.Builder
	for _, part := range parts {
		if part.Type == "" || part.Type == "text" {
			builder.WriteString(part.Text)
		}
	}
	return builder.String()
}

// rawText renders a JSON value for a tool event: strings as their
// value, anything else compacted.
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return text
	}
	var compact bytes.Buffer
	if json.Compact(&compact, raw) != nil {
		return string(raw)
	}
	return compact.String()
}
