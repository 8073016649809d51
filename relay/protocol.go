// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentos-dev/agentos/agent"
	"github.com/agentos-dev/agentos/lib/identity"
)

// Control socket message types.
const (
	TypeRegister          = "bridge.register"
	TypeRegistered        = "bridge.registered"
	TypeChatRequest       = "bridge.chat.request"
	TypeChatCancel        = "bridge.chat.cancel"
	TypeChatChunk         = "bridge.chat.chunk"
	TypeChatDone          = "bridge.chat.done"
	TypeChatError         = "bridge.chat.error"
	TypeSkillEvent        = "bridge.skill.event"
	TypeSkillListRequest  = "bridge.skill.list.request"
	TypeSkillListResponse = "bridge.skill.list.response"
	TypeSkillToggle       = "bridge.skill.toggle"
	TypePushMessage       = "bridge.push.message"
	TypeError             = "error"
	TypePing              = "ping"
	TypePong              = "pong"
)

// Signed registration identifies the bridge with these auth payload
// fields.
const (
	RegisterClientID   = "agentos-bridge"
	RegisterClientMode = "bridge"
	RegisterRole       = "bridge"
)

// Envelope is the frame of every control socket message. Timestamp is
// epoch milliseconds.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope wraps payload in a fresh envelope stamped with now.
func NewEnvelope(now time.Time, messageType string, payload any) (Envelope, error) {
	envelope := Envelope{ID: uuid.NewString(), Type: messageType, Timestamp: now.UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("relay: marshaling %s payload: %w", messageType, err)
		}
		envelope.Payload = data
	}
	return envelope, nil
}

// Decode unmarshals the payload into v. An absent payload leaves v
// untouched.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("relay: decoding %s payload: %w", e.Type, err)
	}
	return nil
}

// RegisterPayload is sent once per socket. Device carries the signed
// v1 auth payload; the relay verifies it against PublicKey and never
// sees the fields separately.
type RegisterPayload struct {
	AuthToken    string                 `json:"authToken,omitempty"`
	AgentType    string                 `json:"agentType"`
	Device       *identity.SignedDevice `json:"device,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
}

// RegisteredPayload acknowledges registration.
type RegisteredPayload struct {
	BridgeID string `json:"bridgeId"`
}

// ChatRequestPayload starts a conversation turn. History, when present,
// holds the turns before Content.
type ChatRequestPayload struct {
	ConversationID string          `json:"conversationId"`
	Content        string          `json:"content"`
	SessionKey     string          `json:"sessionKey,omitempty"`
	History        []agent.Message `json:"history,omitempty"`
}

type ChatCancelPayload struct {
	ConversationID string `json:"conversationId"`
}

type ChatChunkPayload struct {
	ConversationID string `json:"conversationId"`
	Delta          string `json:"delta"`
}

type ChatDonePayload struct {
	ConversationID string `json:"conversationId"`
	FullContent    string `json:"fullContent"`
}

type ChatErrorPayload struct {
	ConversationID string `json:"conversationId"`
	Error          string `json:"error"`
}

// Skill event phases.
const (
	SkillPhaseStart  = "start"
	SkillPhaseResult = "result"
)

// SkillEventPayload reports a tool call of a conversation. A failed
// call is a result whose data carries Error.
type SkillEventPayload struct {
	ConversationID string          `json:"conversationId"`
	Phase          string          `json:"phase"`
	SkillName      string          `json:"skillName"`
	Data           *SkillEventData `json:"data,omitempty"`
}

type SkillEventData struct {
	Args   string `json:"args,omitempty"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type SkillListResponsePayload struct {
	Skills []agent.Skill `json:"skills"`
}

type SkillTogglePayload struct {
	SkillName string `json:"skillName"`
	Enabled   bool   `json:"enabled"`
}

type PushMessagePayload struct {
	SessionKey string `json:"sessionKey"`
	Content    string `json:"content"`
	Source     string `json:"source,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// skillEvent converts an adapter tool event to its wire form.
func skillEvent(event agent.ToolEvent) SkillEventPayload {
	payload := SkillEventPayload{
		ConversationID: event.ConversationID,
		SkillName:      event.Name,
	}
	data := &SkillEventData{Args: event.Args}
	switch event.Phase {
	case agent.ToolStart:
		payload.Phase = SkillPhaseStart
	case agent.ToolError:
		payload.Phase = SkillPhaseResult
		data.Error = event.Result
		if data.Error == "" {
			data.Error = "tool failed"
		}
	default:
		payload.Phase = SkillPhaseResult
		data.Result = event.Result
	}
	if *data != (SkillEventData{}) {
		payload.Data = data
	}
	return payload
}
