// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned by Chat and skill operations when the
	// adapter has no live connection to its runtime.
	ErrNotConnected = errors.New("agent: not connected")

	// ErrDelegateToBuiltin is returned by adapters that do not run
	// model inference. The caller must route the chat through its own
	// provider and must not retry on this adapter.
	ErrDelegateToBuiltin = errors.New("agent: delegate to builtin provider")

	// ErrUnsupported is returned for an operation the runtime does not
	// offer.
	ErrUnsupported = errors.New("agent: operation not supported")
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one prior turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatOptions parameterize one chat turn.
type ChatOptions struct {
	// ConversationID correlates the turn's output (including tool
	// events) with the relay conversation that requested it.
	ConversationID string

	// SessionKey is the runtime session to chat in. Empty means the
	// adapter's own SessionKey().
	SessionKey string
}

// ToolPhase is a stage of a tool call.
type ToolPhase string

const (
	ToolStart  ToolPhase = "start"
	ToolResult ToolPhase = "result"
	ToolError  ToolPhase = "error"
)

// ToolEvent reports progress of a tool call made by the runtime during a
// chat turn. Events are delivered as they happen and never buffered.
type ToolEvent struct {
	ConversationID string
	Phase          ToolPhase
	Name           string

	// Args is the call's arguments as the runtime sent them, usually
	// JSON text. Empty when unknown.
	Args string

	// Result is the tool output on ToolResult, or the error text on
	// ToolError.
	Result string
}

// PushMessage is assistant output the runtime produced without a chat
// request from this bridge, such as a scheduled task or a reply to a
// turn started from another client.
type PushMessage struct {
	SessionKey string
	Content    string
	Source     string
}

// Adapter is the backend contract. Implementations are safe for
// concurrent use.
//
// Listener setters replace the previous listener; at most one of each
// kind is active and a nil listener disables delivery. Listeners are
// called from the adapter's own goroutines and must not block.
type Adapter interface {
	// Connect establishes the connection to the runtime. Calling it
	// while connected is a no-op.
	Connect(ctx context.Context) error

	// IsConnected reports whether the runtime is currently usable.
	IsConnected() bool

	// Disconnect closes the connection. In-flight chats fail. The
	// disconnect listener fires once per transition to disconnected.
	Disconnect()

	// Cleanup releases every resource the adapter holds, including
	// background goroutines. The adapter is unusable afterwards.
	Cleanup()

	// Chat starts one turn. history is the conversation so far with
	// the new user message last. The returned stream yields text
	// fragments. Cancelling ctx ends the stream at the next network
	// read.
	Chat(ctx context.Context, history []Message, options ChatOptions) (*ChatStream, error)

	// SessionKey is the runtime session used when ChatOptions does not
	// name one.
	SessionKey() string

	OnToolEvent(listener func(ToolEvent))
	OnPushMessage(listener func(PushMessage))
	OnDisconnect(listener func(reason string))
}

// Skill is an installable capability of a runtime, as last reported by
// it.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
	Enabled     bool   `json:"enabled"`

	// Content is the skill document, Markdown with optional YAML
	// frontmatter. Omitted from listings.
	Content string `json:"-"`
}

// SkillManager is implemented by adapters whose runtime manages skills.
type SkillManager interface {
	ListSkills(ctx context.Context) ([]Skill, error)
	InstallSkill(ctx context.Context, skill Skill) error
	UninstallSkill(ctx context.Context, name string) error
	SetSkillEnabled(ctx context.Context, name string, enabled bool) error
}

// HealthChecker is implemented by adapters that can probe their runtime
// independently of the connection state. A nil error means reachable.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// SupportsSkills reports whether adapter manages skills.
func SupportsSkills(adapter Adapter) (SkillManager, bool) {
	manager, ok := adapter.(SkillManager)
	return manager, ok
}

// SupportsHealth reports whether adapter can probe its runtime.
func SupportsHealth(adapter Adapter) (HealthChecker, bool) {
	checker, ok := adapter.(HealthChecker)
	return checker, ok
}
