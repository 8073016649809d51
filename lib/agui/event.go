// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package agui

// Kind identifies a translated event.
type Kind string

const (
	// ContentDelta carries a fragment of assistant text in Delta.
	ContentDelta Kind = "content_delta"

	// ToolStart reports a tool call beginning. ToolName is set; Args
	// carries initial arguments when the runtime included them.
	ToolStart Kind = "tool_start"

	// ToolEnd reports a tool call completing, once per call. Args
	// carries the arguments accumulated from TOOL_CALL_ARGS deltas and
	// Result the tool output when the runtime sent one.
	ToolEnd Kind = "tool_end"

	// RunFinished is terminal. Content holds the accumulated text.
	RunFinished Kind = "run_finished"

	// RunError is terminal. Message holds the runtime's error text
	// verbatim and Content the text accumulated before the failure.
	RunError Kind = "run_error"
)

// Event is one translated event.
type Event struct {
	Kind Kind

	Delta string

	ToolCallID string
	ToolName   string
	Args       string
	Result     string

	Message string
	Content string
}

// Terminal reports whether the event ends the run.
func (e Event) Terminal() bool {
	return e.Kind == RunFinished || e.Kind == RunError
}

// Upstream AG-UI event type names.
const (
	typeTextMessageContent = "TEXT_MESSAGE_CONTENT"
	typeRunFinished        = "RUN_FINISHED"
	typeRunError           = "RUN_ERROR"
	typeToolCallStart      = "TOOL_CALL_START"
	typeToolCallArgs       = "TOOL_CALL_ARGS"
	typeToolCallEnd        = "TOOL_CALL_END"
	typeToolCallResult     = "TOOL_CALL_RESULT"
)

// wireEvent is the union of the AG-UI payload fields the translator
// reads. Args and results may arrive as strings or as JSON values.
type wireEvent struct {
	Type         string       `json:"type"`
	Delta        string       `json:"delta"`
	Message      string       `json:"message"`
	ToolCallID   string       `json:"toolCallId"`
	ToolCallName string       `json:"toolCallName"`
	Name         string       `json:"name"`
	Args         flexibleText `json:"args"`
	Content      flexibleText `json:"content"`
	Result       flexibleText `json:"result"`
}
