// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package agui

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
)

const (
	dataPrefix = "data: "
	doneMarker = "[DONE]"
)

// Translator converts AG-UI stream bytes into Events. It is not safe for
// concurrent use. The zero value is ready to use.
type Translator struct {
	pending  []byte
	content  strings.Builder
	tools    map[string]*toolCall
	finished bool

	// ended holds calls that sent TOOL_CALL_END, in order, until their
	// result arrives or another event is produced.
	ended []string
	// completed holds calls whose ToolEnd was already returned.
	completed map[string]bool
}

type toolCall struct {
	name string
	args strings.Builder
}

// Feed consumes the next transport chunk and returns the events it
// completes. Once a terminal event has been returned Feed returns nil.
func (t *Translator) Feed(chunk []byte) []Event {
	if t.finished {
		return nil
	}
	t.pending = append(t.pending, chunk...)

	var events []Event
	for !t.finished {
		index := bytes.IndexByte(t.pending, '\n')
		if index < 0 {
			break
		}
		line := string(t.pending[:index])
		t.pending = t.pending[index+1:]
		events = t.appendLine(events, line)
	}
	if t.finished {
		t.pending = nil
	}
	return events
}

// Finish signals end of input. A final line without a trailing newline
// is processed. If no terminal event was produced a synthetic
// RunFinished carrying the accumulated content is returned. After Finish
// the translator is spent.
func (t *Translator) Finish() []Event {
	if t.finished {
		return nil
	}
	var events []Event
	if len(t.pending) > 0 {
		line := string(t.pending)
		t.pending = nil
		events = t.appendLine(events, line)
	}
	if !t.finished {
		events = t.terminal(events, Event{Kind: RunFinished})
	}
	return events
}

// Content returns the assistant text accumulated so far.
func (t *Translator) Content() string {
	return t.content.String()
}

// Finished reports whether a terminal event has been produced.
func (t *Translator) Finished() bool {
	return t.finished
}

func (t *Translator) appendLine(events []Event, line string) []Event {
	line = strings.TrimSuffix(line, "\r")
	data, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return events
	}
	if strings.TrimSpace(data) == doneMarker {
		return t.terminal(events, Event{Kind: RunFinished})
	}

	var wire wireEvent
	if err := json.Unmarshal([]byte(data), &wire); err != nil {
		return events
	}
	return t.translate(events, wire)
}

// translate appends the events wire produces. A TOOL_CALL_END is held
// so that a following TOOL_CALL_RESULT for the same call yields a single
// ToolEnd carrying the result; any other event flushes held ends first.
func (t *Translator) translate(events []Event, wire wireEvent) []Event {
	switch wire.Type {
	case typeTextMessageContent:
		if wire.Delta == "" {
			return events
		}
		t.content.WriteString(wire.Delta)
		return append(t.flushEnded(events), Event{Kind: ContentDelta, Delta: wire.Delta})

	case typeRunFinished:
		return t.terminal(events, Event{Kind: RunFinished})

	case typeRunError:
		return t.terminal(events, Event{Kind: RunError, Message: wire.Message})

	case typeToolCallStart:
		name := wire.ToolCallName
		if name == "" {
			name = wire.Name
		}
		call := t.tool(wire.ToolCallID)
		call.name = name
		call.args.WriteString(string(wire.Args))
		return append(t.flushEnded(events), Event{
			Kind:       ToolStart,
			ToolCallID: wire.ToolCallID,
			ToolName:   name,
			Args:       string(wire.Args),
		})

	case typeToolCallArgs:
		t.tool(wire.ToolCallID).args.WriteString(wire.Delta)
		return events

	case typeToolCallEnd:
		if t.completed[wire.ToolCallID] || slices.Contains(t.ended, wire.ToolCallID) {
			return events
		}
		t.tool(wire.ToolCallID)
		t.ended = append(t.ended, wire.ToolCallID)
		return events

	case typeToolCallResult:
		if t.completed[wire.ToolCallID] {
			return events
		}
		t.ended = slices.DeleteFunc(t.ended, func(id string) bool { return id == wire.ToolCallID })
		result := string(wire.Content)
		if result == "" {
			result = string(wire.Result)
		}
		return append(t.flushEnded(events), t.complete(wire.ToolCallID, result))
	}
	return events
}

// flushEnded appends a result-less ToolEnd for every held call.
func (t *Translator) flushEnded(events []Event) []Event {
	for _, id := range t.ended {
		events = append(events, t.complete(id, ""))
	}
	t.ended = t.ended[:0]
	return events
}

func (t *Translator) complete(id, result string) Event {
	call := t.tool(id)
	event := Event{
		Kind:       ToolEnd,
		ToolCallID: id,
		ToolName:   call.name,
		Args:       call.args.String(),
		Result:     result,
	}
	delete(t.tools, id)
	if t.completed == nil {
		t.completed = make(map[string]bool)
	}
	t.completed[id] = true
	return event
}

func (t *Translator) tool(id string) *toolCall {
	if t.tools == nil {
		t.tools = make(map[string]*toolCall)
	}
	call, ok := t.tools[id]
	if !ok {
		call = &toolCall{}
		t.tools[id] = call
	}
	return call
}

func (t *Translator) terminal(events []Event, event Event) []Event {
	events = t.flushEnded(events)
	t.finished = true
	t.tools = nil
	t.completed = nil
	event.Content = t.content.String()
	return append(events, event)
}

// flexibleText decodes a JSON string as its value and any other JSON
// value as its compact encoding. null decodes as empty.
type flexibleText string

func (f *flexibleText) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var value string
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return err
		}
		*f = flexibleText(value)
		return nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return err
	}
	*f = flexibleText(compact.String())
	return nil
}
