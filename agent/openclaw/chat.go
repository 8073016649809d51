// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package openclaw

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agentos-dev/agentos/agent"
)

// chatRun buffers the fragments and tool events of one run between the
// read loop and the stream consumer, in gateway order. Tool events are
// emitted by the consumer as it reaches them. The queue is unbounded so
// a slow consumer never stalls the socket.
type chatRun struct {
	conversationID string
	emitTool       func(agent.ToolEvent)
	notify         chan struct{}

	mu    sync.Mutex
	queue []runItem
	seen  string
	done  bool
}

// runItem is a fragment or, when tool is set, a tool event.
type runItem struct {
	fragment agent.Fragment
	tool     *agent.ToolEvent
}

func newChatRun(conversationID string, emitTool func(agent.ToolEvent)) *chatRun {
	return &chatRun{conversationID: conversationID, emitTool: emitTool, notify: make(chan struct{}, 1)}
}

// deliver queues the part of snapshot not yet seen. Snapshots normally
// extend the previous one; a snapshot that does not is taken as an
// increment, and one that the seen text already starts with adds
// nothing.
func (r *chatRun) deliver(snapshot string) {
	if snapshot == "" {
		return
	}
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	var delta string
	switch {
	case strings.HasPrefix(snapshot, r.seen):
		delta = snapshot[len(r.seen):]
		r.seen = snapshot
	case strings.HasPrefix(r.seen, snapshot):
	default:
		delta = snapshot
		r.seen += snapshot
	}
	if delta != "" {
		r.queue = append(r.queue, runItem{fragment: agent.Fragment{Text: delta}})
	}
	r.mu.Unlock()
	r.signal()
}

// end completes the run, with err as its failure when non-nil. Later
// calls are ignored.
func (r *chatRun) end(err error) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	if err != nil {
		r.queue = append(r.queue, runItem{fragment: agent.Fragment{Err: err}})
	}
	r.mu.Unlock()
	r.signal()
}

// tool queues a tool event behind the fragments already delivered.
func (r *chatRun) tool(event agent.ToolEvent) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, runItem{tool: &event})
	r.mu.Unlock()
	r.signal()
}

func (r *chatRun) finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *chatRun) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *chatRun) next(ctx context.Context) (string, error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			item := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			if item.tool != nil {
				if r.emitTool != nil {
					r.emitTool(*item.tool)
				}
				continue
			}
			fragment := item.fragment
			if fragment.Err != nil {
				return "", fragment.Err
			}
			return fragment.Text, nil
		}
		done := r.done
		r.mu.Unlock()
		if done {
			return "", io.EOF
		}

		select {
		case <-r.notify:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Chat sends the last message of history with chat.send. The gateway
// keeps the session's history itself, so earlier turns are not resent.
// The stream completes on the run's final event and fails on error or
// abort.
func (a *Adapter) Chat(ctx context.Context, history []agent.Message, options agent.ChatOptions) (*agent.ChatStream, error) {
	s := a.current()
	if s == nil {
		return nil, agent.ErrNotConnected
	}
	if len(history) == 0 {
		return nil, errors.New("openclaw: chat history is empty")
	}
	sessionKey := options.SessionKey
	if sessionKey == "" {
		sessionKey = a.sessionKey
	}

	// The gateway uses the idempotency key as the run id, so the run
	// is registered under it before any event can arrive.
	key := uuid.NewString()
	run := newChatRun(options.ConversationID, a.EmitToolEvent)
	if !s.addRun(key, run) {
		return nil, agent.ErrNotConnected
	}

	a.logger.Debug("sending chat",
		"conversation_id", options.ConversationID,
		"session_key", sessionKey,
		"run_id", key,
	)
	response, err := a.request(ctx, s, methodChatSend, chatSendParams{
		SessionKey:     sessionKey,
		Message:        history[len(history)-1].Content,
		IdempotencyKey: key,
	})
	if err != nil {
		s.removeRun(run)
		return nil, err
	}

	runID := key
	var result chatSendResult
	if json.Unmarshal(response.Payload, &result) == nil && result.RunID != "" && result.RunID != key {
		runID = result.RunID
		s.addRun(runID, run)
	}

	release := func() {
		complete := run.finished()
		s.removeRun(run)
		if !complete {
			go a.abort(s, sessionKey, runID)
		}
	}
	return agent.NewChatStream(ctx, run.next, release), nil
}

// abort asks the gateway to stop a run whose stream was abandoned. The
// response is not awaited.
func (a *Adapter) abort(s *session, sessionKey, runID string) {
	err := s.write(requestFrame{
		Type:   frameRequest,
		ID:     uuid.NewString(),
		Method: methodChatAbort,
		Params: chatAbortParams{SessionKey: sessionKey, RunID: runID},
	})
	if err != nil {
		a.logger.Debug("chat abort not sent", "run_id", runID, "error", err)
	}
}

func (a *Adapter) handleEvent(s *session, frame inboundFrame) {
	switch frame.Event {
	case eventChat:
		var event chatEvent
		if err := json.Unmarshal(frame.Payload, &event); err != nil {
			a.logger.Debug("dropping malformed chat event", "error", err)
			return
		}
		a.handleChat(s, event)
	case eventAgent:
		var event agentEvent
		if err := json.Unmarshal(frame.Payload, &event); err != nil {
			a.logger.Debug("dropping malformed agent event", "error", err)
			return
		}
		a.handleAgent(s, event)
	case eventShutdown:
		a.logger.Info("gateway is shutting down")
	case eventTick, eventChallenge:
	default:
		a.logger.Debug("ignoring gateway event", "event", frame.Event)
	}
}

func (a *Adapter) handleChat(s *session, event chatEvent) {
	run := s.lookupRun(event.RunID)
	if run == nil {
		a.handleUnsolicited(event)
		return
	}

	switch event.State {
	case stateDelta:
		run.deliver(messageText(event.Message))
	case stateFinal:
		run.deliver(messageText(event.Message))
		run.end(nil)
	case stateError:
		message := event.ErrorMessage
		if message == "" {
			message = "openclaw: run failed"
		}
		run.end(&RunError{Message: message})
	case stateAborted:
		run.end(ErrAborted)
	}
}

// handleUnsolicited forwards the final output of runs this adapter did
// not start as push messages.
func (a *Adapter) handleUnsolicited(event chatEvent) {
	if event.State != stateFinal {
		return
	}
	text := messageText(event.Message)
	if strings.TrimSpace(text) == "" {
		return
	}
	sessionKey := event.SessionKey
	if sessionKey == "" {
		sessionKey = a.sessionKey
	}
	a.EmitPushMessage(agent.PushMessage{SessionKey: sessionKey, Content: text, Source: Source})
}

func (a *Adapter) handleAgent(s *session, event agentEvent) {
	if event.Stream != "tool" {
		return
	}
	run := s.lookupRun(event.RunID)
	if run == nil {
		return
	}
	var data toolData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return
	}

	toolEvent := agent.ToolEvent{
		ConversationID: run.conversationID,
		Name:           data.Name,
		Args:           rawText(data.Args),
		Result:         rawText(data.Result),
	}
	switch data.Phase {
	case "start":
		toolEvent.Phase = agent.ToolStart
	case "result":
		toolEvent.Phase = agent.ToolResult
		if data.IsError {
			toolEvent.Phase = agent.ToolError
		}
	case "error":
		toolEvent.Phase = agent.ToolError
	default:
		return
	}
	run.tool(toolEvent)
}
