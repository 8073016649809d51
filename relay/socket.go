// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// socket is one control socket and everything scoped to it. Its context
// is cancelled, with the close cause, when the socket closes; every
// conversation started on it derives from that context.
type socket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelCauseFunc

	// done is closed when the read loop has exited and in-flight
	// conversations have been failed.
	done chan struct{}

	registered chan RegisteredPayload
	rejected   chan error
	active     atomic.Bool

	mu            sync.Mutex
	closed        bool
	conversations map[string]*conversation
}

func newSocket(conn *websocket.Conn) *socket {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &socket{
		conn:          conn,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		registered:    make(chan RegisteredPayload, 1),
		rejected:      make(chan error, 1),
		conversations: make(map[string]*conversation),
	}
}

func (s *socket) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *socket) writeClose() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
}

// markClosed reports whether this call closed the socket. Only the first
// call returns true and takes the in-flight conversations.
func (s *socket) markClosed() ([]*conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	s.closed = true
	conversations := make([]*conversation, 0, len(s.conversations))
	for _, conversation := range s.conversations {
		conversations = append(conversations, conversation)
	}
	s.conversations = nil
	return conversations, true
}

func (s *socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// addConversation registers a new conversation. It fails when one with
// the same id is in flight or the socket is closed.
func (s *socket) addConversation(id string, started time.Time) (*conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	if _, exists := s.conversations[id]; exists {
		return nil, false
	}
	ctx, cancel := context.WithCancelCause(s.ctx)
	conversation := &conversation{id: id, started: started, ctx: ctx, cancel: cancel}
	s.conversations[id] = conversation
	return conversation, true
}

func (s *socket) conversation(id string) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversations[id]
}

func (s *socket) removeConversation(conversation *conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversations[conversation.id] == conversation {
		delete(s.conversations, conversation.id)
	}
}

func (s *socket) inFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// conversation is one chat exchange. mu serializes its outbound
// messages so the terminal message is always its last.
type conversation struct {
	id      string
	started time.Time
	ctx     context.Context
	cancel  context.CancelCauseFunc

	mu    sync.Mutex
	ended bool
}
