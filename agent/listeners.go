// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import "sync"

// Listeners holds the three replaceable adapter listeners. Adapters
// embed it to satisfy the listener half of [Adapter]. The zero value
// has no listeners.
type Listeners struct {
	mu         sync.RWMutex
	tool       func(ToolEvent)
	push       func(PushMessage)
	disconnect func(reason string)
}

// OnToolEvent replaces the tool event listener.
func (l *Listeners) OnToolEvent(listener func(ToolEvent)) {
	l.mu.Lock()
	l.tool = listener
	l.mu.Unlock()
}

// OnPushMessage replaces the push message listener.
func (l *Listeners) OnPushMessage(listener func(PushMessage)) {
	l.mu.Lock()
	l.push = listener
	l.mu.Unlock()
}

// OnDisconnect replaces the disconnect listener.
func (l *Listeners) OnDisconnect(listener func(reason string)) {
	l.mu.Lock()
	l.disconnect = listener
	l.mu.Unlock()
}

// EmitToolEvent delivers event to the current tool listener, if any.
func (l *Listeners) EmitToolEvent(event ToolEvent) {
	l.mu.RLock()
	listener := l.tool
	l.mu.RUnlock()
	if listener != nil {
		listener(event)
	}
}

// EmitPushMessage delivers message to the current push listener, if any.
func (l *Listeners) EmitPushMessage(message PushMessage) {
	l.mu.RLock()
	listener := l.push
	l.mu.RUnlock()
	if listener != nil {
		listener(message)
	}
}

// EmitDisconnect delivers reason to the current disconnect listener, if
// any. Callers are responsible for firing it once per transition.
func (l *Listeners) EmitDisconnect(reason string) {
	l.mu.RLock()
	listener := l.disconnect
	l.mu.RUnlock()
	if listener != nil {
		listener(reason)
	}
}
