// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

// Package agenttest provides a scriptable in-memory agent.Adapter for
// tests of code that drives adapters.
package agenttest

import (
	"context"
	"sync"

	"github.com/agentos-dev/agentos/agent"
)

// ChatFunc produces the stream for one Chat call.
type ChatFunc func(ctx context.Context, history []agent.Message, options agent.ChatOptions) (*agent.ChatStream, error)

// Call records one Chat invocation.
type Call struct {
	History []agent.Message
	Options agent.ChatOptions
}

// Adapter is a fake agent.Adapter. Set ChatFunc (or use Reply) before
// use. It starts disconnected.
type Adapter struct {
	agent.Listeners

	Key      string
	ChatFunc ChatFunc

	// ConnectErr, when set, is returned by Connect.
	ConnectErr error

	mu           sync.Mutex
	connected    bool
	calls        []Call
	disconnects  int
	cleanups     int
	healthErr    error
	healthProbes int
}

// New returns a fake for session key "main".
func New() *Adapter {
	return &Adapter{Key: "main"}
}

// Reply returns a ChatFunc that yields fragments in order then
// completes.
func Reply(fragments ...string) ChatFunc {
	return func(ctx context.Context, _ []agent.Message, _ agent.ChatOptions) (*agent.ChatStream, error) {
		channel := make(chan agent.Fragment, len(fragments))
		for _, fragment := range fragments {
			channel <- agent.Fragment{Text: fragment}
		}
		close(channel)
		return agent.NewChannelStream(ctx, channel, nil), nil
	}
}

// Fail returns a ChatFunc that yields fragments then fails with err.
func Fail(err error, fragments ...string) ChatFunc {
	return func(ctx context.Context, _ []agent.Message, _ agent.ChatOptions) (*agent.ChatStream, error) {
		channel := make(chan agent.Fragment, len(fragments)+1)
		for _, fragment := range fragments {
			channel <- agent.Fragment{Text: fragment}
		}
		channel <- agent.Fragment{Err: err}
		return agent.NewChannelStream(ctx, channel, nil), nil
	}
}

// Feed returns a ChatFunc whose stream is driven by the test through
// the returned channel, and a channel receiving each call's context.
func Feed() (ChatFunc, chan<- agent.Fragment, <-chan context.Context) {
	fragments := make(chan agent.Fragment)
	contexts := make(chan context.Context, 16)
	return func(ctx context.Context, _ []agent.Message, _ agent.ChatOptions) (*agent.ChatStream, error) {
		contexts <- ctx
		return agent.NewChannelStream(ctx, fragments, nil), nil
	}, fragments, contexts
}

func (a *Adapter) Connect(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ConnectErr != nil {
		return a.ConnectErr
	}
	a.connected = true
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Adapter) Disconnect() {
	a.mu.Lock()
	wasConnected := a.connected
	a.connected = false
	a.disconnects++
	a.mu.Unlock()
	if wasConnected {
		a.EmitDisconnect("disconnected")
	}
}

func (a *Adapter) Cleanup() {
	a.mu.Lock()
	a.cleanups++
	a.mu.Unlock()
}

func (a *Adapter) Chat(ctx context.Context, history []agent.Message, options agent.ChatOptions) (*agent.ChatStream, error) {
	a.mu.Lock()
	a.calls = append(a.calls, Call{History: history, Options: options})
	chat := a.ChatFunc
	a.mu.Unlock()
	if chat == nil {
		return nil, agent.ErrUnsupported
	}
	return chat(ctx, history, options)
}

func (a *Adapter) SessionKey() string { return a.Key }

// Calls returns the Chat invocations so far.
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.calls...)
}

// Disconnects returns how many times Disconnect was called.
func (a *Adapter) Disconnects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disconnects
}

// Cleanups returns how many times Cleanup was called.
func (a *Adapter) Cleanups() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cleanups
}

// HealthyAdapter is a fake that also implements agent.HealthChecker.
type HealthyAdapter struct {
	*Adapter
}

// WithHealth wraps a as an agent.HealthChecker.
func WithHealth(a *Adapter) HealthyAdapter {
	return HealthyAdapter{Adapter: a}
}

// SetHealth sets the error CheckHealth returns.
func (a *Adapter) SetHealth(err error) {
	a.mu.Lock()
	a.healthErr = err
	a.mu.Unlock()
}

// HealthProbes returns how many times CheckHealth was called.
func (a *Adapter) HealthProbes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.healthProbes
}

func (h HealthyAdapter) CheckHealth(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthProbes++
	return h.healthErr
}

// SkillAdapter is a fake that also implements agent.SkillManager over an
// in-memory list.
type SkillAdapter struct {
	*Adapter

	skillsMu sync.Mutex
	skills   []agent.Skill
}

// WithSkills wraps a as an agent.SkillManager holding skills.
func WithSkills(a *Adapter, skills ...agent.Skill) *SkillAdapter {
	return &SkillAdapter{Adapter: a, skills: skills}
}

func (s *SkillAdapter) ListSkills(context.Context) ([]agent.Skill, error) {
	s.skillsMu.Lock()
	defer s.skillsMu.Unlock()
	return append([]agent.Skill(nil), s.skills...), nil
}

func (s *SkillAdapter) InstallSkill(_ context.Context, skill agent.Skill) error {
	s.skillsMu.Lock()
	defer s.skillsMu.Unlock()
	s.skills = append(s.skills, skill)
	return nil
}

func (s *SkillAdapter) UninstallSkill(_ context.Context, name string) error {
	s.skillsMu.Lock()
	defer s.skillsMu.Unlock()
	for i, skill := range s.skills {
		if skill.Name == name {
			s.skills = append(s.skills[:i], s.skills[i+1:]...)
			return nil
		}
	}
	return agent.ErrUnsupported
}

func (s *SkillAdapter) SetSkillEnabled(_ context.Context, name string, enabled bool) error {
	s.skillsMu.Lock()
	defer s.skillsMu.Unlock()
	for i := range s.skills {
		if s.skills[i].Name == name {
			s.skills[i].Enabled = enabled
			return nil
		}
	}
	return agent.ErrUnsupported
}
