// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package desktop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/agentos-dev/agentos/agent"
)

// Command types sent to the desktop over its Link.
const (
	CommandInstallSkill   = "skill.install"
	CommandUninstallSkill = "skill.uninstall"
	CommandToggleSkill    = "skill.toggle"
)

// Command is one instruction for the desktop companion. The desktop
// answers by reporting its new skill list, which the owner passes to
// UpdateSkills.
type Command struct {
	Type      string `json:"type"`
	SkillName string `json:"skillName"`
	Content   string `json:"content,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
}

// Link delivers a command to the connected desktop.
type Link func(ctx context.Context, command Command) error

// Options configure an Adapter.
type Options struct {
	// DeviceID names the desktop in logs.
	DeviceID string

	// SessionKey is reported by SessionKey. Default: main
	SessionKey string

	// Link carries skill commands. Without one, skill changes fail
	// with agent.ErrUnsupported.
	Link Link

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Adapter is the desktop companion agent.Adapter. Create it with New.
type Adapter struct {
	agent.Listeners

	sessionKey string
	link       Link
	logger     *slog.Logger

	mu           sync.Mutex
	online       bool
	capabilities []string
	skills       []agent.Skill
}

// New returns an offline adapter.
func New(options Options) *Adapter {
	adapter := &Adapter{
		sessionKey: options.SessionKey,
		link:       options.Link,
		logger:     options.Logger,
	}
	if adapter.sessionKey == "" {
		adapter.sessionKey = "main"
	}
	if adapter.logger == nil {
		adapter.logger = slog.Default()
	}
	adapter.logger = adapter.logger.With("adapter", "desktop", "device_id", options.DeviceID)
	return adapter
}

// Connect marks the desktop online. The desktop's own socket is owned by
// the caller; the adapter only tracks its state.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	wasOnline := a.online
	a.online = true
	a.mu.Unlock()
	if !wasOnline {
		a.logger.Info("desktop online")
	}
	return nil
}

// IsConnected reports whether the desktop is online.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.online
}

// Disconnect marks the desktop offline. The disconnect listener fires
// only on the transition; repeated calls while offline do nothing.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	if !a.online {
		a.mu.Unlock()
		return
	}
	a.online = false
	a.mu.Unlock()

	a.logger.Info("desktop offline")
	a.EmitDisconnect("desktop disconnected")
}

// Cleanup marks the desktop offline and forgets what it reported.
func (a *Adapter) Cleanup() {
	a.Disconnect()
	a.mu.Lock()
	a.capabilities = nil
	a.skills = nil
	a.mu.Unlock()
}

// Chat always fails with agent.ErrDelegateToBuiltin: the desktop does
// not run inference, so the caller's builtin provider must answer.
func (a *Adapter) Chat(ctx context.Context, history []agent.Message, options agent.ChatOptions) (*agent.ChatStream, error) {
	return nil, agent.ErrDelegateToBuiltin
}

// SessionKey returns the configured session key.
func (a *Adapter) SessionKey() string {
	return a.sessionKey
}

// UpdateCapabilities records the capabilities the desktop declared.
func (a *Adapter) UpdateCapabilities(capabilities []string) {
	a.mu.Lock()
	a.capabilities = slices.Clone(capabilities)
	a.mu.Unlock()
	a.logger.Debug("desktop capabilities updated", "capabilities", capabilities)
}

// Capabilities returns the declared capabilities.
func (a *Adapter) Capabilities() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.capabilities)
}

// HasCapability reports whether the desktop declared name.
func (a *Adapter) HasCapability(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Contains(a.capabilities, name)
}

// UpdateSkills replaces the skill list with the one the desktop last
// reported. A skill without a description takes it from the YAML
// frontmatter of its content.
func (a *Adapter) UpdateSkills(skills []agent.Skill) {
	updated := make([]agent.Skill, len(skills))
	for i, skill := range skills {
		if skill.Description == "" {
			skill.Description = agent.SkillDescription(skill.Content)
		}
		updated[i] = skill
	}
	a.mu.Lock()
	a.skills = updated
	a.mu.Unlock()
	a.logger.Debug("desktop skills updated", "count", len(updated))
}

// ListSkills returns the skills as last reported. It does not contact
// the desktop, so it answers while offline too.
func (a *Adapter) ListSkills(ctx context.Context) ([]agent.Skill, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.skills), nil
}

// InstallSkill asks the desktop to install skill.
func (a *Adapter) InstallSkill(ctx context.Context, skill agent.Skill) error {
	if skill.Name == "" {
		return errors.New("desktop: skill name is required")
	}
	return a.send(ctx, Command{Type: CommandInstallSkill, SkillName: skill.Name, Content: skill.Content})
}

// UninstallSkill asks the desktop to remove the named skill.
func (a *Adapter) UninstallSkill(ctx context.Context, name string) error {
	if !a.knows(name) {
		return fmt.Errorf("desktop: unknown skill %q", name)
	}
	return a.send(ctx, Command{Type: CommandUninstallSkill, SkillName: name})
}

// SetSkillEnabled asks the desktop to enable or disable the named
// skill. The local list is updated optimistically.
func (a *Adapter) SetSkillEnabled(ctx context.Context, name string, enabled bool) error {
	if !a.knows(name) {
		return fmt.Errorf("desktop: unknown skill %q", name)
	}
	if err := a.send(ctx, Command{Type: CommandToggleSkill, SkillName: name, Enabled: &enabled}); err != nil {
		return err
	}
	a.mu.Lock()
	for i := range a.skills {
		if a.skills[i].Name == name {
			a.skills[i].Enabled = enabled
		}
	}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) knows(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.ContainsFunc(a.skills, func(skill agent.Skill) bool { return skill.Name == name })
}

func (a *Adapter) send(ctx context.Context, command Command) error {
	if a.link == nil {
		return fmt.Errorf("desktop: %s: %w", command.Type, agent.ErrUnsupported)
	}
	if !a.IsConnected() {
		return agent.ErrNotConnected
	}
	if err := a.link(ctx, command); err != nil {
		return fmt.Errorf("desktop: sending %s: %w", command.Type, err)
	}
	return nil
}
