// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package copaw

import (
	"context"
	"fmt"
	"net/http"

	"github.com/agentos-dev/agentos/agent"
	"github.com/agentos-dev/agentos/lib/netutil"
)

type wireSkill struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Source  string `json:"source"`
	Enabled *bool  `json:"enabled"`
}

// ListSkills returns the runtime's built-in skills from GET /skills.
// Skills without an explicit enabled flag are reported enabled.
func (a *Adapter) ListSkills(ctx context.Context) ([]agent.Skill, error) {
	if !a.IsConnected() {
		return nil, agent.ErrNotConnected
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/skills", nil)
	if err != nil {
		return nil, fmt.Errorf("copaw: creating skills request: %w", err)
	}
	a.authorize(request)
	response, err := a.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("copaw: listing skills: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, readHTTPError(response)
	}

	var listed []wireSkill
	if err := netutil.DecodeResponse(response.Body, &listed); err != nil {
		return nil, fmt.Errorf("copaw: decoding skills: %w", err)
	}

	skills := make([]agent.Skill, 0, len(listed))
	for _, entry := range listed {
		source := entry.Source
		if source == "" {
			source = Source
		}
		skills = append(skills, agent.Skill{
			Name:        entry.Name,
			Description: agent.SkillDescription(entry.Content),
			Source:      source,
			Enabled:     entry.Enabled == nil || *entry.Enabled,
			Content:     entry.Content,
		})
	}
	return skills, nil
}

// InstallSkill is not offered by CoPaw.
func (a *Adapter) InstallSkill(context.Context, agent.Skill) error {
	return fmt.Errorf("copaw: install skill: %w", agent.ErrUnsupported)
}

// UninstallSkill is not offered by CoPaw.
func (a *Adapter) UninstallSkill(context.Context, string) error {
	return fmt.Errorf("copaw: uninstall skill: %w", agent.ErrUnsupported)
}

// SetSkillEnabled is not offered by CoPaw.
func (a *Adapter) SetSkillEnabled(context.Context, string, bool) error {
	return fmt.Errorf("copaw: toggle skill: %w", agent.ErrUnsupported)
}
