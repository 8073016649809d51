// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SkillFrontmatter is the YAML header of a skill document:
//
//	---
//	description: "Summarize long texts and documents"
//	---
//	Body in Markdown.
type SkillFrontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Version     string   `yaml:"version"`
	Tags        []string `yaml:"tags"`
}

const frontmatterFence = "---"

// ParseSkillDocument splits content into its frontmatter and body. A
// document without a leading fence has empty frontmatter and is all
// body. An opening fence without a closing one, or frontmatter that is
// not valid YAML, is an error.
func ParseSkillDocument(content string) (SkillFrontmatter, string, error) {
	var frontmatter SkillFrontmatter

	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	first, rest, _ := strings.Cut(normalized, "\n")
	if strings.TrimSpace(first) != frontmatterFence {
		return frontmatter, content, nil
	}

	header, body, found := cutFence(rest)
	if !found {
		return frontmatter, "", fmt.Errorf("agent: skill frontmatter is not terminated")
	}
	if err := yaml.Unmarshal([]byte(header), &frontmatter); err != nil {
		return SkillFrontmatter{}, "", fmt.Errorf("agent: parsing skill frontmatter: %w", err)
	}
	return frontmatter, body, nil
}

// cutFence finds the closing fence line. The fence may be the last line
// of the document with no trailing newline.
func cutFence(rest string) (header, body string, found bool) {
	offset := 0
	for offset <= len(rest) {
		line, after, hasNewline := strings.Cut(rest[offset:], "\n")
		if strings.TrimSpace(line) == frontmatterFence {
			if !hasNewline {
				after = ""
			}
			return rest[:offset], after, true
		}
		if !hasNewline {
			break
		}
		offset += len(line) + 1
	}
	return "", "", false
}

// SkillDescription returns the frontmatter description of content, or
// "" when there is none or it cannot be parsed.
func SkillDescription(content string) string {
	frontmatter, _, err := ParseSkillDocument(content)
	if err != nil {
		return ""
	}
	return frontmatter.Description
}
