// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import "testing"

func TestParseSkillDocument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		content     string
		description string
		body        string
		wantErr     bool
	}{
		{
			name:        "fence only",
			content:     "---\ndescription: \"Translate text between languages\"\n---",
			description: "Translate text between languages",
		},
		{
			name:        "with body",
			content:     "---\nname: search\ndescription: Web search\ntags: [web]\n---\n# Search\nUse it.\n",
			description: "Web search",
			body:        "# Search\nUse it.\n",
		},
		{
			name:        "crlf",
			content:     "---\r\ndescription: Windows\r\n---\r\nbody",
			description: "Windows",
			body:        "body",
		},
		{
			name:    "no frontmatter",
			content: "# Just markdown",
			body:    "# Just markdown",
		},
		{
			name:    "unterminated",
			content: "---\ndescription: never closed\n",
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			content: "---\ndescription: [unclosed\n---\n",
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			frontmatter, body, err := ParseSkillDocument(test.content)
			if test.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSkillDocument: %v", err)
			}
			if frontmatter.Description != test.description {
				t.Errorf("description = %q, want %q", frontmatter.Description, test.description)
			}
			if body != test.body {
				t.Errorf("body = %q, want %q", body, test.body)
			}
		})
	}
}

func TestSkillDescriptionIgnoresErrors(t *testing.T) {
	t.Parallel()

	if got := SkillDescription("---\nbroken"); got != "" {
		t.Errorf("SkillDescription = %q, want empty", got)
	}
}
