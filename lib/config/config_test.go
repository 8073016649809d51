// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Agent.Type != CoPaw {
		t.Errorf("agent.type = %q, want %q", cfg.Agent.Type, CoPaw)
	}
	if cfg.Agent.SessionKey != "main" {
		t.Errorf("agent.session_key = %q, want main", cfg.Agent.SessionKey)
	}
	if cfg.Limits.ChatRPS != 2 || cfg.Limits.ChatBurst != 5 {
		t.Errorf("limits = %+v, want 2 rps burst 5", cfg.Limits)
	}
}

func TestLoadFileYAML(t *testing.T) {
	t.Setenv("AGENTOS_TEST_TOKEN", "secret-from-env")

	path := writeConfig(t, "bridge.yaml", `
relay:
  url: wss://relay.example.com/bridge
  auth_token: ${AGENTOS_TEST_TOKEN}
agent:
  type: openclaw
  url: ws://127.0.0.1:18789
  scopes: [operator.read]
identity:
  path: ${AGENTOS_TEST_UNSET:-/var/lib/agentos/identity.json}
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Relay.AuthToken != "secret-from-env" {
		t.Errorf("relay.auth_token = %q, want expanded env value", cfg.Relay.AuthToken)
	}
	if cfg.Agent.Type != OpenClaw {
		t.Errorf("agent.type = %q, want openclaw", cfg.Agent.Type)
	}
	if len(cfg.Agent.Scopes) != 1 || cfg.Agent.Scopes[0] != "operator.read" {
		t.Errorf("agent.scopes = %v, want [operator.read]", cfg.Agent.Scopes)
	}
	if cfg.Identity.Path != "/var/lib/agentos/identity.json" {
		t.Errorf("identity.path = %q, want default from expansion", cfg.Identity.Path)
	}
	// Unset in the file, kept from Default.
	if cfg.Agent.SessionKey != "main" {
		t.Errorf("agent.session_key = %q, want main", cfg.Agent.SessionKey)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFileJSONC(t *testing.T) {
	path := writeConfig(t, "bridge.jsonc", `{
  // Relay endpoint.
  "relay": {"url": "ws://localhost:9000/bridge", "auth_token": "t"},
  "agent": {"type": "desktop",},
  "limits": {"chat_rps": 0.5, "chat_burst": 1},
}`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Agent.Type != Desktop {
		t.Errorf("agent.type = %q, want desktop", cfg.Agent.Type)
	}
	if cfg.Limits.ChatRPS != 0.5 || cfg.Limits.ChatBurst != 1 {
		t.Errorf("limits = %+v, want 0.5 rps burst 1", cfg.Limits)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadUsesEnvironmentVariable(t *testing.T) {
	path := writeConfig(t, "bridge.yaml", "relay:\n  url: ws://relay.test/bridge\n")
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Relay.URL != "ws://relay.test/bridge" {
		t.Errorf("relay.url = %q, want value from file", cfg.Relay.URL)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")
	t.Setenv("HOME", "/home/tester")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := "/home/tester/.agentos/bridge/device-identity.json"; cfg.Identity.Path != want {
		t.Errorf("identity.path = %q, want %q", cfg.Identity.Path, want)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile on a missing file succeeded")
	}

	path := writeConfig(t, "bad.yaml", "relay: [unclosed\n")
	if _, err := LoadFile(path); err == nil {
		t.Error("LoadFile on invalid YAML succeeded")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Relay.URL = "http://relay.example.com"
	cfg.Agent.Type = "mystery"
	cfg.Limits.ChatBurst = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	message := err.Error()
	for _, want := range []string{"relay.url", "relay.auth_token", "agent.type", "limits.chat_burst"} {
		if !strings.Contains(message, want) {
			t.Errorf("Validate error %q does not mention %s", message, want)
		}
	}
}

func TestValidateAgentURLScheme(t *testing.T) {
	cfg := Default()
	cfg.Relay.URL = "wss://relay.example.com/bridge"
	cfg.Relay.AuthToken = "t"
	cfg.Agent.Type = OpenClaw
	cfg.Agent.URL = "http://127.0.0.1:18789"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "agent.url") {
		t.Fatalf("Validate err = %v, want agent.url scheme error", err)
	}
}

func TestAgentURLDefaultsByType(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	path := writeConfig(t, "openclaw.yaml", "agent:\n  type: openclaw\n")
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Agent.URL != "ws://127.0.0.1:18789" {
		t.Errorf("openclaw url = %q", cfg.Agent.URL)
	}

	path = writeConfig(t, "copaw.yaml", "agent:\n  url: http://10.0.0.2:9000\n")
	cfg, err = LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Agent.URL != "http://10.0.0.2:9000" {
		t.Errorf("explicit url = %q, want it kept", cfg.Agent.URL)
	}
	if DefaultAgentURL(Desktop) != "" {
		t.Error("desktop has a default url")
	}
}
