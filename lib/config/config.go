// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "AGENTOS_CONFIG"

// AgentType selects the adapter variant the bridge drives.
type AgentType string

const (
	// CoPaw is a local HTTP runtime speaking AG-UI over SSE.
	CoPaw AgentType = "copaw"
	// OpenClaw is a local WebSocket gateway.
	OpenClaw AgentType = "openclaw"
	// Desktop is a desktop companion that runs chats itself.
	Desktop AgentType = "desktop"
)

// Config is the bridge configuration.
type Config struct {
	Relay    RelayConfig    `yaml:"relay"`
	Agent    AgentConfig    `yaml:"agent"`
	Identity IdentityConfig `yaml:"identity"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Limits   LimitsConfig   `yaml:"limits"`
}

// RelayConfig locates the relay and authenticates to it.
type RelayConfig struct {
	// URL is the relay's bridge WebSocket endpoint (ws:// or wss://).
	URL string `yaml:"url"`

	// AuthToken is the bridge token issued by the relay when the device
	// was linked.
	AuthToken string `yaml:"auth_token"`
}

// AgentConfig selects and locates the local runtime.
type AgentConfig struct {
	// Type is copaw, openclaw or desktop.
	Type AgentType `yaml:"type"`

	// URL is the runtime's base URL: http(s) for copaw, ws(s) for
	// openclaw. Unused for desktop.
	URL string `yaml:"url"`

	// Token is an optional credential for the runtime: a bearer token
	// for copaw, the gateway auth token for openclaw.
	Token string `yaml:"token"`

	// SessionKey is the runtime session used when a chat request does
	// not name one. Default: main
	SessionKey string `yaml:"session_key"`

	// Scopes are requested from an openclaw gateway.
	Scopes []string `yaml:"scopes"`
}

// IdentityConfig locates the device identity file.
type IdentityConfig struct {
	// Path is the identity JSON file. Created on first run.
	Path string `yaml:"path"`
}

// MetricsConfig configures the optional Prometheus endpoint.
type MetricsConfig struct {
	// Listen is a host:port to serve /metrics on. Empty disables it.
	Listen string `yaml:"listen"`
}

// LimitsConfig bounds inbound chat traffic per session.
type LimitsConfig struct {
	// ChatRPS is the sustained chat requests per second per session.
	ChatRPS float64 `yaml:"chat_rps"`

	// ChatBurst is how many requests a session may send at once.
	ChatBurst int `yaml:"chat_burst"`
}

// DefaultAgentURL is the local endpoint each runtime listens on out of
// the box. Desktop has none.
func DefaultAgentURL(agentType AgentType) string {
	switch agentType {
	case CoPaw:
		return "http://127.0.0.1:8088"
	case OpenClaw:
		return "ws://127.0.0.1:18789"
	}
	return ""
}

// Default returns the configuration used before any file is applied.
// Agent.URL is left empty and filled from DefaultAgentURL once the
// agent type is known.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Type:       CoPaw,
			SessionKey: "main",
			Scopes:     []string{"operator.read", "operator.write"},
		},
		Identity: IdentityConfig{
			Path: filepath.Join("${HOME}", ".agentos", "bridge", "device-identity.json"),
		},
		Limits: LimitsConfig{
			ChatRPS:   2,
			ChatBurst: 5,
		},
	}
}

// Load returns Default overlaid with the file named by AGENTOS_CONFIG.
// When the variable is unset the defaults are returned unchanged, with
// variables expanded.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		cfg.fillAgentURL()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile returns Default overlaid with the file at path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	cfg.fillAgentURL()
	return cfg, nil
}

// loadFile merges a single file into c. JSON is accepted because YAML is
// a superset of it once comments and trailing commas are stripped.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) fillAgentURL() {
	if c.Agent.URL == "" {
		c.Agent.URL = DefaultAgentURL(c.Agent.Type)
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	if vars["HOME"] == "" {
		vars["HOME"], _ = os.UserHomeDir()
	}

	c.Relay.URL = expandVars(c.Relay.URL, vars)
	c.Relay.AuthToken = expandVars(c.Relay.AuthToken, vars)
	c.Agent.URL = expandVars(c.Agent.URL, vars)
	c.Agent.Token = expandVars(c.Agent.Token, vars)
	c.Identity.Path = expandVars(c.Identity.Path, vars)
	c.Metrics.Listen = expandVars(c.Metrics.Listen, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Relay.URL == "" {
		errs = append(errs, errors.New("relay.url is required"))
	} else if err := requireScheme(c.Relay.URL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("relay.url: %w", err))
	}
	if c.Relay.AuthToken == "" {
		errs = append(errs, errors.New("relay.auth_token is required"))
	}

	switch c.Agent.Type {
	case CoPaw:
		if err := requireScheme(c.Agent.URL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("agent.url: %w", err))
		}
	case OpenClaw:
		if err := requireScheme(c.Agent.URL, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("agent.url: %w", err))
		}
	case Desktop:
	default:
		errs = append(errs, fmt.Errorf("agent.type must be one of: %s, %s, %s", CoPaw, OpenClaw, Desktop))
	}
	if c.Agent.SessionKey == "" {
		errs = append(errs, errors.New("agent.session_key is required"))
	}

	if c.Identity.Path == "" {
		errs = append(errs, errors.New("identity.path is required"))
	}

	if c.Limits.ChatRPS <= 0 {
		errs = append(errs, errors.New("limits.chat_rps must be positive"))
	}
	if c.Limits.ChatBurst < 1 {
		errs = append(errs, errors.New("limits.chat_burst must be at least 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func requireScheme(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, scheme := range schemes {
		if parsed.Scheme == scheme {
			if parsed.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%q must use one of the schemes %v", raw, schemes)
}
