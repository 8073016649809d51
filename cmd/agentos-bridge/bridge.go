// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/agentos-dev/agentos/agent"
	"github.com/agentos-dev/agentos/agent/copaw"
	"github.com/agentos-dev/agentos/agent/desktop"
	"github.com/agentos-dev/agentos/agent/openclaw"
	"github.com/agentos-dev/agentos/lib/config"
	"github.com/agentos-dev/agentos/lib/identity"
	"github.com/agentos-dev/agentos/lib/process"
	"github.com/agentos-dev/agentos/lib/ratelimit"
	"github.com/agentos-dev/agentos/relay"
)

// bridgeFlags are the run command's flags. Each one, when set,
// overrides the matching config file value.
type bridgeFlags struct {
	configPath    string
	relayURL      string
	authToken     string
	agentType     string
	agentURL      string
	agentToken    string
	sessionKey    string
	identityPath  string
	metricsListen string
	verbose       bool
}

func (f *bridgeFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "config file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&f.relayURL, "relay-url", "", "relay WebSocket endpoint (ws:// or wss://)")
	flagSet.StringVar(&f.authToken, "auth-token", "", `bridge auth token, or "-" to prompt`)
	flagSet.StringVar(&f.agentType, "agent-type", "", "local runtime: copaw, openclaw or desktop (desktop answers no chats itself; the relay's builtin provider does)")
	flagSet.StringVar(&f.agentURL, "agent-url", "", "local runtime URL")
	flagSet.StringVar(&f.agentToken, "agent-token", "", "local runtime credential")
	flagSet.StringVar(&f.sessionKey, "session-key", "", "default runtime session")
	flagSet.StringVar(&f.identityPath, "identity", "", "device identity file")
	flagSet.StringVar(&f.metricsListen, "metrics-listen", "", "serve Prometheus /metrics on host:port")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig reads the config file and applies the flags that were set.
func (f *bridgeFlags) loadConfig(flagSet *pflag.FlagSet) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		flag   string
		target *string
		value  string
	}{
		{"relay-url", &cfg.Relay.URL, f.relayURL},
		{"auth-token", &cfg.Relay.AuthToken, f.authToken},
		{"agent-url", &cfg.Agent.URL, f.agentURL},
		{"agent-token", &cfg.Agent.Token, f.agentToken},
		{"session-key", &cfg.Agent.SessionKey, f.sessionKey},
		{"identity", &cfg.Identity.Path, f.identityPath},
		{"metrics-listen", &cfg.Metrics.Listen, f.metricsListen},
	}
	for _, override := range overrides {
		if flagSet.Changed(override.flag) {
			*override.target = override.value
		}
	}
	if flagSet.Changed("agent-type") && config.AgentType(f.agentType) != cfg.Agent.Type {
		cfg.Agent.Type = config.AgentType(f.agentType)
		// A URL loaded for another runtime does not carry over.
		if !flagSet.Changed("agent-url") {
			cfg.Agent.URL = config.DefaultAgentURL(cfg.Agent.Type)
		}
	}

	if cfg.Relay.AuthToken == "-" {
		token, err := promptToken()
		if err != nil {
			return nil, err
		}
		cfg.Relay.AuthToken = token
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// promptToken reads the auth token from the terminal with echo off.
func promptToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal available to prompt for --auth-token")
	}
	fmt.Fprint(os.Stderr, "Relay auth token: ")
	token, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading auth token: %w", err)
	}
	return strings.TrimSpace(string(token)), nil
}

func runBridge(args []string) error {
	var flags bridgeFlags
	flagSet := pflag.NewFlagSet("agentos-bridge run", pflag.ContinueOnError)
	flags.register(flagSet)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}

	logger := newLogger(flags.verbose)
	slog.SetDefault(logger)

	cfg, err := flags.loadConfig(flagSet)
	if err != nil {
		return err
	}

	id, err := identity.LoadOrCreate(cfg.Identity.Path, logger)
	if err != nil {
		return err
	}
	logger = logger.With("device_id", id.DeviceID)

	adapter, err := newAdapter(cfg, id, logger)
	if err != nil {
		return err
	}
	if cfg.Agent.Type == config.Desktop {
		logger.Info("desktop agent: chats are delegated to the relay's builtin provider")
	}
	adapters := &agent.Registry{Logger: logger}
	adapters.Register(id.DeviceID, adapter)
	defer adapters.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := relay.NewMetrics(registry)

	connection := relay.NewConnection(relay.Options{
		URL:       cfg.Relay.URL,
		AuthToken: cfg.Relay.AuthToken,
		AgentType: string(cfg.Agent.Type),
		Identity:  id,
		Adapter:   adapter,
		Limiter:   ratelimit.New(cfg.Limits.ChatRPS, cfg.Limits.ChatBurst, 0),
		Metrics:   metrics,
		Logger:    logger,
	})
	supervisor := relay.NewSupervisor(connection, relay.SupervisorOptions{
		Adapter: adapter,
		Metrics: metrics,
		Logger:  logger,
	})
	supervisor.OnStatus(func(status relay.Status) {
		logger.Info("bridge status",
			"relay_connected", status.RelayConnected,
			"local_runtime_reachable", status.LocalRuntimeReachable,
			"bridge_id", status.BridgeID,
			"last_error", status.LastError,
		)
	})

	ctx, stop := process.SignalContext(context.Background())
	defer stop()

	if cfg.Metrics.Listen != "" {
		server := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metricsHandler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", "listen", cfg.Metrics.Listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer server.Close()
	}

	if err := adapter.Connect(ctx); err != nil {
		logger.Warn("local runtime not connected yet", "agent_type", cfg.Agent.Type, "error", err)
	}
	logger.Info("starting bridge", "relay_url", cfg.Relay.URL, "agent_type", cfg.Agent.Type)
	if err := supervisor.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")
	supervisor.Stop()
	return nil
}

// newAdapter builds the adapter for the configured runtime. The desktop
// adapter has no Link here and nothing feeds it skill reports: the
// desktop app holds its own relay session for skills, so in this binary
// it only registers presence and delegates every chat to the relay.
func newAdapter(cfg *config.Config, id *identity.Identity, logger *slog.Logger) (agent.Adapter, error) {
	switch cfg.Agent.Type {
	case config.CoPaw:
		return copaw.New(copaw.Options{
			BaseURL:    cfg.Agent.URL,
			Token:      cfg.Agent.Token,
			SessionKey: cfg.Agent.SessionKey,
			Logger:     logger,
		}), nil
	case config.OpenClaw:
		return openclaw.New(openclaw.Options{
			URL:        cfg.Agent.URL,
			Token:      cfg.Agent.Token,
			SessionKey: cfg.Agent.SessionKey,
			Scopes:     cfg.Agent.Scopes,
			Identity:   id,
			Logger:     logger,
		}), nil
	case config.Desktop:
		return desktop.New(desktop.Options{
			DeviceID:   id.DeviceID,
			SessionKey: cfg.Agent.SessionKey,
			Logger:     logger,
		}), nil
	}
	return nil, fmt.Errorf("unknown agent type %q", cfg.Agent.Type)
}

func metricsHandler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
