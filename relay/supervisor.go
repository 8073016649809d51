// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/agentos-dev/agentos/agent"
	"github.com/agentos-dev/agentos/lib/clock"
)

const (
	// ReconnectDelay is the wait between a close and the next attempt.
	ReconnectDelay = 5 * time.Second

	// ProbeInterval is the period of local runtime probes.
	ProbeInterval = 10 * time.Second

	// ProbeTimeout bounds one probe.
	ProbeTimeout = 3 * time.Second
)

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("relay: supervisor stopped")

// Status is the bridge health as observable from outside. Relay and
// local runtime reachability are independent.
type Status struct {
	RelayConnected        bool   `json:"relayConnected"`
	LocalRuntimeReachable bool   `json:"localRuntimeReachable"`
	BridgeID              string `json:"bridgeId,omitempty"`
	LastError             string `json:"lastError,omitempty"`
}

// SupervisorOptions configure a Supervisor.
type SupervisorOptions struct {
	// Adapter is probed and reconnected by the probe loop. Nil
	// disables probing.
	Adapter agent.Adapter

	// Clock drives the reconnect timer and the probe loop. Default:
	// clock.Real().
	Clock clock.Clock

	Metrics *Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Supervisor keeps a Connection registered. Every close while enabled
// schedules one reconnect through a single timer; a close while a retry
// is already pending changes nothing.
type Supervisor struct {
	connection *Connection
	adapter    agent.Adapter
	clock      clock.Clock
	metrics    *Metrics
	logger     *slog.Logger

	mu       sync.Mutex
	enabled  bool
	stopped  bool
	retry    *clock.Timer
	status   Status
	onStatus func(Status)
	ctx      context.Context
	cancel   context.CancelFunc
	probing  sync.WaitGroup
}

// NewSupervisor returns a stopped-but-startable supervisor for
// connection. It installs itself as the connection's close listener.
func NewSupervisor(connection *Connection, options SupervisorOptions) *Supervisor {
	s := &Supervisor{
		connection: connection,
		adapter:    options.Adapter,
		clock:      options.Clock,
		metrics:    options.Metrics,
		logger:     options.Logger,
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	connection.OnClose(s.handleClose)
	if s.adapter != nil {
		s.adapter.OnDisconnect(s.handleAdapterDisconnect)
	}
	return s
}

// OnStatus replaces the listener called with every status change.
func (s *Supervisor) OnStatus(listener func(Status)) {
	s.mu.Lock()
	s.onStatus = listener
	s.mu.Unlock()
}

// Status returns the current status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start enables auto-reconnect, makes the first attempt and starts the
// probe loop. A failed first attempt is retried like any other close;
// only calling Start after Stop returns an error.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.enabled {
		s.mu.Unlock()
		return nil
	}
	s.enabled = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	if s.adapter != nil {
		s.probe(runCtx)
		s.probing.Add(1)
		go s.probeLoop(runCtx)
	}
	s.attempt(runCtx)
	return nil
}

// Stop disables auto-reconnect, cancels a pending retry and closes the
// connection. It waits for the probe loop to exit. A stopped supervisor
// cannot be restarted.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.enabled = false
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.connection.Close()
	s.probing.Wait()
	s.logger.Info("relay supervisor stopped")
}

// RetryPending reports whether a reconnect attempt is scheduled.
func (s *Supervisor) RetryPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retry != nil
}

func (s *Supervisor) attempt(ctx context.Context) {
	session, err := s.connection.Connect(ctx)
	if err != nil {
		s.logger.Warn("relay connect failed", "error", err, "retry_in", ReconnectDelay)
		s.update(func(status *Status) {
			status.RelayConnected = false
			status.BridgeID = ""
			status.LastError = err.Error()
		})
		s.schedule()
		return
	}
	s.update(func(status *Status) {
		status.RelayConnected = true
		status.BridgeID = session.BridgeID
		status.LastError = ""
	})
}

func (s *Supervisor) handleClose(cause error) {
	s.update(func(status *Status) {
		status.RelayConnected = false
		status.BridgeID = ""
		if cause != nil && !errors.Is(cause, ErrClosed) {
			status.LastError = cause.Error()
		}
	})
	s.schedule()
}

// schedule arms the retry timer unless one is already armed or
// auto-reconnect is off.
func (s *Supervisor) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.retry != nil {
		return
	}
	var timer *clock.Timer
	timer = s.clock.AfterFunc(ReconnectDelay, func() {
		s.mu.Lock()
		if s.retry != timer || !s.enabled {
			s.mu.Unlock()
			return
		}
		s.retry = nil
		ctx := s.ctx
		s.mu.Unlock()

		s.metrics.reconnect()
		s.logger.Info("reconnecting to relay")
		go s.attempt(ctx)
	})
	s.retry = timer
}

func (s *Supervisor) update(change func(*Status)) {
	s.mu.Lock()
	previous := s.status
	change(&s.status)
	status := s.status
	listener := s.onStatus
	s.mu.Unlock()

	if status != previous && listener != nil {
		listener(status)
	}
}

func (s *Supervisor) probeLoop(ctx context.Context) {
	defer s.probing.Done()
	ticker := s.clock.NewTicker(ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probe(ctx)
		}
	}
}

// probe checks the local runtime and reconnects the adapter when it has
// dropped. Failures only change LocalRuntimeReachable.
func (s *Supervisor) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	if !s.adapter.IsConnected() {
		if err := s.adapter.Connect(ctx); err != nil {
			s.logger.Debug("local runtime connect failed", "error", err)
		}
	}

	reachable := s.adapter.IsConnected()
	if checker, ok := agent.SupportsHealth(s.adapter); ok {
		err := checker.CheckHealth(ctx)
		reachable = err == nil
		if err != nil {
			s.logger.Debug("local runtime unhealthy", "error", err)
		}
	}

	s.metrics.setReachable(reachable)
	previous := s.Status().LocalRuntimeReachable
	s.update(func(status *Status) { status.LocalRuntimeReachable = reachable })
	if previous != reachable {
		s.logger.Info("local runtime reachability changed", "reachable", reachable)
	}
}

func (s *Supervisor) handleAdapterDisconnect(reason string) {
	s.logger.Warn("local runtime disconnected", "reason", reason)
	s.update(func(status *Status) { status.LocalRuntimeReachable = false })
	s.metrics.setReachable(false)
}
