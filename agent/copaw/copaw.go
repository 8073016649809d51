// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package copaw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agentos-dev/agentos/agent"
	"github.com/agentos-dev/agentos/lib/agui"
	"github.com/agentos-dev/agentos/lib/clock"
	"github.com/agentos-dev/agentos/lib/netutil"
	"github.com/agentos-dev/agentos/lib/version"
)

const (
	// ProbeInterval is the fixed period of the health probe.
	ProbeInterval = 10 * time.Second

	// ProbeTimeout bounds a single health probe.
	ProbeTimeout = 3 * time.Second
)

// Source is the skill source reported for runtime built-ins.
const Source = "CoPaw"

// Options configure an Adapter.
type Options struct {
	// BaseURL is the runtime's root, e.g. http://127.0.0.1:8088.
	BaseURL string

	// Token, when set, is sent as a bearer token.
	Token string

	// SessionKey is the default thread. Default: main
	SessionKey string

	// HTTPClient defaults to a client with no overall timeout, since
	// chat responses stream for as long as the model runs.
	HTTPClient *http.Client

	// Clock drives the probe ticker. Default: clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Adapter is the CoPaw agent.Adapter. Create it with New.
type Adapter struct {
	agent.Listeners

	baseURL    string
	token      string
	sessionKey string
	client     *http.Client
	clock      clock.Clock
	logger     *slog.Logger

	reachable atomic.Bool

	mu        sync.Mutex
	connected bool
	stopProbe context.CancelFunc
	probeDone chan struct{}
	cleanedUp bool
}

// New returns a disconnected adapter.
func New(options Options) *Adapter {
	adapter := &Adapter{
		baseURL:    strings.TrimRight(options.BaseURL, "/"),
		token:      options.Token,
		sessionKey: options.SessionKey,
		client:     options.HTTPClient,
		clock:      options.Clock,
		logger:     options.Logger,
	}
	if adapter.sessionKey == "" {
		adapter.sessionKey = "main"
	}
	if adapter.client == nil {
		adapter.client = &http.Client{}
	}
	if adapter.clock == nil {
		adapter.clock = clock.Real()
	}
	if adapter.logger == nil {
		adapter.logger = slog.Default()
	}
	adapter.logger = adapter.logger.With("adapter", "copaw", "runtime_url", adapter.baseURL)
	return adapter
}

// Connect starts the adapter and its health probe. The first probe runs
// before Connect returns so LocalRuntimeReachable is meaningful
// immediately; its failure does not fail Connect.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.cleanedUp {
		a.mu.Unlock()
		return errors.New("copaw: adapter has been cleaned up")
	}
	if a.connected {
		a.mu.Unlock()
		return nil
	}
	a.connected = true
	probeContext, cancel := context.WithCancel(context.Background())
	a.stopProbe = cancel
	a.probeDone = make(chan struct{})
	done := a.probeDone
	a.mu.Unlock()

	a.probe(ctx)
	go a.probeLoop(probeContext, done)
	a.logger.Info("copaw adapter started", "reachable", a.reachable.Load())
	return nil
}

// IsConnected reports whether the adapter has been started and not
// disconnected.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// LocalRuntimeReachable is the result of the most recent health probe.
func (a *Adapter) LocalRuntimeReachable() bool {
	return a.reachable.Load()
}

// Disconnect stops the probe. The disconnect listener fires if the
// adapter was connected.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return
	}
	a.connected = false
	stop, done := a.stopProbe, a.probeDone
	a.stopProbe, a.probeDone = nil, nil
	a.mu.Unlock()

	stop()
	<-done
	a.reachable.Store(false)
	a.logger.Info("copaw adapter stopped")
	a.EmitDisconnect("adapter disconnected")
}

// Cleanup disconnects and releases idle HTTP connections.
func (a *Adapter) Cleanup() {
	a.Disconnect()
	a.mu.Lock()
	a.cleanedUp = true
	a.mu.Unlock()
	a.client.CloseIdleConnections()
}

// SessionKey returns the default thread id.
func (a *Adapter) SessionKey() string {
	return a.sessionKey
}

// wireMessage is an AG-UI message.
type wireMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// runInput is the POST /ag-ui request body. tools, context and
// forwardedProps are always present, empty.
type runInput struct {
	ThreadID       string         `json:"threadId"`
	RunID          string         `json:"runId"`
	Messages       []wireMessage  `json:"messages"`
	Tools          []any          `json:"tools"`
	Context        []any          `json:"context"`
	ForwardedProps map[string]any `json:"forwardedProps"`
}

// Chat runs one turn. A non-200 response fails Chat with an *HTTPError.
func (a *Adapter) Chat(ctx context.Context, history []agent.Message, options agent.ChatOptions) (*agent.ChatStream, error) {
	if !a.IsConnected() {
		return nil, agent.ErrNotConnected
	}

	threadID := options.SessionKey
	if threadID == "" {
		threadID = a.sessionKey
	}
	input := runInput{
		ThreadID:       threadID,
		RunID:          uuid.NewString(),
		Messages:       make([]wireMessage, 0, len(history)),
		Tools:          []any{},
		Context:        []any{},
		ForwardedProps: map[string]any{},
	}
	for _, message := range history {
		input.Messages = append(input.Messages, wireMessage{
			ID:      uuid.NewString(),
			Role:    string(message.Role),
			Content: message.Content,
		})
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("copaw: marshaling request: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/ag-ui", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("copaw: creating request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "text/event-stream")
	a.authorize(request)

	a.logger.Debug("starting run",
		"conversation_id", options.ConversationID,
		"thread_id", threadID,
		"run_id", input.RunID,
		"messages", len(input.Messages),
	)
	response, err := a.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("copaw: sending request: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		defer response.Body.Close()
		return nil, readHTTPError(response)
	}

	turn := &run{
		adapter:        a,
		events:         agui.NewStream(response.Body),
		conversationID: options.ConversationID,
	}
	return agent.NewChatStream(ctx, turn.next, func() { response.Body.Close() }), nil
}

// run maps translated events of one response onto stream fragments and
// tool events.
type run struct {
	adapter        *Adapter
	events         *agui.Stream
	conversationID string
}

func (r *run) next(ctx context.Context) (string, error) {
	for {
		event, err := r.events.Next()
		if err == io.EOF {
			return "", io.EOF
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("copaw: reading event stream: %w", err)
		}

		switch event.Kind {
		case agui.ContentDelta:
			return event.Delta, nil
		case agui.ToolStart:
			r.adapter.EmitToolEvent(agent.ToolEvent{
				ConversationID: r.conversationID,
				Phase:          agent.ToolStart,
				Name:           event.ToolName,
				Args:           event.Args,
			})
		case agui.ToolEnd:
			r.adapter.EmitToolEvent(agent.ToolEvent{
				ConversationID: r.conversationID,
				Phase:          agent.ToolResult,
				Name:           event.ToolName,
				Args:           event.Args,
				Result:         event.Result,
			})
		case agui.RunError:
			return "", &RunError{Message: event.Message}
		case agui.RunFinished:
			return "", io.EOF
		}
	}
}

// CheckHealth probes GET /health. Any 200 response counts as healthy
// unless its JSON body reports a status other than "ok".
func (a *Adapter) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("copaw: creating health request: %w", err)
	}
	a.authorize(request)
	response, err := a.client.Do(request)
	if err != nil {
		return fmt.Errorf("copaw: health probe: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return readHTTPError(response)
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := netutil.DecodeResponse(response.Body, &health); err == nil && health.Status != "" && health.Status != "ok" {
		return fmt.Errorf("copaw: runtime reports status %q", health.Status)
	}
	return nil
}

func (a *Adapter) probe(ctx context.Context) {
	err := a.CheckHealth(ctx)
	reachable := err == nil
	if previous := a.reachable.Swap(reachable); previous != reachable {
		if reachable {
			a.logger.Info("local runtime reachable")
		} else {
			a.logger.Warn("local runtime unreachable", "error", err)
		}
	}
}

func (a *Adapter) probeLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := a.clock.NewTicker(ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.probe(ctx)
		}
	}
}

func (a *Adapter) authorize(request *http.Request) {
	request.Header.Set("User-Agent", version.UserAgent())
	if a.token != "" {
		request.Header.Set("Authorization", "Bearer "+a.token)
	}
}
