// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package openclaw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agentos-dev/agentos/agent"
	"github.com/agentos-dev/agentos/lib/clock"
	"github.com/agentos-dev/agentos/lib/identity"
	"github.com/agentos-dev/agentos/lib/netutil"
	"github.com/agentos-dev/agentos/lib/version"
)

const (
	// HandshakeTimeout bounds the wait for the connect challenge and
	// for the gateway's answer to the connect request.
	HandshakeTimeout = 15 * time.Second

	// RequestTimeout bounds the wait for any other response.
	RequestTimeout = 30 * time.Second

	writeTimeout = 10 * time.Second
)

// Source is the push message source reported for gateway output.
const Source = "OpenClaw"

// DefaultScopes are requested when Options.Scopes is empty.
var DefaultScopes = []string{"operator.read", "operator.write"}

var (
	// ErrConnectionLost fails requests and chat streams that were in
	// flight when the gateway socket closed.
	ErrConnectionLost = errors.New("openclaw: gateway connection lost")

	// ErrAborted fails a chat stream whose run the gateway aborted.
	ErrAborted = errors.New("openclaw: run aborted")
)

// RunError is a run the gateway reported as failed. Error returns the
// gateway's message verbatim.
type RunError struct {
	Message string
}

func (e *RunError) Error() string { return e.Message }

// Options configure an Adapter.
type Options struct {
	// URL is the gateway WebSocket endpoint, e.g. ws://127.0.0.1:18789.
	URL string

	// Token is the gateway auth token, sent in the connect request and
	// covered by the device signature.
	Token string

	// SessionKey is the default gateway session. Default: main
	SessionKey string

	// Scopes requested from the gateway. Default: DefaultScopes.
	Scopes []string

	// Identity signs the connect challenge. Required.
	Identity *identity.Identity

	// Dialer defaults to a gorilla dialer with HandshakeTimeout.
	Dialer *websocket.Dialer

	// Clock supplies signing timestamps and request timeouts.
	// Default: clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Adapter is the OpenClaw agent.Adapter. Create it with New.
type Adapter struct {
	agent.Listeners

	url        string
	token      string
	sessionKey string
	scopes     []string
	identity   *identity.Identity
	dialer     *websocket.Dialer
	clock      clock.Clock
	logger     *slog.Logger

	mu        sync.Mutex
	session   *session
	cleanedUp bool
}

// New returns a disconnected adapter.
func New(options Options) *Adapter {
	adapter := &Adapter{
		url:        options.URL,
		token:      options.Token,
		sessionKey: options.SessionKey,
		scopes:     options.Scopes,
		identity:   options.Identity,
		dialer:     options.Dialer,
		clock:      options.Clock,
		logger:     options.Logger,
	}
	if adapter.sessionKey == "" {
		adapter.sessionKey = "main"
	}
	if len(adapter.scopes) == 0 {
		adapter.scopes = DefaultScopes
	}
	if adapter.dialer == nil {
		adapter.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: HandshakeTimeout,
		}
	}
	if adapter.clock == nil {
		adapter.clock = clock.Real()
	}
	if adapter.logger == nil {
		adapter.logger = slog.Default()
	}
	adapter.logger = adapter.logger.With("adapter", "openclaw", "gateway_url", adapter.url)
	return adapter
}

// session is one authenticated gateway socket with its in-flight
// requests and chat runs.
type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	pending map[string]chan inboundFrame
	runs    map[string]*chatRun
}

func newSession(conn *websocket.Conn) *session {
	return &session{
		conn:    conn,
		pending: make(map[string]chan inboundFrame),
		runs:    make(map[string]*chatRun),
	}
}

func (s *session) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *session) writeClose() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
}

func (s *session) addPending(id string, ch chan inboundFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.pending[id] = ch
	return true
}

func (s *session) removePending(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *session) resolve(frame inboundFrame) {
	s.mu.Lock()
	ch, ok := s.pending[frame.ID]
	delete(s.pending, frame.ID)
	s.mu.Unlock()
	if ok {
		ch <- frame
	}
}

func (s *session) addRun(key string, run *chatRun) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.runs[key] = run
	return true
}

func (s *session) removeRun(run *chatRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, candidate := range s.runs {
		if candidate == run {
			delete(s.runs, key)
		}
	}
}

func (s *session) lookupRun(runID string) *chatRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[runID]
}

// shutdown closes the socket and fails everything in flight. Only the
// first call does anything.
func (s *session) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending, runs := s.pending, s.runs
	s.pending, s.runs = nil, nil
	s.mu.Unlock()

	s.conn.Close()
	for _, ch := range pending {
		close(ch)
	}
	for _, run := range runs {
		run.end(ErrConnectionLost)
	}
}

// Connect dials the gateway and completes the signed challenge
// handshake. Calling it while connected is a no-op.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.cleanedUp {
		a.mu.Unlock()
		return errors.New("openclaw: adapter has been cleaned up")
	}
	if a.session != nil {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if a.identity == nil {
		return errors.New("openclaw: device identity required")
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	conn, response, err := a.dialer.DialContext(ctx, a.url, header)
	if err != nil {
		if response != nil {
			return fmt.Errorf("openclaw: dialing %s: HTTP %d: %w", a.url, response.StatusCode, err)
		}
		return fmt.Errorf("openclaw: dialing %s: %w", a.url, err)
	}

	s := newSession(conn)
	if err := a.handshake(ctx, s); err != nil {
		conn.Close()
		return err
	}

	a.mu.Lock()
	if a.cleanedUp || a.session != nil {
		cleanedUp := a.cleanedUp
		a.mu.Unlock()
		s.writeClose()
		s.shutdown()
		if cleanedUp {
			return errors.New("openclaw: adapter has been cleaned up")
		}
		return nil
	}
	a.session = s
	a.mu.Unlock()

	go a.readLoop(s)
	a.logger.Info("connected to gateway", "device_id", a.identity.DeviceID)
	return nil
}

// handshake runs synchronously on the fresh socket before the read loop
// starts: wait for connect.challenge, answer with a signed connect
// request, wait for its response. Other frames are skipped.
func (a *Adapter) handshake(ctx context.Context, s *session) error {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	deadline := time.Now().Add(HandshakeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	s.conn.SetReadDeadline(deadline)

	var challenge challengePayload
	for {
		frame, err := readFrame(s.conn)
		if err != nil {
			return handshakeError(ctx, "awaiting connect challenge", err)
		}
		if frame.Type == frameEvent && frame.Event == eventChallenge {
			if err := json.Unmarshal(frame.Payload, &challenge); err != nil {
				return fmt.Errorf("openclaw: decoding connect challenge: %w", err)
			}
			break
		}
	}
	if challenge.Nonce == "" {
		return errors.New("openclaw: connect challenge carries no nonce")
	}

	device, err := a.identity.SignDevice(identity.AuthFields{
		ClientID:   ClientID,
		ClientMode: ClientMode,
		Role:       Role,
		Scopes:     a.scopes,
		SignedAt:   a.clock.Now(),
		Token:      a.token,
		Nonce:      challenge.Nonce,
	})
	if err != nil {
		return fmt.Errorf("openclaw: signing connect challenge: %w", err)
	}
	params := connectParams{
		MinProtocol: ProtocolVersion,
		MaxProtocol: ProtocolVersion,
		Client: clientInfo{
			ID:       ClientID,
			Version:  version.Short(),
			Platform: version.Platform(),
			Mode:     ClientMode,
		},
		Role:   Role,
		Scopes: a.scopes,
		Device: device,
	}
	if a.token != "" {
		params.Auth = &connectAuth{Token: a.token}
	}

	requestID := uuid.NewString()
	if err := s.write(requestFrame{Type: frameRequest, ID: requestID, Method: methodConnect, Params: params}); err != nil {
		return handshakeError(ctx, "sending connect request", err)
	}
	for {
		frame, err := readFrame(s.conn)
		if err != nil {
			return handshakeError(ctx, "awaiting connect response", err)
		}
		if frame.Type == frameResponse && frame.ID == requestID {
			s.conn.SetReadDeadline(time.Time{})
			return responseError(methodConnect, frame)
		}
	}
}

func handshakeError(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("openclaw: %s: %w", step, ctx.Err())
	}
	return fmt.Errorf("openclaw: %s: %w", step, err)
}

// readFrame reads the next frame, skipping messages that are not valid
// JSON frames.
func readFrame(conn *websocket.Conn) (inboundFrame, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return inboundFrame{}, err
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		return frame, nil
	}
}

func (a *Adapter) readLoop(s *session) {
	for {
		frame, err := readFrame(s.conn)
		if err != nil {
			if !netutil.IsExpectedCloseError(err) {
				a.logger.Warn("gateway read failed", "error", err)
			}
			a.teardown(s, netutil.CloseReason(err))
			return
		}
		switch frame.Type {
		case frameResponse:
			s.resolve(frame)
		case frameEvent:
			a.handleEvent(s, frame)
		}
	}
}

// teardown fails the session's in-flight work. The disconnect listener
// fires only when s was the adapter's live session, so each transition
// to disconnected is reported once.
func (a *Adapter) teardown(s *session, reason string) {
	a.mu.Lock()
	current := a.session == s
	if current {
		a.session = nil
	}
	a.mu.Unlock()

	s.shutdown()
	if current {
		a.logger.Info("disconnected from gateway", "reason", reason)
		a.EmitDisconnect(reason)
	}
}

func (a *Adapter) current() *session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// request sends one request on s and waits for its response.
func (a *Adapter) request(ctx context.Context, s *session, method string, params any) (inboundFrame, error) {
	id := uuid.NewString()
	ch := make(chan inboundFrame, 1)
	if !s.addPending(id, ch) {
		return inboundFrame{}, agent.ErrNotConnected
	}
	defer s.removePending(id)

	if err := s.write(requestFrame{Type: frameRequest, ID: id, Method: method, Params: params}); err != nil {
		return inboundFrame{}, fmt.Errorf("openclaw: sending %s: %w", method, err)
	}
	select {
	case frame, ok := <-ch:
		if !ok {
			return inboundFrame{}, ErrConnectionLost
		}
		return frame, responseError(method, frame)
	case <-ctx.Done():
		return inboundFrame{}, ctx.Err()
	case <-a.clock.After(RequestTimeout):
		return inboundFrame{}, fmt.Errorf("openclaw: %s: no response within %s", method, RequestTimeout)
	}
}

// IsConnected reports whether an authenticated gateway socket is open.
func (a *Adapter) IsConnected() bool {
	return a.current() != nil
}

// Disconnect closes the gateway socket. In-flight chats fail with
// ErrConnectionLost.
func (a *Adapter) Disconnect() {
	s := a.current()
	if s == nil {
		return
	}
	s.writeClose()
	a.teardown(s, "adapter disconnected")
}

// Cleanup disconnects. The adapter cannot be reconnected afterwards.
func (a *Adapter) Cleanup() {
	a.mu.Lock()
	a.cleanedUp = true
	a.mu.Unlock()
	a.Disconnect()
}

// SessionKey returns the default gateway session.
func (a *Adapter) SessionKey() string {
	return a.sessionKey
}
