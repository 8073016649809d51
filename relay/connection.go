// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentos-dev/agentos/agent"
	"github.com/agentos-dev/agentos/lib/clock"
	"github.com/agentos-dev/agentos/lib/identity"
	"github.com/agentos-dev/agentos/lib/netutil"
	"github.com/agentos-dev/agentos/lib/ratelimit"
	"github.com/agentos-dev/agentos/lib/version"
)

const (
	// RegistrationTimeout bounds the wait for bridge.registered after
	// the socket opens.
	RegistrationTimeout = 15 * time.Second

	// KeepAliveInterval is the period of outbound pings.
	KeepAliveInterval = 30 * time.Second

	// SkillRequestTimeout bounds one skill operation on the adapter.
	SkillRequestTimeout = 10 * time.Second
)

var (
	// ErrClosed is the cause of a socket closed by Close, and the
	// error of a Connect interrupted by it.
	ErrClosed = errors.New("relay: connection closed")

	// ErrRegistrationTimeout fails a Connect whose registration was
	// not acknowledged within RegistrationTimeout.
	ErrRegistrationTimeout = errors.New("relay: registration timed out")

	errReplaced     = errors.New("relay: replaced by a new connection")
	errCancelled    = errors.New("cancelled")
	errDisconnected = errors.New("bridge disconnected")
)

// RegistrationError is an error message the relay sent while
// registration was pending.
type RegistrationError struct {
	Message string
}

func (e *RegistrationError) Error() string {
	return "relay: registration rejected: " + e.Message
}

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateRegistered
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session is the relay's acknowledgment of a registration. It is valid
// only while the socket that received it stays open.
type Session struct {
	BridgeID     string
	RegisteredAt time.Time
}

// Options configure a Connection.
type Options struct {
	// URL is the relay's WebSocket endpoint.
	URL string

	// AuthToken is sent in the registration and covered by the device
	// signature.
	AuthToken string

	// AgentType names the adapter variant to the relay.
	AgentType string

	// Capabilities declared in the registration. "skills" is added
	// when the adapter implements agent.SkillManager.
	Capabilities []string

	// Identity signs the registration. Nil registers with the auth
	// token only.
	Identity *identity.Identity

	// Adapter serves chat requests. Required. The connection installs
	// its tool event and push message listeners.
	Adapter agent.Adapter

	// Limiter throttles chat requests per session key. Nil allows
	// everything.
	Limiter *ratelimit.Keyed

	// Metrics, when set, records traffic.
	Metrics *Metrics

	// Dialer defaults to a gorilla dialer honoring proxy settings.
	Dialer *websocket.Dialer

	// Clock drives registration timeouts and keep-alive pings.
	// Default: clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Connection owns the control socket to the relay. At most one socket is
// live at a time. It is safe for concurrent use; Connect calls are
// serialized.
type Connection struct {
	url          string
	authToken    string
	agentType    string
	capabilities []string
	identity     *identity.Identity
	adapter      agent.Adapter
	limiter      *ratelimit.Keyed
	metrics      *Metrics
	dialer       *websocket.Dialer
	clock        clock.Clock
	logger       *slog.Logger

	connectMu sync.Mutex

	mu            sync.Mutex
	state         State
	socket        *socket
	session       *Session
	cancelConnect context.CancelFunc
	// attempt counts Connect and Close calls; a dial whose attempt is
	// no longer current was interrupted by Close.
	attempt uint64
	onClose       func(error)
}

// NewConnection returns an idle connection.
func NewConnection(options Options) *Connection {
	c := &Connection{
		url:          options.URL,
		authToken:    options.AuthToken,
		agentType:    options.AgentType,
		capabilities: slices.Clone(options.Capabilities),
		identity:     options.Identity,
		adapter:      options.Adapter,
		limiter:      options.Limiter,
		metrics:      options.Metrics,
		dialer:       options.Dialer,
		clock:        options.Clock,
		logger:       options.Logger,
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: RegistrationTimeout}
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("relay_url", c.url)
	if _, ok := agent.SupportsSkills(c.adapter); ok && !slices.Contains(c.capabilities, "skills") {
		c.capabilities = append(c.capabilities, "skills")
	}
	c.adapter.OnToolEvent(c.forwardToolEvent)
	c.adapter.OnPushMessage(c.forwardPushMessage)
	return c
}

// OnClose replaces the listener called when a registered socket closes,
// with the cause. It is not called for failed Connect attempts (Connect
// returns the error) or for a socket replaced by a newer Connect.
func (c *Connection) OnClose(listener func(cause error)) {
	c.mu.Lock()
	c.onClose = listener
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the relay session of the live socket.
func (c *Connection) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// InFlight returns the number of conversations in progress on the live
// socket.
func (c *Connection) InFlight() int {
	s := c.activeSocket()
	if s == nil {
		return 0
	}
	return s.inFlight()
}

// Connect force-closes any live socket, dials the relay, registers and
// waits for the acknowledgment. On success the connection is active and
// serving chat requests.
func (c *Connection) Connect(ctx context.Context) (Session, error) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	previous := c.socket
	c.attempt++
	attempt := c.attempt
	c.state = StateConnecting
	c.cancelConnect = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancelConnect = nil
		c.mu.Unlock()
	}()

	if previous != nil {
		c.logger.Info("closing previous relay socket")
		c.closeSocket(previous, errReplaced, false)
		c.mu.Lock()
		if c.attempt == attempt {
			c.state = StateConnecting
		}
		c.mu.Unlock()
	}

	register, err := c.registerPayload()
	if err != nil {
		c.setIdle()
		return Session{}, err
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	conn, response, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		c.setIdle()
		if response != nil {
			return Session{}, fmt.Errorf("relay: dialing %s: HTTP %d: %w", c.url, response.StatusCode, err)
		}
		return Session{}, fmt.Errorf("relay: dialing %s: %w", c.url, err)
	}

	s := newSocket(conn)
	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		conn.Close()
		return Session{}, ErrClosed
	}
	c.socket = s
	c.mu.Unlock()
	go c.readLoop(s)

	if err := c.send(s, TypeRegister, register); err != nil {
		c.closeSocket(s, err, false)
		return Session{}, err
	}
	c.logger.Debug("registration sent", "agent_type", c.agentType)

	select {
	case registered := <-s.registered:
		return c.activate(s, registered)
	case err := <-s.rejected:
		c.closeSocket(s, err, false)
		return Session{}, err
	case <-s.done:
		select {
		case err := <-s.rejected:
			c.closeSocket(s, err, false)
			return Session{}, err
		default:
		}
		return Session{}, fmt.Errorf("relay: socket closed during registration: %w", context.Cause(s.ctx))
	case <-c.clock.After(RegistrationTimeout):
		c.closeSocket(s, ErrRegistrationTimeout, false)
		return Session{}, ErrRegistrationTimeout
	case <-ctx.Done():
		cause := ctx.Err()
		c.mu.Lock()
		if c.attempt != attempt {
			cause = ErrClosed
		}
		c.mu.Unlock()
		c.closeSocket(s, cause, false)
		return Session{}, fmt.Errorf("relay: awaiting registration: %w", cause)
	}
}

func (c *Connection) activate(s *socket, registered RegisteredPayload) (Session, error) {
	session := Session{BridgeID: registered.BridgeID, RegisteredAt: c.clock.Now()}

	c.mu.Lock()
	if c.socket != s {
		c.mu.Unlock()
		return Session{}, ErrClosed
	}
	c.state = StateRegistered
	c.session = &session
	s.active.Store(true)
	c.state = StateActive
	c.mu.Unlock()

	go c.keepAlive(s)
	c.metrics.setRelayConnected(true)
	c.logger.Info("registered with relay", "bridge_id", session.BridgeID)
	return session, nil
}

// Close force-closes the live socket and interrupts a pending Connect.
// In-flight conversations fail with "bridge disconnected".
func (c *Connection) Close() {
	c.mu.Lock()
	s := c.socket
	cancelConnect := c.cancelConnect
	c.attempt++
	c.state = StateIdle
	c.mu.Unlock()

	if cancelConnect != nil {
		cancelConnect()
	}
	if s != nil {
		c.closeSocket(s, ErrClosed, true)
	}
}

func (c *Connection) setIdle() {
	c.mu.Lock()
	if c.socket == nil {
		c.state = StateIdle
	}
	c.mu.Unlock()
}

func (c *Connection) activeSocket() *socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket == nil || !c.socket.active.Load() {
		return nil
	}
	return c.socket
}

// closeSocket tears s down once: in-flight conversations get a final
// bridge.chat.error while the socket may still be writable, then the
// socket closes. The close listener fires when notify is set and s was
// the registered live socket.
func (c *Connection) closeSocket(s *socket, cause error, notify bool) {
	conversations, first := s.markClosed()
	if !first {
		return
	}

	c.mu.Lock()
	current := c.socket == s
	if current {
		c.socket = nil
		c.session = nil
		c.state = StateIdle
	}
	listener := c.onClose
	c.mu.Unlock()

	for _, conversation := range conversations {
		conversation.cancel(errDisconnected)
		c.finish(s, conversation, TypeChatError, ChatErrorPayload{
			ConversationID: conversation.id,
			Error:          errDisconnected.Error(),
		}, OutcomeError)
	}

	s.cancel(cause)
	s.writeClose()
	s.conn.Close()

	if current && s.active.Load() {
		c.metrics.setRelayConnected(false)
		c.logger.Info("disconnected from relay", "reason", netutil.CloseReason(cause), "failed_conversations", len(conversations))
		if notify && listener != nil {
			listener(cause)
		}
	}
}

func (c *Connection) registerPayload() (RegisterPayload, error) {
	payload := RegisterPayload{
		AuthToken:    c.authToken,
		AgentType:    c.agentType,
		Capabilities: c.capabilities,
	}
	if c.identity != nil {
		device, err := c.identity.SignDevice(identity.AuthFields{
			ClientID:   RegisterClientID,
			ClientMode: RegisterClientMode,
			Role:       RegisterRole,
			SignedAt:   c.clock.Now(),
			Token:      c.authToken,
		})
		if err != nil {
			return RegisterPayload{}, fmt.Errorf("relay: signing registration: %w", err)
		}
		payload.Device = &device
	}
	return payload, nil
}

func (c *Connection) send(s *socket, messageType string, payload any) error {
	envelope, err := NewEnvelope(c.clock.Now(), messageType, payload)
	if err != nil {
		return err
	}
	if err := s.writeJSON(envelope); err != nil {
		return fmt.Errorf("relay: writing %s: %w", messageType, err)
	}
	return nil
}

func (c *Connection) readLoop(s *socket) {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.isClosed() && !netutil.IsExpectedCloseError(err) {
				c.logger.Warn("relay read failed", "error", err)
			}
			c.closeSocket(s, err, true)
			return
		}
		var envelope Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			c.logger.Debug("dropping malformed relay message", "error", err)
			continue
		}
		c.dispatch(s, envelope)
	}
}

func (c *Connection) dispatch(s *socket, envelope Envelope) {
	switch envelope.Type {
	case TypeRegistered:
		var payload RegisteredPayload
		if err := envelope.Decode(&payload); err != nil {
			c.logger.Warn("malformed registration ack", "error", err)
			return
		}
		select {
		case s.registered <- payload:
		default:
		}

	case TypeError:
		var payload ErrorPayload
		envelope.Decode(&payload)
		if !s.active.Load() {
			select {
			case s.rejected <- &RegistrationError{Message: payload.Message}:
			default:
			}
			return
		}
		c.logger.Warn("relay reported an error", "message", payload.Message)

	case TypeChatRequest:
		var payload ChatRequestPayload
		if err := envelope.Decode(&payload); err != nil {
			c.logger.Warn("malformed chat request", "error", err)
			return
		}
		c.startConversation(s, payload)

	case TypeChatCancel:
		var payload ChatCancelPayload
		if err := envelope.Decode(&payload); err != nil {
			return
		}
		if conversation := s.conversation(payload.ConversationID); conversation != nil {
			c.logger.Debug("cancelling conversation", "conversation_id", payload.ConversationID)
			conversation.cancel(errCancelled)
		}

	case TypeSkillListRequest:
		go c.answerSkillList(s)

	case TypeSkillToggle:
		var payload SkillTogglePayload
		if err := envelope.Decode(&payload); err != nil {
			return
		}
		go c.toggleSkill(s, payload)

	case TypePing:
		if err := c.send(s, TypePong, nil); err != nil {
			c.logger.Debug("pong not sent", "error", err)
		}

	case TypePong:

	default:
		c.logger.Debug("ignoring relay message", "type", envelope.Type)
	}
}

func (c *Connection) keepAlive(s *socket) {
	ticker := c.clock.NewTicker(KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(s, TypePing, nil); err != nil {
				c.logger.Debug("ping not sent", "error", err)
			}
		}
	}
}

func (c *Connection) forwardPushMessage(message agent.PushMessage) {
	s := c.activeSocket()
	if s == nil {
		c.logger.Debug("dropping push message while disconnected", "session_key", message.SessionKey)
		return
	}
	err := c.send(s, TypePushMessage, PushMessagePayload{
		SessionKey: message.SessionKey,
		Content:    message.Content,
		Source:     message.Source,
	})
	if err != nil {
		c.logger.Debug("push message not sent", "error", err)
	}
}

func (c *Connection) answerSkillList(s *socket) {
	manager, ok := agent.SupportsSkills(c.adapter)
	if !ok {
		c.sendError(s, "skills are not supported by this agent")
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, SkillRequestTimeout)
	defer cancel()
	skills, err := manager.ListSkills(ctx)
	if err != nil {
		c.sendError(s, "listing skills: "+err.Error())
		return
	}
	if skills == nil {
		skills = []agent.Skill{}
	}
	if err := c.send(s, TypeSkillListResponse, SkillListResponsePayload{Skills: skills}); err != nil {
		c.logger.Debug("skill list not sent", "error", err)
	}
}

// toggleSkill applies a toggle and answers with the updated list.
func (c *Connection) toggleSkill(s *socket, payload SkillTogglePayload) {
	manager, ok := agent.SupportsSkills(c.adapter)
	if !ok {
		c.sendError(s, "skills are not supported by this agent")
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, SkillRequestTimeout)
	defer cancel()
	if err := manager.SetSkillEnabled(ctx, payload.SkillName, payload.Enabled); err != nil {
		c.sendError(s, fmt.Sprintf("toggling skill %s: %v", payload.SkillName, err))
		return
	}
	c.logger.Info("skill toggled", "skill", payload.SkillName, "enabled", payload.Enabled)
	c.answerSkillList(s)
}

func (c *Connection) sendError(s *socket, message string) {
	if err := c.send(s, TypeError, ErrorPayload{Message: message}); err != nil {
		c.logger.Debug("error reply not sent", "error", err)
	}
}

// startConversation admits a chat request and runs it on its own
// goroutine. Rejections are answered with a terminal bridge.chat.error.
func (c *Connection) startConversation(s *socket, request ChatRequestPayload) {
	if request.ConversationID == "" {
		c.logger.Warn("chat request without conversation id")
		return
	}
	now := c.clock.Now()
	sessionKey := request.SessionKey
	if sessionKey == "" {
		sessionKey = c.adapter.SessionKey()
	}
	logger := c.logger.With("conversation_id", request.ConversationID, "session_key", sessionKey)

	if !c.limiter.Allow(sessionKey, now) {
		logger.Warn("chat request rate limited")
		c.reject(s, request.ConversationID, "rate limit exceeded")
		return
	}
	conversation, ok := s.addConversation(request.ConversationID, now)
	if !ok {
		logger.Warn("chat request for a conversation already in progress")
		c.reject(s, request.ConversationID, "conversation already in progress")
		return
	}
	go c.runConversation(s, conversation, request, logger)
}

func (c *Connection) reject(s *socket, conversationID, message string) {
	c.metrics.conversation(OutcomeRejected, 0)
	err := c.send(s, TypeChatError, ChatErrorPayload{ConversationID: conversationID, Error: message})
	if err != nil {
		c.logger.Debug("rejection not sent", "conversation_id", conversationID, "error", err)
	}
}

func (c *Connection) runConversation(s *socket, conversation *conversation, request ChatRequestPayload, logger *slog.Logger) {
	history := append(slices.Clone(request.History), agent.Message{Role: agent.RoleUser, Content: request.Content})
	logger.Debug("chat started", "history_length", len(history))

	stream, err := c.adapter.Chat(conversation.ctx, history, agent.ChatOptions{
		ConversationID: conversation.id,
		SessionKey:     request.SessionKey,
	})
	if err != nil {
		c.fail(s, conversation, err, logger)
		return
	}
	defer stream.Close()

	for {
		fragment, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.fail(s, conversation, err, logger)
			return
		}
		c.emit(s, conversation, TypeChatChunk, ChatChunkPayload{ConversationID: conversation.id, Delta: fragment})
		c.metrics.chunk()
	}

	content := stream.Content()
	if c.finish(s, conversation, TypeChatDone, ChatDonePayload{ConversationID: conversation.id, FullContent: content}, OutcomeDone) {
		logger.Debug("chat completed", "content_length", len(content))
	}
}

// fail ends a conversation with the error text. A conversation ended by
// cancellation or socket loss reports that cause instead of whatever the
// adapter returned for its cancelled context.
func (c *Connection) fail(s *socket, conversation *conversation, err error, logger *slog.Logger) {
	outcome := OutcomeError
	message := err.Error()
	switch cause := context.Cause(conversation.ctx); {
	case errors.Is(cause, errCancelled):
		outcome = OutcomeCancelled
		message = errCancelled.Error()
	case cause != nil:
		message = errDisconnected.Error()
	}
	if c.finish(s, conversation, TypeChatError, ChatErrorPayload{ConversationID: conversation.id, Error: message}, outcome) {
		logger.Info("chat failed", "error", message)
	}
}

// emit sends a non-terminal message of conversation. It is dropped once
// the conversation has ended.
func (c *Connection) emit(s *socket, conversation *conversation, messageType string, payload any) {
	conversation.mu.Lock()
	defer conversation.mu.Unlock()
	if conversation.ended {
		return
	}
	if err := c.send(s, messageType, payload); err != nil {
		c.logger.Debug("conversation message not sent", "conversation_id", conversation.id, "type", messageType, "error", err)
	}
}

// finish sends the terminal message of conversation. It reports whether
// this call ended the conversation; later calls send nothing.
func (c *Connection) finish(s *socket, conversation *conversation, messageType string, payload any, outcome string) bool {
	conversation.mu.Lock()
	if conversation.ended {
		conversation.mu.Unlock()
		return false
	}
	conversation.ended = true
	err := c.send(s, messageType, payload)
	conversation.mu.Unlock()

	if err != nil {
		c.logger.Debug("terminal message not sent", "conversation_id", conversation.id, "type", messageType, "error", err)
	}
	c.metrics.conversation(outcome, c.clock.Now().Sub(conversation.started))
	conversation.cancel(context.Canceled)
	s.removeConversation(conversation)
	return true
}

func (c *Connection) forwardToolEvent(event agent.ToolEvent) {
	s := c.activeSocket()
	if s == nil {
		return
	}
	conversation := s.conversation(event.ConversationID)
	if conversation == nil {
		c.logger.Debug("dropping tool event for unknown conversation", "conversation_id", event.ConversationID, "tool", event.Name)
		return
	}
	c.emit(s, conversation, TypeSkillEvent, skillEvent(event))
	c.metrics.skillEvent()
}
