// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/agentos-dev/agentos/agent"
	"github.com/agentos-dev/agentos/agent/agenttest"
	"github.com/agentos-dev/agentos/agent/copaw"
	"github.com/agentos-dev/agentos/lib/clock"
	"github.com/agentos-dev/agentos/lib/identity"
	"github.com/agentos-dev/agentos/lib/ratelimit"
	"github.com/agentos-dev/agentos/lib/testutil"
)

const (
	testToken    = "relay-token"
	testBridgeID = "abc123"
	waitTimeout  = 5 * time.Second
)

var testEpoch = time.UnixMilli(1_760_000_000_000)

// fakeRelay is an httptest relay. It verifies the device signature of
// every registration and acknowledges it, or answers with an error
// message when reject is set. With hangUp it closes the socket right
// after the rejection.
type fakeRelay struct {
	server *httptest.Server
	url    string
	peers  chan *relayPeer

	mu     sync.Mutex
	reject string
	hangUp bool
	verify error
}

// relayPeer is the relay side of one accepted socket.
type relayPeer struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	register RegisterPayload
	inbox    chan Envelope
	closed   chan struct{}
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	relay := &fakeRelay{peers: make(chan *relayPeer, 4)}
	upgrader := websocket.Upgrader{}
	relay.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var envelope Envelope
		if err := conn.ReadJSON(&envelope); err != nil || envelope.Type != TypeRegister {
			return
		}
		p := &relayPeer{conn: conn, inbox: make(chan Envelope, 64), closed: make(chan struct{})}
		envelope.Decode(&p.register)

		relay.mu.Lock()
		reject, hangUp := relay.reject, relay.hangUp
		if device := p.register.Device; device != nil {
			relay.verify = identity.Verify(device.PublicKey, device.Payload, device.Signature)
		}
		relay.mu.Unlock()

		if reject != "" {
			p.send(TypeError, ErrorPayload{Message: reject})
			if hangUp {
				return
			}
		} else {
			p.send(TypeRegistered, RegisteredPayload{BridgeID: testBridgeID})
		}
		relay.peers <- p

		defer close(p.closed)
		for {
			var inbound Envelope
			if err := conn.ReadJSON(&inbound); err != nil {
				return
			}
			p.inbox <- inbound
		}
	}))
	relay.url = "ws" + strings.TrimPrefix(relay.server.URL, "http")
	t.Cleanup(relay.server.Close)
	return relay
}

func (r *fakeRelay) verifyErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verify
}

// send ignores write errors; the handler goroutine may outlive the test.
func (p *relayPeer) send(messageType string, payload any) {
	envelope, _ := NewEnvelope(time.Now(), messageType, payload)
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.WriteJSON(envelope)
}

func (p *relayPeer) next(t *testing.T) Envelope {
	t.Helper()
	return testutil.RequireReceive(t, p.inbox, waitTimeout, "waiting for a bridge message")
}

// expect reads the next message and decodes it into payload after
// checking its type.
func (p *relayPeer) expect(t *testing.T, messageType string, payload any) {
	t.Helper()
	envelope := p.next(t)
	if envelope.Type != messageType {
		t.Fatalf("message type = %q (payload %s), want %q", envelope.Type, envelope.Payload, messageType)
	}
	if payload != nil {
		if err := envelope.Decode(payload); err != nil {
			t.Fatalf("decoding %s: %v", messageType, err)
		}
	}
}

type testConnection struct {
	*Connection
	relay   *fakeRelay
	clock   *clock.FakeClock
	adapter agent.Adapter
	metrics *Metrics
}

func newTestConnection(t *testing.T, adapter agent.Adapter, configure func(*Options)) *testConnection {
	t.Helper()
	relay := newFakeRelay(t)
	fake := clock.Fake(testEpoch)
	id, err := identity.Generate(testEpoch)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	metrics := NewMetrics(prometheus.NewRegistry())
	options := Options{
		URL:       relay.url,
		AuthToken: testToken,
		AgentType: "copaw",
		Identity:  id,
		Adapter:   adapter,
		Metrics:   metrics,
		Clock:     fake,
	}
	if configure != nil {
		configure(&options)
	}
	connection := NewConnection(options)
	t.Cleanup(connection.Close)
	return &testConnection{Connection: connection, relay: relay, clock: fake, adapter: adapter, metrics: metrics}
}

// connected connects and returns the relay side of the socket.
func (c *testConnection) connected(t *testing.T) *relayPeer {
	t.Helper()
	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return testutil.RequireReceive(t, c.relay.peers, waitTimeout, "waiting for the relay to accept")
}

func TestConnectRegisters(t *testing.T) {
	t.Parallel()

	adapter := agenttest.WithSkills(agenttest.New())
	c := newTestConnection(t, adapter, func(options *Options) {
		options.Capabilities = []string{"streaming"}
	})

	session, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if session.BridgeID != testBridgeID {
		t.Errorf("BridgeID = %q, want %q", session.BridgeID, testBridgeID)
	}
	if !session.RegisteredAt.Equal(testEpoch) {
		t.Errorf("RegisteredAt = %v", session.RegisteredAt)
	}
	if c.State() != StateActive {
		t.Errorf("State = %v, want active", c.State())
	}
	if got, ok := c.Session(); !ok || got != session {
		t.Errorf("Session() = %+v, %v", got, ok)
	}

	p := testutil.RequireReceive(t, c.relay.peers, waitTimeout)
	register := p.register
	if register.AuthToken != testToken || register.AgentType != "copaw" {
		t.Errorf("register = %+v", register)
	}
	if !reflect.DeepEqual(register.Capabilities, []string{"streaming", "skills"}) {
		t.Errorf("capabilities = %v", register.Capabilities)
	}
	if register.Device == nil {
		t.Fatal("register carried no device block")
	}
	if err := c.relay.verifyErr(); err != nil {
		t.Errorf("device signature: %v", err)
	}
	want := identity.BuildAuthPayload(identity.AuthFields{
		DeviceID:   c.identity.DeviceID,
		ClientID:   RegisterClientID,
		ClientMode: RegisterClientMode,
		Role:       RegisterRole,
		SignedAt:   testEpoch,
		Token:      testToken,
	})
	if register.Device.Payload != want {
		t.Errorf("signed payload = %q, want %q", register.Device.Payload, want)
	}
	if !strings.HasPrefix(register.Device.Payload, "v1|") {
		t.Errorf("registration payload is not v1: %q", register.Device.Payload)
	}
	if got := promtestutil.ToFloat64(c.metrics.RelayConnected); got != 1 {
		t.Errorf("relay_connected = %v, want 1", got)
	}
}

func TestConnectRejected(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t, agenttest.New(), nil)
	c.relay.mu.Lock()
	c.relay.reject = "invalid auth token"
	c.relay.mu.Unlock()

	_, err := c.Connect(context.Background())
	var rejected *RegistrationError
	if !errors.As(err, &rejected) || rejected.Message != "invalid auth token" {
		t.Fatalf("Connect err = %v, want RegistrationError", err)
	}
	if c.State() != StateIdle {
		t.Errorf("State = %v, want idle", c.State())
	}
	p := testutil.RequireReceive(t, c.relay.peers, waitTimeout)
	testutil.RequireClosed(t, p.closed, waitTimeout, "rejected socket stays open")
}

func TestConnectRejectedThenClosed(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t, agenttest.New(), nil)
	c.relay.mu.Lock()
	c.relay.reject = "device not paired"
	c.relay.hangUp = true
	c.relay.mu.Unlock()

	// The rejection and the close arrive back to back; the rejection
	// must win every time.
	for range 20 {
		_, err := c.Connect(context.Background())
		var rejected *RegistrationError
		if !errors.As(err, &rejected) || rejected.Message != "device not paired" {
			t.Fatalf("Connect err = %v, want RegistrationError", err)
		}
	}
}

// newSilentRelay returns the URL of a relay that accepts sockets and
// never answers.
func newSilentRelay(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConnectTimesOutWithoutAck(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(testEpoch)
	connection := NewConnection(Options{
		URL:     newSilentRelay(t),
		Adapter: agenttest.New(),
		Clock:   fake,
	})
	t.Cleanup(connection.Close)

	result := make(chan error, 1)
	go func() {
		_, err := connection.Connect(context.Background())
		result <- err
	}()
	fake.WaitForTimers(1)
	fake.Advance(RegistrationTimeout)

	err := testutil.RequireReceive(t, result, waitTimeout)
	if !errors.Is(err, ErrRegistrationTimeout) {
		t.Fatalf("Connect err = %v, want ErrRegistrationTimeout", err)
	}
	if connection.State() != StateIdle {
		t.Errorf("State = %v, want idle", connection.State())
	}
}

func TestCloseInterruptsPendingConnect(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(testEpoch)
	connection := NewConnection(Options{
		URL:     newSilentRelay(t),
		Adapter: agenttest.New(),
		Clock:   fake,
	})

	result := make(chan error, 1)
	go func() {
		_, err := connection.Connect(context.Background())
		result <- err
	}()
	fake.WaitForTimers(1)
	connection.Close()

	err := testutil.RequireReceive(t, result, waitTimeout)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Connect err = %v, want ErrClosed", err)
	}
	if connection.State() != StateIdle {
		t.Errorf("State = %v, want idle", connection.State())
	}
}

func TestSecondConnectLeavesOneLiveSocket(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t, agenttest.New(), nil)
	var closes int
	c.OnClose(func(error) { closes++ })

	first := c.connected(t)
	second := c.connected(t)

	testutil.RequireClosed(t, first.closed, waitTimeout, "first socket still open after reconnect")
	select {
	case <-second.closed:
		t.Fatal("second socket closed")
	default:
	}
	if c.State() != StateActive {
		t.Errorf("State = %v, want active", c.State())
	}
	if session, ok := c.Session(); !ok || session.BridgeID != testBridgeID {
		t.Errorf("Session = %+v, %v, want bridge %s", session, ok, testBridgeID)
	}
	second.send(TypePing, nil)
	second.expect(t, TypePong, nil)
	if closes != 0 {
		t.Errorf("replacing a socket fired OnClose %d times", closes)
	}
}

func TestChatStreamsChunksThenDone(t *testing.T) {
	t.Parallel()

	adapter := agenttest.New()
	adapter.ChatFunc = agenttest.Reply("Hi", " there")
	c := newTestConnection(t, adapter, nil)
	p := c.connected(t)

	p.send(TypeChatRequest, ChatRequestPayload{
		ConversationID: "c1",
		Content:        "hello",
		SessionKey:     "phone",
		History:        []agent.Message{{Role: agent.RoleAssistant, Content: "welcome"}},
	})

	var chunk ChatChunkPayload
	p.expect(t, TypeChatChunk, &chunk)
	if chunk != (ChatChunkPayload{ConversationID: "c1", Delta: "Hi"}) {
		t.Errorf("first chunk = %+v", chunk)
	}
	p.expect(t, TypeChatChunk, &chunk)
	if chunk != (ChatChunkPayload{ConversationID: "c1", Delta: " there"}) {
		t.Errorf("second chunk = %+v", chunk)
	}
	var done ChatDonePayload
	p.expect(t, TypeChatDone, &done)
	if done != (ChatDonePayload{ConversationID: "c1", FullContent: "Hi there"}) {
		t.Errorf("done = %+v", done)
	}

	calls := adapter.Calls()
	if len(calls) != 1 {
		t.Fatalf("Chat called %d times", len(calls))
	}
	wantHistory := []agent.Message{
		{Role: agent.RoleAssistant, Content: "welcome"},
		{Role: agent.RoleUser, Content: "hello"},
	}
	if !reflect.DeepEqual(calls[0].History, wantHistory) {
		t.Errorf("history = %+v", calls[0].History)
	}
	if calls[0].Options != (agent.ChatOptions{ConversationID: "c1", SessionKey: "phone"}) {
		t.Errorf("options = %+v", calls[0].Options)
	}

	testutil.Eventually(t, func() bool { return c.InFlight() == 0 }, waitTimeout)
	if got := promtestutil.ToFloat64(c.metrics.Conversations.WithLabelValues(OutcomeDone)); got != 1 {
		t.Errorf("done conversations = %v, want 1", got)
	}
	if got := promtestutil.ToFloat64(c.metrics.Chunks); got != 2 {
		t.Errorf("chunks = %v, want 2", got)
	}
}

func TestCoPawHTTPErrorBecomesChatError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("POST /ag-ui", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	runtime := httptest.NewServer(mux)
	t.Cleanup(runtime.Close)

	adapter := copaw.New(copaw.Options{BaseURL: runtime.URL, Clock: clock.Fake(testEpoch)})
	t.Cleanup(adapter.Cleanup)
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("copaw Connect: %v", err)
	}

	c := newTestConnection(t, adapter, nil)
	p := c.connected(t)
	p.send(TypeChatRequest, ChatRequestPayload{ConversationID: "c2", Content: "hello"})

	var failure ChatErrorPayload
	p.expect(t, TypeChatError, &failure)
	if failure != (ChatErrorPayload{ConversationID: "c2", Error: "CoPaw HTTP 500: boom"}) {
		t.Errorf("error = %+v", failure)
	}
	testutil.RequireNoReceive(t, p.inbox, 100*time.Millisecond, "message after the terminal error")
}

func TestAdapterErrorIsVerbatim(t *testing.T) {
	t.Parallel()

	adapter := agenttest.New()
	adapter.ChatFunc = agenttest.Fail(errors.New("model overloaded"), "partial")
	c := newTestConnection(t, adapter, nil)
	p := c.connected(t)
	p.send(TypeChatRequest, ChatRequestPayload{ConversationID: "c1", Content: "hello"})

	p.expect(t, TypeChatChunk, nil)
	var failure ChatErrorPayload
	p.expect(t, TypeChatError, &failure)
	if failure.Error != "model overloaded" {
		t.Errorf("error = %q", failure.Error)
	}
	testutil.Eventually(t, func() bool {
		return promtestutil.ToFloat64(c.metrics.Conversations.WithLabelValues(OutcomeError)) == 1
	}, waitTimeout)
}

func TestCancelEndsConversation(t *testing.T) {
	t.Parallel()

	adapter := agenttest.New()
	chat, fragments, contexts := agenttest.Feed()
	adapter.ChatFunc = chat
	c := newTestConnection(t, adapter, nil)
	p := c.connected(t)

	p.send(TypeChatRequest, ChatRequestPayload{ConversationID: "c1", Content: "hello"})
	ctx := testutil.RequireReceive(t, contexts, waitTimeout)
	fragments <- agent.Fragment{Text: "partial"}
	p.expect(t, TypeChatChunk, nil)

	p.send(TypeChatCancel, ChatCancelPayload{ConversationID: "c1"})
	var failure ChatErrorPayload
	p.expect(t, TypeChatError, &failure)
	if failure != (ChatErrorPayload{ConversationID: "c1", Error: "cancelled"}) {
		t.Errorf("error = %+v", failure)
	}
	testutil.RequireClosed(t, ctx.Done(), waitTimeout, "adapter context not cancelled")
	testutil.Eventually(t, func() bool {
		return promtestutil.ToFloat64(c.metrics.Conversations.WithLabelValues(OutcomeCancelled)) == 1
	}, waitTimeout)
}

func TestDuplicateConversationRejected(t *testing.T) {
	t.Parallel()

	adapter := agenttest.New()
	chat, fragments, contexts := agenttest.Feed()
	adapter.ChatFunc = chat
	c := newTestConnection(t, adapter, nil)
	p := c.connected(t)
	id := testutil.UniqueID("conv")

	p.send(TypeChatRequest, ChatRequestPayload{ConversationID: id, Content: "hello"})
	testutil.RequireReceive(t, contexts, waitTimeout)
	p.send(TypeChatRequest, ChatRequestPayload{ConversationID: id, Content: "again"})

	var failure ChatErrorPayload
	p.expect(t, TypeChatError, &failure)
	if failure != (ChatErrorPayload{ConversationID: id, Error: "conversation already in progress"}) {
		t.Errorf("error = %+v", failure)
	}

	close(fragments)
	var done ChatDonePayload
	p.expect(t, TypeChatDone, &done)
	if done.ConversationID != id {
		t.Errorf("done = %+v", done)
	}
	if calls := len(adapter.Calls()); calls != 1 {
		t.Errorf("Chat called %d times, want 1", calls)
	}
}

func TestChatRequestsAreRateLimitedPerSession(t *testing.T) {
	t.Parallel()

	adapter := agenttest.New()
	adapter.ChatFunc = agenttest.Reply("ok")
	c := newTestConnection(t, adapter, func(options *Options) {
		options.Limiter = ratelimit.New(1, 1, 0)
	})
	p := c.connected(t)

	p.send(TypeChatRequest, ChatRequestPayload{ConversationID: "c1", Content: "one", SessionKey: "phone"})
	p.send(TypeChatRequest, ChatRequestPayload{ConversationID: "c2", Content: "two", SessionKey: "phone"})
	p.send(TypeChatRequest, ChatRequestPayload{ConversationID: "c3", Content: "three", SessionKey: "tablet"})

	terminal := map[string]Envelope{}
	for len(terminal) < 3 {
		envelope := p.next(t)
		if envelope.Type == TypeChatChunk {
			continue
		}
		var ids ChatCancelPayload
		envelope.Decode(&ids)
		terminal[ids.ConversationID] = envelope
	}

	if terminal["c1"].Type != TypeChatDone || terminal["c3"].Type != TypeChatDone {
		t.Errorf("allowed conversations ended with %s and %s", terminal["c1"].Type, terminal["c3"].Type)
	}
	var failure ChatErrorPayload
	terminal["c2"].Decode(&failure)
	if terminal["c2"].Type != TypeChatError || failure.Error != "rate limit exceeded" {
		t.Errorf("c2 = %s %+v, want rate limit error", terminal["c2"].Type, failure)
	}
	if got := promtestutil.ToFloat64(c.metrics.Conversations.WithLabelValues(OutcomeRejected)); got != 1 {
		t.Errorf("rejected conversations = %v, want 1", got)
	}
}

func TestToolEventsAndPushMessages(t *testing.T) {
	t.Parallel()

	adapter := agenttest.New()
	chat, fragments, contexts := agenttest.Feed()
	adapter.ChatFunc = chat
	c := newTestConnection(t, adapter, nil)
	p := c.connected(t)

	p.send(TypeChatRequest, ChatRequestPayload{ConversationID: "c1", Content: "weather?"})
	testutil.RequireReceive(t, contexts, waitTimeout)

	adapter.EmitToolEvent(agent.ToolEvent{ConversationID: "c1", Phase: agent.ToolStart, Name: "weather", Args: `{"city":"Oslo"}`})
	adapter.EmitToolEvent(agent.ToolEvent{ConversationID: "c1", Phase: agent.ToolError, Name: "weather"})
	adapter.EmitToolEvent(agent.ToolEvent{ConversationID: "other", Phase: agent.ToolStart, Name: "ignored"})
	adapter.EmitPushMessage(agent.PushMessage{SessionKey: "main", Content: "reminder", Source: "OpenClaw"})

	var event SkillEventPayload
	p.expect(t, TypeSkillEvent, &event)
	wantStart := SkillEventPayload{ConversationID: "c1", Phase: SkillPhaseStart, SkillName: "weather", Data: &SkillEventData{Args: `{"city":"Oslo"}`}}
	if !reflect.DeepEqual(event, wantStart) {
		t.Errorf("start event = %+v", event)
	}
	event = SkillEventPayload{}
	p.expect(t, TypeSkillEvent, &event)
	if event.Phase != SkillPhaseResult || event.Data == nil || event.Data.Error != "tool failed" {
		t.Errorf("error event = %+v", event)
	}

	var push PushMessagePayload
	p.expect(t, TypePushMessage, &push)
	if push != (PushMessagePayload{SessionKey: "main", Content: "reminder", Source: "OpenClaw"}) {
		t.Errorf("push = %+v", push)
	}

	close(fragments)
	p.expect(t, TypeChatDone, nil)
	if got := promtestutil.ToFloat64(c.metrics.SkillEvents); got != 2 {
		t.Errorf("skill events = %v, want 2", got)
	}
}

func TestSkillListAndToggle(t *testing.T) {
	t.Parallel()

	adapter := agenttest.WithSkills(agenttest.New(),
		agent.Skill{Name: "chat", Description: "General-purpose assistant", Enabled: true},
		agent.Skill{Name: "translation", Enabled: false},
	)
	c := newTestConnection(t, adapter, nil)
	p := c.connected(t)

	p.send(TypeSkillListRequest, nil)
	var list SkillListResponsePayload
	p.expect(t, TypeSkillListResponse, &list)
	if len(list.Skills) != 2 || list.Skills[0].Description != "General-purpose assistant" || list.Skills[1].Enabled {
		t.Errorf("skills = %+v", list.Skills)
	}

	p.send(TypeSkillToggle, SkillTogglePayload{SkillName: "translation", Enabled: true})
	list = SkillListResponsePayload{}
	p.expect(t, TypeSkillListResponse, &list)
	if len(list.Skills) != 2 || !list.Skills[1].Enabled {
		t.Errorf("skills after toggle = %+v", list.Skills)
	}

	p.send(TypeSkillToggle, SkillTogglePayload{SkillName: "missing", Enabled: true})
	var failure ErrorPayload
	p.expect(t, TypeError, &failure)
	if !strings.Contains(failure.Message, "missing") {
		t.Errorf("error = %q", failure.Message)
	}
}

func TestSkillListUnsupported(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t, agenttest.New(), nil)
	p := c.connected(t)

	p.send(TypeSkillListRequest, nil)
	var failure ErrorPayload
	p.expect(t, TypeError, &failure)
	if failure.Message != "skills are not supported by this agent" {
		t.Errorf("error = %q", failure.Message)
	}
}

func TestPingPongAndKeepAlive(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t, agenttest.New(), nil)
	p := c.connected(t)

	p.send(TypePing, nil)
	p.expect(t, TypePong, nil)

	// The registration timeout timer and the keep-alive ticker.
	c.clock.WaitForTimers(2)
	c.clock.Advance(KeepAliveInterval)
	p.expect(t, TypePing, nil)

	p.send(TypePong, nil)
	testutil.RequireNoReceive(t, p.inbox, 100*time.Millisecond, "reply to pong")
}

func TestCloseFailsInFlightConversations(t *testing.T) {
	t.Parallel()

	adapter := agenttest.New()
	chat, _, contexts := agenttest.Feed()
	adapter.ChatFunc = chat
	c := newTestConnection(t, adapter, nil)
	causes := make(chan error, 1)
	c.OnClose(func(cause error) { causes <- cause })
	p := c.connected(t)

	p.send(TypeChatRequest, ChatRequestPayload{ConversationID: "c1", Content: "hello"})
	ctx := testutil.RequireReceive(t, contexts, waitTimeout)

	c.Close()

	var failure ChatErrorPayload
	p.expect(t, TypeChatError, &failure)
	if failure != (ChatErrorPayload{ConversationID: "c1", Error: "bridge disconnected"}) {
		t.Errorf("error = %+v", failure)
	}
	testutil.RequireClosed(t, ctx.Done(), waitTimeout, "adapter context not cancelled")
	testutil.RequireClosed(t, p.closed, waitTimeout, "socket still open after Close")
	if cause := testutil.RequireReceive(t, causes, waitTimeout); !errors.Is(cause, ErrClosed) {
		t.Errorf("close cause = %v, want ErrClosed", cause)
	}
	if c.State() != StateIdle || c.InFlight() != 0 {
		t.Errorf("after Close state=%v in flight=%d", c.State(), c.InFlight())
	}
	if got := promtestutil.ToFloat64(c.metrics.RelayConnected); got != 0 {
		t.Errorf("relay_connected = %v, want 0", got)
	}
}

func TestRelayCloseNotifies(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t, agenttest.New(), nil)
	causes := make(chan error, 1)
	c.OnClose(func(cause error) { causes <- cause })
	p := c.connected(t)

	p.writeMu.Lock()
	p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay restarting"), time.Now().Add(time.Second))
	p.writeMu.Unlock()

	cause := testutil.RequireReceive(t, causes, waitTimeout)
	var closeError *websocket.CloseError
	if !errors.As(cause, &closeError) || closeError.Code != websocket.CloseGoingAway {
		t.Errorf("close cause = %v", cause)
	}
	if c.State() != StateIdle {
		t.Errorf("State = %v, want idle", c.State())
	}
	if _, ok := c.Session(); ok {
		t.Error("Session still present after close")
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	for state, want := range map[State]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateRegistered: "registered",
		StateActive:     "active",
		State(9):        "State(9)",
	} {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestEnvelopeWireFormat(t *testing.T) {
	t.Parallel()

	envelope, err := NewEnvelope(testEpoch, TypeChatChunk, ChatChunkPayload{ConversationID: "c1", Delta: "Hi"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	data, _ := json.Marshal(envelope)
	var decoded map[string]any
	json.Unmarshal(data, &decoded)
	if decoded["type"] != TypeChatChunk || decoded["timestamp"] != float64(testEpoch.UnixMilli()) {
		t.Errorf("envelope = %s", data)
	}
	if id, _ := decoded["id"].(string); len(id) != 36 {
		t.Errorf("id = %q, want a uuid", id)
	}
	payload, _ := decoded["payload"].(map[string]any)
	if payload["conversationId"] != "c1" || payload["delta"] != "Hi" {
		t.Errorf("payload = %v", payload)
	}

	bare, _ := NewEnvelope(testEpoch, TypePing, nil)
	if bare.Payload != nil {
		t.Errorf("ping payload = %s, want none", bare.Payload)
	}
}
