package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newClient(hub *Hub, id string, topics ...string) *Client {
	return &Client{
		ID:     id,
		Topics: topics,
		Send:   make(chan []byte, sendBuffer),
		hub:    hub,
	}
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case msg := <-c.Send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("client %s: failed to unmarshal: %v", c.ID, err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("client %s did not receive an event", c.ID)
	}
	return Event{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("client %s: unexpected message %s", c.ID, msg)
	default:
	}
}

// ---------------------------------------------------------------------------
// Hub tests
// ---------------------------------------------------------------------------

func TestHub_RegisterClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Register(newClient(hub, "c1", TopicToken))

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(TopicToken) != 1 {
		t.Fatalf("expected 1 client on token, got %d", hub.TopicCount(TopicToken))
	}
}

func TestHub_RegisterDeduplicatesTopics(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient(hub, "dup", TopicToken, " token ", "", TopicToken)
	hub.Register(c)

	if len(c.Topics) != 1 {
		t.Fatalf("expected topics to collapse to one entry, got %v", c.Topics)
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient(hub, "close-1", TopicToken)
	hub.Register(c)
	hub.Unregister(c)

	if hub.TopicCount(TopicToken) != 0 {
		t.Fatalf("expected 0 clients on token, got %d", hub.TopicCount(TopicToken))
	}
	if _, ok := <-c.Send; ok {
		t.Fatal("expected Send channel to be closed after unregister")
	}

	// Second unregister is a no-op rather than a double close.
	hub.Unregister(c)
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	sub := newClient(hub, "sub", TopicToken)
	other := newClient(hub, "other", "searches")
	hub.Register(sub)
	hub.Register(other)

	ev, err := NewEvent(TopicToken, "token.acquired", map[string]any{"is_valid": true})
	if err != nil {
		t.Fatal(err)
	}
	hub.Broadcast(TopicToken, ev)

	got := receive(t, sub)
	if got.Type != "token.acquired" || got.Topic != TopicToken {
		t.Fatalf("unexpected event %+v", got)
	}
	if !strings.Contains(string(got.Data), `"is_valid":true`) {
		t.Errorf("expected payload to round trip, got %s", got.Data)
	}
	expectNothing(t, other)
}

func TestHub_BroadcastToEmptyTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Broadcast("nobody", Event{Type: "x", Topic: "nobody", Timestamp: time.Now()})
}

func TestHub_BroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &Client{ID: "slow", Topics: []string{TopicToken}, Send: make(chan []byte, 1), hub: hub}
	hub.Register(c)

	ev := Event{Type: "token.acquired", Topic: TopicToken, Timestamp: time.Now()}
	hub.Broadcast(TopicToken, ev)
	hub.Broadcast(TopicToken, ev)

	if len(c.Send) != 1 {
		t.Fatalf("expected exactly one buffered message, got %d", len(c.Send))
	}
}

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient(hub, "dyn")
	hub.Register(c)

	hub.Subscribe(c, []string{TopicToken, "searches"})
	if hub.TopicCount(TopicToken) != 1 || hub.TopicCount("searches") != 1 {
		t.Fatalf("expected both topics subscribed, got %v", c.Topics)
	}

	hub.Unsubscribe(c, []string{"searches"})
	if hub.TopicCount("searches") != 0 {
		t.Fatalf("expected searches to be empty, got %d", hub.TopicCount("searches"))
	}
	if len(c.Topics) != 1 || c.Topics[0] != TopicToken {
		t.Fatalf("expected only token to remain, got %v", c.Topics)
	}
}

func TestHub_SubscribeUnregisteredClientIgnored(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient(hub, "ghost")
	hub.Subscribe(c, []string{TopicToken})
	if hub.TopicCount(TopicToken) != 0 {
		t.Fatal("unregistered client must not join topics")
	}
}

func TestHub_SnapshotOnSubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	calls := 0
	hub.SetSnapshot(TopicToken, func() (Event, bool) {
		calls++
		ev, _ := NewEvent(TopicToken, "token.status", map[string]bool{"is_valid": false})
		return ev, true
	})

	c := newClient(hub, "snap", TopicToken)
	hub.Register(c)

	if got := receive(t, c); got.Type != "token.status" {
		t.Fatalf("expected snapshot event first, got %s", got.Type)
	}

	// Already subscribed; no second snapshot.
	hub.Subscribe(c, []string{TopicToken})
	expectNothing(t, c)
	if calls != 1 {
		t.Errorf("expected snapshot to be taken once, got %d", calls)
	}
}

func TestHub_SnapshotDeclined(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.SetSnapshot(TopicToken, func() (Event, bool) { return Event{}, false })

	c := newClient(hub, "none", TopicToken)
	hub.Register(c)
	expectNothing(t, c)
}

func TestHub_ProcessMessage(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient(hub, "proc")
	hub.Register(c)

	var msg ClientMessage
	if err := json.Unmarshal([]byte(`{"action":"subscribe","topics":["token"]}`), &msg); err != nil {
		t.Fatal(err)
	}
	hub.ProcessMessage(c, msg)
	if hub.TopicCount(TopicToken) != 1 {
		t.Fatalf("expected subscribe to apply, got %d", hub.TopicCount(TopicToken))
	}

	hub.ProcessMessage(c, ClientMessage{Action: "bogus", Topics: []string{"other"}})
	if hub.TopicCount("other") != 0 {
		t.Fatal("unknown action must not change subscriptions")
	}

	hub.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topics: []string{TopicToken}})
	if hub.TopicCount(TopicToken) != 0 {
		t.Fatalf("expected unsubscribe to apply, got %d", hub.TopicCount(TopicToken))
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	const n = 100

	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = newClient(hub, "concurrent", TopicToken)
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(c *Client) {
			defer wg.Done()
			hub.Register(c)
			hub.Broadcast(TopicToken, Event{Type: "token.acquired", Topic: TopicToken})
			hub.Unregister(c)
		}(clients[i])
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected all clients gone, got %d", hub.ClientCount())
	}
	if hub.TopicCount(TopicToken) != 0 {
		t.Fatalf("expected empty topic, got %d", hub.TopicCount(TopicToken))
	}
}

// ---------------------------------------------------------------------------
// Forward
// ---------------------------------------------------------------------------

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type stateChange struct {
	Kind  string `json:"kind"`
	Valid bool   `json:"is_valid"`
}

func TestForward_PublishesUntilSourceCloses(t *testing.T) {
	pub := &recordingPublisher{}
	src := make(chan stateChange, 2)
	src <- stateChange{Kind: "acquired", Valid: true}
	src <- stateChange{Kind: "invalidated"}
	close(src)

	Forward(context.Background(), pub, TopicToken, src, func(s stateChange) string { return "token." + s.Kind })

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pub.events))
	}
	if pub.events[0].Type != "token.acquired" || pub.events[1].Type != "token.invalidated" {
		t.Errorf("unexpected types %s, %s", pub.events[0].Type, pub.events[1].Type)
	}
	if pub.events[0].Topic != TopicToken {
		t.Errorf("expected topic token, got %s", pub.events[0].Topic)
	}
	if !strings.Contains(string(pub.events[0].Data), `"is_valid":true`) {
		t.Errorf("expected payload, got %s", pub.events[0].Data)
	}
}

func TestForward_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := make(chan stateChange)
	done := make(chan struct{})
	go func() {
		Forward(ctx, &recordingPublisher{}, TopicToken, src, func(stateChange) string { return "x" })
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward did not return after cancel")
	}
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func TestOriginChecker(t *testing.T) {
	if originChecker(nil) != nil {
		t.Error("expected default same-origin check when no origins configured")
	}

	check := originChecker([]string{"http://localhost:3000/"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:3000", true},
		{"", true},
		{"http://evil.example", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := check(req); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}

	wildcard := originChecker([]string{"http://a", "*"})
	req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
	req.Header.Set("Origin", "http://anything")
	if !wildcard(req) {
		t.Error("expected wildcard to accept any origin")
	}
}

func TestWebSocketHandler_RegisterRoutes(t *testing.T) {
	e := echo.New()
	NewWebSocketHandler(NewHub(zerolog.Nop()), nil).RegisterRoutes(e)

	found := false
	for _, r := range e.Routes() {
		if r.Path == "/ws/events" && r.Method == http.MethodGet {
			found = true
		}
	}
	if !found {
		t.Fatal("expected GET /ws/events route to be registered")
	}
}

func TestWebSocketHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/ws/events", nil), rec)

	_ = NewWebSocketHandler(hub, nil).HandleConnect(c)
	if rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
	if hub.ClientCount() != 0 {
		t.Fatal("failed upgrade must not register a client")
	}
}

func TestWebSocketHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.SetSnapshot(TopicToken, func() (Event, bool) {
		ev, _ := NewEvent(TopicToken, "token.status", map[string]bool{"is_valid": true})
		return ev, true
	})

	e := echo.New()
	NewWebSocketHandler(hub, []string{"*"}).RegisterRoutes(e)
	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events?topics=token"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snap Event
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("failed to read snapshot: %v", err)
	}
	if snap.Type != "token.status" {
		t.Fatalf("expected token.status snapshot, got %s", snap.Type)
	}

	ev, _ := NewEvent(TopicToken, "token.invalidated", nil)
	hub.Broadcast(TopicToken, ev)

	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != "token.invalidated" {
		t.Fatalf("expected token.invalidated, got %s", received.Type)
	}

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{"searches"}}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for hub.TopicCount("searches") != 1 {
		if time.Now().After(deadline) {
			t.Fatal("subscribe message was not applied")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
