package websocket

import (
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

func newClient(id string, topics ...string) *Client {
	return &Client{ID: id, Topics: topics, Send: make(chan []byte, 8)}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("client-1", TopicJourney)

	hub.Register(client)
	if hub.ClientCount() != 1 || hub.TopicCount(TopicJourney) != 1 {
		t.Fatalf("after register: clients=%d topic=%d", hub.ClientCount(), hub.TopicCount(TopicJourney))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount(TopicJourney) != 0 {
		t.Fatalf("after unregister: clients=%d topic=%d", hub.ClientCount(), hub.TopicCount(TopicJourney))
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send to be closed")
	}

	// second call is a no-op
	hub.Unregister(client)
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	subscriber := newClient("sub-1", TopicNotifications)
	other := newClient("other-1", TopicJourney)
	hub.Register(subscriber)
	hub.Register(other)

	hub.Broadcast(TopicNotifications, Event{
		Type:      "notification.created",
		Topic:     TopicNotifications,
		Action:    "advance_test",
		Timestamp: time.Now(),
		Data:      json.RawMessage(`{"title":"Kit Received"}`),
	})

	select {
	case msg := <-subscriber.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if received.Type != "notification.created" || received.Action != "advance_test" {
			t.Fatalf("unexpected event %+v", received)
		}
		if string(received.Data) != `{"title":"Kit Received"}` {
			t.Errorf("data = %s", received.Data)
		}
	default:
		t.Fatal("subscriber did not receive event")
	}

	select {
	case <-other.Send:
		t.Fatal("client on another topic should not receive the event")
	default:
	}
}

func TestHub_BroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "slow", Topics: []string{TopicJourney}, Send: make(chan []byte, 1)}
	hub.Register(client)

	hub.Broadcast(TopicJourney, Event{Type: "state.changed"})
	hub.Broadcast(TopicJourney, Event{Type: "state.changed"})

	if len(client.Send) != 1 {
		t.Errorf("expected one buffered event, got %d", len(client.Send))
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("dyn")
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{TopicJourney, TopicNotifications}})
	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{TopicJourney}})
	if len(client.Topics) != 2 {
		t.Errorf("duplicate subscribe should not add topics: %v", client.Topics)
	}
	if hub.TopicCount(TopicNotifications) != 1 {
		t.Fatalf("expected 1 subscriber on notifications")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{TopicNotifications}})
	if hub.TopicCount(TopicNotifications) != 0 {
		t.Error("expected notifications topic to be empty")
	}
	if len(client.Topics) != 1 || client.Topics[0] != TopicJourney {
		t.Errorf("topics = %v", client.Topics)
	}

	hub.ProcessMessage(client, ClientMessage{Action: "shout"})
	if len(client.Topics) != 1 {
		t.Error("unknown action should not change topics")
	}
}

func TestHub_ConcurrentRegisterBroadcast(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := newClient("c", TopicJourney)
			hub.Register(c)
			hub.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			hub.Broadcast(TopicJourney, Event{Type: "state.changed"})
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if !check(req) {
		t.Error("requests without Origin should pass")
	}
	req.Header.Set("Origin", "http://localhost:3000")
	if !check(req) {
		t.Error("listed origin should pass")
	}
	req.Header.Set("Origin", "http://evil.test")
	if check(req) {
		t.Error("unlisted origin should be rejected")
	}
	if !originChecker([]string{"*"})(req) {
		t.Error("wildcard should allow any origin")
	}
}

func TestWebSocketHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	handler := NewWebSocketHandler(NewHub(zerolog.Nop()), nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.HandleConnect(c)
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
}

func TestWebSocketHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	handler := NewWebSocketHandler(hub, nil)

	e := echo.New()
	handler.RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(TopicJourney) < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(TopicJourney) != 1 {
		t.Fatal("expected the client on the journey topic by default")
	}

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{TopicNotifications}}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}
	for hub.TopicCount(TopicNotifications) < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(TopicNotifications) != 1 {
		t.Fatal("expected 1 subscriber on notifications")
	}

	hub.Broadcast(TopicNotifications, Event{Type: "notification.created", Topic: TopicNotifications, Timestamp: time.Now()})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != "notification.created" {
		t.Fatalf("expected notification.created, got %s", received.Type)
	}
}
