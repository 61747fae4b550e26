package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"polyflow/config"
	"polyflow/models"

	"github.com/gorilla/websocket"
)

func testStreamConfig() config.StreamConfig {
	return config.StreamConfig{
		HeartbeatInterval:  20 * time.Millisecond,
		StaleThreshold:     150 * time.Millisecond,
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  100 * time.Millisecond,
	}
}

// mockServer accepts market-channel connections, records subscribe frames
// and exposes the live connection to the test.
type mockServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  []*websocket.Conn
	frames []map[string]interface{}
	connCh chan struct{}
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		connCh:   make(chan struct{}, 16),
	}
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := m.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.mu.Lock()
		m.conns = append(m.conns, conn)
		m.mu.Unlock()
		select {
		case m.connCh <- struct{}{}:
		default:
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]interface{}
			if json.Unmarshal(msg, &frame) == nil {
				m.mu.Lock()
				m.frames = append(m.frames, frame)
				m.mu.Unlock()
			}
		}
	}))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *mockServer) wsURL() string {
	return "ws" + strings.TrimPrefix(m.srv.URL, "http")
}

func (m *mockServer) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case <-m.connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[len(m.conns)-1]
}

func (m *mockServer) framesOfType(typ string) []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]interface{}
	for _, f := range m.frames {
		if f["type"] == typ {
			out = append(out, f)
		}
	}
	return out
}

func waitEvent(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event channel closed while waiting")
			}
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestClientSubscribesOnOpen(t *testing.T) {
	m := newMockServer(t)
	c := NewClient(testStreamConfig(), m.wsURL(), []string{"T1", "T2"}, 16)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()

	m.waitConn(t)
	waitEvent(t, c.Events(), func(ev Event) bool {
		return ev.Kind == KindStatus && ev.Status == models.ConnConnected
	})

	// Subscribe frame should list both assets.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if frames := m.framesOfType("market"); len(frames) > 0 {
			ids, _ := frames[0]["assets_ids"].([]interface{})
			if len(ids) != 2 {
				t.Fatalf("subscribe frame assets = %v", ids)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no subscribe frame received")
}

func TestClientDeliversUpdates(t *testing.T) {
	m := newMockServer(t)
	c := NewClient(testStreamConfig(), m.wsURL(), []string{"T1"}, 16)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()

	conn := m.waitConn(t)
	payload := `{"event_type":"best_bid_ask","asset_id":"T1","best_bid":"0.4","best_ask":"0.42"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	ev := waitEvent(t, c.Events(), func(ev Event) bool { return ev.Kind == KindUpdate })
	if ev.Update.AssetID != "T1" || ev.Update.BestBid != 0.4 || ev.Update.BestAsk != 0.42 {
		t.Errorf("update = %+v", ev.Update)
	}
}

func TestClientEchoesApplicationPing(t *testing.T) {
	m := newMockServer(t)
	c := NewClient(testStreamConfig(), m.wsURL(), []string{"T1"}, 16)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()

	conn := m.waitConn(t)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","id":42}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, f := range m.framesOfType("pong") {
			if id, ok := f["id"].(float64); ok && id == 42 {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("pong with matching id not received")
}

func TestClientEchoesPingWithStringID(t *testing.T) {
	m := newMockServer(t)
	c := NewClient(testStreamConfig(), m.wsURL(), []string{"T1"}, 16)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()

	conn := m.waitConn(t)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","id":"hb-7"}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, f := range m.framesOfType("pong") {
			if id, ok := f["id"].(string); ok && id == "hb-7" {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("pong with string id not received")
}

func TestClientReconnectsAfterRemoteClose(t *testing.T) {
	m := newMockServer(t)
	c := NewClient(testStreamConfig(), m.wsURL(), []string{"T1"}, 32)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()

	conn := m.waitConn(t)
	waitEvent(t, c.Events(), func(ev Event) bool {
		return ev.Kind == KindStatus && ev.Status == models.ConnConnected
	})

	conn.Close()

	// Client must come back and re-subscribe on a fresh connection.
	m.waitConn(t)
	waitEvent(t, c.Events(), func(ev Event) bool {
		return ev.Kind == KindStatus && ev.Status == models.ConnConnected
	})
}

func TestClientDetectsStaleConnection(t *testing.T) {
	m := newMockServer(t)
	c := NewClient(testStreamConfig(), m.wsURL(), []string{"T1"}, 32)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()

	m.waitConn(t)
	// Server stays silent past the stale threshold.
	waitEvent(t, c.Events(), func(ev Event) bool {
		return ev.Kind == KindStatus && ev.Status == models.ConnStale
	})
	// The stale force-close must be followed by a reconnect.
	m.waitConn(t)
	waitEvent(t, c.Events(), func(ev Event) bool {
		return ev.Kind == KindStatus && ev.Status == models.ConnConnected
	})
}

func TestClientCloseIsTerminal(t *testing.T) {
	m := newMockServer(t)
	c := NewClient(testStreamConfig(), m.wsURL(), []string{"T1"}, 16)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.waitConn(t)

	c.Close()
	c.Close() // idempotent

	// Channel must drain and close with no further reconnects.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-c.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel not closed after Close")
		}
	}
}

func TestSubscribeWhileDisconnectedIsSafe(t *testing.T) {
	c := NewClient(testStreamConfig(), "ws://127.0.0.1:1/ws", nil, 16)
	// No Start: ops must be recorded without a transport.
	c.Subscribe("T1", "T2")
	c.Unsubscribe("T2")
	if _, ok := c.assets["T1"]; !ok {
		t.Error("subscription set not updated")
	}
	if _, ok := c.assets["T2"]; ok {
		t.Error("unsubscribe not applied")
	}
}

func TestReconnectDelaySchedule(t *testing.T) {
	base := 500 * time.Millisecond
	max := 30 * time.Second
	want := []time.Duration{
		500 * time.Millisecond,
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	prev := time.Duration(0)
	for i, w := range want {
		got := reconnectDelay(base, max, i+1)
		if got != w {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, got, w)
		}
		if got < prev {
			t.Errorf("attempt %d: delay decreased", i+1)
		}
		prev = got
	}
}
