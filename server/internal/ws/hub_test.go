package ws_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsewatch/pulsewatch/pkg/types"
	"github.com/pulsewatch/pulsewatch/server/internal/broadcast"
	wsHub "github.com/pulsewatch/pulsewatch/server/internal/ws"
)

// --- helpers ----------------------------------------------------------------

// hubSubscriber adapts a broadcast.Hub to ws.Subscriber with a fixed update.
type hubSubscriber struct {
	*broadcast.Hub
	update broadcast.Update
}

func (s *hubSubscriber) Update() broadcast.Update { return s.update }

// startStream starts a test server with the stream handler.
// Returns the ws:// URL, the hub behind it and the handler.
func startStream(t *testing.T) (string, *broadcast.Hub, *wsHub.Handler) {
	t.Helper()

	hub := broadcast.New()
	sub := &hubSubscriber{
		Hub: hub,
		update: broadcast.Update{
			ActiveExecutions: 2,
			MetricsSummary: map[string]types.MetricStats{
				"response_time_ms": {Avg: 120, Min: 100, Max: 140, Count: 2, Latest: 140},
			},
		},
	}
	h := wsHub.New(sub)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub, h
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readJSON reads one text message from conn with a short deadline.
func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

// waitCount polls hub.Count until it equals want or the deadline passes.
func waitCount(t *testing.T, hub *broadcast.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Count: got %d, want %d", hub.Count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --- tests ------------------------------------------------------------------

func TestStream_Connect_ReceivesImmediateUpdate(t *testing.T) {
	wsURL, _, _ := startStream(t)
	conn := dial(t, wsURL)

	m := readJSON(t, conn)
	if m["type"] != "update" {
		t.Errorf("type: got %v, want update", m["type"])
	}
	if m["active_executions"] != 2.0 {
		t.Errorf("active_executions: got %v, want 2", m["active_executions"])
	}
	summary, ok := m["metrics_summary"].(map[string]interface{})
	if !ok || summary["response_time_ms"] == nil {
		t.Errorf("metrics_summary: got %v", m["metrics_summary"])
	}
}

func TestStream_RegistersEachConnection(t *testing.T) {
	wsURL, hub, h := startStream(t)
	for i := 0; i < 3; i++ {
		conn := dial(t, wsURL)
		readJSON(t, conn)
	}
	waitCount(t, hub, 3)
	if h.Count() != 3 {
		t.Errorf("handler Count: got %d, want 3", h.Count())
	}
}

func TestStream_ReceivesAlert(t *testing.T) {
	wsURL, hub, _ := startStream(t)
	conn := dial(t, wsURL)
	readJSON(t, conn)
	waitCount(t, hub, 1)

	hub.PublishAlert(types.Alert{ID: "alert-1", Level: types.LevelCritical, Title: "Critical response_time_ms"})

	m := readJSON(t, conn)
	if m["type"] != "alert" || m["id"] != "alert-1" {
		t.Errorf("alert payload: got %v", m)
	}
}

func TestStream_DisconnectUnregisters(t *testing.T) {
	wsURL, hub, _ := startStream(t)
	conn := dial(t, wsURL)
	readJSON(t, conn)
	waitCount(t, hub, 1)

	conn.Close()
	waitCount(t, hub, 0)
}

func TestStream_CloseAllClosesConnections(t *testing.T) {
	wsURL, hub, h := startStream(t)
	conn := dial(t, wsURL)
	readJSON(t, conn)
	waitCount(t, hub, 1)

	h.CloseAll()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("ReadMessage: want error after CloseAll")
	}
	waitCount(t, hub, 0)
}

func TestStream_SlowConsumerPruned(t *testing.T) {
	wsURL, hub, _ := startStream(t)
	conn := dial(t, wsURL)
	readJSON(t, conn)
	waitCount(t, hub, 1)

	// Never read again: the writer goroutine blocks on the socket once the
	// kernel buffers fill, then the 16-slot queue fills and Send fails.
	payload := []byte(`{"type":"update","pad":"` + strings.Repeat("x", 64*1024) + `"}`)
	deadline := time.Now().Add(5 * time.Second)
	for hub.Count() > 0 && time.Now().Before(deadline) {
		hub.Broadcast(payload)
	}
	if hub.Count() != 0 {
		t.Errorf("Count: got %d, want 0 after slow consumer prune", hub.Count())
	}
}
