package realtime

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SLRio/Railway3/internal/store"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	hub := NewHub()
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()
	waitForClients(t, hub, 1)

	rec := store.Record{ID: uuid.New(), Value: 42.5, Date: "2025-01-01T00:00:00.000Z", Topic: "Garbage"}
	hub.Broadcast(RecordEvent(RecordCreated, rec))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ws: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("unmarshal event: %v msg=%s", err, string(msg))
	}
	if ev.Type != RecordCreated || ev.ID != rec.ID.String() || ev.Topic != "Garbage" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Value == nil || *ev.Value != 42.5 {
		t.Fatalf("unexpected value: %v", ev.Value)
	}
	if ev.At.IsZero() {
		t.Fatalf("expected event time to be stamped")
	}
}

func TestBroadcastOnNilHub(t *testing.T) {
	var hub *Hub
	hub.Broadcast(Event{Type: RecordsDeleted})
}
