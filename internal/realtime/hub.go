// Package realtime pushes record change events to dashboard pages over
// websocket so graphs can update without polling.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/SLRio/Railway3/internal/store"

	"github.com/gorilla/websocket"
)

const (
	RecordCreated  = "record.created"
	RecordUpdated  = "record.updated"
	RecordDeleted  = "record.deleted"
	RecordsDeleted = "records.deleted"
)

type Event struct {
	Type    string    `json:"type"`
	ID      string    `json:"id,omitempty"`
	Topic   string    `json:"topic,omitempty"`
	Value   *float64  `json:"value,omitempty"`
	Date    string    `json:"date,omitempty"`
	Deleted int64     `json:"deleted,omitempty"`
	At      time.Time `json:"at"`
}

// RecordEvent describes a single-record change.
func RecordEvent(typ string, rec store.Record) Event {
	v := rec.Value
	return Event{Type: typ, ID: rec.ID.String(), Topic: rec.Topic, Value: &v, Date: rec.Date}
}

type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

const (
	sendBuffer = 32
	maxInbound = 512
	writeWait  = 5 * time.Second
	pongWait   = time.Minute
	pingPeriod = pongWait * 9 / 10
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Dashboards are served from other origins during development.
				return true
			},
		},
		clients: map[*client]struct{}{},
	}
}

// ServeHTTP upgrades the request and streams events until the dashboard
// goes away. Anything the dashboard sends is read and discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("realtime upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	slog.Debug("realtime client joined", "remote", r.RemoteAddr, "clients", n)

	go c.stream()
	c.drain()
	h.drop(c)
}

// Broadcast is safe to call on a nil *Hub.
func (h *Hub) Broadcast(ev Event) {
	if h == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			// Slow client; drop it.
			delete(h.clients, c)
			close(c.send)
			_ = c.conn.Close()
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// drop unregisters c once; Broadcast may already have evicted it.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	_ = c.conn.Close()
}

// drain keeps the read side alive so pongs and close frames are processed.
func (c *client) drain() {
	c.conn.SetReadLimit(maxInbound)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

// stream writes queued events and pings until send is closed.
func (c *client) stream() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		var (
			kind int
			msg  []byte
		)
		select {
		case m, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			kind, msg = websocket.TextMessage, m
		case <-ping.C:
			kind = websocket.PingMessage
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(kind, msg); err != nil {
			return
		}
	}
}
