// Package eventstream exposes a read-only websocket feed of session and
// inventory changes: every connected client receives a JSON line per
// event, with no request/response framing and no way to push data back
// in, mirroring a one-way subscription notification channel sent over an
// upgraded HTTP connection.
package eventstream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is one notification pushed to every connected client.
type Event struct {
	Type      string    `json:"type"`
	NID       string    `json:"nid,omitempty"`
	PID       string    `json:"pid,omitempty"`
	State     string    `json:"state,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	// TypeSessionChanged fires when a peer session transitions state.
	TypeSessionChanged = "session_changed"
	// TypeInventoryUpdated fires when meshd forces a broadcast of the
	// local inventory on SIGUSR1.
	TypeInventoryUpdated = "inventory_updated"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans out Events to every connected websocket client. The zero
// value is not usable; construct with New.
type Hub struct {
	log *zap.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
}

// New creates an empty Hub.
func New(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, clients: make(map[*websocket.Conn]chan Event)}
}

// Publish delivers ev to every currently connected client. Slow clients
// drop events rather than block the publisher: the feed is read-only
// best-effort telemetry, not a replicated log.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams Events
// until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("event stream upgrade failed", zap.Error(err))
		return
	}

	ch := make(chan Event, 32)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		close(ch)
		conn.Close()
	}()

	// Drain (and discard) anything the client sends, so a dead TCP
	// connection surfaces promptly via a read error.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for ev := range ch {
		b, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}
