package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

const (
	writeWait = 5 * time.Second

	// sendBuffer is the number of events queued per client before new
	// events are dropped for it.
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the feed is read-only
	},
}

// Event is one decision pushed to feed subscribers.
type Event struct {
	Time      time.Time       `json:"time"`
	Key       string          `json:"key"`
	Allowed   bool            `json:"allowed"`
	Algorithm model.Algorithm `json:"algorithm,omitempty"`
	Remaining int64           `json:"remaining"`
	Limit     int64           `json:"limit"`
	RetryMs   int64           `json:"retry_after_ms"`
	Reason    string          `json:"reason"`
}

// NewEvent summarizes res.
func NewEvent(at time.Time, res model.Result) Event {
	return Event{
		Time:      at,
		Key:       res.Key,
		Allowed:   res.Allowed,
		Algorithm: res.Algorithm,
		Remaining: res.RemainingQuota,
		Limit:     res.Limit,
		RetryMs:   res.RetryAfter.Milliseconds(),
		Reason:    res.Reason,
	}
}

// client is one feed subscriber. Its writeLoop is the only writer of conn.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages WebSocket clients and broadcasts decision events. Broadcast
// never waits on a subscriber: each client has a bounded queue drained by
// its own goroutine, and events for a full queue are dropped.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	dropped atomic.Int64
	log     *slog.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     log,
	}
}

// HandleWebSocket upgrades the HTTP connection and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", slog.Any("err", err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.add(c) {
		_ = conn.Close()
		return
	}
	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// remove unregisters c and stops its writer. It is safe to call twice.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readLoop keeps the connection alive and notices disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("websocket write failed", slog.Any("err", err))
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(writeWait))
}

// Broadcast queues ev for every connected client.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("event marshal failed", slog.Any("err", err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped returns how many events were discarded for slow clients.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client after its queued events are written and
// refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
