// Package push delivers live task-change notifications to connected clients
// over WebSocket, keyed by user id. Delivery is best effort: slow or gone
// clients are dropped, never waited on.
package push

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/normanking/voicetask/internal/logging"
)

const (
	// WriteWait is the timeout for writing to a WebSocket.
	WriteWait = 10 * time.Second

	// PongWait is the timeout for pong responses.
	PongWait = 60 * time.Second

	// PingPeriod is how often to send ping frames.
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize caps inbound frames. Clients only listen; anything
	// larger than a pong is a protocol violation.
	MaxMessageSize = 512

	// sendBuffer is the per-client outbound queue depth.
	sendBuffer = 16
)

// Event is the payload pushed to clients when a turn mutates tasks.
type Event struct {
	Type      string    `json:"type"`
	TaskIDs   []string  `json:"task_ids,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventTasksChanged tells clients to refresh the listed tasks.
const EventTasksChanged = "tasks_changed"

// Hub fans mutation events out to each user's connected clients.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logging.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]bool
	closed  bool
}

// client wraps one connection. send is never closed; shutdown signals the
// pumps through done instead, so a concurrent notify can never hit a closed
// channel. An abandoned send buffer is just garbage collected.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// shutdown tears the client down exactly once, from whichever pump or hub
// path notices it first.
func (c *client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The API binds to loopback; origin checks add nothing there.
				return true
			},
		},
		log:     logging.Global().WithComponent("push"),
		clients: make(map[string]map[*client]bool),
	}
}

// NotifyMutations queues a tasks-changed event for every client of the user.
// Satisfies the driver's notifier contract.
func (h *Hub) NotifyMutations(userID string, taskIDs []string) {
	data, err := json.Marshal(Event{
		Type:      EventTasksChanged,
		TaskIDs:   taskIDs,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case <-c.done:
		case c.send <- data:
		default:
			// Queue full means the client stopped reading. Drop it.
			h.remove(userID, c)
		}
	}

	if len(targets) > 0 {
		h.log.Debug("pushed %s to %d client(s) of %s", EventTasksChanged, len(targets), userID)
	}
}

// ServeWS upgrades the request and registers the connection under the
// user_id query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]bool)
	}
	h.clients[userID][c] = true
	h.mu.Unlock()

	h.log.Info("client connected for %s (%d total)", userID, h.ClientCount(userID))

	go h.writePump(userID, c)
	go h.readPump(userID, c)
}

// ClientCount returns how many clients a user has connected.
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for userID, set := range h.clients {
		for c := range set {
			c.shutdown()
		}
		delete(h.clients, userID)
	}
}

// remove drops a client and shuts it down. Safe to call from any number of
// pumps and notifiers at once.
func (h *Hub) remove(userID string, c *client) {
	h.mu.Lock()
	if set, ok := h.clients[userID]; ok && set[c] {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, userID)
		}
	}
	h.mu.Unlock()
	c.shutdown()
}

// writePump sends queued events and keepalive pings to one client.
func (h *Hub) writePump(userID string, c *client) {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.remove(userID, c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(userID, c)
				return
			}
		}
	}
}

// readPump drains the connection so pongs and close frames are processed.
// Clients have nothing to say; any payload is ignored.
func (h *Hub) readPump(userID string, c *client) {
	defer h.remove(userID, c)

	c.conn.SetReadLimit(MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("client of %s read error: %v", userID, err)
			}
			return
		}
	}
}
