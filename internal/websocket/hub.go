// Package websocket pushes run and job events to connected dashboards.
package websocket

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/dukerupert/hostvault/internal/backup"
)

// Message is one event pushed to every client.
type Message struct {
	Type   string `json:"type"`
	Entity string `json:"entity"`
	Action string `json:"action"`
	ID     int64  `json:"id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// NewMessage creates a Message whose Type is entity_action.
func NewMessage(entity, action string, id int64, data any) Message {
	return Message{
		Type:   entity + "_" + action,
		Entity: entity,
		Action: action,
		ID:     id,
		Data:   data,
	}
}

// Hub maintains the set of active clients and fans messages out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.With("component", "websocket"),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client connected", "clients", n)
}

// Unregister removes a client and closes its send channel. It is safe to
// call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast sends msg to all clients. A client whose buffer is full is
// disconnected rather than allowed to stall the others.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "type", msg.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow client", "type", msg.Type)
			h.removeLocked(c)
		}
	}
}

// PublishRunEvent converts a runner event into a message. It has the
// backup.EventCallback signature.
func (h *Hub) PublishRunEvent(e backup.Event) {
	entity, action, ok := strings.Cut(string(e.Type), "_")
	if !ok {
		entity, action = "run", string(e.Type)
	}
	id := e.RunID
	if id == 0 {
		id = e.JobID
	}
	h.Broadcast(NewMessage(entity, action, id, e))
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
