package events

import (
	"encoding/json"
	"log/slog"
	"sync"
)

const clientBuffer = 16

// Client is one connected stream.
type Client struct {
	ID     string
	Events chan []byte
}

// Hub tracks connected stream clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

// Register adds a client.
func (h *Hub) Register(id string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &Client{ID: id, Events: make(chan []byte, clientBuffer)}
	h.clients[id] = c
	h.logger.Debug("event stream connected", slog.String("client_id", id), slog.Int("clients", len(h.clients)))
	return c
}

// Unregister removes a client and closes its channel.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[id]; ok {
		close(c.Events)
		delete(h.clients, id)
		h.logger.Debug("event stream disconnected", slog.String("client_id", id), slog.Int("clients", len(h.clients)))
	}
}

// Broadcast sends evt to every client. Full buffers drop the message.
func (h *Hub) Broadcast(evt ProductsImported) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("encode event", slog.Any("error", err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case c.Events <- data:
		default:
			h.logger.Warn("event stream buffer full, dropping event", slog.String("client_id", c.ID))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
