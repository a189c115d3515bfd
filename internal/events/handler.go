package events

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const pingInterval = 30 * time.Second

// Handler streams hub events as server-sent events.
type Handler struct {
	hub          *Hub
	pingInterval time.Duration
}

// NewHandler wraps hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub, pingInterval: pingInterval}
}

// MountRoutes registers the stream endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.stream)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	// The stream outlives the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	id := uuid.NewString()
	client := h.hub.Register(id)
	defer h.hub.Unregister(id)

	writeEvent(w, "connected", fmt.Sprintf(`{"clientId":%q}`, id))
	flusher.Flush()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-client.Events:
			if !ok {
				return
			}
			writeEvent(w, DefaultChannel, string(data))
			flusher.Flush()
		case t := <-ticker.C:
			writeEvent(w, "ping", fmt.Sprintf(`{"timestamp":%q}`, t.UTC().Format(time.RFC3339)))
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
