package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Fantasim/railpay/internal/config"
)

// Event is one SSE event broadcast to connected feed clients.
type Event struct {
	Type string      `json:"type"` // "feed_updated", "settlement_resolved"
	Data interface{} `json:"data,omitempty"`
}

// Hub manages fan-out broadcasting of feed events to connected SSE clients.
type Hub struct {
	clients map[chan Event]struct{}
	mu      sync.RWMutex
}

// NewHub creates a feed event hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan Event]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes all client channels.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}

	slog.Info("feed hub stopped", "reason", ctx.Err())
}

// Subscribe registers a new client and returns a channel to receive events.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, config.FeedHubChannelBuffer)

	h.mu.Lock()
	h.clients[ch] = struct{}{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	slog.Info("feed client subscribed", "totalClients", clientCount)

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	clientCount := len(h.clients)
	h.mu.Unlock()

	slog.Info("feed client unsubscribed", "totalClients", clientCount)
}

// Broadcast sends an event to all connected clients. Non-blocking: slow
// clients drop events instead of stalling the broadcaster.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- event:
		default:
			slog.Warn("feed event dropped for slow client",
				"eventType", event.Type,
			)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
