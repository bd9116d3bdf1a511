// Package websocket implements the collector's fan-out: a hub that
// broadcasts the merged event stream to every connected dashboard
// client. Slow clients are dropped rather than allowed to stall the
// stream.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/deceptionops/deception-backend/internal/models"
	"github.com/deceptionops/deception-backend/internal/pkg/metrics"
)

// Hub maintains active WebSocket connections and broadcasts events.
type Hub struct {
	log *slog.Logger

	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(ctx context.Context, log *slog.Logger) *Hub {
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		log:        log,
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		ctx:        hubCtx,
		cancel:     cancel,
	}
}

// Run processes register/unregister/broadcast until the hub is stopped.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketConnectionsActive.Set(float64(count))
			h.log.Info("websocket client connected", "active_clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketConnectionsActive.Set(float64(count))
			h.log.Info("websocket client disconnected", "active_clients", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client buffer full, drop the connection.
					close(client.send)
					delete(h.clients, client)
				}
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketConnectionsActive.Set(float64(count))
			metrics.EventsDispatchedTotal.Inc()
		}
	}
}

// Stop shuts the hub down and closes all client connections.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WebSocketConnectionsActive.Set(0)
}

// BroadcastEvent serializes one stream event and queues it for fan-out.
func (h *Hub) BroadcastEvent(event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
		return nil
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
