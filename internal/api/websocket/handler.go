package websocket

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The stream is behind the cluster boundary; origin checks are
		// the ingress layer's job.
		return true
	},
}

// Handler upgrades HTTP requests to WebSocket connections on the hub.
type Handler struct {
	hub *Hub
	ctx context.Context
}

func NewHandler(ctx context.Context, hub *Hub) *Handler {
	return &Handler{hub: hub, ctx: ctx}
}

// ServeWS handles websocket requests from dashboard clients.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.ctx, h.hub, conn, uuid.New().String())
	h.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}
