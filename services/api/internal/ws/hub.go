// Package ws attaches the WebSocket handler to the worker's listener and
// keeps track of connected clients.
package ws

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		log: logger.With("label", "ws"),
		upgrader: websocket.Upgrader{
			// Origin policy is enforced by the CORS middleware upstream.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		conns: make(map[*websocket.Conn]bool),
	}
}

// Handle upgrades the request and runs the read loop. Text PING frames
// get a PONG back; everything else is ignored.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("upgrade failed", "error", err)
		return
	}
	h.log.Info("client connected", "remote", c.RemoteAddr().String())

	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
		_ = c.Close()
		h.log.Info("client disconnected", "remote", c.RemoteAddr().String())
	}()

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			return
		}

		if messageType == websocket.TextMessage && string(message) == "PING" {
			if err := c.WriteMessage(websocket.TextMessage, []byte("PONG")); err != nil {
				h.log.Error("failed to send pong", "error", err)
			}
			continue
		}

		h.log.Debug("ignoring message", "type", messageType)
	}
}

// Broadcast sends a JSON payload to every connected client.
func (h *Hub) Broadcast(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.conns {
		if err := c.WriteJSON(v); err != nil {
			h.log.Error("broadcast write failed", "error", err)
		}
	}
}

// Close drops all client connections, used while draining.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.conns {
		_ = c.Close()
		delete(h.conns, c)
	}
}
