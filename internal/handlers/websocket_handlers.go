package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/aetherpay/aetherpay-backend/internal/events"
)

// WebSocketHandler streams engine events (order lifecycle, payments,
// donations) to connected clients.
type WebSocketHandler struct {
	logger           *slog.Logger
	bus              *events.Bus
	websocketManager *Manager
}

func NewWebSocketHandler(logger *slog.Logger, bus *events.Bus, websocketManager *Manager) *WebSocketHandler {
	return &WebSocketHandler{
		logger:           logger,
		bus:              bus,
		websocketManager: websocketManager,
	}
}

func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/events", h.HandleConnection)
}

// Start pumps bus events into the broadcast set until the context ends.
func (h *WebSocketHandler) Start(ctx context.Context) {
	ch := h.bus.Subscribe(256)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket event pump stopped")
			return
		case evt := <-ch:
			h.websocketManager.Broadcast(evt)
		}
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.websocketManager.Upgrade(w, r)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	h.logger.Info("new websocket connection", "remote", r.RemoteAddr)

	// Drain inbound frames; the stream is one-way.
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			h.logger.Debug("websocket connection closed", "remote", r.RemoteAddr, "error", err)
			h.websocketManager.Remove(conn)
			return
		}
	}
}
