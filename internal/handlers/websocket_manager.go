package handlers

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Manager tracks live websocket connections and fans messages out to them.
type Manager struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewWebSocketManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Upgrade promotes the request to a websocket connection and tracks it.
func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.conns[conn] = struct{}{}
	m.mu.Unlock()

	return conn, nil
}

// Remove drops a connection from the broadcast set and closes it.
func (m *Manager) Remove(conn *websocket.Conn) {
	m.mu.Lock()
	delete(m.conns, conn)
	m.mu.Unlock()

	conn.Close()
}

// Broadcast sends the payload to every tracked connection. Connections that
// fail to write are dropped.
func (m *Manager) Broadcast(payload any) {
	m.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.conns))
	for conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(payload); err != nil {
			m.logger.Error("websocket write failed, dropping connection", "error", err)
			m.Remove(conn)
		}
	}
}
