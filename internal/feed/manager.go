// Package feed streams tab transcripts to WebSocket viewers.
package feed

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ViewerManager tracks the WebSocket viewers attached to each tab session.
type ViewerManager struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewViewerManager creates a new viewer manager.
func NewViewerManager() *ViewerManager {
	return &ViewerManager{
		active: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Count returns the number of attached viewers across all tabs.
func (m *ViewerManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, viewers := range m.active {
		n += len(viewers)
	}
	return n
}

// Register attaches conn to sessionID.
func (m *ViewerManager) Register(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[sessionID]; !exists {
		m.active[sessionID] = make(map[*websocket.Conn]struct{})
	}
	m.active[sessionID][conn] = struct{}{}
	slog.Info("Transcript viewer registered", "session_id", sessionID, "viewers", len(m.active[sessionID]))
}

// Unregister detaches conn from sessionID.
func (m *ViewerManager) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	viewers, ok := m.active[sessionID]
	if !ok {
		return
	}
	if _, exists := viewers[conn]; !exists {
		return
	}
	delete(viewers, conn)
	if len(viewers) == 0 {
		delete(m.active, sessionID)
	}
	slog.Info("Transcript viewer unregistered", "session_id", sessionID)
}

// CloseAll disconnects every viewer. http.Server.Shutdown does not track
// hijacked connections, so the server registers this as a shutdown hook.
func (m *ViewerManager) CloseAll() {
	m.mu.Lock()
	active := m.active
	m.active = make(map[string]map[*websocket.Conn]struct{})
	m.mu.Unlock()

	n := 0
	for _, viewers := range active {
		for conn := range viewers {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			n++
		}
	}
	if n > 0 {
		slog.Info("Transcript viewers closed", "viewers", n)
	}
}
