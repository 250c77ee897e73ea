package devserver

import (
	"log/slog"
	"sync"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/coder/websocket"
)

// SessionManager tracks the live socket of each chat. A chat has at most one
// socket; registering a new one closes the previous.
type SessionManager struct {
	logger *slog.Logger

	mu     sync.RWMutex
	active map[int64]*websocket.Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager(logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		logger: logger,
		active: make(map[int64]*websocket.Conn),
	}
}

// Active returns the live socket of a chat.
func (m *SessionManager) Active(chatID int64) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[chatID]
}

// Count returns the number of chats with a live socket.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Register makes conn the live socket of chatID.
func (m *SessionManager) Register(chatID int64, conn *websocket.Conn) {
	m.mu.Lock()
	existing, exists := m.active[chatID]
	m.active[chatID] = conn
	m.mu.Unlock()

	if exists && existing != conn {
		go func() { _ = existing.Close(websocket.StatusCode(domain.CloseSessionReplaced), "session replaced") }()
	}
	m.logger.Info("Chat session registered", "chat_id", chatID)
}

// Unregister removes conn if it is still the live socket of chatID.
func (m *SessionManager) Unregister(chatID int64, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.active[chatID]; exists && current == conn {
		delete(m.active, chatID)
		m.logger.Info("Chat session unregistered", "chat_id", chatID)
	}
}

// CloseChat terminates the live socket of a deleted chat.
func (m *SessionManager) CloseChat(chatID int64) {
	m.mu.Lock()
	conn, ok := m.active[chatID]
	delete(m.active, chatID)
	m.mu.Unlock()

	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "chat deleted")
	m.logger.Info("Chat session closed", "chat_id", chatID)
}
