package assistant

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ashureev/carebridge/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ConnManager tracks the open chat websocket per user and tab session.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnManager creates an empty connection registry.
func NewConnManager() *ConnManager {
	return &ConnManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Get returns the open connection for a user and session, or nil.
func (m *ConnManager) Get(userID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[userID][sessionID]
}

// Count returns the number of open connections.
func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// Register records conn, closing any connection it replaces.
func (m *ConnManager) Register(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[userID]; !ok {
		m.active[userID] = make(map[string]*websocket.Conn)
	}
	if existing, ok := m.active[userID][sessionID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.active[userID][sessionID] = conn
	slog.Info("Chat connection registered", "user_id", userID, "session_id", sessionID)
}

// Unregister forgets conn if it is still the current one for the session.
func (m *ConnManager) Unregister(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[userID]
	if !ok {
		return
	}
	if current, ok := sessions[sessionID]; ok && current == conn {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(m.active, userID)
		}
		slog.Info("Chat connection unregistered", "user_id", userID, "session_id", sessionID)
	}
}

// CloseAll closes every open connection.
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, sessions := range m.active {
		for _, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(m.active, userID)
	}
}

// wsMessage is a chat websocket frame in either direction.
type wsMessage struct {
	Type             string `json:"type"`
	Content          string `json:"content,omitempty"`
	Status           string `json:"status,omitempty"`
	ConversationType Intent `json:"conversation_type,omitempty"`
	Error            string `json:"error,omitempty"`
}

// ServeWS upgrades the request and answers "chat" frames until the
// client disconnects.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.conns.Register(userID, sessionID, ws)
	defer h.conns.Unregister(userID, sessionID, ws)

	h.readLoop(r.Context(), ws, userID, sessionID)
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		var msg wsMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				slog.Debug("Chat websocket read ended", "user_id", userID, "error", err)
			}
			return
		}

		switch msg.Type {
		case "ping":
			h.write(ctx, ws, wsMessage{Type: "pong"})
		case "chat":
			if h.limiter != nil && !h.limiter.Allow(userID) {
				h.write(ctx, ws, wsMessage{Type: "error", Error: "rate limit exceeded"})
				continue
			}
			resp, err := h.svc.Chat(ctx, ChatRequest{
				Query:     msg.Content,
				UserID:    userID,
				SessionID: sessionID,
				Channel:   "chat_ws",
			})
			if err != nil {
				h.write(ctx, ws, wsMessage{Type: "error", Error: err.Error()})
				continue
			}
			h.write(ctx, ws, wsMessage{
				Type:             "message",
				Content:          resp.Response,
				Status:           resp.Status,
				ConversationType: resp.ConversationType,
			})
		default:
			h.write(ctx, ws, wsMessage{Type: "error", Error: "unknown message type"})
		}
	}
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, msg wsMessage) {
	if err := wsjson.Write(ctx, ws, msg); err != nil {
		slog.Debug("Failed to write chat frame", "type", msg.Type, "error", err)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
