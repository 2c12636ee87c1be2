package assistant

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/carebridge/internal/identity"
	"github.com/ashureev/carebridge/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// maxRequestBytes bounds a chat request body. It leaves room for a
// MaxMessageRunes message with JSON escaping.
const maxRequestBytes = 64 << 10

// Handler serves the chat endpoints.
type Handler struct {
	svc           *Service
	limiter       *middleware.RateLimiter
	conns         *ConnManager
	allowedOrigin string
	isDev         bool
}

// NewHandler creates the chat handler. A nil limiter disables rate limiting.
func NewHandler(svc *Service, limiter *middleware.RateLimiter, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		svc:           svc,
		limiter:       limiter,
		conns:         NewConnManager(),
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// Connections returns the websocket connection registry.
func (h *Handler) Connections() *ConnManager {
	return h.conns
}

// Routes registers the chat endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Handler)
		}
		r.Post("/api/chat", h.HandleChat)
		r.Get("/api/chat", h.HandleChat)
	})
	r.Get("/api/chat/history", h.HandleHistory)
	r.Get("/ws/chat", h.ServeWS)
}

// HandleChat answers a message given as a JSON body (POST) or as the
// query parameter "query" (GET).
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if r.Method == http.MethodGet {
		req.Query = r.URL.Query().Get("query")
	} else if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.UserID = identity.UserIDFromContext(r.Context())
	req.SessionID = identity.SessionIDFromContext(r.Context())
	req.Channel = "chat_http"
	req.RequestID = chiMiddleware.GetReqID(r.Context())

	resp, err := h.svc.Chat(r.Context(), req)
	if errors.Is(err, ErrEmptyMessage) {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if err != nil {
		slog.Error("Chat failed", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "chat failed")
		return
	}

	status := http.StatusOK
	if resp.Status == StatusError {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

// HandleHistory returns the stored turns of the caller's chat session.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	msgs, err := h.svc.History(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("Failed to load chat history", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
