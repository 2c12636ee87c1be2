package api

import (
	"net/http"
	"time"

	"github.com/ashureev/carebridge/internal/identity"
	"github.com/go-chi/chi/v5"
)

// Features reports which optional subsystems are configured.
type Features struct {
	ChatEnabled    bool  `json:"chat_enabled"`
	EmailEnabled   bool  `json:"email_enabled"`
	MaxUploadBytes int64 `json:"max_upload_bytes"`
}

// MeHandler serves identity, configuration and readiness endpoints.
type MeHandler struct {
	*Handler
	features Features
}

// NewMeHandler creates a new MeHandler.
func NewMeHandler(base *Handler, features Features) *MeHandler {
	return &MeHandler{Handler: base, features: features}
}

// RegisterRoutes registers identity routes.
func (h *MeHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Get("/health", h.Health)
	})
}

// GetMe returns the current user's information.
func (h *MeHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}
	profile, err := h.repo.GetProfile(r.Context(), userID)
	if err != nil {
		serviceError(w, err, "get profile")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     user.UserID,
		"username":    user.Username,
		"session_id":  identity.SessionIDFromContext(r.Context()),
		"created_at":  user.CreatedAt.UTC().Format(time.RFC3339),
		"has_profile": profile != nil,
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *MeHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.features)
}

// Health reports whether the database is reachable.
func (h *MeHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": err.Error()})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}
