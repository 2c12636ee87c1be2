package api

import (
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
	"github.com/ashureev/carebridge/internal/identity"
	"github.com/go-chi/chi/v5"
)

// ProfileHandler serves the caller's profile.
type ProfileHandler struct {
	*Handler
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(base *Handler) *ProfileHandler {
	return &ProfileHandler{Handler: base}
}

// RegisterRoutes registers profile routes.
func (h *ProfileHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/profile", h.GetProfile)
	r.Put("/api/profile", h.PutProfile)
}

// GetProfile returns the caller's profile, 404 when none is stored.
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.repo.GetProfile(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		serviceError(w, err, "get profile")
		return
	}
	if profile == nil {
		Error(w, http.StatusNotFound, "profile not found")
		return
	}
	JSON(w, http.StatusOK, profile)
}

// PutProfile creates or replaces the caller's profile.
func (h *ProfileHandler) PutProfile(w http.ResponseWriter, r *http.Request) {
	var profile domain.UserProfile
	if !decodeJSON(w, r, &profile) {
		return
	}
	profile.UserID = identity.UserIDFromContext(r.Context())
	if msg := validateProfile(&profile); msg != "" {
		Error(w, http.StatusBadRequest, msg)
		return
	}
	if err := h.repo.UpsertProfile(r.Context(), &profile); err != nil {
		serviceError(w, err, "upsert profile")
		return
	}
	saved, err := h.repo.GetProfile(r.Context(), profile.UserID)
	if err != nil {
		serviceError(w, err, "get profile")
		return
	}
	if saved == nil {
		saved = &profile
	}
	JSON(w, http.StatusOK, saved)
}

func validateProfile(p *domain.UserProfile) string {
	p.Email = strings.TrimSpace(p.Email)
	if p.Email != "" {
		addr, err := mail.ParseAddress(p.Email)
		if err != nil {
			return "invalid email"
		}
		p.Email = addr.Address
	}
	if p.BirthDate != "" {
		if _, err := time.Parse("2006-01-02", p.BirthDate); err != nil {
			return "birth_date must be YYYY-MM-DD"
		}
	}
	return ""
}
