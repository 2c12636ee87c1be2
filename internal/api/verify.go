package api

import (
	"net/http"

	"github.com/ashureev/carebridge/internal/identity"
	"github.com/ashureev/carebridge/internal/verify"
	"github.com/go-chi/chi/v5"
)

// VerificationHandler serves email verification codes.
type VerificationHandler struct {
	*Handler
	verifier *verify.Service
	limit    func(http.Handler) http.Handler
}

// NewVerificationHandler creates a VerificationHandler. A non-nil limit
// wraps the routes that send or check codes.
func NewVerificationHandler(base *Handler, verifier *verify.Service, limit func(http.Handler) http.Handler) *VerificationHandler {
	return &VerificationHandler{Handler: base, verifier: verifier, limit: limit}
}

// RegisterRoutes registers verification routes.
func (h *VerificationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/verification", h.Status)
	r.Group(func(r chi.Router) {
		if h.limit != nil {
			r.Use(h.limit)
		}
		r.Post("/api/verification/code", h.RequestCode)
		r.Post("/api/verification/confirm", h.Confirm)
	})
}

type verificationRequest struct {
	Email string `json:"email"`
	Code  string `json:"code,omitempty"`
}

// RequestCode mails a verification code to the given address.
func (h *VerificationHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req verificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.verifier.RequestCode(r.Context(), identity.UserIDFromContext(r.Context()), req.Email); err != nil {
		serviceError(w, err, "request verification code")
		return
	}
	JSON(w, http.StatusAccepted, map[string]interface{}{
		"status":             "sent",
		"expires_in_seconds": int(verify.CodeTTL.Seconds()),
	})
}

// Confirm checks a code and returns the updated profile.
func (h *VerificationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req verificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	profile, err := h.verifier.Confirm(r.Context(), identity.UserIDFromContext(r.Context()), req.Email, req.Code)
	if err != nil {
		serviceError(w, err, "confirm verification code")
		return
	}
	JSON(w, http.StatusOK, profile)
}

// Status reports the caller's verified address, if any.
func (h *VerificationHandler) Status(w http.ResponseWriter, r *http.Request) {
	email, err := h.verifier.VerifiedEmail(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		serviceError(w, err, "get verified email")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"email":    email,
		"verified": email != "",
		"enabled":  h.verifier.Enabled(),
	})
}
