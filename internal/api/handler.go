// Package api provides HTTP handlers for the CareBridge API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/carebridge/internal/aid"
	"github.com/ashureev/carebridge/internal/document"
	"github.com/ashureev/carebridge/internal/form"
	"github.com/ashureev/carebridge/internal/store"
	"github.com/ashureev/carebridge/internal/verify"
	"github.com/go-chi/chi/v5"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	repo  store.Repository
	isDev bool
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, isDev bool) *Handler {
	return &Handler{repo: repo, isDev: isDev}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// idParam parses a positive integer URL parameter, writing a 400 on failure.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		Error(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}

// serviceError maps service errors to HTTP responses. Unknown errors are
// logged and reported as 500 without detail.
func serviceError(w http.ResponseWriter, err error, op string) {
	var verr *form.ValidationError
	switch {
	case errors.As(err, &verr):
		JSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "validation failed",
			"errors": verr.Fields,
		})
	case errors.Is(err, form.ErrSessionNotFound),
		errors.Is(err, form.ErrTemplateNotFound),
		errors.Is(err, aid.ErrProgramNotFound),
		errors.Is(err, document.ErrDocumentNotFound):
		Error(w, http.StatusNotFound, rootMessage(err))
	case errors.Is(err, form.ErrInvalidSection),
		errors.Is(err, aid.ErrInvalidInput),
		errors.Is(err, document.ErrUnknownType),
		errors.Is(err, document.ErrEmptyUpload),
		errors.Is(err, document.ErrSessionIncomplete),
		errors.Is(err, verify.ErrInvalidEmail),
		errors.Is(err, verify.ErrInvalidCode):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, verify.ErrTooSoon):
		Error(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, verify.ErrDisabled):
		Error(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, document.ErrTooLarge):
		Error(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, store.ErrDuplicate):
		Error(w, http.StatusConflict, err.Error())
	default:
		slog.Error("Request failed", "op", op, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// rootMessage reports the sentinel of a not-found error so internal ids and
// wrapping context do not leak.
func rootMessage(err error) string {
	for _, sentinel := range []error{
		form.ErrSessionNotFound,
		form.ErrTemplateNotFound,
		aid.ErrProgramNotFound,
		document.ErrDocumentNotFound,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
