package api

import (
	"context"
	"net/http"

	"github.com/ashureev/carebridge/internal/domain"
	"github.com/ashureev/carebridge/internal/form"
	"github.com/ashureev/carebridge/internal/identity"
	"github.com/go-chi/chi/v5"
)

// FormHandler serves form templates and the form-session workflow.
type FormHandler struct {
	*Handler
	forms *form.Service
}

// NewFormHandler creates a new FormHandler.
func NewFormHandler(base *Handler, forms *form.Service) *FormHandler {
	return &FormHandler{Handler: base, forms: forms}
}

// RegisterRoutes registers form routes.
func (h *FormHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/form", func(r chi.Router) {
		r.Get("/templates", h.ListTemplates)
		r.Post("/templates", h.CreateTemplate)
		r.Get("/templates/{id}", h.GetTemplate)
		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{id}", h.GetSession)
		r.Get("/sessions/{id}/fields", h.GetFields)
		r.Post("/sessions/{id}/submit", h.Submit)
		r.Post("/sessions/{id}/complete", h.Complete)
		r.Post("/auto-fill", h.AutoFill)
	})
}

// ListTemplates lists active templates, optionally for one aid program.
func (h *FormHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.repo.ListTemplates(r.Context(), int64(queryInt(r, "aid_program_id")))
	if err != nil {
		serviceError(w, err, "list templates")
		return
	}
	JSON(w, http.StatusOK, templates)
}

// CreateTemplate stores a new template definition.
func (h *FormHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	tpl := domain.FormTemplate{IsActive: true}
	if !decodeJSON(w, r, &tpl) {
		return
	}
	if err := tpl.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if tpl.AidProgramID != 0 {
		p, err := h.repo.GetProgram(r.Context(), tpl.AidProgramID)
		if err != nil {
			serviceError(w, err, "get program")
			return
		}
		if p == nil {
			Error(w, http.StatusBadRequest, "unknown aid_program_id")
			return
		}
	}
	tpl.Normalize()
	if err := h.repo.CreateTemplate(r.Context(), &tpl); err != nil {
		serviceError(w, err, "create template")
		return
	}
	JSON(w, http.StatusCreated, tpl)
}

// GetTemplate returns a template with its sections and fields.
func (h *FormHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	tpl, err := h.forms.Template(r.Context(), id)
	if err != nil {
		serviceError(w, err, "get template")
		return
	}
	JSON(w, http.StatusOK, tpl)
}

// ListSessions lists the caller's sessions, most recent first.
func (h *FormHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.repo.ListSessions(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		serviceError(w, err, "list sessions")
		return
	}
	JSON(w, http.StatusOK, sessions)
}

// CreateSession starts a session for the caller.
func (h *FormHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var in form.CreateSessionInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.UserID = identity.UserIDFromContext(r.Context())
	session, err := h.forms.CreateSession(r.Context(), in)
	if err != nil {
		serviceError(w, err, "create session")
		return
	}
	JSON(w, http.StatusCreated, session)
}

// GetSession returns one of the caller's sessions.
func (h *FormHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.ownedSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		serviceError(w, err, "get session")
		return
	}
	JSON(w, http.StatusOK, session)
}

// GetFields returns the fields of the session's current section, or of the
// section named by the "section" query parameter.
func (h *FormHandler) GetFields(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.ownedSession(r.Context(), id); err != nil {
		serviceError(w, err, "get fields")
		return
	}
	fields, err := h.forms.Fields(r.Context(), id, r.URL.Query().Get("section"))
	if err != nil {
		serviceError(w, err, "get fields")
		return
	}
	if fields == nil {
		fields = []domain.FieldDefinition{}
	}
	JSON(w, http.StatusOK, fields)
}

type submitRequest struct {
	FieldUpdates domain.FormData `json:"field_updates"`
}

// Submit validates and applies field updates. Rejected submissions answer
// 422 with the per-field errors.
func (h *FormHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := h.ownedSession(r.Context(), id); err != nil {
		serviceError(w, err, "submit")
		return
	}
	result, err := h.forms.Submit(r.Context(), id, req.FieldUpdates)
	if err != nil {
		serviceError(w, err, "submit")
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	JSON(w, status, result)
}

// Complete marks the session completed when every required field is filled.
func (h *FormHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.ownedSession(r.Context(), id); err != nil {
		serviceError(w, err, "complete")
		return
	}
	result, err := h.forms.Complete(r.Context(), id)
	if err != nil {
		serviceError(w, err, "complete")
		return
	}
	JSON(w, http.StatusOK, result)
}

// AutoFill resolves template fields from the caller's profile.
func (h *FormHandler) AutoFill(w http.ResponseWriter, r *http.Request) {
	var in form.AutoFillInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.UserID = identity.UserIDFromContext(r.Context())
	result, err := h.forms.AutoFill(r.Context(), in)
	if err != nil {
		serviceError(w, err, "auto-fill")
		return
	}
	JSON(w, http.StatusOK, result)
}

// ownedSession hides sessions of other users behind ErrSessionNotFound.
func (h *FormHandler) ownedSession(ctx context.Context, id string) (*domain.FormSession, error) {
	session, err := h.forms.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.UserID != identity.UserIDFromContext(ctx) {
		return nil, form.ErrSessionNotFound
	}
	return session, nil
}
