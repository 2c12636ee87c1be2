package api

import (
	"errors"
	"mime"
	"net/http"

	"github.com/ashureev/carebridge/internal/document"
	"github.com/ashureev/carebridge/internal/identity"
	"github.com/go-chi/chi/v5"
)

// DocumentHandler serves document generation, upload and download.
type DocumentHandler struct {
	*Handler
	docs     *document.Service
	maxBytes int64
}

// NewDocumentHandler creates a new DocumentHandler.
func NewDocumentHandler(base *Handler, docs *document.Service, maxUploadBytes int64) *DocumentHandler {
	return &DocumentHandler{Handler: base, docs: docs, maxBytes: maxUploadBytes}
}

// RegisterRoutes registers document routes.
func (h *DocumentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/documents", func(r chi.Router) {
		r.Get("/templates", h.Templates)
		r.Get("/history", h.History)
		r.Post("/generate/{sessionID}", h.Generate)
		r.Post("/preview/{sessionID}", h.Preview)
		r.Post("/upload", h.Upload)
		r.Get("/{id}/download", h.Download)
	})
}

// Templates lists the document types that can be generated.
func (h *DocumentHandler) Templates(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.docs.Types())
}

// History lists the caller's documents, newest first.
func (h *DocumentHandler) History(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docs.History(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		serviceError(w, err, "document history")
		return
	}
	JSON(w, http.StatusOK, docs)
}

// Generate renders and stores a document for a completed session. The
// type is read from the "document_type" query parameter.
func (h *DocumentHandler) Generate(w http.ResponseWriter, r *http.Request) {
	docType, err := document.ParseType(r.URL.Query().Get("document_type"))
	if err != nil {
		serviceError(w, err, "generate document")
		return
	}
	doc, err := h.docs.Generate(r.Context(), identity.UserIDFromContext(r.Context()), chi.URLParam(r, "sessionID"), docType)
	if err != nil {
		serviceError(w, err, "generate document")
		return
	}
	JSON(w, http.StatusCreated, doc)
}

// Preview renders a document without storing it.
func (h *DocumentHandler) Preview(w http.ResponseWriter, r *http.Request) {
	docType, err := document.ParseType(r.URL.Query().Get("document_type"))
	if err != nil {
		serviceError(w, err, "preview document")
		return
	}
	preview, err := h.docs.Preview(r.Context(), identity.UserIDFromContext(r.Context()), chi.URLParam(r, "sessionID"), docType)
	if err != nil {
		serviceError(w, err, "preview document")
		return
	}
	JSON(w, http.StatusOK, preview)
}

// Upload stores a multipart "file" against the session named by the
// "session_id" form value.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Multipart framing needs a little room beyond the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+64<<10)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			serviceError(w, document.ErrTooLarge, "upload")
			return
		}
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer func() { _ = file.Close() }()

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}

	doc, err := h.docs.Upload(r.Context(), document.UploadInput{
		UserID:      identity.UserIDFromContext(r.Context()),
		SessionID:   sessionID,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Description: r.FormValue("description"),
		Body:        file,
	})
	if err != nil {
		serviceError(w, err, "upload")
		return
	}
	JSON(w, http.StatusCreated, doc)
}

// Download streams a stored document as an attachment.
func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	doc, f, err := h.docs.Open(r.Context(), identity.UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		serviceError(w, err, "download")
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, doc.Filename, doc.CreatedAt, f)
}
