package api

import (
	"net/http"
	"strings"

	"github.com/ashureev/carebridge/internal/aid"
	"github.com/ashureev/carebridge/internal/domain"
	"github.com/ashureev/carebridge/internal/identity"
	"github.com/go-chi/chi/v5"
)

// AidHandler serves the aid program catalog.
type AidHandler struct {
	*Handler
	aid *aid.Service
}

// NewAidHandler creates a new AidHandler.
func NewAidHandler(base *Handler, svc *aid.Service) *AidHandler {
	return &AidHandler{Handler: base, aid: svc}
}

// RegisterRoutes registers catalog routes.
func (h *AidHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/aid", func(r chi.Router) {
		r.Get("/programs", h.ListPrograms)
		r.Post("/programs", h.CreateProgram)
		r.Get("/programs/{id}", h.GetProgram)
		r.Get("/topics", h.ListTopics)
		r.Post("/topics", h.CreateTopic)
		r.Get("/regions", h.ListRegions)
		r.Post("/regions", h.CreateRegion)
		r.Get("/recommend", h.Recommend)
		r.Get("/search", h.Search)
	})
}

// ListPrograms lists active programs. Query parameters: type, tag, tags
// (comma separated, any of), region, offset, limit.
func (h *AidHandler) ListPrograms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ProgramFilter{
		Type:   q.Get("type"),
		Tag:    q.Get("tag"),
		Region: q.Get("region"),
		Offset: queryInt(r, "offset"),
		Limit:  queryInt(r, "limit"),
	}
	if tags := q.Get("tags"); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Tags = append(filter.Tags, t)
			}
		}
	}

	programs, err := h.aid.Programs(r.Context(), filter)
	if err != nil {
		serviceError(w, err, "list programs")
		return
	}
	JSON(w, http.StatusOK, programs)
}

// GetProgram returns one active program.
func (h *AidHandler) GetProgram(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	program, err := h.aid.Program(r.Context(), id)
	if err != nil {
		serviceError(w, err, "get program")
		return
	}
	JSON(w, http.StatusOK, program)
}

// CreateProgram adds a program to the catalog.
func (h *AidHandler) CreateProgram(w http.ResponseWriter, r *http.Request) {
	program := domain.AidProgram{IsActive: true}
	if !decodeJSON(w, r, &program) {
		return
	}
	if err := h.aid.CreateProgram(r.Context(), &program); err != nil {
		serviceError(w, err, "create program")
		return
	}
	JSON(w, http.StatusCreated, program)
}

// ListTopics lists tags, optionally by category.
func (h *AidHandler) ListTopics(w http.ResponseWriter, r *http.Request) {
	tags, err := h.aid.Tags(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		serviceError(w, err, "list tags")
		return
	}
	JSON(w, http.StatusOK, tags)
}

// CreateTopic adds or updates a tag.
func (h *AidHandler) CreateTopic(w http.ResponseWriter, r *http.Request) {
	var tag domain.Tag
	if !decodeJSON(w, r, &tag) {
		return
	}
	if err := h.aid.CreateTag(r.Context(), &tag); err != nil {
		serviceError(w, err, "create tag")
		return
	}
	JSON(w, http.StatusCreated, tag)
}

// ListRegions lists regions, optionally by country.
func (h *AidHandler) ListRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := h.aid.Regions(r.Context(), r.URL.Query().Get("country"))
	if err != nil {
		serviceError(w, err, "list regions")
		return
	}
	JSON(w, http.StatusOK, regions)
}

// CreateRegion adds or updates a region.
func (h *AidHandler) CreateRegion(w http.ResponseWriter, r *http.Request) {
	var region domain.Region
	if !decodeJSON(w, r, &region) {
		return
	}
	if err := h.aid.CreateRegion(r.Context(), &region); err != nil {
		serviceError(w, err, "create region")
		return
	}
	JSON(w, http.StatusCreated, region)
}

// Recommend returns programs suited to the caller's profile.
func (h *AidHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	programs, err := h.aid.Recommend(r.Context(), userID, queryInt(r, "limit"))
	if err != nil {
		serviceError(w, err, "recommend programs")
		return
	}
	JSON(w, http.StatusOK, programs)
}

// Search matches programs by text; the query is read from "q" or "query".
func (h *AidHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		query = r.URL.Query().Get("query")
	}
	programs, err := h.aid.Search(r.Context(), query, queryInt(r, "limit"))
	if err != nil {
		serviceError(w, err, "search programs")
		return
	}
	JSON(w, http.StatusOK, programs)
}
