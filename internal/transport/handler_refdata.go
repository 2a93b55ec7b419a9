package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/verdictlabs/verdict/model"
)

type refEntityRequest struct {
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes"`
	Version    int            `json:"version"`
}

func refKind(r *http.Request) model.RefKind {
	return model.RefKind(chi.URLParam(r, "kind"))
}

func (h *handlers) handleRefCreate(w http.ResponseWriter, r *http.Request) {
	var req refEntityRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	rctx := model.MustRequestContext(r.Context())
	entity, err := h.deps.RefData.Create(r.Context(), rctx, refKind(r), req.Name, req.Attributes)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, entity)
}

func (h *handlers) handleRefList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := model.RefFilters{
		Lifecycle: model.Lifecycle(q.Get("status")),
		Search:    q.Get("search"),
		Page:      queryInt(r, "page", 1),
		PerPage:   queryInt(r, "per_page", h.deps.Config.Worklist.DefaultPerPage),
	}
	if filters.PerPage > h.deps.Config.Worklist.MaxPerPage {
		filters.PerPage = h.deps.Config.Worklist.MaxPerPage
	}

	rctx := model.MustRequestContext(r.Context())
	page, err := h.deps.RefData.List(r.Context(), rctx, refKind(r), filters)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

func (h *handlers) handleRefGet(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	entity, err := h.deps.RefData.Get(r.Context(), rctx, refKind(r), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, entity)
}

func (h *handlers) handleRefUpdate(w http.ResponseWriter, r *http.Request) {
	var req refEntityRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.Version < 1 {
		WriteValidationError(w, r, []model.FieldError{
			{Field: "version", Code: "required", Message: "Current entity version is required"},
		})
		return
	}

	rctx := model.MustRequestContext(r.Context())
	entity, err := h.deps.RefData.Update(
		r.Context(), rctx, refKind(r), chi.URLParam(r, "id"),
		req.Name, req.Attributes, req.Version,
	)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, entity)
}

func (h *handlers) handleRefArchive(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	entity, err := h.deps.RefData.Archive(r.Context(), rctx, refKind(r), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, entity)
}

func (h *handlers) handleRefRestore(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	entity, err := h.deps.RefData.Restore(r.Context(), rctx, refKind(r), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, entity)
}

// handleLookup resolves a reference-data collection to dropdown options,
// served from the shared in-memory cache.
func (h *handlers) handleLookup(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	options, err := h.deps.Lookups.Options(r.Context(), rctx, refKind(r), r.URL.Query().Get("q"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"options": options})
}
