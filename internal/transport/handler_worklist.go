package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/verdictlabs/verdict/internal/session"
	"github.com/verdictlabs/verdict/internal/worklist"
	"github.com/verdictlabs/verdict/model"
)

// worklistFor returns the session's worklist controller for a domain,
// creating one bound to the approval engine on first use. The query reads
// the session's request context at call time so a controller created early
// in the session keeps forwarding the operator's current token.
func (h *handlers) worklistFor(s *session.Session, domainID string) *worklist.Controller {
	return s.Worklist(domainID, func() *worklist.Controller {
		query := func(ctx context.Context, filters model.WorklistFilters) (model.WorklistPage, error) {
			return h.deps.Engine.List(ctx, s.RequestContext(), domainID, filters)
		}
		opts := worklist.Options{
			Query:         query,
			DebounceDelay: h.deps.Config.Worklist.SearchDebounce,
			PerPage:       h.deps.Config.Worklist.DefaultPerPage,
		}
		if m := h.deps.Metrics; m != nil {
			opts.OnQueryDone = func(tab model.Status, d time.Duration) {
				m.RecordWorklistQuery(domainID, string(tab), d)
			}
			opts.OnStaleDiscard = func() { m.RecordWorklistStaleDiscard(domainID) }
			opts.OnDebounceFlush = m.RecordWorklistDebounceFlush
		}
		return worklist.NewController(opts)
	})
}

// worklistResponse is the wire shape of a worklist snapshot.
type worklistResponse struct {
	Tab           model.Status         `json:"tab"`
	Page          int                  `json:"page"`
	PerPage       int                  `json:"per_page"`
	Search        string               `json:"search"`
	AppliedSearch string               `json:"applied_search"`
	Phase         worklist.Phase       `json:"phase"`
	Items         []model.ApprovalItem `json:"items"`
	Total         int                  `json:"total"`
	Error         *model.ErrorEnvelope `json:"error,omitempty"`
}

func worklistSnapshot(c *worklist.Controller) worklistResponse {
	snap := c.Snapshot()
	return worklistResponse{
		Tab:           snap.Tab,
		Page:          snap.Page,
		PerPage:       snap.PerPage,
		Search:        snap.Search,
		AppliedSearch: snap.AppliedSearch,
		Phase:         snap.Phase,
		Items:         snap.Items,
		Total:         snap.Total,
		Error:         snap.Err,
	}
}

func (h *handlers) worklistController(r *http.Request) *worklist.Controller {
	s := sessionFrom(r.Context())
	return h.worklistFor(s, chi.URLParam(r, "domainId"))
}

func (h *handlers) handleWorklistSnapshot(w http.ResponseWriter, r *http.Request) {
	if _, ok := model.GetDomain(chi.URLParam(r, "domainId")); !ok {
		WriteNotFound(w, r, "approval domain not found")
		return
	}
	c := h.worklistController(r)
	WriteJSON(w, http.StatusOK, worklistSnapshot(c))
}

func (h *handlers) handleWorklistTab(w http.ResponseWriter, r *http.Request) {
	if _, ok := model.GetDomain(chi.URLParam(r, "domainId")); !ok {
		WriteNotFound(w, r, "approval domain not found")
		return
	}

	var req struct {
		Tab model.Status `json:"tab"`
	}
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	c := h.worklistController(r)
	if err := c.SetTab(req.Tab); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, worklistSnapshot(c))
}

func (h *handlers) handleWorklistPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := model.GetDomain(chi.URLParam(r, "domainId")); !ok {
		WriteNotFound(w, r, "approval domain not found")
		return
	}

	var req struct {
		Page int `json:"page"`
	}
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.Page < 1 {
		WriteValidationError(w, r, []model.FieldError{
			{Field: "page", Code: "invalid", Message: "Page must be 1 or greater"},
		})
		return
	}

	c := h.worklistController(r)
	c.SetPage(req.Page)
	WriteJSON(w, http.StatusOK, worklistSnapshot(c))
}

func (h *handlers) handleWorklistSearch(w http.ResponseWriter, r *http.Request) {
	if _, ok := model.GetDomain(chi.URLParam(r, "domainId")); !ok {
		WriteNotFound(w, r, "approval domain not found")
		return
	}

	var req struct {
		Input string `json:"input"`
	}
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	c := h.worklistController(r)
	c.SetSearch(req.Input)
	WriteJSON(w, http.StatusOK, worklistSnapshot(c))
}

func (h *handlers) handleWorklistRefresh(w http.ResponseWriter, r *http.Request) {
	if _, ok := model.GetDomain(chi.URLParam(r, "domainId")); !ok {
		WriteNotFound(w, r, "approval domain not found")
		return
	}
	c := h.worklistController(r)
	c.Invalidate()
	WriteJSON(w, http.StatusOK, worklistSnapshot(c))
}

func (h *handlers) handleWorklistRetry(w http.ResponseWriter, r *http.Request) {
	if _, ok := model.GetDomain(chi.URLParam(r, "domainId")); !ok {
		WriteNotFound(w, r, "approval domain not found")
		return
	}
	c := h.worklistController(r)
	c.Retry()
	WriteJSON(w, http.StatusOK, worklistSnapshot(c))
}
