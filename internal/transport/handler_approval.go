package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/verdictlabs/verdict/internal/notify"
	"github.com/verdictlabs/verdict/model"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// decodeJSON decodes a JSON request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return model.NewBadRequestError("request body is not valid JSON")
	}
	return nil
}

// domainResponse is the wire shape of an approval domain.
type domainResponse struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	AllowedDecisions []model.Decision `json:"allowed_decisions"`
	ApproverRole     string           `json:"approver_role"`
}

func (h *handlers) handleDomainList(w http.ResponseWriter, r *http.Request) {
	ids := model.AllDomains()
	sort.Strings(ids)

	resp := make([]domainResponse, 0, len(ids))
	for _, id := range ids {
		d, _ := model.GetDomain(id)
		resp = append(resp, domainResponse{
			ID:               d.ID,
			Name:             d.Name,
			AllowedDecisions: d.AllowedDecisions,
			ApproverRole:     d.ApproverRole,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"domains": resp})
}

// submitRequest is the wire shape of an item submission.
type submitRequest struct {
	FormDetails map[string]any        `json:"form_details"`
	Attachments []model.AttachmentRef `json:"attachments,omitempty"`
}

func (h *handlers) handleItemSubmit(w http.ResponseWriter, r *http.Request) {
	domainID := chi.URLParam(r, "domainId")
	rctx := model.MustRequestContext(r.Context())

	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	item, err := h.deps.Engine.Submit(r.Context(), rctx, domainID, req.FormDetails, req.Attachments)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusCreated, item)
}

func (h *handlers) handleItemList(w http.ResponseWriter, r *http.Request) {
	domainID := chi.URLParam(r, "domainId")
	rctx := model.MustRequestContext(r.Context())

	filters := model.WorklistFilters{
		Status:  model.Status(r.URL.Query().Get("status")),
		Search:  r.URL.Query().Get("search"),
		Page:    queryInt(r, "page", 1),
		PerPage: queryInt(r, "per_page", h.deps.Config.Worklist.DefaultPerPage),
	}
	if max := h.deps.Config.Worklist.MaxPerPage; max > 0 && filters.PerPage > max {
		filters.PerPage = max
	}

	page, err := h.deps.Engine.List(r.Context(), rctx, domainID, filters)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, page)
}

// itemDetailResponse is an item with its history and the form payload
// fetched from the domain backend.
type itemDetailResponse struct {
	Item    model.ApprovalItem     `json:"item"`
	History []model.ApprovalRecord `json:"history"`
	Detail  map[string]any         `json:"detail,omitempty"`
}

func (h *handlers) handleItemDetail(w http.ResponseWriter, r *http.Request) {
	domainID := chi.URLParam(r, "domainId")
	itemID := chi.URLParam(r, "itemId")
	rctx := model.MustRequestContext(r.Context())

	detail, err := h.deps.Engine.Get(r.Context(), rctx, domainID, itemID)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	resp := itemDetailResponse{Item: detail.Item, History: detail.History}

	// Enrich with the backend form payload when a backend is wired. The
	// lifecycle fields above are authoritative either way.
	if h.deps.Backend != nil {
		domain, _ := model.GetDomain(domainID)
		payload, err := h.deps.Backend.FetchDetail(r.Context(), rctx, domain, itemID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		resp.Detail = payload
	}

	WriteJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleItemDecide(w http.ResponseWriter, r *http.Request) {
	domainID := chi.URLParam(r, "domainId")
	itemID := chi.URLParam(r, "itemId")
	rctx := model.MustRequestContext(r.Context())

	var req model.DecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	req.ItemID = itemID

	idempotencyKey := r.Header.Get("Idempotency-Key")

	start := time.Now()
	outcome, err := h.deps.Engine.Decide(r.Context(), rctx, domainID, req, idempotencyKey)
	h.observeDecision(domainID, outcome, err, time.Since(start))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	if h.deps.Notifier != nil && !outcome.Replayed {
		h.deps.Notifier.Push(rctx.SubjectID, notify.LevelSuccess,
			decisionMessage(outcome))
	}

	WriteJSON(w, http.StatusOK, outcome)
}

// observeDecision records one decision attempt, classifying failures into
// validation rejections and lifecycle conflicts.
func (h *handlers) observeDecision(domainID string, outcome model.DecisionOutcome, err error, d time.Duration) {
	m := h.deps.Metrics
	if m == nil {
		return
	}
	if err != nil {
		env, ok := err.(*model.ErrorEnvelope)
		if !ok {
			return
		}
		switch env.Code {
		case model.ErrValidationError, model.ErrDecisionNotAllowed:
			m.RecordDecisionValidationFailure(domainID)
		case model.ErrConflict, model.ErrItemNotDecidable:
			m.RecordDecisionConflict(domainID)
		}
		return
	}
	if outcome.Replayed {
		m.RecordDecisionReplay(domainID)
		return
	}
	m.RecordDecision(domainID, string(outcome.Decision), string(outcome.Status), d)
}

func decisionMessage(outcome model.DecisionOutcome) string {
	switch outcome.Decision {
	case model.DecisionApprove:
		return "Item approved"
	case model.DecisionReject:
		return "Item rejected"
	case model.DecisionReturn:
		return "Item returned for revision"
	default:
		return "Decision recorded"
	}
}

// handleItemAttachment streams an item attachment from the domain backend.
func (h *handlers) handleItemAttachment(w http.ResponseWriter, r *http.Request) {
	domainID := chi.URLParam(r, "domainId")
	itemID := chi.URLParam(r, "itemId")
	attachmentID := chi.URLParam(r, "attachmentId")
	rctx := model.MustRequestContext(r.Context())

	domain, ok := model.GetDomain(domainID)
	if !ok {
		WriteNotFound(w, r, "approval domain not found")
		return
	}

	kind := r.URL.Query().Get("kind")
	lease, err := h.deps.Attachments.Resolve(r.Context(), rctx, domain, itemID, attachmentID, kind)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	defer lease.Close()

	// When the request names a session, park the lease in its preview
	// holder so replacing the preview releases the previous stream.
	if sid := r.Header.Get("X-Session-Id"); sid != "" {
		if s, ok := h.deps.Sessions.Get(sid); ok && s.SubjectID == rctx.SubjectID {
			s.Preview.Set(lease)
			defer s.Preview.Release()
		}
	}

	w.Header().Set("Content-Type", lease.ContentType())
	if size := lease.Size(); size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	n, _ := io.Copy(w, lease)
	if h.deps.Metrics != nil {
		h.deps.Metrics.RecordAttachmentBytes(domain.ServiceID, n)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
