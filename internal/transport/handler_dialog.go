package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/verdictlabs/verdict/internal/dialog"
	"github.com/verdictlabs/verdict/internal/notify"
	"github.com/verdictlabs/verdict/internal/session"
	"github.com/verdictlabs/verdict/model"
)

// dialogFor returns the session's dialog controller for a domain, creating
// one wired to the engine and backend on first use. The session-wide guard
// keeps one submission in flight per item across domains. Both callbacks
// read the session's request context at call time so the controller keeps
// forwarding the operator's current token.
func (h *handlers) dialogFor(s *session.Session, domainID string) *dialog.Controller {
	return s.Dialog(domainID, func() *dialog.Controller {
		detail := func(ctx context.Context, itemID string) (model.ItemDetail, map[string]any, error) {
			rctx := s.RequestContext()
			d, err := h.deps.Engine.Get(ctx, rctx, domainID, itemID)
			if err != nil {
				return model.ItemDetail{}, nil, err
			}
			var payload map[string]any
			if h.deps.Backend != nil {
				domain, _ := model.GetDomain(domainID)
				payload, err = h.deps.Backend.FetchDetail(ctx, rctx, domain, itemID)
				if err != nil {
					return model.ItemDetail{}, nil, err
				}
			}
			return d, payload, nil
		}

		decide := func(ctx context.Context, req model.DecisionRequest, idempotencyKey string) (model.DecisionOutcome, error) {
			start := time.Now()
			outcome, err := h.deps.Engine.Decide(ctx, s.RequestContext(), domainID, req, idempotencyKey)
			h.observeDecision(domainID, outcome, err, time.Since(start))
			return outcome, err
		}

		events := dialog.Events{
			OnDecided: func(outcome model.DecisionOutcome) {
				// A landed decision changes every worklist tab's
				// counts, not just the active one.
				s.InvalidateWorklists()
				if h.deps.Notifier != nil {
					h.deps.Notifier.Push(s.SubjectID, notify.LevelSuccess,
						decisionMessage(outcome))
				}
			},
			OnError: func(err *model.ErrorEnvelope) {
				if h.deps.Notifier != nil {
					h.deps.Notifier.Push(s.SubjectID, notify.LevelError, err.Message)
				}
			},
		}

		return dialog.NewController(dialog.Options{
			Detail:       detail,
			Decide:       decide,
			Guard:        s.Guard,
			Events:       events,
			FetchTimeout: h.deps.Config.Server.HandlerTimeout,
		})
	})
}

// dialogResponse is the wire shape of a dialog snapshot.
type dialogResponse struct {
	State       dialog.State            `json:"state"`
	ItemID      string                  `json:"item_id,omitempty"`
	Summary     model.ApprovalItem      `json:"summary"`
	Detail      map[string]any          `json:"detail,omitempty"`
	History     []model.ApprovalRecord  `json:"history,omitempty"`
	Decision    model.Decision          `json:"decision,omitempty"`
	Comments    string                  `json:"comments,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
	FieldErrors []model.FieldError      `json:"field_errors,omitempty"`
	Error       *model.ErrorEnvelope    `json:"error,omitempty"`
}

func dialogSnapshot(c *dialog.Controller) dialogResponse {
	snap := c.Snapshot()
	return dialogResponse{
		State:       snap.State,
		ItemID:      snap.ItemID,
		Summary:     snap.Summary,
		Detail:      snap.Detail,
		History:     snap.History,
		Decision:    snap.Decision,
		Comments:    snap.Comments,
		Reason:      snap.Reason,
		FieldErrors: snap.FieldErrors,
		Error:       snap.Err,
	}
}

func (h *handlers) dialogController(r *http.Request) (*dialog.Controller, bool) {
	domainID := chi.URLParam(r, "domainId")
	if _, ok := model.GetDomain(domainID); !ok {
		return nil, false
	}
	s := sessionFrom(r.Context())
	return h.dialogFor(s, domainID), true
}

func (h *handlers) handleDialogSnapshot(w http.ResponseWriter, r *http.Request) {
	c, ok := h.dialogController(r)
	if !ok {
		WriteNotFound(w, r, "approval domain not found")
		return
	}
	WriteJSON(w, http.StatusOK, dialogSnapshot(c))
}

func (h *handlers) handleDialogOpen(w http.ResponseWriter, r *http.Request) {
	c, ok := h.dialogController(r)
	if !ok {
		WriteNotFound(w, r, "approval domain not found")
		return
	}

	var req struct {
		ItemID string `json:"item_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.ItemID == "" {
		WriteValidationError(w, r, []model.FieldError{
			{Field: "item_id", Code: "required", Message: "Item id is required"},
		})
		return
	}

	rctx := model.MustRequestContext(r.Context())
	detail, err := h.deps.Engine.Get(r.Context(), rctx, chi.URLParam(r, "domainId"), req.ItemID)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	c.Open(detail.Item)
	WriteJSON(w, http.StatusOK, dialogSnapshot(c))
}

func (h *handlers) handleDialogChoose(w http.ResponseWriter, r *http.Request) {
	c, ok := h.dialogController(r)
	if !ok {
		WriteNotFound(w, r, "approval domain not found")
		return
	}

	var req struct {
		Decision model.Decision `json:"decision"`
	}
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	if err := c.Choose(req.Decision); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, dialogSnapshot(c))
}

func (h *handlers) handleDialogInput(w http.ResponseWriter, r *http.Request) {
	c, ok := h.dialogController(r)
	if !ok {
		WriteNotFound(w, r, "approval domain not found")
		return
	}

	var req struct {
		Comments *string `json:"comments"`
		Reason   *string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	if req.Comments != nil {
		c.SetComments(*req.Comments)
	}
	if req.Reason != nil {
		c.SetReason(*req.Reason)
	}
	WriteJSON(w, http.StatusOK, dialogSnapshot(c))
}

func (h *handlers) handleDialogSubmit(w http.ResponseWriter, r *http.Request) {
	c, ok := h.dialogController(r)
	if !ok {
		WriteNotFound(w, r, "approval domain not found")
		return
	}

	if err := c.Submit(r.Header.Get("Idempotency-Key")); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, dialogSnapshot(c))
}

func (h *handlers) handleDialogClose(w http.ResponseWriter, r *http.Request) {
	c, ok := h.dialogController(r)
	if !ok {
		WriteNotFound(w, r, "approval domain not found")
		return
	}
	c.Close()
	WriteJSON(w, http.StatusOK, dialogSnapshot(c))
}
