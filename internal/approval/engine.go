package approval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/verdictlabs/verdict/model"
)

const defaultIdempotencyTTL = 24 * time.Hour

// Engine applies decisions to approval items and serves worklist reads.
// It enforces the lifecycle invariant: pending items accept exactly one
// decision and terminal items accept none.
type Engine struct {
	store          Store
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithIdempotencyStore enables decision deduplication via Idempotency-Key.
func WithIdempotencyStore(store IdempotencyStore) EngineOption {
	return func(e *Engine) {
		e.idempotency = store
	}
}

// WithIdempotencyTTL overrides the default retention for cached outcomes.
func WithIdempotencyTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) {
		if ttl > 0 {
			e.idempotencyTTL = ttl
		}
	}
}

// NewEngine creates a new approval engine.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:          store,
		idempotencyTTL: defaultIdempotencyTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit creates a new pending approval item in the given domain. Items
// arrive here when an employee submits a form; the decision lifecycle
// begins at pending.
func (e *Engine) Submit(
	ctx context.Context,
	rctx *model.RequestContext,
	domainID string,
	details map[string]any,
	attachments []model.AttachmentRef,
) (model.ApprovalItem, error) {
	if _, ok := model.GetDomain(domainID); !ok {
		return model.ApprovalItem{}, model.NewNotFoundError(
			fmt.Sprintf("approval domain %q not found", domainID),
		)
	}

	now := time.Now().UTC()
	item := model.ApprovalItem{
		ID:          uuid.New().String(),
		Domain:      domainID,
		TenantID:    rctx.TenantID,
		Status:      model.StatusPending,
		FormDetails: details,
		RequestedBy: rctx.Actor(),
		Attachments: attachments,
		SubmittedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	for i := range item.Attachments {
		item.Attachments[i].ItemID = item.ID
	}

	if err := e.store.Create(ctx, item); err != nil {
		return model.ApprovalItem{}, err
	}
	return item, nil
}

// List returns one worklist page for a domain.
func (e *Engine) List(
	ctx context.Context,
	rctx *model.RequestContext,
	domainID string,
	filters model.WorklistFilters,
) (model.WorklistPage, error) {
	if _, ok := model.GetDomain(domainID); !ok {
		return model.WorklistPage{}, model.NewNotFoundError(
			fmt.Sprintf("approval domain %q not found", domainID),
		)
	}
	if filters.Status != "" && !filters.Status.IsValid() {
		return model.WorklistPage{}, model.NewBadRequestError(
			fmt.Sprintf("unknown approval status %q", filters.Status),
		)
	}
	return e.store.List(ctx, rctx.TenantID, domainID, filters)
}

// Get returns one item together with its approval history.
func (e *Engine) Get(
	ctx context.Context,
	rctx *model.RequestContext,
	domainID, itemID string,
) (model.ItemDetail, error) {
	item, err := e.store.Get(ctx, rctx.TenantID, domainID, itemID)
	if err != nil {
		return model.ItemDetail{}, err
	}
	history, err := e.store.GetRecords(ctx, rctx.TenantID, domainID, itemID)
	if err != nil {
		return model.ItemDetail{}, err
	}
	return model.ItemDetail{Item: item, History: history}, nil
}

// Decide applies an operator decision to a pending item. The transition is
// applied at most once: a non-pending item yields a conflict carrying the
// item's authoritative status, and a replayed Idempotency-Key returns the
// original outcome without touching the item again.
func (e *Engine) Decide(
	ctx context.Context,
	rctx *model.RequestContext,
	domainID string,
	req model.DecisionRequest,
	idempotencyKey string,
) (model.DecisionOutcome, error) {
	// 1. Local validation: a reject/return without a reason never reaches
	// the store.
	if details := req.Validate(); len(details) > 0 {
		return model.DecisionOutcome{}, model.NewValidationError(details)
	}

	// 2. Domain checks.
	domain, ok := model.GetDomain(domainID)
	if !ok {
		return model.DecisionOutcome{}, model.NewNotFoundError(
			fmt.Sprintf("approval domain %q not found", domainID),
		)
	}
	if !domain.Allows(req.Decision) {
		return model.DecisionOutcome{}, model.NewDecisionNotAllowedError(domainID, req.Decision)
	}
	if domain.ApproverRole != "" && !rctx.HasRole(domain.ApproverRole) {
		return model.DecisionOutcome{}, model.NewForbiddenError(
			fmt.Sprintf("role %q is required to decide %s items", domain.ApproverRole, domainID),
		)
	}

	// 3. Idempotency replay check.
	var idemKey, inputHash string
	if e.idempotency != nil && idempotencyKey != "" {
		idemKey = FormatIdempotencyKey(domainID, req.ItemID, idempotencyKey)
		inputHash = hashDecisionRequest(req)
		cached, found, err := e.idempotency.Check(ctx, idemKey, inputHash)
		if err != nil {
			return model.DecisionOutcome{}, err
		}
		if found && cached != nil {
			replay := *cached
			replay.Replayed = true
			return replay, nil
		}
	}

	// 4. Load and check decidability.
	item, err := e.store.Get(ctx, rctx.TenantID, domainID, req.ItemID)
	if err != nil {
		return model.DecisionOutcome{}, err
	}
	if !item.Decidable() {
		return model.DecisionOutcome{}, model.NewItemNotDecidableError(item.ID, item.Status)
	}

	next := req.Decision.ResultingStatus()
	if !item.Status.CanTransition(next) {
		return model.DecisionOutcome{}, model.NewItemNotDecidableError(item.ID, item.Status)
	}

	// 5. Apply the transition and its history record in one atomic write,
	// with optimistic locking. A concurrent decision loses the version race
	// and surfaces as a conflict; a decided item always has its record.
	item.Status = next
	item.UpdatedAt = time.Now().UTC()
	record := model.ApprovalRecord{
		ID:        uuid.New().String(),
		ItemID:    item.ID,
		Approver:  rctx.Actor(),
		Decision:  req.Decision,
		Comments:  req.Comments,
		Reason:    req.Reason,
		DecidedAt: time.Now().UTC(),
	}
	if err := e.store.ApplyDecision(ctx, item, record); err != nil {
		return model.DecisionOutcome{}, err
	}

	outcome := model.DecisionOutcome{
		ItemID:   item.ID,
		Domain:   domainID,
		Status:   next,
		Decision: req.Decision,
		RecordID: record.ID,
	}

	// 6. Cache the outcome for replay.
	if idemKey != "" {
		if err := e.idempotency.Store(ctx, idemKey, inputHash, outcome, e.idempotencyTTL); err != nil {
			// The decision is already durable; a failed cache write only
			// downgrades replay protection.
			return outcome, nil
		}
	}

	return outcome, nil
}

// hashDecisionRequest produces a stable hash of the request payload so a
// reused idempotency key with different input can be detected.
func hashDecisionRequest(req model.DecisionRequest) string {
	data, _ := json.Marshal(req)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
