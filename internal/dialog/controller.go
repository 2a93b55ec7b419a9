// Package dialog implements the decision dialog lifecycle for one session
// and approval domain: opening an item, loading its form detail, collecting
// the decision input, and submitting it. A generation counter guarantees
// that responses arriving after the dialog was closed or reopened are
// discarded, and a per-item guard keeps at most one decision submission in
// flight.
package dialog

import (
	"context"
	"sync"
	"time"

	"github.com/verdictlabs/verdict/model"
)

// State is the dialog lifecycle state.
type State string

// Dialog states.
const (
	StateClosed     State = "closed"
	StateOpen       State = "open"
	StateLoaded     State = "loaded"
	StateConfirming State = "confirming"
	StateSubmitting State = "submitting"
)

// DetailFunc loads the full form detail for an item.
type DetailFunc func(ctx context.Context, itemID string) (model.ItemDetail, map[string]any, error)

// DecideFunc submits a decision.
type DecideFunc func(ctx context.Context, req model.DecisionRequest, idempotencyKey string) (model.DecisionOutcome, error)

// Events receives the side effects of a completed submission.
type Events struct {
	// OnDecided is called after a decision lands, before the dialog
	// closes. Worklist invalidation hangs off this.
	OnDecided func(outcome model.DecisionOutcome)
	// OnError is called when a submission fails; the dialog stays open.
	OnError func(err *model.ErrorEnvelope)
}

// Snapshot is a point-in-time copy of the dialog state.
type Snapshot struct {
	State    State
	ItemID   string
	Summary  model.ApprovalItem
	Detail   map[string]any
	History  []model.ApprovalRecord
	Decision model.Decision
	Comments string
	Reason   string
	// FieldErrors holds local validation failures from the last submit
	// attempt.
	FieldErrors []model.FieldError
	Err         *model.ErrorEnvelope
}

// Options configures a Controller.
type Options struct {
	Detail       DetailFunc
	Decide       DecideFunc
	Guard        *InFlightGuard
	Events       Events
	FetchTimeout time.Duration
}

// Controller owns one decision dialog. All methods are safe for concurrent
// use.
type Controller struct {
	mu     sync.Mutex
	detail DetailFunc
	decide DecideFunc
	guard  *InFlightGuard
	events Events
	fetchT time.Duration

	state State
	// gen is bumped on every Open and Close. Responses carry the gen they
	// were issued under and are dropped if it no longer matches.
	gen uint64

	itemID      string
	summary     model.ApprovalItem
	itemDetail  map[string]any
	history     []model.ApprovalRecord
	decision    model.Decision
	comments    string
	reason      string
	fieldErrors []model.FieldError
	err         *model.ErrorEnvelope
}

// NewController creates a closed dialog controller.
func NewController(opts Options) *Controller {
	fetchT := opts.FetchTimeout
	if fetchT <= 0 {
		fetchT = 10 * time.Second
	}
	guard := opts.Guard
	if guard == nil {
		guard = NewInFlightGuard()
	}
	return &Controller{
		detail: opts.Detail,
		decide: opts.Decide,
		guard:  guard,
		events: opts.Events,
		fetchT: fetchT,
		state:  StateClosed,
	}
}

// Open opens the dialog for an item. The worklist row summary renders
// immediately while the full detail loads in the background. Reopening
// while a previous load is still in flight orphans that load.
func (c *Controller) Open(item model.ApprovalItem) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.state = StateOpen
	c.itemID = item.ID
	c.summary = item
	c.itemDetail = nil
	c.history = nil
	c.decision = ""
	c.comments = ""
	c.reason = ""
	c.fieldErrors = nil
	c.err = nil
	c.mu.Unlock()

	go c.load(gen, item.ID)
}

func (c *Controller) load(gen uint64, itemID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.fetchT)
	defer cancel()

	detail, form, err := c.detail(ctx, itemID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		// The dialog was closed or reopened while loading.
		return
	}

	if err != nil {
		if env, ok := err.(*model.ErrorEnvelope); ok {
			c.err = env
		} else {
			c.err = model.NewInternalError()
		}
		// Stay open on the summary; the client may retry the load.
		return
	}

	c.state = StateLoaded
	c.summary = detail.Item
	c.history = detail.History
	c.itemDetail = form
}

// Choose selects a decision and moves to confirmation. Choosing is only
// meaningful once the detail has loaded.
func (c *Controller) Choose(decision model.Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateLoaded && c.state != StateConfirming {
		return model.NewConflictError("no open item to decide")
	}
	if !decision.IsValid() {
		return model.NewBadRequestError("unknown decision")
	}
	c.decision = decision
	c.state = StateConfirming
	c.fieldErrors = nil
	return nil
}

// SetComments records the optional comments input.
func (c *Controller) SetComments(comments string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.comments = comments
}

// SetReason records the reason input.
func (c *Controller) SetReason(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reason = reason
}

// Close dismisses the dialog. All collected input is discarded and any in
// flight load or submission response is orphaned.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.state = StateClosed
	c.itemID = ""
	c.summary = model.ApprovalItem{}
	c.itemDetail = nil
	c.history = nil
	c.decision = ""
	c.comments = ""
	c.reason = ""
	c.fieldErrors = nil
	c.err = nil
}

// Snapshot returns a copy of the current dialog state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	detail := make(map[string]any, len(c.itemDetail))
	for k, v := range c.itemDetail {
		detail[k] = v
	}
	history := make([]model.ApprovalRecord, len(c.history))
	copy(history, c.history)
	fieldErrors := make([]model.FieldError, len(c.fieldErrors))
	copy(fieldErrors, c.fieldErrors)

	return Snapshot{
		State:       c.state,
		ItemID:      c.itemID,
		Summary:     c.summary,
		Detail:      detail,
		History:     history,
		Decision:    c.decision,
		Comments:    c.comments,
		Reason:      c.reason,
		FieldErrors: fieldErrors,
		Err:         c.err,
	}
}

// Submit validates the collected input and submits the decision. A
// validation failure keeps the dialog in confirmation with field errors
// and never reaches the network. While a submission for the item is in
// flight, further submissions are refused.
func (c *Controller) Submit(idempotencyKey string) error {
	c.mu.Lock()
	if c.state != StateConfirming {
		c.mu.Unlock()
		return model.NewConflictError("no decision pending confirmation")
	}

	req := model.DecisionRequest{
		ItemID:   c.itemID,
		Decision: c.decision,
		Comments: c.comments,
		Reason:   c.reason,
	}

	// Local validation happens before anything leaves the process.
	if details := req.Validate(); len(details) > 0 {
		c.fieldErrors = details
		c.mu.Unlock()
		return model.NewValidationError(details)
	}

	if !c.guard.Begin(c.itemID) {
		c.mu.Unlock()
		return model.NewDecisionInFlightError(req.ItemID)
	}

	c.fieldErrors = nil
	c.state = StateSubmitting
	gen := c.gen
	c.mu.Unlock()

	go c.submit(gen, req, idempotencyKey)
	return nil
}

func (c *Controller) submit(gen uint64, req model.DecisionRequest, idempotencyKey string) {
	defer c.guard.End(req.ItemID)

	ctx, cancel := context.WithTimeout(context.Background(), c.fetchT)
	defer cancel()

	outcome, err := c.decide(ctx, req, idempotencyKey)

	c.mu.Lock()
	stale := c.gen != gen
	if !stale {
		if err != nil {
			// Stay open so the operator keeps their input.
			c.state = StateConfirming
			if env, ok := err.(*model.ErrorEnvelope); ok {
				c.err = env
			} else {
				c.err = model.NewInternalError()
			}
		}
	}
	c.mu.Unlock()

	if err != nil {
		if c.events.OnError != nil && !stale {
			if env, ok := err.(*model.ErrorEnvelope); ok {
				c.events.OnError(env)
			} else {
				c.events.OnError(model.NewInternalError())
			}
		}
		return
	}

	// The decision is durable regardless of dialog state; side effects
	// fire even if the operator closed the dialog while waiting.
	if c.events.OnDecided != nil {
		c.events.OnDecided(outcome)
	}

	c.mu.Lock()
	if c.gen == gen {
		c.gen++
		c.state = StateClosed
		c.itemID = ""
		c.summary = model.ApprovalItem{}
		c.itemDetail = nil
		c.history = nil
		c.decision = ""
		c.comments = ""
		c.reason = ""
		c.err = nil
	}
	c.mu.Unlock()
}
