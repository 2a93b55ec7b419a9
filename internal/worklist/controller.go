package worklist

import (
	"context"
	"sync"
	"time"

	"github.com/verdictlabs/verdict/model"
)

// Phase describes what a worklist tab is currently showing.
type Phase string

// Worklist phases.
const (
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseEmpty   Phase = "empty"
	PhaseError   Phase = "error"
)

// QueryFunc executes one worklist query.
type QueryFunc func(ctx context.Context, filters model.WorklistFilters) (model.WorklistPage, error)

// Snapshot is a point-in-time copy of the active tab's view state.
type Snapshot struct {
	Tab     model.Status
	Page    int
	PerPage int
	// Search is the raw input as typed; AppliedSearch is the debounced
	// value the current items were queried with.
	Search        string
	AppliedSearch string
	Phase         Phase
	Items         []model.ApprovalItem
	Total         int
	Err           *model.ErrorEnvelope
}

// tabView holds the independent state of one status tab.
type tabView struct {
	page          int
	rawSearch     string
	appliedSearch string
	phase         Phase
	items         []model.ApprovalItem
	total         int
	err           *model.ErrorEnvelope

	// pending is the sequence number of the most recently issued query
	// for this tab. A response is applied only if it still carries the
	// pending number; anything older is discarded.
	pending uint64
}

// Options configures a Controller.
type Options struct {
	Query          QueryFunc
	DebounceDelay  time.Duration
	PerPage        int
	QueryTimeout   time.Duration
	InitialTab     model.Status
	OnStateChange  func() // optional, invoked after every state transition

	// Optional observation hooks.
	OnQueryDone     func(tab model.Status, d time.Duration) // after each applied query
	OnStaleDiscard  func()                                  // superseded response dropped
	OnDebounceFlush func()                                  // debounced search flushed
}

// Controller owns the worklist view state for one session and domain. All
// methods are safe for concurrent use.
type Controller struct {
	mu      sync.Mutex
	query   QueryFunc
	perPage int
	timeout time.Duration
	notify  func()

	onQueryDone     func(tab model.Status, d time.Duration)
	onStaleDiscard  func()
	onDebounceFlush func()

	tab      model.Status
	views    map[model.Status]*tabView
	nextSeq  uint64
	debounce *Debouncer
}

// NewController creates a worklist controller and issues the initial query
// for the starting tab.
func NewController(opts Options) *Controller {
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = 10
	}
	delay := opts.DebounceDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	timeout := opts.QueryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tab := opts.InitialTab
	if tab == "" {
		tab = model.StatusPending
	}

	c := &Controller{
		query:           opts.Query,
		perPage:         perPage,
		timeout:         timeout,
		notify:          opts.OnStateChange,
		onQueryDone:     opts.OnQueryDone,
		onStaleDiscard:  opts.OnStaleDiscard,
		onDebounceFlush: opts.OnDebounceFlush,
		tab:             tab,
		views:           make(map[model.Status]*tabView),
	}
	c.debounce = NewDebouncer(delay, c.applySearch)

	c.mu.Lock()
	c.refreshLocked(c.view(tab))
	c.mu.Unlock()

	return c
}

// view returns the state for a tab, creating it on first access.
func (c *Controller) view(tab model.Status) *tabView {
	v, ok := c.views[tab]
	if !ok {
		v = &tabView{page: 1, phase: PhaseLoading}
		c.views[tab] = v
	}
	return v
}

// SetTab switches the active tab. Switching resets the target tab to its
// first page with no search and issues a fresh query; other tabs keep
// their own state untouched.
func (c *Controller) SetTab(tab model.Status) error {
	if !tab.IsValid() {
		return model.NewBadRequestError("unknown worklist tab")
	}

	c.debounce.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.tab = tab
	v := c.view(tab)
	v.page = 1
	v.rawSearch = ""
	v.appliedSearch = ""
	c.refreshLocked(v)
	return nil
}

// SetPage moves the active tab to the given page and issues a query.
func (c *Controller) SetPage(page int) {
	if page < 1 {
		page = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.view(c.tab)
	if v.page == page {
		return
	}
	v.page = page
	c.refreshLocked(v)
}

// SetSearch records a keystroke of the search input. The query itself is
// debounced: a burst of calls results in a single query carrying the
// final value.
func (c *Controller) SetSearch(input string) {
	c.mu.Lock()
	c.view(c.tab).rawSearch = input
	c.mu.Unlock()

	c.debounce.Trigger(input)
}

// applySearch is the debounced continuation of SetSearch.
func (c *Controller) applySearch(value string) {
	if c.onDebounceFlush != nil {
		c.onDebounceFlush()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.view(c.tab)
	if v.appliedSearch == value {
		return
	}
	v.appliedSearch = value
	v.page = 1
	c.refreshLocked(v)
}

// Invalidate re-queries the active tab keeping its page and search. Called
// after a decision lands so the decided item drops off the pending tab.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked(c.view(c.tab))
}

// Retry re-issues the query for the active tab after an error.
func (c *Controller) Retry() {
	c.Invalidate()
}

// Snapshot returns a copy of the active tab's current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.view(c.tab)
	items := make([]model.ApprovalItem, len(v.items))
	copy(items, v.items)

	return Snapshot{
		Tab:           c.tab,
		Page:          v.page,
		PerPage:       c.perPage,
		Search:        v.rawSearch,
		AppliedSearch: v.appliedSearch,
		Phase:         v.phase,
		Items:         items,
		Total:         v.total,
		Err:           v.err,
	}
}

// Close cancels any pending debounced search.
func (c *Controller) Close() {
	c.debounce.Stop()
}

// refreshLocked issues a new query for the given view. Must be called with
// the lock held. The query runs on its own goroutine; the response is
// applied only if no newer query has been issued for the same tab since.
func (c *Controller) refreshLocked(v *tabView) {
	c.nextSeq++
	seq := c.nextSeq
	v.pending = seq
	v.phase = PhaseLoading
	v.err = nil

	tab := c.tab
	filters := model.WorklistFilters{
		Status:  tab,
		Search:  v.appliedSearch,
		Page:    v.page,
		PerPage: c.perPage,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		start := time.Now()
		page, err := c.query(ctx, filters)
		elapsed := time.Since(start)

		c.mu.Lock()
		if v.pending != seq {
			// A newer query for this tab is already in flight or applied.
			c.mu.Unlock()
			if c.onStaleDiscard != nil {
				c.onStaleDiscard()
			}
			return
		}
		if c.onQueryDone != nil {
			c.onQueryDone(tab, elapsed)
		}

		if err != nil {
			v.phase = PhaseError
			v.items = nil
			v.total = 0
			if env, ok := err.(*model.ErrorEnvelope); ok {
				v.err = env
			} else {
				v.err = model.NewInternalError()
			}
			c.mu.Unlock()
			c.changed()
			return
		}

		// The page can fall off the end when the last item of the final
		// page is decided away. Clamp to the last populated page and
		// requery rather than showing a false empty state. Requery only
		// when the clamp moves the page: a backend that reports a total
		// but returns an empty final page must not loop.
		if len(page.Items) == 0 && page.Total > 0 && v.page > 1 {
			lastPage := (page.Total + c.perPage - 1) / c.perPage
			if lastPage < 1 {
				lastPage = 1
			}
			if lastPage != v.page {
				v.page = lastPage
				c.refreshLocked(v)
				c.mu.Unlock()
				return
			}
		}

		v.items = page.Items
		v.total = page.Total
		v.err = nil
		if len(page.Items) == 0 {
			v.phase = PhaseEmpty
		} else {
			v.phase = PhaseReady
		}
		c.mu.Unlock()
		c.changed()
	}()
}

func (c *Controller) changed() {
	if c.notify != nil {
		c.notify()
	}
}
