// Package session tracks the server-held UI state of each signed-in
// operator: per-domain worklist and dialog controllers, the shared
// in-flight decision guard, and the attachment preview lease. Sessions are
// evicted after a period of inactivity.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verdictlabs/verdict/internal/attachment"
	"github.com/verdictlabs/verdict/internal/dialog"
	"github.com/verdictlabs/verdict/internal/worklist"
	"github.com/verdictlabs/verdict/model"
)

// Session is the server-held state for one operator session.
type Session struct {
	ID        string
	SubjectID string
	TenantID  string

	mu        sync.Mutex
	lastSeen  time.Time
	rctx      *model.RequestContext
	worklists map[string]*worklist.Controller
	dialogs   map[string]*dialog.Controller

	// Guard is shared across all the session's dialogs so an item never
	// carries two concurrent submissions regardless of domain.
	Guard *dialog.InFlightGuard
	// Preview holds the attachment lease currently open in the preview
	// pane.
	Preview *attachment.Holder
}

// RefreshContext stores the request context of the latest authenticated
// request touching this session. Controller callbacks read it at call
// time, so backend requests issued later in the session's life carry the
// operator's current token rather than the one seen at creation.
func (s *Session) RefreshContext(rctx *model.RequestContext) {
	s.mu.Lock()
	s.rctx = rctx
	s.mu.Unlock()
}

// RequestContext returns the most recently stored request context.
func (s *Session) RequestContext() *model.RequestContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rctx
}

// Worklist returns the session's worklist controller for a domain,
// creating it with the registry's factory on first use.
func (s *Session) Worklist(domainID string, create func() *worklist.Controller) *worklist.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.worklists[domainID]
	if !ok {
		c = create()
		s.worklists[domainID] = c
	}
	return c
}

// Dialog returns the session's dialog controller for a domain, creating it
// on first use.
func (s *Session) Dialog(domainID string, create func() *dialog.Controller) *dialog.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.dialogs[domainID]
	if !ok {
		c = create()
		s.dialogs[domainID] = c
	}
	return c
}

// InvalidateWorklists re-queries every worklist controller the session
// holds. Called after a decision lands.
func (s *Session) InvalidateWorklists() {
	s.mu.Lock()
	controllers := make([]*worklist.Controller, 0, len(s.worklists))
	for _, c := range s.worklists {
		controllers = append(controllers, c)
	}
	s.mu.Unlock()

	for _, c := range controllers {
		c.Invalidate()
	}
}

// close releases everything the session holds.
func (s *Session) close() {
	s.mu.Lock()
	worklists := s.worklists
	s.worklists = make(map[string]*worklist.Controller)
	s.dialogs = make(map[string]*dialog.Controller)
	s.mu.Unlock()

	for _, c := range worklists {
		c.Close()
	}
	s.Preview.Release()
}

// Registry manages active sessions with idle-based eviction.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	ttl           time.Duration
	maxPerSubject int
	onCount       func(n int)
	onEviction    func(reason string)
	stop          chan struct{}
	stopOnce      sync.Once
}

// Options configures a Registry.
type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	MaxPerSubject int

	// Optional observation hooks.
	OnCount    func(n int)         // after the active session count changes
	OnEviction func(reason string) // "idle" or "cap"
}

// NewRegistry creates a session registry and starts its eviction sweeper.
func NewRegistry(opts Options) *Registry {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = 5 * time.Minute
	}
	maxPerSubject := opts.MaxPerSubject
	if maxPerSubject <= 0 {
		maxPerSubject = 8
	}

	r := &Registry{
		sessions:      make(map[string]*Session),
		ttl:           ttl,
		maxPerSubject: maxPerSubject,
		onCount:       opts.OnCount,
		onEviction:    opts.OnEviction,
		stop:          make(chan struct{}),
	}
	go r.sweepLoop(sweep)
	return r
}

// Create starts a new session for the authenticated subject. If the
// subject already holds the maximum number of sessions, the idlest one is
// evicted.
func (r *Registry) Create(rctx *model.RequestContext) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		SubjectID: rctx.SubjectID,
		TenantID:  rctx.TenantID,
		lastSeen:  time.Now(),
		rctx:      rctx,
		worklists: make(map[string]*worklist.Controller),
		dialogs:   make(map[string]*dialog.Controller),
		Guard:     dialog.NewInFlightGuard(),
		Preview:   attachment.NewHolder(),
	}

	r.mu.Lock()
	var evict *Session
	count := 0
	for _, existing := range r.sessions {
		if existing.SubjectID != rctx.SubjectID {
			continue
		}
		count++
		if evict == nil || existing.lastSeen.Before(evict.lastSeen) {
			evict = existing
		}
	}
	if count >= r.maxPerSubject && evict != nil {
		delete(r.sessions, evict.ID)
	} else {
		evict = nil
	}
	r.sessions[s.ID] = s
	active := len(r.sessions)
	r.mu.Unlock()

	r.observeCount(active)
	if evict != nil {
		r.observeEviction("cap")
		evict.close()
	}
	return s
}

// Get returns a session by id, refreshing its idle timer.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
	return s, true
}

// Delete ends a session and releases its resources.
func (r *Registry) Delete(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	active := len(r.sessions)
	r.mu.Unlock()

	if ok {
		r.observeCount(active)
		s.close()
	}
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops the sweeper and releases every session.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	r.observeCount(0)
	for _, s := range sessions {
		s.close()
	}
}

func (r *Registry) observeCount(n int) {
	if r.onCount != nil {
		r.onCount(n)
	}
}

func (r *Registry) observeEviction(reason string) {
	if r.onEviction != nil {
		r.onEviction(reason)
	}
}

func (r *Registry) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep evicts sessions idle longer than the TTL.
func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.ttl)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		s.mu.Lock()
		idle := s.lastSeen.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(r.sessions, id)
			expired = append(expired, s)
		}
	}
	active := len(r.sessions)
	r.mu.Unlock()

	if len(expired) > 0 {
		r.observeCount(active)
	}
	for _, s := range expired {
		r.observeEviction("idle")
		s.close()
	}
}
