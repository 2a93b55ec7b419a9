package dialog

import "sync"

// InFlightGuard tracks which items currently have a decision submission in
// flight. It is shared across the dialog controllers of a session so an
// item can never carry two concurrent submissions.
type InFlightGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewInFlightGuard creates an empty guard.
func NewInFlightGuard() *InFlightGuard {
	return &InFlightGuard{inFlight: make(map[string]struct{})}
}

// Begin marks an item as having a submission in flight. Returns false if
// one is already in flight.
func (g *InFlightGuard) Begin(itemID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[itemID]; busy {
		return false
	}
	g.inFlight[itemID] = struct{}{}
	return true
}

// End clears the in-flight mark for an item.
func (g *InFlightGuard) End(itemID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, itemID)
}

// Busy reports whether an item currently has a submission in flight.
func (g *InFlightGuard) Busy(itemID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.inFlight[itemID]
	return busy
}
