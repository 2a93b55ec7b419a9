// Package notify queues transient per-subject notifications: decision
// confirmations, submit failures, anything the client should surface as a
// toast on its next poll. Queues are drained on read and never persisted.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is the notification severity.
type Level string

// Notification levels.
const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is one transient message for a subject.
type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

const defaultMaxPerSubject = 50

// Notifier holds pending notifications per subject.
type Notifier struct {
	mu            sync.Mutex
	queues        map[string][]Notification
	maxPerSubject int
}

// NewNotifier creates an empty notifier. maxPerSubject caps each queue;
// older entries are dropped first when it overflows.
func NewNotifier(maxPerSubject int) *Notifier {
	if maxPerSubject <= 0 {
		maxPerSubject = defaultMaxPerSubject
	}
	return &Notifier{
		queues:        make(map[string][]Notification),
		maxPerSubject: maxPerSubject,
	}
}

// Push queues a notification for a subject.
func (n *Notifier) Push(subjectID string, level Level, message string) {
	notification := Notification{
		ID:        uuid.New().String(),
		Level:     level,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	queue := append(n.queues[subjectID], notification)
	if len(queue) > n.maxPerSubject {
		queue = queue[len(queue)-n.maxPerSubject:]
	}
	n.queues[subjectID] = queue
}

// Drain returns and clears the pending notifications for a subject, oldest
// first.
func (n *Notifier) Drain(subjectID string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	queue := n.queues[subjectID]
	delete(n.queues, subjectID)
	return queue
}

// Pending returns the queue length for a subject without draining it.
func (n *Notifier) Pending(subjectID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queues[subjectID])
}
