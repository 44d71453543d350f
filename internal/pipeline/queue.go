package pipeline

import (
	"sync"
	"time"

	"repairpulse/internal/events"
)

// queuedEvent is an event waiting for the batch path together with the
// number of failed flush attempts it has been part of.
type queuedEvent struct {
	event      *events.AnalyticsEvent
	attempts   int
	enqueuedAt time.Time
	lastErr    error
	// Set for events pushed back by a dead-letter replay.
	replayed bool
}

// Queue is a mutex-protected FIFO deque. It is safe for any number of
// producers and the single flusher.
type Queue struct {
	mu    sync.Mutex
	items []*queuedEvent
}

func NewQueue() *Queue {
	return &Queue{}
}

// PushBack appends an item at the tail.
func (q *Queue) PushBack(item *queuedEvent) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return len(q.items)
}

// TryPushBack appends item unless the queue already holds limit items. A
// limit of zero or less means unbounded. It returns the new length and whether the
// item was added.
func (q *Queue) TryPushBack(item *queuedEvent, limit int) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit > 0 && len(q.items) >= limit {
		return len(q.items), false
	}
	q.items = append(q.items, item)
	return len(q.items), true
}

// PushFront puts batch back at the head, keeping the batch's own order.
func (q *Queue) PushFront(batch []*queuedEvent) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	items := make([]*queuedEvent, 0, len(batch)+len(q.items))
	items = append(items, batch...)
	q.items = append(items, q.items...)
}

// PopFront removes and returns up to n items from the head.
func (q *Queue) PopFront(n int) []*queuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	if n <= 0 {
		return nil
	}
	batch := make([]*queuedEvent, n)
	copy(batch, q.items[:n])
	// Copy the remainder so the backing array does not pin popped events.
	rest := make([]*queuedEvent, len(q.items)-n)
	copy(rest, q.items[n:])
	q.items = rest
	return batch
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
