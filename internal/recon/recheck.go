package recon

import (
	"sync"
	"time"
)

// recheckKey identifies one pending delayed re-evaluation. At most one timer
// exists per (subject, reason) pair, so repeated scheduling collapses instead
// of stacking duplicate wakeups.
type recheckKey struct {
	subject string
	reason  string
}

// Recheck reasons.
const (
	reasonYoungTransfer = "transfer too young"
	reasonCatchingUp    = "still catching up"
	reasonReorg         = "transfer retracted"
)

// recheckQueue is a delay queue of re-evaluations backed by one-shot timers.
// Closing the queue cancels everything still pending.
type recheckQueue struct {
	mu     sync.Mutex
	timers map[recheckKey]*time.Timer
	closed bool
}

func newRecheckQueue() *recheckQueue {
	return &recheckQueue{timers: make(map[recheckKey]*time.Timer)}
}

// Schedule arms a timer for the given subject unless one is already pending.
// The callback runs on the timer goroutine and must take its own locks.
func (q *recheckQueue) Schedule(subject, reason string, delay time.Duration, fn func()) {
	key := recheckKey{subject: subject, reason: reason}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if _, pending := q.timers[key]; pending {
		return
	}
	q.timers[key] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, key)
		closed := q.closed
		q.mu.Unlock()
		if !closed {
			fn()
		}
	})
}

// Fire runs a pending recheck immediately, used for event-driven wakes when
// the awaited condition is observed before the timer expires.
func (q *recheckQueue) Fire(subject, reason string) bool {
	key := recheckKey{subject: subject, reason: reason}

	q.mu.Lock()
	timer, pending := q.timers[key]
	q.mu.Unlock()
	if !pending {
		return false
	}
	// Reset to zero rather than calling the callback inline so it still
	// runs on a timer goroutine, off the event loop.
	timer.Reset(0)
	return true
}

// Close cancels all pending timers and rejects further scheduling.
func (q *recheckQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for key, timer := range q.timers {
		timer.Stop()
		delete(q.timers, key)
	}
}

// Pending reports how many rechecks are armed.
func (q *recheckQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}
