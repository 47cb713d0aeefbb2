// Package notify delivers operator alerts. Alerts are fire-and-forget:
// delivery failures are logged and never block protocol logic.
package notify

import (
	"context"
	"log"
	"sync"
	"time"
)

// Notifier sends an operator notification.
type Notifier interface {
	NotifyAdmin(ctx context.Context, subject, body string)
}

// LogNotifier writes alerts to the process log. The default when no
// external channel is configured.
type LogNotifier struct {
	Logger *log.Logger
}

// NotifyAdmin implements Notifier.
func (n *LogNotifier) NotifyAdmin(_ context.Context, subject, body string) {
	logger := n.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[alert] %s: %s", subject, body)
}

// Throttled suppresses repeats of the same subject within a window, so a
// flapping condition cannot flood the operator.
type Throttled struct {
	next   Notifier
	window time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time

	now func() time.Time
}

// NewThrottled wraps next with per-subject rate limiting.
func NewThrottled(next Notifier, window time.Duration) *Throttled {
	return &Throttled{
		next:     next,
		window:   window,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// NotifyAdmin implements Notifier.
func (t *Throttled) NotifyAdmin(ctx context.Context, subject, body string) {
	t.mu.Lock()
	last, seen := t.lastSent[subject]
	if seen && t.now().Sub(last) < t.window {
		t.mu.Unlock()
		return
	}
	t.lastSent[subject] = t.now()
	t.mu.Unlock()

	t.next.NotifyAdmin(ctx, subject, body)
}
