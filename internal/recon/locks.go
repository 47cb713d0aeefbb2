package recon

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"counterstake-watchdog/internal/observability"
)

// LockManager hands out named mutual-exclusion locks. Chain watchers use two
// locks per network: "<network>Event" serializes event application and the
// catch-up barrier, "<network>Tx" serializes transaction submission to keep
// nonce ordering. Locks are created lazily on first use and never removed.
type LockManager struct {
	mu      sync.Mutex
	locks   map[string]chan struct{}
	metrics *observability.Metrics
}

// NewLockManager creates an empty lock manager. A nil metrics falls back to
// the default registry.
func NewLockManager(metrics *observability.Metrics) *LockManager {
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}
	return &LockManager{
		locks:   make(map[string]chan struct{}),
		metrics: metrics,
	}
}

func (m *LockManager) get(name string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.locks[name]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[name] = ch
	}
	return ch
}

// Lock acquires the named lock, blocking until it is free or the context is
// cancelled. The returned release function must be called exactly once.
func (m *LockManager) Lock(ctx context.Context, name string) (release func(), err error) {
	ch := m.get(name)
	start := time.Now()
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire lock %s: %w", name, ctx.Err())
	}
	m.metrics.LockWaitSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}

// TryLockTimeout acquires the named lock unless it stays held for the whole
// timeout. Used by the deadlock detector.
func (m *LockManager) TryLockTimeout(name string, timeout time.Duration) (release func(), ok bool) {
	ch := m.get(name)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-ch })
		}, true
	case <-timer.C:
		return nil, false
	}
}

// Names lists every lock key seen so far, in stable order.
func (m *LockManager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.locks))
	for name := range m.locks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunDeadlockDetector probes every known lock key on each tick, acquiring and
// immediately releasing it. A key that cannot be acquired within ceiling means
// some holder is wedged; onStuck fires and is expected to terminate the
// process so an operator looks at it. Returns when ctx is cancelled.
func (m *LockManager) RunDeadlockDetector(ctx context.Context, interval, ceiling time.Duration, logger *log.Logger, onStuck func(lock string)) {
	if logger == nil {
		logger = log.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, name := range m.Names() {
			release, ok := m.TryLockTimeout(name, ceiling)
			if !ok {
				logger.Printf("[deadlock] lock %s held longer than %s", name, ceiling)
				onStuck(name)
				return
			}
			release()
		}
	}
}

// EventLockName returns the lock key serializing event application for a
// network.
func EventLockName(network string) string { return network + "Event" }

// TxLockName returns the lock key serializing transaction submission for a
// network.
func TxLockName(network string) string { return network + "Tx" }
