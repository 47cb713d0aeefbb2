package chains

import (
	"context"
	"sync"
	"time"
)

// TTLCache caches one value with an expiry. Refresh failures fall back to the
// last cached value when one exists, which is the desired behavior for
// non-critical reads like gas price.
type TTLCache[T any] struct {
	mu        sync.Mutex
	ttl       time.Duration
	value     T
	has       bool
	fetchedAt time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewTTLCache creates a cache with the given time-to-live.
func NewTTLCache[T any](ttl time.Duration) *TTLCache[T] {
	return &TTLCache[T]{ttl: ttl, now: time.Now}
}

// Get returns the cached value if fresh, otherwise calls refresh. If refresh
// fails and a stale value exists, the stale value is returned with a nil
// error.
func (c *TTLCache[T]) Get(ctx context.Context, refresh func(ctx context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.has && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.value, nil
	}

	v, err := refresh(ctx)
	if err != nil {
		if c.has {
			return c.value, nil
		}
		var zero T
		return zero, err
	}

	c.value = v
	c.has = true
	c.fetchedAt = c.now()
	return v, nil
}

// Invalidate drops the cached value.
func (c *TTLCache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.has = false
}
