package chains

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTTLCache_CachesWithinTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewTTLCache[int](time.Minute)
	c.now = func() time.Time { return now }

	calls := 0
	refresh := func(context.Context) (int, error) {
		calls++
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.Get(context.Background(), refresh)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if v != 42 {
			t.Fatalf("Get = %d, want 42", v)
		}
	}
	if calls != 1 {
		t.Errorf("refresh called %d times, want 1", calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Get(context.Background(), refresh); err != nil {
		t.Fatalf("Get after expiry: %v", err)
	}
	if calls != 2 {
		t.Errorf("refresh called %d times after expiry, want 2", calls)
	}
}

func TestTTLCache_StaleFallback(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewTTLCache[int](time.Minute)
	c.now = func() time.Time { return now }

	ok := func(context.Context) (int, error) { return 7, nil }
	failing := func(context.Context) (int, error) { return 0, errors.New("rpc down") }

	if _, err := c.Get(context.Background(), ok); err != nil {
		t.Fatalf("initial Get: %v", err)
	}

	now = now.Add(2 * time.Minute)
	v, err := c.Get(context.Background(), failing)
	if err != nil {
		t.Fatalf("expected stale fallback, got error %v", err)
	}
	if v != 7 {
		t.Errorf("stale value = %d, want 7", v)
	}
}

func TestTTLCache_ErrorWithoutStale(t *testing.T) {
	c := NewTTLCache[int](time.Minute)
	failing := func(context.Context) (int, error) { return 0, errors.New("rpc down") }

	if _, err := c.Get(context.Background(), failing); err == nil {
		t.Fatal("expected error with no cached value")
	}
}

func TestTTLCache_Invalidate(t *testing.T) {
	c := NewTTLCache[int](time.Hour)
	calls := 0
	refresh := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	c.Get(context.Background(), refresh)
	c.Invalidate()
	v, _ := c.Get(context.Background(), refresh)
	if v != 2 {
		t.Errorf("value after Invalidate = %d, want 2", v)
	}
}

func TestWithRetry_EventualSuccess(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, RetryDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMult: 1}

	attempts := 0
	err := WithRetry(context.Background(), cfg, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRetry: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetry_Exhausted(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, RetryDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMult: 1}

	sentinel := errors.New("still down")
	err := WithRetry(context.Background(), cfg, func(context.Context) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 10, RetryDelay: time.Hour, MaxDelay: time.Hour, BackoffMult: 1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, cfg, func(context.Context) error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
