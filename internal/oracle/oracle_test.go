package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestStaticSource(t *testing.T) {
	s := NewStaticSource()
	s.Set("Ethereum", "0xUSDC", "Obyte", "base", big.NewRat(3, 2))

	rate, err := s.FetchExchangeRate(context.Background(), "Ethereum", "0xUSDC", "Obyte", "base")
	if err != nil {
		t.Fatalf("FetchExchangeRate: %v", err)
	}
	if rate.Cmp(big.NewRat(3, 2)) != 0 {
		t.Errorf("rate = %s, want 3/2", rate)
	}

	missing, err := s.FetchExchangeRate(context.Background(), "BSC", "x", "Obyte", "base")
	if err != nil || missing != nil {
		t.Errorf("unknown pair must yield nil rate, got %v, %v", missing, err)
	}
}

type countingSource struct {
	calls int
	rate  *big.Rat
	err   error
}

func (c *countingSource) FetchExchangeRate(context.Context, string, string, string, string) (*big.Rat, error) {
	c.calls++
	return c.rate, c.err
}

func TestCachingSource_CachesPositiveAndNegative(t *testing.T) {
	upstream := &countingSource{rate: big.NewRat(2, 1)}
	c := NewCachingSource(upstream, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		rate, err := c.FetchExchangeRate(context.Background(), "a", "b", "c", "d")
		if err != nil || rate.Cmp(big.NewRat(2, 1)) != 0 {
			t.Fatalf("rate = %v, %v", rate, err)
		}
	}
	if upstream.calls != 1 {
		t.Errorf("upstream called %d times, want 1", upstream.calls)
	}

	// Unknown rates are cached too.
	upstream2 := &countingSource{}
	c2 := NewCachingSource(upstream2, time.Minute)
	c2.now = func() time.Time { return now }
	for i := 0; i < 3; i++ {
		if rate, err := c2.FetchExchangeRate(context.Background(), "a", "b", "c", "d"); rate != nil || err != nil {
			t.Fatalf("expected nil rate, got %v, %v", rate, err)
		}
	}
	if upstream2.calls != 1 {
		t.Errorf("negative answer not cached: %d calls", upstream2.calls)
	}
}

func TestCachingSource_ErrorsNotCached(t *testing.T) {
	upstream := &countingSource{err: errors.New("feed down")}
	c := NewCachingSource(upstream, time.Minute)

	c.FetchExchangeRate(context.Background(), "a", "b", "c", "d")
	c.FetchExchangeRate(context.Background(), "a", "b", "c", "d")
	if upstream.calls != 2 {
		t.Errorf("errors must not be cached: %d calls", upstream.calls)
	}
}
