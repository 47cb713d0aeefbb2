// Package oracle supplies exchange rates for sizing third-party claim
// rewards. A missing rate means "do not claim", never "assume zero cost".
package oracle

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"
)

// RateSource quotes how many destination-asset units one source-asset unit
// is worth. Implementations return (nil, nil) when no rate is known.
type RateSource interface {
	FetchExchangeRate(ctx context.Context, dstNetwork, dstAsset, srcNetwork, srcAsset string) (*big.Rat, error)
}

func rateKey(dstNetwork, dstAsset, srcNetwork, srcAsset string) string {
	return strings.Join([]string{dstNetwork, dstAsset, srcNetwork, srcAsset}, "|")
}

// StaticSource serves rates from a fixed table, used for stablecoin bridges
// and in tests.
type StaticSource struct {
	mu    sync.RWMutex
	rates map[string]*big.Rat
}

// NewStaticSource creates an empty table.
func NewStaticSource() *StaticSource {
	return &StaticSource{rates: make(map[string]*big.Rat)}
}

// Set installs a rate.
func (s *StaticSource) Set(dstNetwork, dstAsset, srcNetwork, srcAsset string, rate *big.Rat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[rateKey(dstNetwork, dstAsset, srcNetwork, srcAsset)] = rate
}

// FetchExchangeRate implements RateSource.
func (s *StaticSource) FetchExchangeRate(_ context.Context, dstNetwork, dstAsset, srcNetwork, srcAsset string) (*big.Rat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rate, ok := s.rates[rateKey(dstNetwork, dstAsset, srcNetwork, srcAsset)]
	if !ok {
		return nil, nil
	}
	return new(big.Rat).Set(rate), nil
}

// CachingSource memoizes another source's answers for a TTL, including
// negative answers, so a flapping upstream cannot stall claim decisions.
type CachingSource struct {
	src RateSource
	ttl time.Duration

	mu    sync.Mutex
	cache map[string]cachedRate

	now func() time.Time
}

type cachedRate struct {
	rate      *big.Rat
	fetchedAt time.Time
}

// NewCachingSource wraps src with a TTL cache.
func NewCachingSource(src RateSource, ttl time.Duration) *CachingSource {
	return &CachingSource{
		src:   src,
		ttl:   ttl,
		cache: make(map[string]cachedRate),
		now:   time.Now,
	}
}

// FetchExchangeRate implements RateSource.
func (c *CachingSource) FetchExchangeRate(ctx context.Context, dstNetwork, dstAsset, srcNetwork, srcAsset string) (*big.Rat, error) {
	key := rateKey(dstNetwork, dstAsset, srcNetwork, srcAsset)

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		c.mu.Unlock()
		if entry.rate == nil {
			return nil, nil
		}
		return new(big.Rat).Set(entry.rate), nil
	}
	c.mu.Unlock()

	rate, err := c.src.FetchExchangeRate(ctx, dstNetwork, dstAsset, srcNetwork, srcAsset)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = cachedRate{rate: rate, fetchedAt: c.now()}
	c.mu.Unlock()

	if rate == nil {
		return nil, nil
	}
	return new(big.Rat).Set(rate), nil
}
