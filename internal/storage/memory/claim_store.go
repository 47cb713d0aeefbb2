package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage"
)

// ClaimStore is an in-memory implementation of storage.ClaimStore.
type ClaimStore struct {
	mu     sync.RWMutex
	nextID int64
	data   map[string]*domain.Claim // keyed by (bridge_id, type, claim_num)
}

// NewClaimStore creates a new in-memory claim store.
func NewClaimStore() *ClaimStore {
	return &ClaimStore{nextID: 1, data: make(map[string]*domain.Claim)}
}

// Compile-time interface check.
var _ storage.ClaimStore = (*ClaimStore)(nil)

func claimKey(bridgeID int64, typ domain.TransferType, claimNum int64) string {
	return fmt.Sprintf("%d|%s|%d", bridgeID, typ, claimNum)
}

// Insert adds a new claim. Returns ErrDuplicateKey if the key exists.
func (s *ClaimStore) Insert(_ context.Context, c *domain.Claim) error {
	if c == nil || c.BridgeID == 0 || !c.Type.Valid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := claimKey(c.BridgeID, c.Type, c.ClaimNum)
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	c.ID = s.nextID
	s.nextID++
	s.data[key] = cloneClaim(c)
	return nil
}

// Update rewrites a claim's mutable state.
func (s *ClaimStore) Update(_ context.Context, c *domain.Claim) error {
	if c == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := claimKey(c.BridgeID, c.Type, c.ClaimNum)
	if _, exists := s.data[key]; !exists {
		return storage.ErrNotFound
	}
	s.data[key] = cloneClaim(c)
	return nil
}

// GetByKey retrieves a claim by (bridge_id, type, claim_num).
func (s *ClaimStore) GetByKey(_ context.Context, bridgeID int64, typ domain.TransferType, claimNum int64) (*domain.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[claimKey(bridgeID, typ, claimNum)]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneClaim(c), nil
}

// GetByClaimHash retrieves a claim on a bridge side by its claim hash.
func (s *ClaimStore) GetByClaimHash(_ context.Context, bridgeID int64, typ domain.TransferType, hash string) (*domain.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.data {
		if c.BridgeID == bridgeID && c.Type == typ && c.ClaimHash == hash {
			return cloneClaim(c), nil
		}
	}
	return nil, storage.ErrNotFound
}

// ListUnfinished retrieves all claims not yet finished, ordered by expiry.
func (s *ClaimStore) ListUnfinished(_ context.Context) ([]*domain.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Claim
	for _, c := range s.data {
		if !c.Finished {
			out = append(out, cloneClaim(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiryTs != out[j].ExpiryTs {
			return out[i].ExpiryTs < out[j].ExpiryTs
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
