package memory

import (
	"context"
	"sort"
	"sync"

	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage"
)

// ChallengeStore is an in-memory implementation of storage.ChallengeStore.
// Append-only.
type ChallengeStore struct {
	mu     sync.RWMutex
	nextID int64
	data   []*domain.Challenge
	byTxid map[string]struct{}
}

// NewChallengeStore creates a new in-memory challenge store.
func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{nextID: 1, byTxid: make(map[string]struct{})}
}

// Compile-time interface check.
var _ storage.ChallengeStore = (*ChallengeStore)(nil)

// Insert adds a challenge. Returns ErrDuplicateKey on a repeated txid.
func (s *ChallengeStore) Insert(_ context.Context, ch *domain.Challenge) error {
	if ch == nil || ch.BridgeID == 0 || !ch.Type.Valid() || !ch.StakeOn.Valid() || ch.Txid == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTxid[ch.Txid]; exists {
		return storage.ErrDuplicateKey
	}

	row := cloneChallenge(ch)
	row.ID = s.nextID
	s.nextID++
	s.data = append(s.data, row)
	s.byTxid[ch.Txid] = struct{}{}
	return nil
}

// ListByClaim retrieves all challenges of a claim in insertion order.
func (s *ChallengeStore) ListByClaim(_ context.Context, bridgeID int64, typ domain.TransferType, claimNum int64) ([]*domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Challenge
	for _, ch := range s.data {
		if ch.BridgeID == bridgeID && ch.Type == typ && ch.ClaimNum == claimNum {
			out = append(out, cloneChallenge(ch))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
