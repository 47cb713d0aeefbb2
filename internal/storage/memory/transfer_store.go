package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage"
)

// TransferStore is an in-memory implementation of storage.TransferStore.
type TransferStore struct {
	mu     sync.RWMutex
	nextID int64
	data   map[int64]*domain.Transfer
	byKey  map[string]int64 // uniqueness tuple -> row ID
}

// NewTransferStore creates a new in-memory transfer store.
func NewTransferStore() *TransferStore {
	return &TransferStore{
		nextID: 1,
		data:   make(map[int64]*domain.Transfer),
		byKey:  make(map[string]int64),
	}
}

// Compile-time interface check.
var _ storage.TransferStore = (*TransferStore)(nil)

func transferKey(t *domain.Transfer) string {
	return fmt.Sprintf("%d|%s|%s|%d|%s|%s|%s|%s|%s",
		t.BridgeID, t.Type, t.Txid, t.Txts,
		t.Amount, t.Reward, t.SenderAddress, t.DestAddress, t.Data)
}

// Upsert records a transfer, reusing the existing row on an identical tuple.
func (s *TransferStore) Upsert(_ context.Context, t *domain.Transfer) (*domain.Transfer, bool, error) {
	if t == nil || t.BridgeID == 0 || !t.Type.Valid() || t.Txid == "" {
		return nil, false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := transferKey(t)
	if id, exists := s.byKey[key]; exists {
		row := s.data[id]
		row.IsConfirmed = true
		return cloneTransfer(row), false, nil
	}

	row := cloneTransfer(t)
	row.ID = s.nextID
	s.nextID++
	s.data[row.ID] = row
	s.byKey[key] = row.ID
	return cloneTransfer(row), true, nil
}

// GetByID retrieves a transfer by row ID.
func (s *TransferStore) GetByID(_ context.Context, id int64) (*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneTransfer(t), nil
}

// FindCandidates retrieves transfers matching (bridge, type, txid, txts).
func (s *TransferStore) FindCandidates(_ context.Context, bridgeID int64, typ domain.TransferType, txid string, txts int64) ([]*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Transfer
	for _, t := range s.data {
		if t.BridgeID == bridgeID && t.Type == typ && t.Txid == txid && t.Txts == txts {
			out = append(out, cloneTransfer(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindByTxid retrieves all transfers recorded under one source transaction.
func (s *TransferStore) FindByTxid(_ context.Context, bridgeID int64, typ domain.TransferType, txid string) ([]*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Transfer
	for _, t := range s.data {
		if t.BridgeID == bridgeID && t.Type == typ && t.Txid == txid {
			out = append(out, cloneTransfer(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetConfirmed flips the confirmation flag; the row is kept for audit.
func (s *TransferStore) SetConfirmed(_ context.Context, id int64, confirmed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	t.IsConfirmed = confirmed
	return nil
}
