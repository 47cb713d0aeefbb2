package postgres

import (
	"context"
	"fmt"

	"counterstake-watchdog/internal/storage"
)

// LastBlockStore implements storage.LastBlockStore using PostgreSQL.
type LastBlockStore struct {
	pool *Pool
}

// NewLastBlockStore creates a new LastBlockStore.
func NewLastBlockStore(pool *Pool) *LastBlockStore {
	return &LastBlockStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LastBlockStore = (*LastBlockStore)(nil)

// Get returns the last fully processed block for a network.
func (s *LastBlockStore) Get(ctx context.Context, network string) (uint64, error) {
	var block int64
	err := s.pool.QueryRow(ctx,
		`SELECT block_number FROM last_blocks WHERE network = $1`, network,
	).Scan(&block)
	if err != nil {
		if isNotFoundError(err) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("get last block: %w", err)
	}
	return uint64(block), nil
}

// Set records the last fully processed block for a network.
func (s *LastBlockStore) Set(ctx context.Context, network string, block uint64) error {
	if network == "" {
		return storage.ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO last_blocks (network, block_number) VALUES ($1, $2)
		ON CONFLICT (network) DO UPDATE SET block_number = EXCLUDED.block_number
	`, network, int64(block))
	if err != nil {
		return fmt.Errorf("set last block: %w", err)
	}
	return nil
}
