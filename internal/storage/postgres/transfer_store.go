package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage"
)

// TransferStore implements storage.TransferStore using PostgreSQL.
type TransferStore struct {
	pool *Pool
}

// NewTransferStore creates a new TransferStore.
func NewTransferStore(pool *Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransferStore = (*TransferStore)(nil)

const transferColumns = `
	id, bridge_id, type, amount, reward, sender_address, dest_address,
	data, txid, txts, is_confirmed, created_at
`

// Upsert records a transfer, reusing the existing row on an identical tuple.
// The uniqueness tuple is (bridge_id, type, txid, txts, amount, reward,
// sender_address, dest_address, data); conflicting inserts re-confirm the
// existing row instead of creating a duplicate.
func (s *TransferStore) Upsert(ctx context.Context, t *domain.Transfer) (*domain.Transfer, bool, error) {
	if t == nil || t.BridgeID == 0 || !t.Type.Valid() || t.Txid == "" {
		return nil, false, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO transfers (
			bridge_id, type, amount, reward, sender_address, dest_address,
			data, txid, txts, is_confirmed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10)
		ON CONFLICT (bridge_id, type, txid, txts, amount, reward, sender_address, dest_address, data)
		DO UPDATE SET is_confirmed = TRUE
		RETURNING ` + transferColumns + `, (xmax = 0) AS inserted
	`

	var (
		row      domain.Transfer
		amount   string
		reward   string
		inserted bool
	)
	err := s.pool.QueryRow(ctx, query,
		t.BridgeID,
		string(t.Type),
		numericString(t.Amount),
		numericString(t.Reward),
		t.SenderAddress,
		t.DestAddress,
		t.Data,
		t.Txid,
		t.Txts,
		t.CreatedAt,
	).Scan(
		&row.ID, &row.BridgeID, (*string)(&row.Type), &amount, &reward,
		&row.SenderAddress, &row.DestAddress, &row.Data, &row.Txid, &row.Txts,
		&row.IsConfirmed, &row.CreatedAt, &inserted,
	)
	if err != nil {
		return nil, false, fmt.Errorf("upsert transfer: %w", err)
	}
	if row.Amount, err = parseNumeric(amount); err != nil {
		return nil, false, err
	}
	if row.Reward, err = parseNumeric(reward); err != nil {
		return nil, false, err
	}
	return &row, inserted, nil
}

// GetByID retrieves a transfer by row ID.
func (s *TransferStore) GetByID(ctx context.Context, id int64) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`

	t, err := scanTransfer(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get transfer by id: %w", err)
	}
	return t, nil
}

// FindCandidates retrieves transfers matching (bridge, type, txid, txts).
func (s *TransferStore) FindCandidates(ctx context.Context, bridgeID int64, typ domain.TransferType, txid string, txts int64) ([]*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers
		WHERE bridge_id = $1 AND type = $2 AND txid = $3 AND txts = $4
		ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, bridgeID, string(typ), txid, txts)
	if err != nil {
		return nil, fmt.Errorf("find transfer candidates: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FindByTxid retrieves all transfers recorded under one source transaction.
func (s *TransferStore) FindByTxid(ctx context.Context, bridgeID int64, typ domain.TransferType, txid string) ([]*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers
		WHERE bridge_id = $1 AND type = $2 AND txid = $3
		ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, bridgeID, string(typ), txid)
	if err != nil {
		return nil, fmt.Errorf("find transfers by txid: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetConfirmed flips the confirmation flag; the row is kept for audit.
func (s *TransferStore) SetConfirmed(ctx context.Context, id int64, confirmed bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE transfers SET is_confirmed = $2 WHERE id = $1`, id, confirmed)
	if err != nil {
		return fmt.Errorf("set transfer confirmed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var (
		t              domain.Transfer
		amount, reward string
	)
	err := row.Scan(
		&t.ID, &t.BridgeID, (*string)(&t.Type), &amount, &reward,
		&t.SenderAddress, &t.DestAddress, &t.Data, &t.Txid, &t.Txts,
		&t.IsConfirmed, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	if t.Reward, err = parseNumeric(reward); err != nil {
		return nil, err
	}
	return &t, nil
}
