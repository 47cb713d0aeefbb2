package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage"
)

// ChallengeStore implements storage.ChallengeStore using PostgreSQL.
// Append-only.
type ChallengeStore struct {
	pool *Pool
}

// NewChallengeStore creates a new ChallengeStore.
func NewChallengeStore(pool *Pool) *ChallengeStore {
	return &ChallengeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ChallengeStore = (*ChallengeStore)(nil)

// Insert adds a challenge. Returns ErrDuplicateKey on a repeated txid.
func (s *ChallengeStore) Insert(ctx context.Context, ch *domain.Challenge) error {
	if ch == nil || ch.BridgeID == 0 || !ch.Type.Valid() || !ch.StakeOn.Valid() || ch.Txid == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO challenges (
			bridge_id, type, claim_num, address, stake_on, stake, txid, ts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := s.pool.QueryRow(ctx, query,
		ch.BridgeID,
		string(ch.Type),
		ch.ClaimNum,
		ch.Address,
		string(ch.StakeOn),
		numericString(ch.Stake),
		ch.Txid,
		ch.Ts,
	).Scan(&ch.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

// ListByClaim retrieves all challenges of a claim in insertion order.
func (s *ChallengeStore) ListByClaim(ctx context.Context, bridgeID int64, typ domain.TransferType, claimNum int64) ([]*domain.Challenge, error) {
	query := `
		SELECT id, bridge_id, type, claim_num, address, stake_on, stake, txid, ts
		FROM challenges
		WHERE bridge_id = $1 AND type = $2 AND claim_num = $3
		ORDER BY id ASC
	`

	rows, err := s.pool.Query(ctx, query, bridgeID, string(typ), claimNum)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()

	var out []*domain.Challenge
	for rows.Next() {
		ch, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func scanChallenge(row pgx.Row) (*domain.Challenge, error) {
	var (
		ch    domain.Challenge
		stake string
	)
	err := row.Scan(
		&ch.ID, &ch.BridgeID, (*string)(&ch.Type), &ch.ClaimNum,
		&ch.Address, (*string)(&ch.StakeOn), &stake, &ch.Txid, &ch.Ts,
	)
	if err != nil {
		return nil, err
	}
	if ch.Stake, err = parseNumeric(stake); err != nil {
		return nil, err
	}
	return &ch, nil
}
