package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage"
)

// ClaimStore implements storage.ClaimStore using PostgreSQL.
type ClaimStore struct {
	pool *Pool
}

// NewClaimStore creates a new ClaimStore.
func NewClaimStore(pool *Pool) *ClaimStore {
	return &ClaimStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ClaimStore = (*ClaimStore)(nil)

const claimColumns = `
	id, bridge_id, type, claim_num, amount, reward,
	sender_address, dest_address, claimant_address, data, txid, txts,
	claim_hash, yes_stake, no_stake, current_outcome, period_number,
	is_large, ts, expiry_ts, challenging_target, withdrawn, finished, created_at
`

// Insert adds a new claim. Returns ErrDuplicateKey if (bridge_id, type,
// claim_num) exists.
func (s *ClaimStore) Insert(ctx context.Context, c *domain.Claim) error {
	if c == nil || c.BridgeID == 0 || !c.Type.Valid() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO claims (
			bridge_id, type, claim_num, amount, reward,
			sender_address, dest_address, claimant_address, data, txid, txts,
			claim_hash, yes_stake, no_stake, current_outcome, period_number,
			is_large, ts, expiry_ts, challenging_target, withdrawn, finished, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		RETURNING id
	`

	err := s.pool.QueryRow(ctx, query,
		c.BridgeID,
		string(c.Type),
		c.ClaimNum,
		numericString(c.Amount),
		numericString(c.Reward),
		c.SenderAddress,
		c.DestAddress,
		c.ClaimantAddress,
		c.Data,
		c.Txid,
		c.Txts,
		c.ClaimHash,
		numericString(c.YesStake),
		numericString(c.NoStake),
		string(c.CurrentOutcome),
		c.PeriodNumber,
		c.IsLarge,
		c.Ts,
		c.ExpiryTs,
		numericString(c.ChallengingTarget),
		c.Withdrawn,
		c.Finished,
		c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

// Update rewrites a claim's mutable state.
func (s *ClaimStore) Update(ctx context.Context, c *domain.Claim) error {
	query := `
		UPDATE claims SET
			yes_stake = $4, no_stake = $5, current_outcome = $6,
			period_number = $7, ts = $8, expiry_ts = $9,
			challenging_target = $10, withdrawn = $11, finished = $12
		WHERE bridge_id = $1 AND type = $2 AND claim_num = $3
	`

	tag, err := s.pool.Exec(ctx, query,
		c.BridgeID,
		string(c.Type),
		c.ClaimNum,
		numericString(c.YesStake),
		numericString(c.NoStake),
		string(c.CurrentOutcome),
		c.PeriodNumber,
		c.Ts,
		c.ExpiryTs,
		numericString(c.ChallengingTarget),
		c.Withdrawn,
		c.Finished,
	)
	if err != nil {
		return fmt.Errorf("update claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByKey retrieves a claim by (bridge_id, type, claim_num).
func (s *ClaimStore) GetByKey(ctx context.Context, bridgeID int64, typ domain.TransferType, claimNum int64) (*domain.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims
		WHERE bridge_id = $1 AND type = $2 AND claim_num = $3`

	c, err := scanClaim(s.pool.QueryRow(ctx, query, bridgeID, string(typ), claimNum))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get claim by key: %w", err)
	}
	return c, nil
}

// GetByClaimHash retrieves a claim on a bridge side by its claim hash.
func (s *ClaimStore) GetByClaimHash(ctx context.Context, bridgeID int64, typ domain.TransferType, hash string) (*domain.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims
		WHERE bridge_id = $1 AND type = $2 AND claim_hash = $3`

	c, err := scanClaim(s.pool.QueryRow(ctx, query, bridgeID, string(typ), hash))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get claim by hash: %w", err)
	}
	return c, nil
}

// ListUnfinished retrieves all claims not yet finished, ordered by expiry.
func (s *ClaimStore) ListUnfinished(ctx context.Context) ([]*domain.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims
		WHERE finished = FALSE
		ORDER BY expiry_ts ASC, id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list unfinished claims: %w", err)
	}
	defer rows.Close()

	var out []*domain.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanClaim(row pgx.Row) (*domain.Claim, error) {
	var (
		c                                 domain.Claim
		amount, reward, yes, no, target   string
	)
	err := row.Scan(
		&c.ID, &c.BridgeID, (*string)(&c.Type), &c.ClaimNum, &amount, &reward,
		&c.SenderAddress, &c.DestAddress, &c.ClaimantAddress, &c.Data, &c.Txid, &c.Txts,
		&c.ClaimHash, &yes, &no, (*string)(&c.CurrentOutcome), &c.PeriodNumber,
		&c.IsLarge, &c.Ts, &c.ExpiryTs, &target, &c.Withdrawn, &c.Finished, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if c.Amount, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	if c.Reward, err = parseNumeric(reward); err != nil {
		return nil, err
	}
	if c.YesStake, err = parseNumeric(yes); err != nil {
		return nil, err
	}
	if c.NoStake, err = parseNumeric(no); err != nil {
		return nil, err
	}
	if c.ChallengingTarget, err = parseNumeric(target); err != nil {
		return nil, err
	}
	return &c, nil
}
