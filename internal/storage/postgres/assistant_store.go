package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage"
)

// AssistantStore implements storage.AssistantStore using PostgreSQL.
type AssistantStore struct {
	pool *Pool
}

// NewAssistantStore creates a new AssistantStore.
func NewAssistantStore(pool *Pool) *AssistantStore {
	return &AssistantStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AssistantStore = (*AssistantStore)(nil)

const assistantColumns = `
	id, bridge_id, network, addr, side, manager_address,
	management_fee10000, success_fee10000, shares_supply,
	stake_mf, image_mf, stake_profit, image_profit,
	stake_balance_in_work, image_balance_in_work, ts, created_at
`

// Insert adds a new assistant mirror. Returns ErrDuplicateKey if
// (network, addr) exists.
func (s *AssistantStore) Insert(ctx context.Context, a *domain.PooledAssistant) error {
	if a == nil || a.Network == "" || a.Addr == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO pooled_assistants (
			bridge_id, network, addr, side, manager_address,
			management_fee10000, success_fee10000, shares_supply,
			stake_mf, image_mf, stake_profit, image_profit,
			stake_balance_in_work, image_balance_in_work, ts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`

	err := s.pool.QueryRow(ctx, query,
		a.BridgeID,
		a.Network,
		a.Addr,
		string(a.Side),
		a.ManagerAddress,
		a.ManagementFee10000,
		a.SuccessFee10000,
		numericString(a.SharesSupply),
		numericString(a.MF.Stake),
		numericString(a.MF.Image),
		numericString(a.Profit.Stake),
		numericString(a.Profit.Image),
		numericString(a.BalanceInWork.Stake),
		numericString(a.BalanceInWork.Image),
		a.Ts,
		a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert assistant: %w", err)
	}
	return nil
}

// Update rewrites an assistant's accounting state.
func (s *AssistantStore) Update(ctx context.Context, a *domain.PooledAssistant) error {
	query := `
		UPDATE pooled_assistants SET
			shares_supply = $3, stake_mf = $4, image_mf = $5,
			stake_profit = $6, image_profit = $7,
			stake_balance_in_work = $8, image_balance_in_work = $9, ts = $10
		WHERE network = $1 AND addr = $2
	`

	tag, err := s.pool.Exec(ctx, query,
		a.Network,
		a.Addr,
		numericString(a.SharesSupply),
		numericString(a.MF.Stake),
		numericString(a.MF.Image),
		numericString(a.Profit.Stake),
		numericString(a.Profit.Image),
		numericString(a.BalanceInWork.Stake),
		numericString(a.BalanceInWork.Image),
		a.Ts,
	)
	if err != nil {
		return fmt.Errorf("update assistant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByAddr retrieves an assistant by its contract address.
func (s *AssistantStore) GetByAddr(ctx context.Context, network, addr string) (*domain.PooledAssistant, error) {
	query := `SELECT ` + assistantColumns + ` FROM pooled_assistants
		WHERE network = $1 AND addr = $2`

	a, err := scanAssistant(s.pool.QueryRow(ctx, query, network, addr))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get assistant by addr: %w", err)
	}
	return a, nil
}

// GetByBridgeSide retrieves the assistant serving a bridge side, if any.
func (s *AssistantStore) GetByBridgeSide(ctx context.Context, bridgeID int64, side domain.Side) (*domain.PooledAssistant, error) {
	query := `SELECT ` + assistantColumns + ` FROM pooled_assistants
		WHERE bridge_id = $1 AND side = $2
		ORDER BY id ASC LIMIT 1`

	a, err := scanAssistant(s.pool.QueryRow(ctx, query, bridgeID, string(side)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get assistant by bridge side: %w", err)
	}
	return a, nil
}

// List retrieves all assistants ordered by ID.
func (s *AssistantStore) List(ctx context.Context) ([]*domain.PooledAssistant, error) {
	query := `SELECT ` + assistantColumns + ` FROM pooled_assistants ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list assistants: %w", err)
	}
	defer rows.Close()

	var out []*domain.PooledAssistant
	for rows.Next() {
		a, err := scanAssistant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assistant: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssistant(row pgx.Row) (*domain.PooledAssistant, error) {
	var (
		a                                              domain.PooledAssistant
		supply, stakeMF, imageMF, stakeP, imageP, sbw, ibw string
	)
	err := row.Scan(
		&a.ID, &a.BridgeID, &a.Network, &a.Addr, (*string)(&a.Side), &a.ManagerAddress,
		&a.ManagementFee10000, &a.SuccessFee10000, &supply,
		&stakeMF, &imageMF, &stakeP, &imageP, &sbw, &ibw, &a.Ts, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if a.SharesSupply, err = parseNumeric(supply); err != nil {
		return nil, err
	}
	if a.MF.Stake, err = parseNumeric(stakeMF); err != nil {
		return nil, err
	}
	if a.MF.Image, err = parseNumeric(imageMF); err != nil {
		return nil, err
	}
	if a.Profit.Stake, err = parseNumeric(stakeP); err != nil {
		return nil, err
	}
	if a.Profit.Image, err = parseNumeric(imageP); err != nil {
		return nil, err
	}
	if a.BalanceInWork.Stake, err = parseNumeric(sbw); err != nil {
		return nil, err
	}
	if a.BalanceInWork.Image, err = parseNumeric(ibw); err != nil {
		return nil, err
	}
	return &a, nil
}
