package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage"
)

// BridgeStore implements storage.BridgeStore using PostgreSQL.
type BridgeStore struct {
	pool *Pool
}

// NewBridgeStore creates a new BridgeStore.
func NewBridgeStore(pool *Pool) *BridgeStore {
	return &BridgeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BridgeStore = (*BridgeStore)(nil)

const bridgeColumns = `
	id, home_network, home_asset, foreign_network, foreign_asset,
	export_addr, import_addr, home_decimals, foreign_decimals,
	export_params, import_params, created_at
`

// paramsRecord is the JSONB shape of domain.BridgeParams.
type paramsRecord struct {
	CounterstakeCoef100     int64   `json:"counterstake_coef100"`
	Ratio100                int64   `json:"ratio100"`
	MinStake                string  `json:"min_stake"`
	LargeThreshold          string  `json:"large_threshold"`
	ChallengingPeriods      []int64 `json:"challenging_periods"`
	LargeChallengingPeriods []int64 `json:"large_challenging_periods"`
	MinTxAge                int64   `json:"min_tx_age"`
}

func encodeParams(p *domain.BridgeParams) *paramsRecord {
	if p == nil {
		return nil
	}
	return &paramsRecord{
		CounterstakeCoef100:     p.CounterstakeCoef100,
		Ratio100:                p.Ratio100,
		MinStake:                numericString(p.MinStake),
		LargeThreshold:          numericString(p.LargeThreshold),
		ChallengingPeriods:      p.ChallengingPeriods,
		LargeChallengingPeriods: p.LargeChallengingPeriods,
		MinTxAge:                p.MinTxAge,
	}
}

func decodeParams(r *paramsRecord) (*domain.BridgeParams, error) {
	if r == nil {
		return nil, nil
	}
	minStake, err := parseNumeric(r.MinStake)
	if err != nil {
		return nil, err
	}
	largeThreshold, err := parseNumeric(r.LargeThreshold)
	if err != nil {
		return nil, err
	}
	return &domain.BridgeParams{
		CounterstakeCoef100:     r.CounterstakeCoef100,
		Ratio100:                r.Ratio100,
		MinStake:                minStake,
		LargeThreshold:          largeThreshold,
		ChallengingPeriods:      r.ChallengingPeriods,
		LargeChallengingPeriods: r.LargeChallengingPeriods,
		MinTxAge:                r.MinTxAge,
	}, nil
}

// Insert adds a new bridge. Returns ErrDuplicateKey if the route exists.
func (s *BridgeStore) Insert(ctx context.Context, b *domain.Bridge) error {
	query := `
		INSERT INTO bridges (
			home_network, home_asset, foreign_network, foreign_asset,
			export_addr, import_addr, home_decimals, foreign_decimals,
			export_params, import_params, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err := s.pool.QueryRow(ctx, query,
		b.HomeNetwork,
		b.HomeAsset,
		b.ForeignNetwork,
		b.ForeignAsset,
		b.ExportAddr,
		b.ImportAddr,
		b.HomeDecimals,
		b.ForeignDecimals,
		encodeParams(b.ExportParams),
		encodeParams(b.ImportParams),
		b.CreatedAt,
	).Scan(&b.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert bridge: %w", err)
	}
	return nil
}

// Update rewrites a bridge's mutable fields.
func (s *BridgeStore) Update(ctx context.Context, b *domain.Bridge) error {
	query := `
		UPDATE bridges SET
			export_addr = $2, import_addr = $3,
			home_decimals = $4, foreign_decimals = $5,
			export_params = $6, import_params = $7
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		b.ID,
		b.ExportAddr,
		b.ImportAddr,
		b.HomeDecimals,
		b.ForeignDecimals,
		encodeParams(b.ExportParams),
		encodeParams(b.ImportParams),
	)
	if err != nil {
		return fmt.Errorf("update bridge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves a bridge by ID.
func (s *BridgeStore) GetByID(ctx context.Context, id int64) (*domain.Bridge, error) {
	query := `SELECT ` + bridgeColumns + ` FROM bridges WHERE id = $1`

	b, err := scanBridge(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get bridge by id: %w", err)
	}
	return b, nil
}

// GetBySideAddr retrieves the bridge owning a contract address on a network.
func (s *BridgeStore) GetBySideAddr(ctx context.Context, network, addr string) (*domain.Bridge, domain.Side, error) {
	if addr == "" {
		return nil, "", storage.ErrInvalidInput
	}
	query := `SELECT ` + bridgeColumns + ` FROM bridges
		WHERE (home_network = $1 AND export_addr = $2)
		   OR (foreign_network = $1 AND import_addr = $2)`

	b, err := scanBridge(s.pool.QueryRow(ctx, query, network, addr))
	if err != nil {
		if isNotFoundError(err) {
			return nil, "", storage.ErrNotFound
		}
		return nil, "", fmt.Errorf("get bridge by side addr: %w", err)
	}
	if b.HomeNetwork == network && b.ExportAddr == addr {
		return b, domain.SideExport, nil
	}
	return b, domain.SideImport, nil
}

// GetByRoute retrieves a bridge by its asset route.
func (s *BridgeStore) GetByRoute(ctx context.Context, homeNetwork, homeAsset, foreignNetwork, foreignAsset string) (*domain.Bridge, error) {
	query := `SELECT ` + bridgeColumns + ` FROM bridges
		WHERE home_network = $1 AND home_asset = $2
		  AND foreign_network = $3 AND foreign_asset = $4`

	b, err := scanBridge(s.pool.QueryRow(ctx, query, homeNetwork, homeAsset, foreignNetwork, foreignAsset))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get bridge by route: %w", err)
	}
	return b, nil
}

// List retrieves all bridges ordered by ID.
func (s *BridgeStore) List(ctx context.Context) ([]*domain.Bridge, error) {
	query := `SELECT ` + bridgeColumns + ` FROM bridges ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list bridges: %w", err)
	}
	defer rows.Close()

	var out []*domain.Bridge
	for rows.Next() {
		b, err := scanBridge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bridge: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBridge(row pgx.Row) (*domain.Bridge, error) {
	var (
		b                domain.Bridge
		exportP, importP *paramsRecord
	)
	err := row.Scan(
		&b.ID, &b.HomeNetwork, &b.HomeAsset, &b.ForeignNetwork, &b.ForeignAsset,
		&b.ExportAddr, &b.ImportAddr, &b.HomeDecimals, &b.ForeignDecimals,
		&exportP, &importP, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if b.ExportParams, err = decodeParams(exportP); err != nil {
		return nil, err
	}
	if b.ImportParams, err = decodeParams(importP); err != nil {
		return nil, err
	}
	return &b, nil
}
