package clickhouse

import (
	"context"
	"fmt"

	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage"
)

// EventArchiveStore implements storage.EventArchive using ClickHouse.
// The events table is a plain MergeTree; duplicates from replayed catch-up
// windows are tolerated and collapse in queries via GROUP BY event_txid.
type EventArchiveStore struct {
	conn *Conn
}

// NewEventArchiveStore creates a new EventArchiveStore.
func NewEventArchiveStore(conn *Conn) *EventArchiveStore {
	return &EventArchiveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventArchive = (*EventArchiveStore)(nil)

// InsertBulk appends a batch of archived events.
func (s *EventArchiveStore) InsertBulk(ctx context.Context, events []*domain.ArchivedEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO protocol_events (
			network, block_number, ts, kind, bridge_addr, event_txid,
			transfer_type, claim_num, address, dest, txid,
			amount, reward, stake, outcome, data
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.Network, e.BlockNumber, uint64(e.Ts), e.Kind, e.BridgeAddr, e.EventTxid,
			e.TransferType, e.ClaimNum, e.Address, e.Dest, e.Txid,
			e.Amount, e.Reward, e.Stake, e.Outcome, e.Data,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// ListByClaim retrieves the archived history of one claim, ordered by block number.
func (s *EventArchiveStore) ListByClaim(ctx context.Context, network, bridgeAddr string, claimNum int64) ([]*domain.ArchivedEvent, error) {
	query := `
		SELECT network, block_number, ts, kind, bridge_addr, event_txid,
		       transfer_type, claim_num, address, dest, txid,
		       amount, reward, stake, outcome, data
		FROM protocol_events
		WHERE network = ? AND bridge_addr = ? AND claim_num = ?
		ORDER BY block_number ASC
	`

	rows, err := s.conn.Query(ctx, query, network, bridgeAddr, claimNum)
	if err != nil {
		return nil, fmt.Errorf("query by claim: %w", err)
	}
	defer rows.Close()

	return scanArchivedEvents(rows)
}

// CountByKind returns per-kind event counts for a network.
func (s *EventArchiveStore) CountByKind(ctx context.Context, network string) (map[string]uint64, error) {
	query := `
		SELECT kind, count(DISTINCT event_txid)
		FROM protocol_events
		WHERE network = ?
		GROUP BY kind
	`

	rows, err := s.conn.Query(ctx, query, network)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var kind string
		var n uint64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate count rows: %w", err)
	}

	return counts, nil
}

// chRows abstracts the driver row iterator for scan helpers.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanArchivedEvents scans multiple rows.
func scanArchivedEvents(rows chRows) ([]*domain.ArchivedEvent, error) {
	var events []*domain.ArchivedEvent

	for rows.Next() {
		var e domain.ArchivedEvent
		var ts uint64

		err := rows.Scan(
			&e.Network, &e.BlockNumber, &ts, &e.Kind, &e.BridgeAddr, &e.EventTxid,
			&e.TransferType, &e.ClaimNum, &e.Address, &e.Dest, &e.Txid,
			&e.Amount, &e.Reward, &e.Stake, &e.Outcome, &e.Data,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}

		e.Ts = int64(ts)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}

	return events, nil
}
