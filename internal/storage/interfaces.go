package storage

import (
	"context"

	"counterstake-watchdog/internal/domain"
)

// BridgeStore provides access to bridges storage.
type BridgeStore interface {
	// Insert adds a new bridge, possibly half-complete. Returns
	// ErrDuplicateKey if the same asset route already exists.
	Insert(ctx context.Context, b *domain.Bridge) error

	// Update rewrites a bridge's mutable fields (side addresses, decimals,
	// params). Returns ErrNotFound if the bridge does not exist.
	Update(ctx context.Context, b *domain.Bridge) error

	// GetByID retrieves a bridge by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id int64) (*domain.Bridge, error)

	// GetBySideAddr retrieves the bridge owning the given contract address
	// on the given network, and which side it is.
	GetBySideAddr(ctx context.Context, network, addr string) (*domain.Bridge, domain.Side, error)

	// GetByRoute retrieves a bridge by its asset route.
	GetByRoute(ctx context.Context, homeNetwork, homeAsset, foreignNetwork, foreignAsset string) (*domain.Bridge, error)

	// List retrieves all bridges.
	List(ctx context.Context) ([]*domain.Bridge, error)
}

// TransferStore provides access to transfers storage.
type TransferStore interface {
	// Upsert records a transfer. If a row with the identical uniqueness
	// tuple already exists, it is re-confirmed in place and reused; no
	// duplicate row is ever created. Returns the stored transfer and
	// whether a new row was created.
	Upsert(ctx context.Context, t *domain.Transfer) (*domain.Transfer, bool, error)

	// GetByID retrieves a transfer by its row ID.
	GetByID(ctx context.Context, id int64) (*domain.Transfer, error)

	// FindCandidates retrieves all transfers matching the given bridge,
	// type, txid and txts, confirmed or not, for claim matching.
	FindCandidates(ctx context.Context, bridgeID int64, typ domain.TransferType, txid string, txts int64) ([]*domain.Transfer, error)

	// FindByTxid retrieves all transfers recorded under one source-chain
	// transaction, for reorg retraction handling.
	FindByTxid(ctx context.Context, bridgeID int64, typ domain.TransferType, txid string) ([]*domain.Transfer, error)

	// SetConfirmed flips the confirmation flag of a transfer. The row is
	// kept either way, for audit.
	SetConfirmed(ctx context.Context, id int64, confirmed bool) error
}

// ClaimStore provides access to claims storage.
type ClaimStore interface {
	// Insert adds a new claim. Returns ErrDuplicateKey if (bridge_id,
	// type, claim_num) exists.
	Insert(ctx context.Context, c *domain.Claim) error

	// Update rewrites a claim's mutable state (stakes, outcome, period,
	// expiry, target, withdrawn, finished).
	Update(ctx context.Context, c *domain.Claim) error

	// GetByKey retrieves a claim by (bridge_id, type, claim_num).
	GetByKey(ctx context.Context, bridgeID int64, typ domain.TransferType, claimNum int64) (*domain.Claim, error)

	// GetByClaimHash retrieves a claim on a bridge side by its claim hash,
	// for O(1) duplicate-claim detection.
	GetByClaimHash(ctx context.Context, bridgeID int64, typ domain.TransferType, hash string) (*domain.Claim, error)

	// ListUnfinished retrieves all claims not yet finished, across bridges.
	ListUnfinished(ctx context.Context) ([]*domain.Claim, error)
}

// ChallengeStore provides access to challenges storage. Append-only.
type ChallengeStore interface {
	// Insert adds a challenge. Returns ErrDuplicateKey if the same
	// challenge transaction was already recorded.
	Insert(ctx context.Context, ch *domain.Challenge) error

	// ListByClaim retrieves all challenges of a claim in insertion order.
	ListByClaim(ctx context.Context, bridgeID int64, typ domain.TransferType, claimNum int64) ([]*domain.Challenge, error)
}

// AssistantStore provides access to pooled_assistants storage.
type AssistantStore interface {
	// Insert adds a new assistant vault mirror. Returns ErrDuplicateKey
	// if (network, addr) exists.
	Insert(ctx context.Context, a *domain.PooledAssistant) error

	// Update rewrites an assistant's accounting state.
	Update(ctx context.Context, a *domain.PooledAssistant) error

	// GetByAddr retrieves an assistant by its contract address.
	GetByAddr(ctx context.Context, network, addr string) (*domain.PooledAssistant, error)

	// GetByBridgeSide retrieves the assistant serving the given bridge side,
	// if any.
	GetByBridgeSide(ctx context.Context, bridgeID int64, side domain.Side) (*domain.PooledAssistant, error)

	// List retrieves all assistants.
	List(ctx context.Context) ([]*domain.PooledAssistant, error)
}

// LastBlockStore tracks catch-up progress per network.
type LastBlockStore interface {
	// Get returns the last fully processed block. Returns ErrNotFound for
	// a network never seen before.
	Get(ctx context.Context, network string) (uint64, error)

	// Set records the last fully processed block.
	Set(ctx context.Context, network string, block uint64) error
}

// EventArchive is an append-only archive of flattened protocol events.
// Implementations may be eventually consistent; the archive is never read
// back on the hot path.
type EventArchive interface {
	// InsertBulk appends a batch of archived events.
	InsertBulk(ctx context.Context, events []*domain.ArchivedEvent) error

	// ListByClaim retrieves the archived history of one claim, ordered by
	// block number.
	ListByClaim(ctx context.Context, network, bridgeAddr string, claimNum int64) ([]*domain.ArchivedEvent, error)

	// CountByKind returns per-kind event counts for a network.
	CountByKind(ctx context.Context, network string) (map[string]uint64, error)
}

// Stores bundles every store for wiring convenience.
type Stores struct {
	Bridges    BridgeStore
	Transfers  TransferStore
	Claims     ClaimStore
	Challenges ChallengeStore
	Assistants AssistantStore
	LastBlocks LastBlockStore
}
