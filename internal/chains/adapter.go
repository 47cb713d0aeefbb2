package chains

import (
	"context"
	"errors"
	"math/big"
	"time"

	"counterstake-watchdog/internal/domain"
)

// Sentinel errors shared by all adapters.
var (
	// ErrAlreadyClaimed is the normalized form of an "already claimed"
	// transaction revert. It is expected control flow, not a fault: the
	// caller reacts by rescanning recent events for the claim it missed.
	ErrAlreadyClaimed = errors.New("transfer already claimed")

	// ErrClaimNotFound is returned by GetClaim when no claim exists under
	// the given number.
	ErrClaimNotFound = errors.New("claim not found on chain")

	// ErrNotConnected is returned by the registry when an adapter is not
	// in the Ready state.
	ErrNotConnected = errors.New("chain adapter not connected")
)

// ClaimRequest carries everything needed to submit a new claim transaction.
type ClaimRequest struct {
	BridgeAddr string
	Side       domain.Side

	Txid      string
	Txts      int64
	Amount    *big.Int
	Reward    *big.Int
	Stake     *big.Int
	Sender    string // source-chain sender address
	Recipient string // destination address
	Data      string
}

// ChallengeRequest carries a counterstake submission.
type ChallengeRequest struct {
	BridgeAddr string
	ClaimNum   int64
	StakeOn    domain.Outcome
	Stake      *big.Int
}

// Adapter is the uniform per-chain interface. One instance per connected
// network; instances are held in a Registry and replaced wholesale on
// reconnect.
//
// All amount-returning calls operate in the chain's native integer
// representation. Read-path RPC failures are retried internally with backoff;
// submission failures surface to the caller, except "already claimed" which
// maps to ErrAlreadyClaimed.
type Adapter interface {
	// Network returns the network name this adapter serves.
	Network() string

	// MyAddress returns the watchdog's own address on this network.
	MyAddress() string

	// Watch adds a bridge contract to the adapter's event filter set and
	// records which side of its bridge the contract is, which determines
	// the transfer type of claims observed there.
	Watch(ctx context.Context, bridgeAddr string, side domain.Side) error

	// GetClaim reads current on-chain claim state. Returns ErrClaimNotFound
	// if the claim number does not exist.
	GetClaim(ctx context.Context, bridgeAddr string, claimNum int64) (*domain.Claim, error)

	// GetRequiredStake returns the stake the bridge demands for claiming
	// the given amount.
	GetRequiredStake(ctx context.Context, bridgeAddr string, amount *big.Int) (*big.Int, error)

	// GetBridgeParams reads a bridge side's counterstake parameters and its
	// token's decimals from the chain. Called once per side at discovery;
	// deployment announcements carry the route and addresses only.
	GetBridgeParams(ctx context.Context, bridgeAddr string, side domain.Side) (*domain.BridgeParams, int, error)

	// SendClaim submits a claim transaction and returns its txid.
	SendClaim(ctx context.Context, req *ClaimRequest) (string, error)

	// SendChallenge submits a counterstake and returns its txid.
	SendChallenge(ctx context.Context, req *ChallengeRequest) (string, error)

	// SendWithdrawalRequest triggers withdrawal of a settled claim.
	SendWithdrawalRequest(ctx context.Context, bridgeAddr string, claimNum int64) (string, error)

	// GetBalance returns an address's balance in the given asset.
	GetBalance(ctx context.Context, address, asset string) (*big.Int, error)

	// GetMyBalance returns the watchdog's own balance in the given asset.
	GetMyBalance(ctx context.Context, asset string) (*big.Int, error)

	// IsValidAddress reports whether addr is syntactically valid on this chain.
	IsValidAddress(addr string) bool

	// IsValidTxid reports whether txid is syntactically valid on this chain.
	IsValidTxid(txid string) bool

	// IsValidData reports whether data is acceptable claim data on this chain.
	IsValidData(data string) bool

	// GetMinTransferAge returns how old a transfer must be before it is
	// safe to claim against this chain's finality.
	GetMinTransferAge() time.Duration

	// GetLastStableTimestamp returns the timestamp of the newest block
	// considered final.
	GetLastStableTimestamp(ctx context.Context) (int64, error)

	// CurrentBlock returns the current head block number.
	CurrentBlock(ctx context.Context) (uint64, error)

	// CatchUp replays historical events from fromBlock (inclusive) to the
	// head, invoking sink for each in increasing block order, and returns
	// the last processed block.
	CatchUp(ctx context.Context, fromBlock uint64, sink func(domain.Event) error) (uint64, error)

	// Subscribe starts live event delivery. The channel closes when the
	// adapter shuts down or the context is cancelled.
	Subscribe(ctx context.Context) (<-chan domain.Event, error)

	// RefreshHistory forces a one-off re-fetch of recent history for the
	// given bridge address, used when a claim arrives for a transfer the
	// engine has never seen.
	RefreshHistory(ctx context.Context, bridgeAddr string, sink func(domain.Event) error) error

	// Close releases RPC connections.
	Close() error
}
