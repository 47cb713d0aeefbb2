// Package recon implements the watchdog core: per-chain event catch-up and
// live subscription, transfer-to-claim matching, fraud counterstaking,
// reward-based third-party claiming and withdrawal triggering. One engine
// serves every connected network; events of one network are serialized by its
// named Event lock while networks run concurrently.
package recon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"sync"
	"time"

	"counterstake-watchdog/internal/assistant"
	"counterstake-watchdog/internal/chains"
	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/notify"
	"counterstake-watchdog/internal/observability"
	"counterstake-watchdog/internal/oracle"
	"counterstake-watchdog/internal/storage"
)

// EventSink receives a copy of every applied event. The archive uses this to
// build its audit trail off the hot path.
type EventSink interface {
	Offer(ev domain.Event)
}

// claimKey identifies a claim across the engine's in-memory bookkeeping.
type claimKey struct {
	bridgeID int64
	typ      domain.TransferType
	claimNum int64
}

func (k claimKey) String() string {
	return fmt.Sprintf("claim %d/%s/%d", k.bridgeID, k.typ, k.claimNum)
}

// pendingClaim tracks a claim whose matching transfer has not been found yet.
type pendingClaim struct {
	refreshed     bool  // source-chain history already force-refreshed once
	reorgDeadline int64 // when a retracted backing transfer stops getting the benefit of the doubt
}

// AssistantSeed identifies a deployed pooled-assistant contract the watchdog
// stakes from. Seeds are bound to their bridge once the side contract they
// serve is discovered.
type AssistantSeed struct {
	Network            string
	Addr               string // assistant contract address
	BridgeAddr         string // bridge side contract the assistant stakes on
	ManagerAddress     string
	ManagementFee10000 int64
	SuccessFee10000    int64
}

// Options configures the reconciliation engine. Zero values select defaults.
type Options struct {
	Registry *chains.Registry
	Stores   storage.Stores
	Vaults   *assistant.Engine
	Rates    oracle.RateSource
	Notifier notify.Notifier
	Metrics  *observability.Metrics
	Archive  EventSink // optional
	Logger   *log.Logger

	// Assistants are the pooled assistant vaults the watchdog manages.
	Assistants []AssistantSeed

	// MaxExposure100 caps how much of the available balance a single
	// counterstake may commit, as a percentage.
	MaxExposure100 int64

	// MinRewardRatio10000 is the minimum acceptable reward for third-party
	// claiming, as a fraction of the transferred amount scaled by 1e4.
	MinRewardRatio10000 int64

	// GasCost estimates the native-asset cost of one claim transaction per
	// network, used to size minimum rewards. Missing networks cost zero.
	GasCost map[string]*big.Int

	// RecheckTimeout is how long a retracted transfer may stay unconfirmed
	// before the claim recorded against it is treated as fraud.
	RecheckTimeout time.Duration

	// CatchupOverlap is how many already-processed blocks are replayed on
	// startup to tolerate shallow reorgs that happened while offline.
	CatchupOverlap uint64

	// SweepInterval is the cadence of the expiry sweep that triggers
	// withdrawals for settled claims.
	SweepInterval time.Duration

	// DeadlockInterval and DeadlockCeiling configure the lock prober.
	DeadlockInterval time.Duration
	DeadlockCeiling  time.Duration

	// OnFatal fires on unrecoverable conditions. The default exits the
	// process; tests install a recorder.
	OnFatal func(reason string)

	// Now is the engine clock, unix seconds.
	Now func() int64
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Metrics == nil {
		o.Metrics = observability.DefaultMetrics
	}
	if o.Notifier == nil {
		o.Notifier = &notify.LogNotifier{Logger: o.Logger}
	}
	if o.MaxExposure100 <= 0 {
		o.MaxExposure100 = 50
	}
	if o.MinRewardRatio10000 <= 0 {
		o.MinRewardRatio10000 = 100
	}
	if o.RecheckTimeout <= 0 {
		o.RecheckTimeout = 15 * time.Minute
	}
	if o.CatchupOverlap == 0 {
		o.CatchupOverlap = 100
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.DeadlockInterval <= 0 {
		o.DeadlockInterval = 5 * time.Minute
	}
	if o.DeadlockCeiling <= 0 {
		o.DeadlockCeiling = 10 * time.Minute
	}
	if o.OnFatal == nil {
		logger := o.Logger
		o.OnFatal = func(reason string) {
			logger.Printf("[fatal] %s", reason)
			os.Exit(1)
		}
	}
	if o.Now == nil {
		o.Now = func() int64 { return time.Now().Unix() }
	}
	return o
}

// Engine is the reconciliation engine.
type Engine struct {
	opts    Options
	locks   *LockManager
	recheck *recheckQueue

	mu       sync.Mutex
	caughtUp map[string]bool
	pending  map[claimKey]*pendingClaim
	fraud    map[claimKey]bool // claims judged fraudulent, no transfer backs them

	ctx    context.Context // set by Start; background work for timers
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine. Start must be called before events flow.
func New(opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		opts:     opts,
		locks:    NewLockManager(opts.Metrics),
		recheck:  newRecheckQueue(),
		caughtUp: make(map[string]bool),
		pending:  make(map[claimKey]*pendingClaim),
		fraud:    make(map[claimKey]bool),
	}
}

// Start launches one watcher goroutine per connected network, the expiry
// sweeper and the deadlock detector. Returns immediately.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.ctx = ctx

	for _, network := range e.opts.Registry.Networks() {
		network := network
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runNetwork(ctx, network)
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runSweeper(ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.locks.RunDeadlockDetector(ctx, e.opts.DeadlockInterval, e.opts.DeadlockCeiling, e.opts.Logger, func(lock string) {
			e.opts.OnFatal("deadlock on " + lock)
		})
	}()
}

// Close stops all watchers and cancels pending rechecks.
func (e *Engine) Close() {
	if e.cancel != nil {
		e.cancel()
	}
	e.recheck.Close()
	e.wg.Wait()
}

// runNetwork replays the backlog since the last persisted block, then applies
// live events. The Event lock is held across the whole replay so live events
// queued behind it observe a fully caught-up state (the catch-up barrier).
func (e *Engine) runNetwork(ctx context.Context, network string) {
	adapter, err := e.opts.Registry.Get(network)
	if err != nil {
		e.opts.Logger.Printf("[recon] %s: %v", network, err)
		return
	}

	if err := e.watchKnownBridges(ctx, adapter); err != nil {
		e.opts.Logger.Printf("[recon] %s: watch bridges: %v", network, err)
	}

	from := uint64(0)
	last, err := e.opts.Stores.LastBlocks.Get(ctx, network)
	switch {
	case err == nil:
		if last > e.opts.CatchupOverlap {
			from = last - e.opts.CatchupOverlap
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		e.opts.Logger.Printf("[recon] %s: read last block: %v", network, err)
	}

	// Subscribe before replaying so nothing emitted during the replay is
	// lost; deliveries buffer behind the Event lock until the barrier lifts.
	events, err := adapter.Subscribe(ctx)
	if err != nil {
		e.opts.Logger.Printf("[recon] %s: subscribe: %v", network, err)
		return
	}

	release, err := e.locks.Lock(ctx, EventLockName(network))
	if err != nil {
		return
	}
	processed, err := adapter.CatchUp(ctx, from, func(ev domain.Event) error {
		return e.applyLocked(ctx, ev, true)
	})
	if err != nil {
		e.opts.Logger.Printf("[recon] %s: catch-up from %d: %v", network, from, err)
	}
	if processed > 0 {
		if err := e.opts.Stores.LastBlocks.Set(ctx, network, processed); err != nil {
			e.opts.Logger.Printf("[recon] %s: save last block: %v", network, err)
		}
		e.opts.Metrics.CatchupLastBlock.WithLabelValues(network).Set(float64(processed))
	}
	e.setCaughtUp(network)
	e.opts.Metrics.CaughtUp.WithLabelValues(network).Set(1)
	release()

	e.opts.Logger.Printf("[recon] %s: caught up at block %d, going live", network, processed)

	for ev := range events {
		e.Apply(ctx, ev)
	}
}

// watchKnownBridges registers every already-discovered bridge side on this
// network with the adapter's event filter.
func (e *Engine) watchKnownBridges(ctx context.Context, adapter chains.Adapter) error {
	bridges, err := e.opts.Stores.Bridges.List(ctx)
	if err != nil {
		return err
	}
	for _, b := range bridges {
		for _, side := range []domain.Side{domain.SideExport, domain.SideImport} {
			if b.SideNetwork(side) != adapter.Network() || b.SideAddr(side) == "" {
				continue
			}
			if err := adapter.Watch(ctx, b.SideAddr(side), side); err != nil {
				return err
			}
		}
		if err := e.registerAssistants(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// registerAssistants records configured vaults serving one of this bridge's
// side contracts. Idempotent: vaults already on record are left untouched.
func (e *Engine) registerAssistants(ctx context.Context, b *domain.Bridge) error {
	for _, seed := range e.opts.Assistants {
		var side domain.Side
		switch {
		case seed.BridgeAddr != "" && seed.BridgeAddr == b.ExportAddr:
			side = domain.SideExport
		case seed.BridgeAddr != "" && seed.BridgeAddr == b.ImportAddr:
			side = domain.SideImport
		default:
			continue
		}
		if seed.Network != b.SideNetwork(side) {
			continue
		}

		_, err := e.opts.Stores.Assistants.GetByAddr(ctx, seed.Network, seed.Addr)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("load assistant %s: %w", seed.Addr, err)
		}

		now := e.opts.Now()
		a := &domain.PooledAssistant{
			BridgeID:           b.ID,
			Network:            seed.Network,
			Addr:               seed.Addr,
			Side:               side,
			ManagerAddress:     seed.ManagerAddress,
			ManagementFee10000: seed.ManagementFee10000,
			SuccessFee10000:    seed.SuccessFee10000,
			SharesSupply:       new(big.Int),
			MF:                 domain.NewAssetAmounts(),
			Profit:             domain.NewAssetAmounts(),
			BalanceInWork:      domain.NewAssetAmounts(),
			Ts:                 now,
			CreatedAt:          now,
		}
		if err := e.opts.Stores.Assistants.Insert(ctx, a); err != nil {
			return fmt.Errorf("register assistant %s: %w", seed.Addr, err)
		}
		e.opts.Logger.Printf("[recon] assistant vault %s serves bridge %d %s side", seed.Addr, b.ID, side)
	}
	return nil
}

// Apply applies one event under its network's Event lock. Safe to call from
// any goroutine.
func (e *Engine) Apply(ctx context.Context, ev domain.Event) {
	network := ev.EventNetwork()
	release, err := e.locks.Lock(ctx, EventLockName(network))
	if err != nil {
		return
	}
	defer release()

	if err := e.applyLocked(ctx, ev, !e.isCaughtUp(network)); err != nil {
		e.opts.Metrics.EventErrors.WithLabelValues(network).Inc()
		e.opts.Logger.Printf("[recon] %s: apply %s: %v", network, eventKind(ev), err)
	}

	// History rescans replay old events; never walk the watermark backwards.
	if block := ev.EventBlock(); block > 0 {
		last, err := e.opts.Stores.LastBlocks.Get(ctx, network)
		if (err == nil && block > last) || errors.Is(err, storage.ErrNotFound) {
			if err := e.opts.Stores.LastBlocks.Set(ctx, network, block); err != nil {
				e.opts.Logger.Printf("[recon] %s: save last block: %v", network, err)
			}
			e.opts.Metrics.CatchupLastBlock.WithLabelValues(network).Set(float64(block))
		}
	}
}

func (e *Engine) setCaughtUp(network string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.caughtUp[network] = true
}

func (e *Engine) isCaughtUp(network string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.caughtUp[network]
}

func eventKind(ev domain.Event) string {
	if rec := domain.FlattenEvent(ev); rec != nil {
		return rec.Kind
	}
	return "unknown"
}

// runSweeper periodically re-examines unfinished claims: triggering
// withdrawal once the challenging period ends and we hold a winning stake,
// and re-arming match rechecks lost across restarts.
func (e *Engine) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := e.sweepExpiredClaims(ctx); err != nil {
			e.opts.Logger.Printf("[recon] sweep: %v", err)
		}
	}
}
