package recon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"counterstake-watchdog/internal/claimhash"
	"counterstake-watchdog/internal/claimstate"
	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage"
)

// applyLocked applies one event. Caller holds the network's Event lock.
func (e *Engine) applyLocked(ctx context.Context, ev domain.Event, catchingUp bool) error {
	if e.opts.Archive != nil {
		e.opts.Archive.Offer(ev)
	}
	e.opts.Metrics.EventsProcessed.WithLabelValues(ev.EventNetwork(), eventKind(ev)).Inc()

	switch x := ev.(type) {
	case *domain.BridgeSideDiscovered:
		return e.onBridgeSide(ctx, x)
	case *domain.TransferSeen:
		return e.onTransferSeen(ctx, x, catchingUp)
	case *domain.TransferRetracted:
		return e.onTransferRetracted(ctx, x)
	case *domain.ClaimOpened:
		return e.onClaimOpened(ctx, x, catchingUp)
	case *domain.ClaimChallenged:
		return e.onClaimChallenged(ctx, x)
	case *domain.ClaimFinished:
		return e.onClaimFinished(ctx, x)
	default:
		return fmt.Errorf("unhandled event type %T", ev)
	}
}

// bridgeForEvent resolves the bridge owning the emitting contract.
func (e *Engine) bridgeForEvent(ctx context.Context, network, addr string) (*domain.Bridge, domain.Side, error) {
	b, side, err := e.opts.Stores.Bridges.GetBySideAddr(ctx, network, addr)
	if err != nil {
		return nil, "", fmt.Errorf("bridge for %s on %s: %w", addr, network, err)
	}
	return b, side, nil
}

// onBridgeSide records a newly deployed bridge contract, pairing it with the
// opposite side when that was discovered first.
func (e *Engine) onBridgeSide(ctx context.Context, ev *domain.BridgeSideDiscovered) error {
	adapter, err := e.opts.Registry.Get(ev.Network)
	if err != nil {
		return err
	}

	// Deployment announcements carry the route and addresses only; the
	// side's counterstake parameters and decimals live on the chain.
	if ev.Params == nil {
		params, decimals, err := adapter.GetBridgeParams(ctx, ev.BridgeAddr, ev.Side)
		if err != nil {
			return fmt.Errorf("bridge params of %s: %w", ev.BridgeAddr, err)
		}
		ev.Params = params
		if ev.Decimals == 0 {
			ev.Decimals = decimals
		}
	}

	b, err := e.opts.Stores.Bridges.GetByRoute(ctx, ev.HomeNetwork, ev.HomeAsset, ev.ForeignNetwork, ev.ForeignAsset)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		b = &domain.Bridge{
			HomeNetwork:    ev.HomeNetwork,
			HomeAsset:      ev.HomeAsset,
			ForeignNetwork: ev.ForeignNetwork,
			ForeignAsset:   ev.ForeignAsset,
			CreatedAt:      e.opts.Now(),
		}
		e.fillBridgeSide(b, ev)
		if err := e.opts.Stores.Bridges.Insert(ctx, b); err != nil {
			return fmt.Errorf("insert bridge: %w", err)
		}
	case err != nil:
		return fmt.Errorf("load bridge route: %w", err)
	default:
		e.fillBridgeSide(b, ev)
		if err := e.opts.Stores.Bridges.Update(ctx, b); err != nil {
			return fmt.Errorf("update bridge: %w", err)
		}
	}

	if b.Complete() {
		e.opts.Logger.Printf("[recon] bridge %d complete: %s/%s <-> %s/%s",
			b.ID, b.HomeNetwork, b.HomeAsset, b.ForeignNetwork, b.ForeignAsset)
	}

	if err := e.registerAssistants(ctx, b); err != nil {
		return err
	}
	return adapter.Watch(ctx, ev.BridgeAddr, ev.Side)
}

func (e *Engine) fillBridgeSide(b *domain.Bridge, ev *domain.BridgeSideDiscovered) {
	if ev.Side == domain.SideExport {
		b.ExportAddr = ev.BridgeAddr
		b.HomeDecimals = ev.Decimals
		b.ExportParams = ev.Params
		return
	}
	b.ImportAddr = ev.BridgeAddr
	b.ForeignDecimals = ev.Decimals
	b.ImportParams = ev.Params
}

// onTransferSeen records a transfer intent observed on a source chain, wakes
// any claims waiting for it, and considers claiming it for the reward.
func (e *Engine) onTransferSeen(ctx context.Context, ev *domain.TransferSeen, catchingUp bool) error {
	b, _, err := e.bridgeForEvent(ctx, ev.Network, ev.BridgeAddr)
	if err != nil {
		return err
	}

	t := &domain.Transfer{
		BridgeID:      b.ID,
		Type:          ev.Type,
		Amount:        ev.Amount,
		Reward:        ev.Reward,
		SenderAddress: ev.Sender,
		DestAddress:   ev.Dest,
		Data:          ev.Data,
		Txid:          ev.EventTxid,
		Txts:          ev.Txts,
		CreatedAt:     e.opts.Now(),
	}
	row, created, err := e.opts.Stores.Transfers.Upsert(ctx, t)
	if err != nil {
		return fmt.Errorf("record transfer: %w", err)
	}
	if !created {
		e.opts.Logger.Printf("[recon] transfer %s re-confirmed on bridge %d", row.Txid, b.ID)
	}

	e.wakeClaimsWaitingFor(ctx, b.ID, row.Type, row.Txid, row.Txts)

	// Claim attempts are suppressed during the backlog replay: the sweep of
	// historical transfers must not stampede the destination chain.
	if catchingUp {
		return nil
	}
	e.maybeClaimTransfer(ctx, b, row)
	return nil
}

// wakeClaimsWaitingFor fires pending rechecks of claims that were waiting for
// this transfer to appear or re-confirm.
func (e *Engine) wakeClaimsWaitingFor(ctx context.Context, bridgeID int64, typ domain.TransferType, txid string, txts int64) {
	e.mu.Lock()
	keys := make([]claimKey, 0, len(e.pending))
	for key := range e.pending {
		if key.bridgeID == bridgeID && key.typ == typ {
			keys = append(keys, key)
		}
	}
	e.mu.Unlock()

	for _, key := range keys {
		c, err := e.opts.Stores.Claims.GetByKey(ctx, key.bridgeID, key.typ, key.claimNum)
		if err != nil || c.Txid != txid || c.Txts != txts {
			continue
		}
		for _, reason := range []string{reasonYoungTransfer, reasonCatchingUp, reasonReorg} {
			e.recheck.Fire(key.String(), reason)
		}
	}
}

// onTransferRetracted clears the confirmation flag of transfers removed by a
// reorg. Claims already recorded against them keep the benefit of the doubt
// until the recheck timeout passes without a re-confirmation.
func (e *Engine) onTransferRetracted(ctx context.Context, ev *domain.TransferRetracted) error {
	b, _, err := e.bridgeForEvent(ctx, ev.Network, ev.BridgeAddr)
	if err != nil {
		return err
	}

	rows, err := e.opts.Stores.Transfers.FindByTxid(ctx, b.ID, ev.Type, ev.Txid)
	if err != nil {
		return fmt.Errorf("find retracted transfers: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if !row.IsConfirmed {
			continue
		}
		if err := e.opts.Stores.Transfers.SetConfirmed(ctx, row.ID, false); err != nil {
			return fmt.Errorf("unconfirm transfer %d: %w", row.ID, err)
		}
		e.opts.Logger.Printf("[recon] transfer %s retracted on %s, rechecking claims in %s",
			row.Txid, ev.Network, e.opts.RecheckTimeout)
	}

	return e.scheduleReorgRechecks(ctx, b, ev.Type, ev.Txid)
}

// scheduleReorgRechecks arms a delayed re-examination of every open claim
// backed by the retracted transfer.
func (e *Engine) scheduleReorgRechecks(ctx context.Context, b *domain.Bridge, typ domain.TransferType, txid string) error {
	claims, err := e.opts.Stores.Claims.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("list open claims: %w", err)
	}
	deadline := e.opts.Now() + int64(e.opts.RecheckTimeout/time.Second)
	for _, c := range claims {
		if c.BridgeID != b.ID || c.Type != typ || c.Txid != txid {
			continue
		}
		key := claimKey{bridgeID: c.BridgeID, typ: c.Type, claimNum: c.ClaimNum}

		e.mu.Lock()
		p := e.pending[key]
		if p == nil {
			p = &pendingClaim{}
			e.pending[key] = p
		}
		p.reorgDeadline = deadline
		e.mu.Unlock()

		e.recheck.Schedule(key.String(), reasonReorg, e.opts.RecheckTimeout, func() {
			e.reevaluateClaim(key)
		})
	}
	return nil
}

// onClaimOpened records a claim observed on a destination chain and starts
// evaluating it against known transfers.
func (e *Engine) onClaimOpened(ctx context.Context, ev *domain.ClaimOpened, catchingUp bool) error {
	b, side, err := e.bridgeForEvent(ctx, ev.Network, ev.BridgeAddr)
	if err != nil {
		return err
	}
	params := b.SideParams(side)
	if params == nil {
		return fmt.Errorf("bridge %d side %s has no parameters", b.ID, side)
	}

	hash, err := claimhash.Compute(claimhash.Input{
		SenderAddress: ev.Sender,
		DestAddress:   ev.Recipient,
		Txid:          ev.Txid,
		Txts:          ev.Txts,
		Amount:        ev.Amount,
		Reward:        ev.Reward,
		Data:          ev.Data,
	})
	if err != nil {
		return fmt.Errorf("claim %d hash: %w", ev.ClaimNum, err)
	}

	c := &domain.Claim{
		BridgeID:        b.ID,
		Type:            ev.Type,
		ClaimNum:        ev.ClaimNum,
		Amount:          ev.Amount,
		Reward:          ev.Reward,
		SenderAddress:   ev.Sender,
		DestAddress:     ev.Recipient,
		ClaimantAddress: ev.Author,
		Data:            ev.Data,
		Txid:            ev.Txid,
		Txts:            ev.Txts,
		ClaimHash:       hash,
		CreatedAt:       e.opts.Now(),
	}
	claimstate.Open(c, params, ev.Stake, ev.Timestamp)
	if ev.ExpiryTs > 0 {
		// The contract's own expiry is authoritative.
		c.ExpiryTs = ev.ExpiryTs
	}

	if err := e.opts.Stores.Claims.Insert(ctx, c); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil // catch-up overlap replay
		}
		return fmt.Errorf("insert claim: %w", err)
	}

	adapter, err := e.opts.Registry.Get(ev.Network)
	if err == nil && ev.Author == adapter.MyAddress() {
		return nil // our own claim, matched by construction
	}

	e.evaluateClaim(ctx, b, c, catchingUp)
	return nil
}

// onClaimChallenged records a counterstake and re-checks whether the claim
// still needs defending.
func (e *Engine) onClaimChallenged(ctx context.Context, ev *domain.ClaimChallenged) error {
	b, _, err := e.bridgeForEvent(ctx, ev.Network, ev.BridgeAddr)
	if err != nil {
		return err
	}
	c, err := e.opts.Stores.Claims.GetByKey(ctx, b.ID, ev.Type, ev.ClaimNum)
	if err != nil {
		return fmt.Errorf("challenged claim %d: %w", ev.ClaimNum, err)
	}

	ch := &domain.Challenge{
		BridgeID: b.ID,
		Type:     ev.Type,
		ClaimNum: ev.ClaimNum,
		Address:  ev.Author,
		StakeOn:  ev.StakeOn,
		Stake:    ev.Stake,
		Txid:     ev.EventTxid,
		Ts:       ev.Timestamp,
	}
	if err := e.opts.Stores.Challenges.Insert(ctx, ch); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("insert challenge: %w", err)
	}

	// The chain's post-challenge tallies are authoritative.
	flipped := c.CurrentOutcome != ev.CurrentOutcome
	c.YesStake = ev.YesStake
	c.NoStake = ev.NoStake
	c.CurrentOutcome = ev.CurrentOutcome
	c.ChallengingTarget = ev.ChallengingTarget
	if ev.ExpiryTs > 0 {
		c.ExpiryTs = ev.ExpiryTs
	}
	if flipped {
		c.PeriodNumber++
		c.Ts = ev.Timestamp
	}
	if err := e.opts.Stores.Claims.Update(ctx, c); err != nil {
		return fmt.Errorf("update claim: %w", err)
	}

	e.defendIfNeeded(ctx, b, c)
	return nil
}

// onClaimFinished closes a claim, reports outcome divergence and settles the
// assistant vault's position if it had stake on the claim.
func (e *Engine) onClaimFinished(ctx context.Context, ev *domain.ClaimFinished) error {
	b, _, err := e.bridgeForEvent(ctx, ev.Network, ev.BridgeAddr)
	if err != nil {
		return err
	}
	c, err := e.opts.Stores.Claims.GetByKey(ctx, b.ID, ev.Type, ev.ClaimNum)
	if err != nil {
		return fmt.Errorf("finished claim %d: %w", ev.ClaimNum, err)
	}
	if c.Finished {
		return nil
	}

	key := claimKey{bridgeID: c.BridgeID, typ: c.Type, claimNum: c.ClaimNum}
	if verdict, known := e.verdict(ctx, b, c, key); known && verdict != ev.Outcome {
		e.opts.Metrics.OutcomeDivergences.Inc()
		e.alert(ctx, "claim outcome divergence",
			fmt.Sprintf("%s resolved %s on chain but %s locally (txid %s, amount %s)",
				key, ev.Outcome, verdict, c.Txid, c.Amount))
	}

	c.Finished = true
	c.CurrentOutcome = ev.Outcome
	if err := e.opts.Stores.Claims.Update(ctx, c); err != nil {
		return fmt.Errorf("update claim: %w", err)
	}

	if err := e.settleVault(ctx, b, c, ev.Outcome); err != nil {
		e.opts.Logger.Printf("[recon] settle vault for %s: %v", key, err)
	}

	e.mu.Lock()
	delete(e.pending, key)
	delete(e.fraud, key)
	e.mu.Unlock()
	return nil
}

// verdict returns the locally derived valid outcome of a claim: yes when a
// confirmed matching transfer exists, no when the claim was judged
// fraudulent, unknown otherwise.
func (e *Engine) verdict(ctx context.Context, b *domain.Bridge, c *domain.Claim, key claimKey) (domain.Outcome, bool) {
	if t, err := e.matchTransfer(ctx, b, c); err == nil && t != nil && t.IsConfirmed {
		return domain.OutcomeYes, true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fraud[key] {
		return domain.OutcomeNo, true
	}
	return "", false
}

// alert notifies the operator and counts it.
func (e *Engine) alert(ctx context.Context, subject, body string) {
	e.opts.Metrics.AdminAlerts.Inc()
	e.opts.Notifier.NotifyAdmin(ctx, subject, body)
}

// backgroundCtx is the context for timer-driven work.
func (e *Engine) backgroundCtx() context.Context {
	if e.ctx != nil {
		return e.ctx
	}
	return context.Background()
}
