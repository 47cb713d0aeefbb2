package recon

import (
	"context"
	"fmt"
	"time"

	"counterstake-watchdog/internal/claimhash"
	"counterstake-watchdog/internal/domain"
)

// matchTransfer finds the transfer backing a claim: exact equality on
// (bridge, type, txid, txts, sender, dest) and data, then amount and reward
// equality after normalizing the source and destination decimal scales. A
// mismatch after normalization, including sub-unit precision loss, never
// matches.
func (e *Engine) matchTransfer(ctx context.Context, b *domain.Bridge, c *domain.Claim) (*domain.Transfer, error) {
	candidates, err := e.opts.Stores.Transfers.FindCandidates(ctx, b.ID, c.Type, c.Txid, c.Txts)
	if err != nil {
		return nil, fmt.Errorf("find transfer candidates: %w", err)
	}

	srcDec := b.SourceDecimals(c.Type)
	dstDec := b.DestDecimals(c.Type)

	for _, t := range candidates {
		if t.SenderAddress != c.SenderAddress || t.DestAddress != c.DestAddress {
			continue
		}
		if !sameData(t.Data, c.Data) {
			continue
		}
		if !domain.SameAfterScaling(t.Amount, srcDec, c.Amount, dstDec) {
			continue
		}
		if !domain.SameAfterScaling(t.Reward, srcDec, c.Reward, dstDec) {
			continue
		}
		return t, nil
	}
	return nil, nil
}

// sameData compares two data payloads after JSON canonicalization, so the
// source chain's serialization quirks do not break matching.
func sameData(a, b string) bool {
	if a == b {
		return true
	}
	ca, errA := claimhash.CanonicalJSON(a)
	cb, errB := claimhash.CanonicalJSON(b)
	if errA != nil || errB != nil {
		return false
	}
	return ca == cb
}

// evaluateClaim decides what to do about a claim made by somebody else.
// Caller holds the claim's network Event lock.
//
// A confirmed matching transfer makes the claim valid; we defend its yes
// outcome if somebody challenges it. A missing transfer is given every
// benefit of the doubt first: the backlog replay may not have reached it,
// the transfer may be too young to have been observed, or the source chain's
// history may need a forced refresh. Only when all of those are exhausted is
// the claim judged fraudulent and counterstaked.
func (e *Engine) evaluateClaim(ctx context.Context, b *domain.Bridge, c *domain.Claim, catchingUp bool) {
	key := claimKey{bridgeID: c.BridgeID, typ: c.Type, claimNum: c.ClaimNum}

	t, err := e.matchTransfer(ctx, b, c)
	if err != nil {
		e.opts.Logger.Printf("[recon] %s: match: %v", key, err)
		return
	}

	if t != nil && t.IsConfirmed {
		e.mu.Lock()
		delete(e.pending, key)
		delete(e.fraud, key)
		e.mu.Unlock()
		e.defendIfNeeded(ctx, b, c)
		return
	}

	e.mu.Lock()
	p := e.pending[key]
	if p == nil {
		p = &pendingClaim{}
		e.pending[key] = p
	}
	refreshed := p.refreshed
	reorgDeadline := p.reorgDeadline
	e.mu.Unlock()

	now := e.opts.Now()

	// A known but retracted transfer: wait out the recheck timeout before
	// calling it fraud, the chain may reorganize back.
	if t != nil && !t.IsConfirmed {
		if reorgDeadline == 0 {
			e.mu.Lock()
			p.reorgDeadline = now + int64(e.opts.RecheckTimeout/time.Second)
			e.mu.Unlock()
			e.recheck.Schedule(key.String(), reasonReorg, e.opts.RecheckTimeout, func() {
				e.reevaluateClaim(key)
			})
			return
		}
		if now < reorgDeadline {
			return
		}
		e.judgeFraud(ctx, b, c, key, "backing transfer retracted and never re-confirmed")
		return
	}

	if catchingUp {
		e.recheck.Schedule(key.String(), reasonCatchingUp, e.opts.SweepInterval, func() {
			e.reevaluateClaim(key)
		})
		return
	}

	// The transfer may be too recent for the source chain's finality window.
	if wait := e.transferMaturity(ctx, b.SourceNetwork(c.Type), c.Txts); wait > 0 {
		e.recheck.Schedule(key.String(), reasonYoungTransfer, wait, func() {
			e.reevaluateClaim(key)
		})
		return
	}

	if !refreshed {
		e.mu.Lock()
		p.refreshed = true
		e.mu.Unlock()
		e.refreshSourceHistory(b, c, key)
		return
	}

	e.judgeFraud(ctx, b, c, key, "no matching transfer on the source chain")
}

// refreshSourceHistory forces a one-off re-fetch of the source chain's recent
// events for the bridge, then re-evaluates the claim. Runs off the event loop
// so the source network's Event lock is taken with no other lock held.
func (e *Engine) refreshSourceHistory(b *domain.Bridge, c *domain.Claim, key claimKey) {
	srcNetwork := b.SourceNetwork(c.Type)
	srcSide := domain.SideExport
	if c.Type == domain.TransferRepatriation {
		srcSide = domain.SideImport
	}
	srcAddr := b.SideAddr(srcSide)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx := e.backgroundCtx()

		adapter, err := e.opts.Registry.Get(srcNetwork)
		if err != nil {
			e.opts.Logger.Printf("[recon] %s: refresh history: %v", key, err)
			e.reevaluateClaim(key)
			return
		}
		e.opts.Logger.Printf("[recon] %s: refreshing %s history for %s", key, srcNetwork, srcAddr)
		err = adapter.RefreshHistory(ctx, srcAddr, func(ev domain.Event) error {
			e.Apply(ctx, ev)
			return nil
		})
		if err != nil {
			e.opts.Logger.Printf("[recon] %s: refresh history: %v", key, err)
		}
		e.reevaluateClaim(key)
	}()
}

// reevaluateClaim reloads a claim and runs the evaluation again under its
// network's Event lock. Entry point for every delayed recheck.
func (e *Engine) reevaluateClaim(key claimKey) {
	ctx := e.backgroundCtx()

	c, err := e.opts.Stores.Claims.GetByKey(ctx, key.bridgeID, key.typ, key.claimNum)
	if err != nil {
		e.opts.Logger.Printf("[recon] %s: recheck: %v", key, err)
		return
	}
	if c.Finished {
		return
	}
	b, err := e.opts.Stores.Bridges.GetByID(ctx, key.bridgeID)
	if err != nil {
		e.opts.Logger.Printf("[recon] %s: recheck: %v", key, err)
		return
	}

	network := b.DestNetwork(c.Type)
	release, err := e.locks.Lock(ctx, EventLockName(network))
	if err != nil {
		return
	}
	defer release()

	// State may have moved while the recheck waited; re-read before acting.
	c, err = e.opts.Stores.Claims.GetByKey(ctx, key.bridgeID, key.typ, key.claimNum)
	if err != nil || c.Finished {
		return
	}
	e.evaluateClaim(ctx, b, c, !e.isCaughtUp(network))
}

// judgeFraud marks a claim fraudulent, alerts and counterstakes it.
func (e *Engine) judgeFraud(ctx context.Context, b *domain.Bridge, c *domain.Claim, key claimKey, why string) {
	e.mu.Lock()
	already := e.fraud[key]
	e.fraud[key] = true
	delete(e.pending, key)
	e.mu.Unlock()

	if !already {
		network := b.DestNetwork(c.Type)
		e.opts.Metrics.FraudDetected.WithLabelValues(network).Inc()
		e.alert(ctx, "fraudulent claim detected",
			fmt.Sprintf("%s on %s: %s (txid %s, amount %s, claimant %s)",
				key, network, why, c.Txid, c.Amount, c.ClaimantAddress))
	}
	e.defendIfNeeded(ctx, b, c)
}
