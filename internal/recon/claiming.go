package recon

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"counterstake-watchdog/internal/chains"
	"counterstake-watchdog/internal/claimhash"
	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage"
)

const rewardRatioScale = 10000

// destAsset returns the asset paid out on a bridge side: the minted image
// asset on the import side, the released home asset on the export side.
func destAsset(b *domain.Bridge, side domain.Side) string {
	if side == domain.SideImport {
		return b.ForeignAsset
	}
	return b.HomeAsset
}

func transferSubject(id int64) string {
	return fmt.Sprintf("transfer %d", id)
}

// maybeClaimTransfer claims a transfer on the sender's behalf when the posted
// reward covers the watchdog's costs. Economic rejections are counted and
// skipped, never retried blindly; only a too-young transfer earns a scheduled
// retry. Caller holds the source network's Event lock.
func (e *Engine) maybeClaimTransfer(ctx context.Context, b *domain.Bridge, t *domain.Transfer) {
	if !b.Complete() {
		return
	}
	skip := func(reason string) {
		e.opts.Metrics.RewardsSkipped.WithLabelValues(reason).Inc()
		e.opts.Logger.Printf("[recon] not claiming transfer %s: %s", t.Txid, reason)
	}

	if t.OptsOutOfClaiming() {
		skip("opt_out")
		return
	}
	if t.Reward == nil || t.Reward.Sign() == 0 {
		skip("no_reward")
		return
	}
	if !rewardMeetsRatio(t.Reward, t.Amount, e.opts.MinRewardRatio10000) {
		skip("reward_too_small")
		return
	}

	side := t.Type.ClaimSide()
	dstNetwork := b.DestNetwork(t.Type)
	dst, err := e.opts.Registry.Get(dstNetwork)
	if err != nil {
		e.opts.Logger.Printf("[recon] claim transfer %s: %v", t.Txid, err)
		return
	}
	if !dst.IsValidAddress(t.DestAddress) {
		skip("invalid_dest_address")
		return
	}
	if !dst.IsValidData(t.Data) {
		skip("invalid_data")
		return
	}

	srcDec, dstDec := b.SourceDecimals(t.Type), b.DestDecimals(t.Type)
	amountDest, ok := domain.ConvertScale(t.Amount, srcDec, dstDec)
	if !ok {
		skip("amount_precision_loss")
		return
	}
	rewardDest, ok := domain.ConvertScale(t.Reward, srcDec, dstDec)
	if !ok {
		skip("reward_precision_loss")
		return
	}

	// The source chain must consider the transfer final before we stake on it.
	if wait := e.transferMaturity(ctx, b.SourceNetwork(t.Type), t.Txts); wait > 0 {
		transferID, bridgeID := t.ID, b.ID
		e.recheck.Schedule(transferSubject(t.ID), reasonYoungTransfer, wait, func() {
			e.retryClaimTransfer(bridgeID, transferID)
		})
		return
	}

	hash, err := claimhash.Compute(claimhash.Input{
		SenderAddress: t.SenderAddress,
		DestAddress:   t.DestAddress,
		Txid:          t.Txid,
		Txts:          t.Txts,
		Amount:        amountDest,
		Reward:        rewardDest,
		Data:          t.Data,
	})
	if err != nil {
		skip("unhashable_data")
		return
	}
	if _, err := e.opts.Stores.Claims.GetByClaimHash(ctx, b.ID, t.Type, hash); err == nil {
		return // already claimed, by us or anyone
	} else if !errors.Is(err, storage.ErrNotFound) {
		e.opts.Logger.Printf("[recon] claim transfer %s: hash lookup: %v", t.Txid, err)
		return
	}

	if reason, ok := e.rewardCoversGas(ctx, b, side, dstNetwork, amountDest, rewardDest); !ok {
		skip(reason)
		return
	}

	stake, err := dst.GetRequiredStake(ctx, b.SideAddr(side), amountDest)
	if err != nil {
		e.opts.Logger.Printf("[recon] claim transfer %s: required stake: %v", t.Txid, err)
		return
	}

	// The claimant fronts the recipient's payout alongside the stake.
	paid := new(big.Int).Sub(amountDest, rewardDest)
	f, lockAmts, ok := e.claimFunding(ctx, dst, b, side, stake, paid)
	if !ok {
		skip("insufficient_balance")
		return
	}

	release, err := e.locks.Lock(ctx, TxLockName(dstNetwork))
	if err != nil {
		return
	}
	txid, err := dst.SendClaim(ctx, &chains.ClaimRequest{
		BridgeAddr: b.SideAddr(side),
		Side:       side,
		Txid:       t.Txid,
		Txts:       t.Txts,
		Amount:     amountDest,
		Reward:     rewardDest,
		Stake:      stake,
		Sender:     t.SenderAddress,
		Recipient:  t.DestAddress,
		Data:       t.Data,
	})
	release()

	if errors.Is(err, chains.ErrAlreadyClaimed) {
		// Somebody beat us to it and we missed the event; rescan.
		e.rescanBridge(dst, b.SideAddr(side))
		return
	}
	if err != nil {
		e.opts.Logger.Printf("[recon] claim transfer %s: submit: %v", t.Txid, err)
		return
	}

	e.opts.Metrics.ClaimsSubmitted.WithLabelValues(dstNetwork).Inc()
	e.opts.Logger.Printf("[recon] claimed transfer %s on %s for reward %s (tx %s)",
		t.Txid, dstNetwork, rewardDest, txid)

	if f.vault != nil {
		e.opts.Vaults.LockInWork(f.vault, f.gross, lockAmts)
		if err := e.opts.Stores.Assistants.Update(ctx, f.vault); err != nil {
			e.opts.Logger.Printf("[recon] update vault after claim: %v", err)
		}
	}
}

// rewardMeetsRatio reports whether reward*1e4 >= ratio*amount.
func rewardMeetsRatio(reward, amount *big.Int, ratio10000 int64) bool {
	lhs := new(big.Int).Mul(reward, big.NewInt(rewardRatioScale))
	rhs := new(big.Int).Mul(amount, big.NewInt(ratio10000))
	return lhs.Cmp(rhs) >= 0
}

// rewardCoversGas checks that the reward net of the estimated claim gas cost
// still meets the minimum ratio of the claimed amount, both in destination
// units. A missing exchange rate means "do not claim", never "assume free".
func (e *Engine) rewardCoversGas(ctx context.Context, b *domain.Bridge, side domain.Side, dstNetwork string, amountDest, rewardDest *big.Int) (string, bool) {
	gasNative := e.opts.GasCost[dstNetwork]
	if gasNative == nil || gasNative.Sign() == 0 {
		return "", true
	}

	rate, err := e.opts.Rates.FetchExchangeRate(ctx, dstNetwork, destAsset(b, side), dstNetwork, "")
	if err != nil || rate == nil {
		return "no_exchange_rate", false
	}

	gasDest := new(big.Int).Mul(gasNative, rate.Num())
	gasDest.Quo(gasDest, rate.Denom())

	net := new(big.Int).Sub(rewardDest, gasDest)
	if net.Sign() <= 0 || !rewardMeetsRatio(net, amountDest, e.opts.MinRewardRatio10000) {
		return "reward_below_gas", false
	}
	return "", true
}

// claimFunding selects capital for a claim needing stake plus the fronted
// payout. Returns the funding source and the amounts to lock in the vault
// ledger.
func (e *Engine) claimFunding(ctx context.Context, adapter chains.Adapter, b *domain.Bridge, side domain.Side, stake, paid *big.Int) (*funding, domain.AssetAmounts, bool) {
	lock := domain.NewAssetAmounts()
	need := new(big.Int).Set(stake)
	if side == domain.SideImport {
		lock.Stake.Set(stake)
		lock.Image.Set(paid)
	} else {
		// Export side pays out in the stake asset itself.
		need.Add(need, paid)
		lock.Stake.Set(need)
	}

	f, err := e.pickFunding(ctx, adapter, b, side, need)
	if err != nil {
		e.opts.Logger.Printf("[recon] claim funding: %v", err)
		return nil, lock, false
	}
	if f.available.Cmp(need) < 0 {
		return nil, lock, false
	}

	if f.vault != nil && side == domain.SideImport {
		if e.opts.Vaults.Available(f.vault, f.gross).Image.Cmp(paid) < 0 {
			return nil, lock, false
		}
	} else if side == domain.SideImport {
		own, err := adapter.GetMyBalance(ctx, b.ForeignAsset)
		if err != nil || own.Cmp(paid) < 0 {
			return nil, lock, false
		}
	}
	return f, lock, true
}

// transferMaturity returns how long until a transfer timestamped txts clears
// the network's finality window, or zero if it already has.
func (e *Engine) transferMaturity(ctx context.Context, network string, txts int64) time.Duration {
	adapter, err := e.opts.Registry.Get(network)
	if err != nil {
		return e.opts.SweepInterval
	}
	minAge := int64(adapter.GetMinTransferAge() / time.Second)
	stable, err := adapter.GetLastStableTimestamp(ctx)
	if err != nil {
		stable = e.opts.Now()
	}
	matureAt := txts + minAge
	if stable >= matureAt {
		return 0
	}
	return time.Duration(matureAt-stable) * time.Second
}

// retryClaimTransfer re-attempts a claim after a maturity wait, re-reading
// state under the source network's Event lock.
func (e *Engine) retryClaimTransfer(bridgeID, transferID int64) {
	ctx := e.backgroundCtx()

	b, err := e.opts.Stores.Bridges.GetByID(ctx, bridgeID)
	if err != nil {
		e.opts.Logger.Printf("[recon] retry claim: %v", err)
		return
	}
	t, err := e.opts.Stores.Transfers.GetByID(ctx, transferID)
	if err != nil {
		e.opts.Logger.Printf("[recon] retry claim: %v", err)
		return
	}
	if !t.IsConfirmed {
		return
	}

	release, err := e.locks.Lock(ctx, EventLockName(b.SourceNetwork(t.Type)))
	if err != nil {
		return
	}
	defer release()
	e.maybeClaimTransfer(ctx, b, t)
}

// rescanBridge re-fetches recent history of a bridge contract off the event
// loop, feeding anything missed back through normal application.
func (e *Engine) rescanBridge(adapter chains.Adapter, bridgeAddr string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx := e.backgroundCtx()
		err := adapter.RefreshHistory(ctx, bridgeAddr, func(ev domain.Event) error {
			e.Apply(ctx, ev)
			return nil
		})
		if err != nil {
			e.opts.Logger.Printf("[recon] rescan %s: %v", bridgeAddr, err)
		}
	}()
}
