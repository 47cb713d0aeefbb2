package recon

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"counterstake-watchdog/internal/claimstate"
	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage"
)

// sweepExpiredClaims walks open claims and triggers withdrawal for those
// whose challenging period ended with our stake on the winning side.
func (e *Engine) sweepExpiredClaims(ctx context.Context) error {
	claims, err := e.opts.Stores.Claims.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("list open claims: %w", err)
	}

	for _, c := range claims {
		if c.Withdrawn || e.opts.Now() <= c.ExpiryTs {
			continue
		}
		b, err := e.opts.Stores.Bridges.GetByID(ctx, c.BridgeID)
		if err != nil {
			e.opts.Logger.Printf("[recon] sweep claim %d: %v", c.ClaimNum, err)
			continue
		}
		if err := e.withdrawIfWinning(ctx, b, c); err != nil {
			e.opts.Logger.Printf("[recon] sweep claim %d: %v", c.ClaimNum, err)
		}
	}
	return nil
}

// withdrawIfWinning submits a withdrawal request for an expired claim when we
// hold winning stake. State is re-read under the Event lock before acting.
func (e *Engine) withdrawIfWinning(ctx context.Context, b *domain.Bridge, c *domain.Claim) error {
	side := c.Type.ClaimSide()
	network := b.SideNetwork(side)

	adapter, err := e.opts.Registry.Get(network)
	if err != nil {
		return err
	}

	release, err := e.locks.Lock(ctx, EventLockName(network))
	if err != nil {
		return err
	}
	defer release()

	c, err = e.opts.Stores.Claims.GetByKey(ctx, c.BridgeID, c.Type, c.ClaimNum)
	if err != nil {
		return err
	}
	if c.Finished || c.Withdrawn || e.opts.Now() <= c.ExpiryTs {
		return nil
	}

	ours, err := e.ourStakes(ctx, b, c, adapter.MyAddress())
	if err != nil {
		return err
	}
	if ours.on(c.CurrentOutcome).Sign() == 0 {
		return nil // nothing to collect
	}

	txRelease, err := e.locks.Lock(ctx, TxLockName(network))
	if err != nil {
		return err
	}
	txid, err := adapter.SendWithdrawalRequest(ctx, b.SideAddr(side), c.ClaimNum)
	txRelease()
	if err != nil {
		return fmt.Errorf("send withdrawal: %w", err)
	}

	c.Withdrawn = true
	if err := e.opts.Stores.Claims.Update(ctx, c); err != nil {
		return fmt.Errorf("mark withdrawn: %w", err)
	}
	e.opts.Metrics.WithdrawalsSubmitted.WithLabelValues(network).Inc()
	e.opts.Logger.Printf("[recon] withdrawal requested for claim %d on %s (tx %s)", c.ClaimNum, network, txid)
	return nil
}

// stakeTally is our accumulated stake per outcome on one claim, split between
// the watchdog's own address and the vault. The initial claimant stake counts
// toward yes.
type stakeTally struct {
	yes, no           *big.Int
	vaultYes, vaultNo *big.Int
}

func (s stakeTally) on(o domain.Outcome) *big.Int {
	total := new(big.Int).Add(s.yes, s.vaultYes)
	if o == domain.OutcomeYes {
		return total
	}
	return total.Add(s.no, s.vaultNo)
}

func (s stakeTally) vaultOn(o domain.Outcome) *big.Int {
	if o == domain.OutcomeYes {
		return s.vaultYes
	}
	return s.vaultNo
}

// ourStakes reconstructs how much we and our vault have at stake on each
// outcome from the challenge log plus the implicit claimant stake.
func (e *Engine) ourStakes(ctx context.Context, b *domain.Bridge, c *domain.Claim, myAddr string) (stakeTally, error) {
	tally := stakeTally{
		yes: new(big.Int), no: new(big.Int),
		vaultYes: new(big.Int), vaultNo: new(big.Int),
	}

	vaultAddr := ""
	vault, err := e.opts.Stores.Assistants.GetByBridgeSide(ctx, b.ID, c.Type.ClaimSide())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return tally, fmt.Errorf("load vault: %w", err)
	}
	if vault != nil {
		vaultAddr = vault.Addr
	}

	challenges, err := e.opts.Stores.Challenges.ListByClaim(ctx, c.BridgeID, c.Type, c.ClaimNum)
	if err != nil {
		return tally, fmt.Errorf("list challenges: %w", err)
	}

	challengedYes := new(big.Int)
	for _, ch := range challenges {
		if ch.StakeOn == domain.OutcomeYes {
			challengedYes.Add(challengedYes, ch.Stake)
		}
		var bucket *big.Int
		switch {
		case ch.Address == myAddr && ch.StakeOn == domain.OutcomeYes:
			bucket = tally.yes
		case ch.Address == myAddr:
			bucket = tally.no
		case vaultAddr != "" && ch.Address == vaultAddr && ch.StakeOn == domain.OutcomeYes:
			bucket = tally.vaultYes
		case vaultAddr != "" && ch.Address == vaultAddr:
			bucket = tally.vaultNo
		default:
			continue
		}
		bucket.Add(bucket, ch.Stake)
	}

	// The claimant's opening stake is whatever of the yes tally no
	// challenge accounts for.
	if c.ClaimantAddress == myAddr || (vaultAddr != "" && c.ClaimantAddress == vaultAddr) {
		opening := new(big.Int).Sub(c.YesStake, challengedYes)
		if opening.Sign() > 0 {
			if c.ClaimantAddress == myAddr {
				tally.yes.Add(tally.yes, opening)
			} else {
				tally.vaultYes.Add(tally.vaultYes, opening)
			}
		}
	}
	return tally, nil
}

// settleVault books a finished claim into the assistant vault's accounting:
// winning stake returns with its share of the losing pool as profit, losing
// stake is written off, and a won claim of ours additionally realizes the
// reward.
func (e *Engine) settleVault(ctx context.Context, b *domain.Bridge, c *domain.Claim, outcome domain.Outcome) error {
	side := c.Type.ClaimSide()

	vault, err := e.opts.Stores.Assistants.GetByBridgeSide(ctx, b.ID, side)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load vault: %w", err)
	}

	adapter, err := e.opts.Registry.Get(b.SideNetwork(side))
	if err != nil {
		return err
	}

	tally, err := e.ourStakes(ctx, b, c, adapter.MyAddress())
	if err != nil {
		return err
	}
	won := tally.vaultOn(outcome)
	lost := tally.vaultOn(outcome.Opposite())
	vaultClaimed := c.ClaimantAddress == vault.Addr
	if won.Sign() == 0 && lost.Sign() == 0 {
		return nil
	}

	gross := domain.NewAssetAmounts()
	gross.Stake, err = adapter.GetBalance(ctx, vault.Addr, stakeAsset(b, side))
	if err != nil {
		return fmt.Errorf("vault stake balance: %w", err)
	}
	if side == domain.SideImport {
		gross.Image, err = adapter.GetBalance(ctx, vault.Addr, b.ForeignAsset)
		if err != nil {
			return fmt.Errorf("vault image balance: %w", err)
		}
	}

	// The payout the claimant fronted to the recipient at claim time.
	fronted := new(big.Int)
	if vaultClaimed && c.Reward != nil && c.Reward.Sign() >= 0 {
		fronted.Sub(c.Amount, c.Reward)
	}

	if lost.Sign() > 0 {
		lostAmts := domain.AssetAmounts{Stake: lost, Image: new(big.Int)}
		if vaultClaimed && outcome == domain.OutcomeNo {
			if side == domain.SideImport {
				lostAmts.Image = fronted
			} else {
				lostAmts.Stake = new(big.Int).Add(lost, fronted)
			}
		}
		e.opts.Vaults.RecordLoss(vault, gross, lostAmts)
	}

	if won.Sign() > 0 {
		payout, err := claimstate.WithdrawalAmount(c, won, e.opts.Now())
		if err != nil {
			payout = new(big.Int).Set(won) // stake back, no winnings
		}
		released := domain.AssetAmounts{Stake: won, Image: new(big.Int)}
		profit := domain.AssetAmounts{
			Stake: new(big.Int).Sub(payout, won),
			Image: new(big.Int),
		}
		if vaultClaimed && outcome == domain.OutcomeYes {
			if side == domain.SideImport {
				released.Image = fronted
				profit.Image = new(big.Int).Set(orZero(c.Reward))
			} else {
				released.Stake = new(big.Int).Add(won, fronted)
				profit.Stake.Add(profit.Stake, orZero(c.Reward))
			}
		}
		e.opts.Vaults.RecordWin(vault, gross, released, profit)
	}

	if err := e.opts.Stores.Assistants.Update(ctx, vault); err != nil {
		return fmt.Errorf("update vault: %w", err)
	}
	return nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
