package recon

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"counterstake-watchdog/internal/chains"
	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage"
)

// stakeAsset returns the asset counterstakes are paid in on a bridge side.
// The export side stakes the home asset itself; the import side stakes the
// destination chain's native collateral.
func stakeAsset(b *domain.Bridge, side domain.Side) string {
	if side == domain.SideExport {
		return b.HomeAsset
	}
	return ""
}

// funding describes where the capital for a claim or counterstake comes from.
type funding struct {
	vault     *domain.PooledAssistant // nil when staking the watchdog's own funds
	gross     domain.AssetAmounts     // vault gross balances at decision time
	available *big.Int                // spendable stake-asset balance
}

// pickFunding selects the capital source for a stake of size need: the pooled
// assistant vault when its free balance covers it, the watchdog's own balance
// otherwise.
func (e *Engine) pickFunding(ctx context.Context, adapter chains.Adapter, b *domain.Bridge, side domain.Side, need *big.Int) (*funding, error) {
	asset := stakeAsset(b, side)

	vault, err := e.opts.Stores.Assistants.GetByBridgeSide(ctx, b.ID, side)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load vault: %w", err)
	}

	if vault != nil {
		gross := domain.NewAssetAmounts()
		gross.Stake, err = adapter.GetBalance(ctx, vault.Addr, asset)
		if err != nil {
			return nil, fmt.Errorf("vault stake balance: %w", err)
		}
		if side == domain.SideImport {
			gross.Image, err = adapter.GetBalance(ctx, vault.Addr, b.ForeignAsset)
			if err != nil {
				return nil, fmt.Errorf("vault image balance: %w", err)
			}
		}
		avail := e.opts.Vaults.Available(vault, gross).Stake
		if avail.Cmp(need) >= 0 {
			return &funding{vault: vault, gross: gross, available: avail}, nil
		}
	}

	own, err := adapter.GetMyBalance(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("own balance: %w", err)
	}
	return &funding{available: own}, nil
}

// defendIfNeeded counterstakes a claim whose on-chain outcome currently
// contradicts the locally derived valid outcome. A no-op while the verdict is
// unknown, once the challenging period ended, or when the valid side already
// meets the challenging target.
func (e *Engine) defendIfNeeded(ctx context.Context, b *domain.Bridge, c *domain.Claim) {
	key := claimKey{bridgeID: c.BridgeID, typ: c.Type, claimNum: c.ClaimNum}

	valid, known := e.verdict(ctx, b, c, key)
	if !known || c.Finished || c.CurrentOutcome == valid {
		return
	}
	if e.opts.Now() > c.ExpiryTs {
		e.opts.Logger.Printf("[recon] %s: challenging period over, cannot defend", key)
		return
	}

	required := new(big.Int).Sub(c.ChallengingTarget, c.Stake(valid))
	if required.Sign() <= 0 {
		return
	}

	e.counterstake(ctx, b, c, key, valid, required)
}

// counterstake submits a challenge of up to required on the given outcome,
// capped by the exposure limit on the funding source's free balance.
func (e *Engine) counterstake(ctx context.Context, b *domain.Bridge, c *domain.Claim, key claimKey, on domain.Outcome, required *big.Int) {
	side := c.Type.ClaimSide()
	network := b.SideNetwork(side)

	adapter, err := e.opts.Registry.Get(network)
	if err != nil {
		e.opts.Logger.Printf("[recon] %s: defend: %v", key, err)
		return
	}

	f, err := e.pickFunding(ctx, adapter, b, side, required)
	if err != nil {
		e.opts.Logger.Printf("[recon] %s: defend: %v", key, err)
		return
	}

	maxStake := new(big.Int).Mul(f.available, big.NewInt(e.opts.MaxExposure100))
	maxStake.Quo(maxStake, big.NewInt(100))

	stake := new(big.Int).Set(required)
	if stake.Cmp(maxStake) > 0 {
		stake.Set(maxStake)
	}
	if stake.Sign() <= 0 {
		e.alert(ctx, "cannot defend claim",
			fmt.Sprintf("%s on %s needs %s but no capital is available", key, network, required))
		return
	}
	if stake.Cmp(required) < 0 {
		e.opts.Metrics.PartialDefenses.Inc()
		e.alert(ctx, "partial defense",
			fmt.Sprintf("%s on %s: staking %s of required %s (exposure cap)", key, network, stake, required))
	}

	release, err := e.locks.Lock(ctx, TxLockName(network))
	if err != nil {
		return
	}
	txid, err := adapter.SendChallenge(ctx, &chains.ChallengeRequest{
		BridgeAddr: b.SideAddr(side),
		ClaimNum:   c.ClaimNum,
		StakeOn:    on,
		Stake:      stake,
	})
	release()
	if err != nil {
		e.opts.Logger.Printf("[recon] %s: send challenge: %v", key, err)
		return
	}

	e.opts.Metrics.ChallengesSubmitted.WithLabelValues(network).Inc()
	e.opts.Logger.Printf("[recon] %s: counterstaked %s on %s (tx %s)", key, stake, on, txid)

	if f.vault != nil {
		e.opts.Vaults.LockInWork(f.vault, f.gross, domain.AssetAmounts{Stake: stake, Image: new(big.Int)})
		if err := e.opts.Stores.Assistants.Update(ctx, f.vault); err != nil {
			e.opts.Logger.Printf("[recon] %s: update vault: %v", key, err)
		}
	}
}
