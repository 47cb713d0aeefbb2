package obyte

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"counterstake-watchdog/internal/chains"
	"counterstake-watchdog/internal/domain"
)

// eventRecord is the wire shape of one daemon-reported protocol event.
// Kind-specific fields are simply absent for other kinds.
type eventRecord struct {
	Kind   string `json:"kind"`
	MCI    uint64 `json:"mci"`
	Ts     int64  `json:"ts"`
	Bridge string `json:"bridge"`
	Unit   string `json:"unit"`

	Sender string `json:"sender_address,omitempty"`
	Dest   string `json:"dest_address,omitempty"`
	Amount string `json:"amount,omitempty"`
	Reward string `json:"reward,omitempty"`
	Data   string `json:"data,omitempty"`
	Txid   string `json:"txid,omitempty"`
	Txts   int64  `json:"txts,omitempty"`

	ClaimNum          int64  `json:"claim_num,omitempty"`
	Author            string `json:"author_address,omitempty"`
	Stake             string `json:"stake,omitempty"`
	StakeOn           string `json:"stake_on,omitempty"`
	CurrentOutcome    string `json:"current_outcome,omitempty"`
	YesStake          string `json:"yes_stake,omitempty"`
	NoStake           string `json:"no_stake,omitempty"`
	ExpiryTs          int64  `json:"expiry_ts,omitempty"`
	ChallengingTarget string `json:"challenging_target,omitempty"`
	Outcome           string `json:"outcome,omitempty"`

	Side           string `json:"side,omitempty"`
	HomeNetwork    string `json:"home_network,omitempty"`
	HomeAsset      string `json:"home_asset,omitempty"`
	ForeignNetwork string `json:"foreign_network,omitempty"`
	ForeignAsset   string `json:"foreign_asset,omitempty"`
	Decimals       int    `json:"decimals,omitempty"`
}

// Wire event kinds. Transfers on a DAG ledger can be retracted while still
// unstable, hence the dedicated retract kind.
const (
	kindTransfer  = "transfer"
	kindRetract   = "retract"
	kindClaim     = "claim"
	kindChallenge = "challenge"
	kindFinish    = "finish"
	kindNewSide   = "new_side"
)

// decodeRecord converts a wire record into a domain event. Unknown kinds
// decode to nil without error.
func (a *Adapter) decodeRecord(rec *eventRecord) (domain.Event, error) {
	meta := domain.EventMeta{
		Network:     a.opts.Network,
		BridgeAddr:  rec.Bridge,
		BlockNumber: rec.MCI,
		EventTxid:   rec.Unit,
		Timestamp:   rec.Ts,
	}
	side := a.sideOf(rec.Bridge)

	switch rec.Kind {
	case kindTransfer:
		amount, err := parseBig(rec.Amount)
		if err != nil {
			return nil, err
		}
		reward, err := parseBig(rec.Reward)
		if err != nil {
			return nil, err
		}
		return &domain.TransferSeen{
			EventMeta: meta,
			Type:      transferType(side),
			Sender:    rec.Sender,
			Dest:      rec.Dest,
			Amount:    amount,
			Reward:    reward,
			Data:      rec.Data,
			Txts:      rec.Ts,
		}, nil

	case kindRetract:
		return &domain.TransferRetracted{
			EventMeta: meta,
			Type:      transferType(side),
			Txid:      rec.Txid,
		}, nil

	case kindClaim:
		amount, err := parseBig(rec.Amount)
		if err != nil {
			return nil, err
		}
		reward, err := parseBig(rec.Reward)
		if err != nil {
			return nil, err
		}
		stake, err := parseBig(rec.Stake)
		if err != nil {
			return nil, err
		}
		return &domain.ClaimOpened{
			EventMeta: meta,
			Type:      claimedType(side),
			ClaimNum:  rec.ClaimNum,
			Author:    rec.Author,
			Sender:    rec.Sender,
			Recipient: rec.Dest,
			Txid:      rec.Txid,
			Txts:      rec.Txts,
			Amount:    amount,
			Reward:    reward,
			Stake:     stake,
			Data:      rec.Data,
			ExpiryTs:  rec.ExpiryTs,
		}, nil

	case kindChallenge:
		stake, err := parseBig(rec.Stake)
		if err != nil {
			return nil, err
		}
		yes, err := parseBig(rec.YesStake)
		if err != nil {
			return nil, err
		}
		no, err := parseBig(rec.NoStake)
		if err != nil {
			return nil, err
		}
		target, err := parseBig(rec.ChallengingTarget)
		if err != nil {
			return nil, err
		}
		return &domain.ClaimChallenged{
			EventMeta:         meta,
			Type:              claimedType(side),
			ClaimNum:          rec.ClaimNum,
			Author:            rec.Author,
			Stake:             stake,
			StakeOn:           domain.Outcome(rec.StakeOn),
			CurrentOutcome:    domain.Outcome(rec.CurrentOutcome),
			YesStake:          yes,
			NoStake:           no,
			ExpiryTs:          rec.ExpiryTs,
			ChallengingTarget: target,
		}, nil

	case kindFinish:
		return &domain.ClaimFinished{
			EventMeta: meta,
			Type:      claimedType(side),
			ClaimNum:  rec.ClaimNum,
			Outcome:   domain.Outcome(rec.Outcome),
		}, nil

	case kindNewSide:
		return &domain.BridgeSideDiscovered{
			EventMeta:      meta,
			Side:           domain.Side(rec.Side),
			HomeNetwork:    rec.HomeNetwork,
			HomeAsset:      rec.HomeAsset,
			ForeignNetwork: rec.ForeignNetwork,
			ForeignAsset:   rec.ForeignAsset,
			Decimals:       rec.Decimals,
		}, nil
	}

	return nil, nil
}

// transferType returns the type of transfers initiated on the given side.
// Transfers leave from the side opposite to where they are claimed.
func transferType(side domain.Side) domain.TransferType {
	if side == domain.SideExport {
		return domain.TransferExpatriation
	}
	return domain.TransferRepatriation
}

// CatchUp implements chains.Adapter: replays events between two main chain
// indexes in one daemon call per window.
func (a *Adapter) CatchUp(ctx context.Context, fromBlock uint64, sink func(domain.Event) error) (uint64, error) {
	head, err := a.CurrentBlock(ctx)
	if err != nil {
		return 0, err
	}
	if fromBlock > head {
		return head, nil
	}

	var records []*eventRecord
	err = chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		return a.client.Call(ctx, "get_events", map[string]uint64{
			"from_mci": fromBlock,
			"to_mci":   head,
		}, &records)
	})
	if err != nil {
		return fromBlock, fmt.Errorf("replay events %d-%d: %w", fromBlock, head, err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].MCI < records[j].MCI
	})

	for _, rec := range records {
		ev, err := a.decodeRecord(rec)
		if err != nil {
			return fromBlock, err
		}
		if ev == nil {
			continue
		}
		if err := sink(ev); err != nil {
			return fromBlock, err
		}
	}

	return head, nil
}

// Subscribe implements chains.Adapter: drains daemon push notifications.
func (a *Adapter) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	out := make(chan domain.Event, 1024)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-a.client.Notifications():
				if !ok {
					return
				}
				if n.Method != "event" {
					continue
				}
				var rec eventRecord
				if err := json.Unmarshal(n.Params, &rec); err != nil {
					a.logger.Printf("[%s] malformed event push: %v", a.opts.Network, err)
					continue
				}
				ev, err := a.decodeRecord(&rec)
				if err != nil {
					a.logger.Printf("[%s] decode event push: %v", a.opts.Network, err)
					continue
				}
				if ev == nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// RefreshHistory implements chains.Adapter: asks the daemon for the bridge
// address's own transaction history, which reaches past any bounded event
// window.
func (a *Adapter) RefreshHistory(ctx context.Context, bridgeAddr string, sink func(domain.Event) error) error {
	var records []*eventRecord
	err := chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		return a.client.Call(ctx, "get_address_history", map[string]string{
			"address": bridgeAddr,
		}, &records)
	})
	if err != nil {
		return fmt.Errorf("refresh history of %s: %w", bridgeAddr, err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].MCI < records[j].MCI
	})

	for _, rec := range records {
		ev, err := a.decodeRecord(rec)
		if err != nil {
			return err
		}
		if ev == nil {
			continue
		}
		if err := sink(ev); err != nil {
			return err
		}
	}
	return nil
}
