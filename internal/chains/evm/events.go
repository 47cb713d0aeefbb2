package evm

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"counterstake-watchdog/internal/chains"
	"counterstake-watchdog/internal/domain"
)

// blockTime fetches a header timestamp, memoized for the catch-up replay.
func (a *Adapter) blockTime(ctx context.Context, number uint64) (int64, error) {
	a.blockTimesMu.Lock()
	if ts, ok := a.blockTimes[number]; ok {
		a.blockTimesMu.Unlock()
		return ts, nil
	}
	a.blockTimesMu.Unlock()

	var ts int64
	err := chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		header, err := a.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return err
		}
		ts = int64(header.Time)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("header %d: %w", number, err)
	}

	a.blockTimesMu.Lock()
	if len(a.blockTimes) > 4096 {
		a.blockTimes = make(map[uint64]int64)
	}
	a.blockTimes[number] = ts
	a.blockTimesMu.Unlock()
	return ts, nil
}

// decodeLog converts one contract log into a domain event. Logs from unknown
// contracts or with unknown topics decode to nil without error.
func (a *Adapter) decodeLog(ctx context.Context, l *types.Log) (domain.Event, error) {
	if len(l.Topics) == 0 || l.Removed {
		return nil, nil
	}

	ts, err := a.blockTime(ctx, l.BlockNumber)
	if err != nil {
		return nil, err
	}

	meta := domain.EventMeta{
		Network:     a.opts.Network,
		BridgeAddr:  l.Address.Hex(),
		BlockNumber: l.BlockNumber,
		EventTxid:   l.TxHash.Hex(),
		Timestamp:   ts,
	}

	topic := l.Topics[0]

	if ev, err := a.decodeFactoryLog(meta, topic, l.Data); ev != nil || err != nil {
		return ev, err
	}

	side, watched := a.sideOf(l.Address)
	if !watched {
		return nil, nil
	}

	switch topic {
	case bridgeABI.Events["NewExpatriation"].ID:
		var out struct {
			SenderAddress  common.Address `abi:"sender_address"`
			Amount         *big.Int
			Reward         *big.Int
			ForeignAddress string `abi:"foreign_address"`
			Data           string
		}
		if err := unpackEvent(&out, "NewExpatriation", l.Data); err != nil {
			return nil, err
		}
		return &domain.TransferSeen{
			EventMeta: meta,
			Type:      domain.TransferExpatriation,
			Sender:    hexAddr(out.SenderAddress),
			Dest:      out.ForeignAddress,
			Amount:    out.Amount,
			Reward:    out.Reward,
			Data:      out.Data,
			Txts:      ts,
		}, nil

	case bridgeABI.Events["NewRepatriation"].ID:
		var out struct {
			SenderAddress common.Address `abi:"sender_address"`
			Amount        *big.Int
			Reward        *big.Int
			HomeAddress   string `abi:"home_address"`
			Data          string
		}
		if err := unpackEvent(&out, "NewRepatriation", l.Data); err != nil {
			return nil, err
		}
		return &domain.TransferSeen{
			EventMeta: meta,
			Type:      domain.TransferRepatriation,
			Sender:    hexAddr(out.SenderAddress),
			Dest:      out.HomeAddress,
			Amount:    out.Amount,
			Reward:    out.Reward,
			Data:      out.Data,
			Txts:      ts,
		}, nil

	case bridgeABI.Events["NewClaim"].ID:
		var out struct {
			ClaimNum         *big.Int       `abi:"claim_num"`
			AuthorAddress    common.Address `abi:"author_address"`
			SenderAddress    string         `abi:"sender_address"`
			RecipientAddress common.Address `abi:"recipient_address"`
			Txid             string
			Txts             uint32
			Amount           *big.Int
			Reward           *big.Int
			Stake            *big.Int
			Data             string
			ExpiryTs         uint32 `abi:"expiry_ts"`
		}
		if err := unpackEvent(&out, "NewClaim", l.Data); err != nil {
			return nil, err
		}
		return &domain.ClaimOpened{
			EventMeta: meta,
			Type:      claimedType(side),
			ClaimNum:  out.ClaimNum.Int64(),
			Author:    hexAddr(out.AuthorAddress),
			Sender:    out.SenderAddress,
			Recipient: hexAddr(out.RecipientAddress),
			Txid:      out.Txid,
			Txts:      int64(out.Txts),
			Amount:    out.Amount,
			Reward:    out.Reward,
			Stake:     out.Stake,
			Data:      out.Data,
			ExpiryTs:  int64(out.ExpiryTs),
		}, nil

	case bridgeABI.Events["NewChallenge"].ID:
		var out struct {
			ClaimNum          *big.Int       `abi:"claim_num"`
			AuthorAddress     common.Address `abi:"author_address"`
			Stake             *big.Int
			Outcome           uint8
			CurrentOutcome    uint8    `abi:"current_outcome"`
			YesStake          *big.Int `abi:"yes_stake"`
			NoStake           *big.Int `abi:"no_stake"`
			ExpiryTs          uint32   `abi:"expiry_ts"`
			ChallengingTarget *big.Int `abi:"challenging_target"`
		}
		if err := unpackEvent(&out, "NewChallenge", l.Data); err != nil {
			return nil, err
		}
		return &domain.ClaimChallenged{
			EventMeta:         meta,
			Type:              claimedType(side),
			ClaimNum:          out.ClaimNum.Int64(),
			Author:            hexAddr(out.AuthorAddress),
			Stake:             out.Stake,
			StakeOn:           outcomeFromUint8(out.Outcome),
			CurrentOutcome:    outcomeFromUint8(out.CurrentOutcome),
			YesStake:          out.YesStake,
			NoStake:           out.NoStake,
			ExpiryTs:          int64(out.ExpiryTs),
			ChallengingTarget: out.ChallengingTarget,
		}, nil

	case bridgeABI.Events["FinishedClaim"].ID:
		var out struct {
			ClaimNum *big.Int `abi:"claim_num"`
			Outcome  uint8
		}
		if err := unpackEvent(&out, "FinishedClaim", l.Data); err != nil {
			return nil, err
		}
		return &domain.ClaimFinished{
			EventMeta: meta,
			Type:      claimedType(side),
			ClaimNum:  out.ClaimNum.Int64(),
			Outcome:   outcomeFromUint8(out.Outcome),
		}, nil
	}

	return nil, nil
}

func (a *Adapter) decodeFactoryLog(meta domain.EventMeta, topic common.Hash, data []byte) (domain.Event, error) {
	switch topic {
	case factoryABI.Events["NewExport"].ID:
		var out struct {
			ContractAddress common.Address
			TokenAddress    common.Address
			ForeignNetwork  string `abi:"foreign_network"`
			ForeignAsset    string `abi:"foreign_asset"`
		}
		if err := factoryABI.UnpackIntoInterface(&out, "NewExport", data); err != nil {
			return nil, fmt.Errorf("decode NewExport: %w", err)
		}
		meta.BridgeAddr = hexAddr(out.ContractAddress)
		return &domain.BridgeSideDiscovered{
			EventMeta:      meta,
			Side:           domain.SideExport,
			HomeNetwork:    a.opts.Network,
			HomeAsset:      hexAddr(out.TokenAddress),
			ForeignNetwork: out.ForeignNetwork,
			ForeignAsset:   out.ForeignAsset,
		}, nil

	case factoryABI.Events["NewImport"].ID:
		var out struct {
			ContractAddress   common.Address
			HomeNetwork       string `abi:"home_network"`
			HomeAsset         string `abi:"home_asset"`
			Symbol            string
			StakeTokenAddress common.Address
		}
		if err := factoryABI.UnpackIntoInterface(&out, "NewImport", data); err != nil {
			return nil, fmt.Errorf("decode NewImport: %w", err)
		}
		meta.BridgeAddr = hexAddr(out.ContractAddress)
		return &domain.BridgeSideDiscovered{
			EventMeta:      meta,
			Side:           domain.SideImport,
			HomeNetwork:    out.HomeNetwork,
			HomeAsset:      out.HomeAsset,
			ForeignNetwork: a.opts.Network,
			ForeignAsset:   hexAddr(out.ContractAddress),
		}, nil
	}

	return nil, nil
}

func unpackEvent(out interface{}, name string, data []byte) error {
	if err := bridgeABI.UnpackIntoInterface(out, name, data); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func hexAddr(a common.Address) string {
	return a.Hex()
}

// CatchUp implements chains.Adapter. Replays logs from fromBlock to the head
// in bounded windows, in increasing block order.
func (a *Adapter) CatchUp(ctx context.Context, fromBlock uint64, sink func(domain.Event) error) (uint64, error) {
	head, err := a.CurrentBlock(ctx)
	if err != nil {
		return 0, err
	}
	if fromBlock > head {
		return head, nil
	}

	addrs := a.filterAddresses()
	if len(addrs) == 0 {
		return head, nil
	}

	for from := fromBlock; from <= head; from += a.opts.MaxBlockRange {
		to := from + a.opts.MaxBlockRange - 1
		if to > head {
			to = head
		}

		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: addrs,
		}

		var logs []types.Log
		err := chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
			ls, err := a.client.FilterLogs(ctx, query)
			if err != nil {
				return err
			}
			logs = ls
			return nil
		})
		if err != nil {
			return from, fmt.Errorf("filter logs %d-%d on %s: %w", from, to, a.opts.Network, err)
		}

		sort.Slice(logs, func(i, j int) bool {
			if logs[i].BlockNumber != logs[j].BlockNumber {
				return logs[i].BlockNumber < logs[j].BlockNumber
			}
			return logs[i].Index < logs[j].Index
		})

		for i := range logs {
			ev, err := a.decodeLog(ctx, &logs[i])
			if err != nil {
				return from, err
			}
			if ev == nil {
				continue
			}
			if err := sink(ev); err != nil {
				return from, err
			}
		}
	}

	return head, nil
}

// Subscribe implements chains.Adapter. Uses a live log subscription over the
// WS endpoint, falling back to head polling when no WS endpoint is
// configured. The subscription is re-established on error.
func (a *Adapter) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	out := make(chan domain.Event, 1024)

	if a.ws == nil {
		go a.pollLoop(ctx, out)
		return out, nil
	}

	go a.subscribeLoop(ctx, out)
	return out, nil
}

func (a *Adapter) subscribeLoop(ctx context.Context, out chan<- domain.Event) {
	defer close(out)

	delay := a.opts.Retry.RetryDelay

	for {
		if ctx.Err() != nil {
			return
		}

		logs := make(chan types.Log, 1024)
		query := ethereum.FilterQuery{Addresses: a.filterAddresses()}
		sub, err := a.ws.SubscribeFilterLogs(ctx, query, logs)
		if err != nil {
			a.opts.Logger.Printf("[%s] subscribe logs: %v, retrying in %s", a.opts.Network, err, delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > a.opts.Retry.MaxDelay {
				delay = a.opts.Retry.MaxDelay
			}
			continue
		}
		delay = a.opts.Retry.RetryDelay

	recv:
		for {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			case err := <-sub.Err():
				a.opts.Logger.Printf("[%s] log subscription dropped: %v", a.opts.Network, err)
				sub.Unsubscribe()
				break recv
			case l := <-logs:
				ev, err := a.decodeLog(ctx, &l)
				if err != nil {
					a.opts.Logger.Printf("[%s] decode live log: %v", a.opts.Network, err)
					continue
				}
				if ev == nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					sub.Unsubscribe()
					return
				}
			}
		}
	}
}

// pollLoop approximates a subscription by re-filtering new blocks over HTTP.
func (a *Adapter) pollLoop(ctx context.Context, out chan<- domain.Event) {
	defer close(out)

	last, err := a.CurrentBlock(ctx)
	if err != nil {
		a.opts.Logger.Printf("[%s] poll init: %v", a.opts.Network, err)
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		head, err := a.CurrentBlock(ctx)
		if err != nil || head <= last {
			continue
		}

		_, err = a.CatchUp(ctx, last+1, func(ev domain.Event) error {
			select {
			case out <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			a.opts.Logger.Printf("[%s] poll window: %v", a.opts.Network, err)
			continue
		}
		last = head
	}
}

// RefreshHistory implements chains.Adapter: re-scans the most recent bounded
// window for one bridge address. Used when a claim references a transfer
// never seen locally.
func (a *Adapter) RefreshHistory(ctx context.Context, bridgeAddr string, sink func(domain.Event) error) error {
	head, err := a.CurrentBlock(ctx)
	if err != nil {
		return err
	}

	from := uint64(0)
	if head > a.opts.MaxBlockRange {
		from = head - a.opts.MaxBlockRange
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: a.filterAddresses(),
	}

	var logs []types.Log
	err = chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		ls, err := a.client.FilterLogs(ctx, query)
		if err != nil {
			return err
		}
		logs = ls
		return nil
	})
	if err != nil {
		return fmt.Errorf("refresh history of %s: %w", bridgeAddr, err)
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	for i := range logs {
		ev, err := a.decodeLog(ctx, &logs[i])
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
