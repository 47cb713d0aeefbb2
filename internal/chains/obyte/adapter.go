package obyte

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"counterstake-watchdog/internal/chains"
	"counterstake-watchdog/internal/domain"
)

// Options configures the base-ledger adapter. The adapter speaks JSON-RPC
// over WebSocket to a companion node daemon that holds the wallet.
type Options struct {
	// Network is the network name, e.g. "Obyte".
	Network string

	// WSURL is the node daemon endpoint.
	WSURL string

	// MinTransferAge is how old a transfer must be before counterparty
	// chains treat it as final. The ledger has no reorgs past stability,
	// so this only covers the stabilization lag.
	MinTransferAge time.Duration

	Client *ClientConfig
	Retry  chains.RetryConfig
	Logger *log.Logger
}

// Adapter implements chains.Adapter for a DAG-based base ledger. Block
// numbers map to main chain indexes (MCI); txids are 44-character base64
// unit hashes.
type Adapter struct {
	opts   Options
	client *Client
	logger *log.Logger
	myAddr string

	// watched tracks bridge AAs registered with the daemon, replayed on
	// reconnect.
	watchedMu sync.Mutex
	watched   map[string]domain.Side
}

var _ chains.Adapter = (*Adapter)(nil)

// New connects to the node daemon and reads the wallet address.
func New(ctx context.Context, opts Options) (*Adapter, error) {
	if opts.Network == "" {
		opts.Network = "Obyte"
	}
	if opts.MinTransferAge == 0 {
		opts.MinTransferAge = 10 * time.Minute
	}
	if opts.Retry == (chains.RetryConfig{}) {
		opts.Retry = chains.DefaultRetryConfig()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	client, err := NewClient(ctx, opts.WSURL, opts.Client)
	if err != nil {
		return nil, fmt.Errorf("connect %s daemon: %w", opts.Network, err)
	}

	var addr struct {
		Address string `json:"address"`
	}
	if err := client.Call(ctx, "my_address", nil, &addr); err != nil {
		client.Close()
		return nil, fmt.Errorf("read wallet address: %w", err)
	}

	a := &Adapter{
		opts:    opts,
		client:  client,
		logger:  opts.Logger,
		myAddr:  addr.Address,
		watched: make(map[string]domain.Side),
	}
	client.SetOnReconnect(a.rewatch)
	return a, nil
}

// Network implements chains.Adapter.
func (a *Adapter) Network() string { return a.opts.Network }

// MyAddress implements chains.Adapter.
func (a *Adapter) MyAddress() string { return a.myAddr }

// Close implements chains.Adapter.
func (a *Adapter) Close() error { return a.client.Close() }

// Watch registers a bridge AA with the daemon so its events are delivered.
func (a *Adapter) Watch(ctx context.Context, bridgeAddr string, side domain.Side) error {
	a.watchedMu.Lock()
	a.watched[bridgeAddr] = side
	a.watchedMu.Unlock()

	return a.client.Call(ctx, "watch", map[string]interface{}{
		"bridge": bridgeAddr,
		"side":   string(side),
	}, nil)
}

// rewatch re-registers every watched bridge after a reconnect.
func (a *Adapter) rewatch() {
	a.watchedMu.Lock()
	watched := make(map[string]domain.Side, len(a.watched))
	for addr, side := range a.watched {
		watched[addr] = side
	}
	a.watchedMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for addr, side := range watched {
		err := a.client.Call(ctx, "watch", map[string]interface{}{
			"bridge": addr,
			"side":   string(side),
		}, nil)
		if err != nil {
			a.logger.Printf("[%s] rewatch %s: %v", a.opts.Network, addr, err)
		}
	}
}

func (a *Adapter) sideOf(bridgeAddr string) domain.Side {
	a.watchedMu.Lock()
	defer a.watchedMu.Unlock()
	return a.watched[bridgeAddr]
}

// IsValidAddress implements chains.Adapter: base58 payload of 20 to 25 bytes.
func (a *Adapter) IsValidAddress(addr string) bool {
	if addr == "" {
		return false
	}
	raw, err := base58.Decode(addr)
	if err != nil {
		return false
	}
	return len(raw) >= 20 && len(raw) <= 25
}

// IsValidTxid implements chains.Adapter: 44-character base64 unit hash.
func (a *Adapter) IsValidTxid(txid string) bool {
	if len(txid) != 44 || !strings.HasSuffix(txid, "=") {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(txid)
	return err == nil
}

// IsValidData implements chains.Adapter.
func (a *Adapter) IsValidData(data string) bool {
	return data == "" || json.Valid([]byte(data))
}

// GetMinTransferAge implements chains.Adapter.
func (a *Adapter) GetMinTransferAge() time.Duration { return a.opts.MinTransferAge }

// CurrentBlock implements chains.Adapter: the last stable main chain index.
func (a *Adapter) CurrentBlock(ctx context.Context) (uint64, error) {
	var out struct {
		MCI uint64 `json:"mci"`
	}
	err := chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		return a.client.Call(ctx, "get_last_mci", nil, &out)
	})
	return out.MCI, err
}

// GetLastStableTimestamp implements chains.Adapter.
func (a *Adapter) GetLastStableTimestamp(ctx context.Context) (int64, error) {
	var out struct {
		Ts int64 `json:"ts"`
	}
	err := chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		return a.client.Call(ctx, "get_last_stable_ts", nil, &out)
	})
	return out.Ts, err
}

// GetBalance implements chains.Adapter. Empty asset means the native coin.
func (a *Adapter) GetBalance(ctx context.Context, address, asset string) (*big.Int, error) {
	if asset == "" {
		asset = "base"
	}
	var out struct {
		Balance string `json:"balance"`
	}
	err := chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		return a.client.Call(ctx, "get_balance", map[string]string{
			"address": address,
			"asset":   asset,
		}, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", address, err)
	}
	return parseBig(out.Balance)
}

// GetMyBalance implements chains.Adapter.
func (a *Adapter) GetMyBalance(ctx context.Context, asset string) (*big.Int, error) {
	return a.GetBalance(ctx, a.myAddr, asset)
}

// GetRequiredStake implements chains.Adapter.
func (a *Adapter) GetRequiredStake(ctx context.Context, bridgeAddr string, amount *big.Int) (*big.Int, error) {
	var out struct {
		Stake string `json:"stake"`
	}
	err := chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		return a.client.Call(ctx, "get_required_stake", map[string]string{
			"bridge": bridgeAddr,
			"amount": amount.String(),
		}, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("required stake on %s: %w", bridgeAddr, err)
	}
	return parseBig(out.Stake)
}

type bridgeParamsRecord struct {
	CounterstakeCoef100     int64   `json:"counterstake_coef100"`
	Ratio100                int64   `json:"ratio100"`
	MinStake                string  `json:"min_stake"`
	LargeThreshold          string  `json:"large_threshold"`
	ChallengingPeriods      []int64 `json:"challenging_periods"`
	LargeChallengingPeriods []int64 `json:"large_challenging_periods"`
	MinTxAge                int64   `json:"min_tx_age"`
	Decimals                int     `json:"decimals"`
}

// GetBridgeParams implements chains.Adapter: reads the bridge AA's
// counterstake parameters and asset decimals from the daemon.
func (a *Adapter) GetBridgeParams(ctx context.Context, bridgeAddr string, _ domain.Side) (*domain.BridgeParams, int, error) {
	var rec bridgeParamsRecord
	err := chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		return a.client.Call(ctx, "get_bridge_params", map[string]string{
			"bridge": bridgeAddr,
		}, &rec)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("bridge params of %s: %w", bridgeAddr, err)
	}

	minStake, err := parseBig(rec.MinStake)
	if err != nil {
		return nil, 0, err
	}
	largeThreshold, err := parseBig(rec.LargeThreshold)
	if err != nil {
		return nil, 0, err
	}
	return &domain.BridgeParams{
		CounterstakeCoef100:     rec.CounterstakeCoef100,
		Ratio100:                rec.Ratio100,
		MinStake:                minStake,
		LargeThreshold:          largeThreshold,
		ChallengingPeriods:      rec.ChallengingPeriods,
		LargeChallengingPeriods: rec.LargeChallengingPeriods,
		MinTxAge:                rec.MinTxAge,
	}, rec.Decimals, nil
}

type claimRecord struct {
	ClaimNum        int64  `json:"claim_num"`
	Amount          string `json:"amount"`
	Reward          string `json:"reward"`
	SenderAddress   string `json:"sender_address"`
	RecipientAddr   string `json:"recipient_address"`
	ClaimantAddress string `json:"claimant_address"`
	Data            string `json:"data"`
	Txid            string `json:"txid"`
	Txts            int64  `json:"txts"`
	Ts              int64  `json:"ts"`
	ExpiryTs        int64  `json:"expiry_ts"`
	PeriodNumber    int    `json:"period_number"`
	CurrentOutcome  string `json:"current_outcome"`
	IsLarge         bool   `json:"is_large"`
	Withdrawn       bool   `json:"withdrawn"`
	Finished        bool   `json:"finished"`
	YesStake        string `json:"yes_stake"`
	NoStake         string `json:"no_stake"`
	Target          string `json:"challenging_target"`
}

// GetClaim implements chains.Adapter.
func (a *Adapter) GetClaim(ctx context.Context, bridgeAddr string, claimNum int64) (*domain.Claim, error) {
	var rec *claimRecord
	err := chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		return a.client.Call(ctx, "get_claim", map[string]interface{}{
			"bridge":    bridgeAddr,
			"claim_num": claimNum,
		}, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("read claim %d on %s: %w", claimNum, bridgeAddr, err)
	}
	if rec == nil {
		return nil, chains.ErrClaimNotFound
	}

	amount, err := parseBig(rec.Amount)
	if err != nil {
		return nil, err
	}
	reward, err := parseBig(rec.Reward)
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
	target, err := parseBig(rec.Target)
	if err != nil {
		return nil, err
	}

	return &domain.Claim{
		Type:              claimedType(a.sideOf(bridgeAddr)),
		ClaimNum:          rec.ClaimNum,
		Amount:            amount,
		Reward:            reward,
		SenderAddress:     rec.SenderAddress,
		DestAddress:       rec.RecipientAddr,
		ClaimantAddress:   rec.ClaimantAddress,
		Data:              rec.Data,
		Txid:              rec.Txid,
		Txts:              rec.Txts,
		Ts:                rec.Ts,
		ExpiryTs:          rec.ExpiryTs,
		PeriodNumber:      rec.PeriodNumber,
		CurrentOutcome:    domain.Outcome(rec.CurrentOutcome),
		IsLarge:           rec.IsLarge,
		Withdrawn:         rec.Withdrawn,
		Finished:          rec.Finished,
		YesStake:          yes,
		NoStake:           no,
		ChallengingTarget: target,
	}, nil
}

// claimedType returns the transfer type settled by claims on the given side.
func claimedType(side domain.Side) domain.TransferType {
	if side == domain.SideImport {
		return domain.TransferExpatriation
	}
	return domain.TransferRepatriation
}

type sendResult struct {
	Unit  string `json:"unit"`
	Error string `json:"error"`
}

func (a *Adapter) send(ctx context.Context, method string, params interface{}) (string, error) {
	var out sendResult
	if err := a.client.Call(ctx, method, params, &out); err != nil {
		return "", fmt.Errorf("%s: %w", method, err)
	}
	if out.Error != "" {
		if strings.Contains(strings.ToLower(out.Error), "already claimed") {
			return "", chains.ErrAlreadyClaimed
		}
		return "", fmt.Errorf("%s rejected: %s", method, out.Error)
	}
	return out.Unit, nil
}

// SendClaim implements chains.Adapter.
func (a *Adapter) SendClaim(ctx context.Context, req *chains.ClaimRequest) (string, error) {
	return a.send(ctx, "send_claim", map[string]interface{}{
		"bridge":            req.BridgeAddr,
		"txid":              req.Txid,
		"txts":              req.Txts,
		"amount":            req.Amount.String(),
		"reward":            req.Reward.String(),
		"stake":             req.Stake.String(),
		"sender_address":    req.Sender,
		"recipient_address": req.Recipient,
		"data":              req.Data,
	})
}

// SendChallenge implements chains.Adapter.
func (a *Adapter) SendChallenge(ctx context.Context, req *chains.ChallengeRequest) (string, error) {
	return a.send(ctx, "send_challenge", map[string]interface{}{
		"bridge":    req.BridgeAddr,
		"claim_num": req.ClaimNum,
		"stake_on":  string(req.StakeOn),
		"stake":     req.Stake.String(),
	})
}

// SendWithdrawalRequest implements chains.Adapter.
func (a *Adapter) SendWithdrawalRequest(ctx context.Context, bridgeAddr string, claimNum int64) (string, error) {
	return a.send(ctx, "send_withdrawal", map[string]interface{}{
		"bridge":    bridgeAddr,
		"claim_num": claimNum,
	})
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return v, nil
}
