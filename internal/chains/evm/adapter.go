package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"counterstake-watchdog/internal/chains"
	"counterstake-watchdog/internal/domain"
)

// Options configures an EVM adapter. Zero values select defaults.
type Options struct {
	// Network is the network name, e.g. "Ethereum" or "BSC".
	Network string

	// RPCURL is the HTTP JSON-RPC endpoint used for reads and submission.
	RPCURL string

	// WSURL is the WebSocket endpoint used for live log subscriptions.
	// When empty, Subscribe falls back to head polling over HTTP.
	WSURL string

	// Signer signs outgoing transactions.
	Signer Signer

	// FactoryAddrs are bridge factory contracts watched for new bridge
	// side deployments.
	FactoryAddrs []string

	// MinTransferAge is how old a transfer on this chain must be before
	// counterparty chains treat it as final.
	MinTransferAge time.Duration

	// FinalityBlocks is the reorg-safety depth for GetLastStableTimestamp.
	FinalityBlocks uint64

	// MaxBlockRange caps eth_getLogs windows for providers that limit them.
	MaxBlockRange uint64

	// GasPriceTTL bounds how long a cached gas price is reused.
	GasPriceTTL time.Duration

	Retry  chains.RetryConfig
	Logger *log.Logger
}

func (o Options) withDefaults() Options {
	if o.MinTransferAge == 0 {
		o.MinTransferAge = 30 * time.Minute
	}
	if o.FinalityBlocks == 0 {
		o.FinalityBlocks = 20
	}
	if o.MaxBlockRange == 0 {
		o.MaxBlockRange = 10000
	}
	if o.GasPriceTTL == 0 {
		o.GasPriceTTL = time.Minute
	}
	if o.Retry == (chains.RetryConfig{}) {
		o.Retry = chains.DefaultRetryConfig()
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// Adapter implements chains.Adapter for EVM-compatible networks using
// go-ethereum.
type Adapter struct {
	opts    Options
	client  *ethclient.Client
	ws      *ethclient.Client
	chainID *big.Int

	gasPrice *chains.TTLCache[*big.Int]

	// watched maps bridge contract address to its side, which determines
	// the transfer type of claims observed there.
	watchedMu sync.RWMutex
	watched   map[common.Address]domain.Side

	// approvals remembers which (token, spender) pairs already hold an
	// unlimited allowance, to avoid an RPC round trip per submission.
	approvalsMu sync.Mutex
	approvals   map[string]bool

	// blockTimes caches header timestamps during catch-up.
	blockTimesMu sync.Mutex
	blockTimes   map[uint64]int64

	// txMu serializes nonce acquisition and submission.
	txMu sync.Mutex
}

var _ chains.Adapter = (*Adapter)(nil)

// New dials the endpoints and verifies the chain ID.
func New(ctx context.Context, opts Options) (*Adapter, error) {
	opts = opts.withDefaults()
	if opts.Network == "" {
		return nil, fmt.Errorf("network name required")
	}
	if opts.Signer == nil {
		return nil, fmt.Errorf("signer required")
	}

	client, err := ethclient.DialContext(ctx, opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", opts.Network, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain id of %s: %w", opts.Network, err)
	}

	var ws *ethclient.Client
	if opts.WSURL != "" {
		ws, err = ethclient.DialContext(ctx, opts.WSURL)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("dial %s ws: %w", opts.Network, err)
		}
	}

	return &Adapter{
		opts:       opts,
		client:     client,
		ws:         ws,
		chainID:    chainID,
		gasPrice:   chains.NewTTLCache[*big.Int](opts.GasPriceTTL),
		watched:    make(map[common.Address]domain.Side),
		approvals:  make(map[string]bool),
		blockTimes: make(map[uint64]int64),
	}, nil
}

// Network implements chains.Adapter.
func (a *Adapter) Network() string { return a.opts.Network }

// MyAddress implements chains.Adapter.
func (a *Adapter) MyAddress() string { return a.opts.Signer.Address().Hex() }

// Close implements chains.Adapter.
func (a *Adapter) Close() error {
	a.client.Close()
	if a.ws != nil {
		a.ws.Close()
	}
	return nil
}

// Watch adds a bridge contract to the event filter set.
func (a *Adapter) Watch(_ context.Context, bridgeAddr string, side domain.Side) error {
	a.watchedMu.Lock()
	defer a.watchedMu.Unlock()
	a.watched[common.HexToAddress(bridgeAddr)] = side
	return nil
}

func (a *Adapter) filterAddresses() []common.Address {
	a.watchedMu.RLock()
	defer a.watchedMu.RUnlock()

	addrs := make([]common.Address, 0, len(a.watched)+len(a.opts.FactoryAddrs))
	for addr := range a.watched {
		addrs = append(addrs, addr)
	}
	for _, f := range a.opts.FactoryAddrs {
		addrs = append(addrs, common.HexToAddress(f))
	}
	return addrs
}

func (a *Adapter) sideOf(addr common.Address) (domain.Side, bool) {
	a.watchedMu.RLock()
	defer a.watchedMu.RUnlock()
	side, ok := a.watched[addr]
	return side, ok
}

// claimedType returns the transfer type settled by claims on the given side.
// Import contracts settle expatriations, export contracts settle
// repatriations.
func claimedType(side domain.Side) domain.TransferType {
	if side == domain.SideImport {
		return domain.TransferExpatriation
	}
	return domain.TransferRepatriation
}

var (
	txidRe = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

// IsValidAddress implements chains.Adapter.
func (a *Adapter) IsValidAddress(addr string) bool {
	return common.IsHexAddress(addr)
}

// IsValidTxid implements chains.Adapter.
func (a *Adapter) IsValidTxid(txid string) bool {
	return txidRe.MatchString(txid)
}

// IsValidData implements chains.Adapter. Claim data is either empty or JSON.
func (a *Adapter) IsValidData(data string) bool {
	return data == "" || json.Valid([]byte(data))
}

// GetMinTransferAge implements chains.Adapter.
func (a *Adapter) GetMinTransferAge() time.Duration { return a.opts.MinTransferAge }

// CurrentBlock implements chains.Adapter.
func (a *Adapter) CurrentBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		n, err := a.client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		head = n
		return nil
	})
	return head, err
}

// GetLastStableTimestamp implements chains.Adapter: the timestamp of the head
// minus the finality depth.
func (a *Adapter) GetLastStableTimestamp(ctx context.Context) (int64, error) {
	head, err := a.CurrentBlock(ctx)
	if err != nil {
		return 0, err
	}
	stable := head
	if stable > a.opts.FinalityBlocks {
		stable -= a.opts.FinalityBlocks
	} else {
		stable = 0
	}

	var ts int64
	err = chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		header, err := a.client.HeaderByNumber(ctx, new(big.Int).SetUint64(stable))
		if err != nil {
			return err
		}
		ts = int64(header.Time)
		return nil
	})
	return ts, err
}

// GetBalance implements chains.Adapter. An empty asset or the zero address
// means the native coin.
func (a *Adapter) GetBalance(ctx context.Context, address, asset string) (*big.Int, error) {
	owner := common.HexToAddress(address)

	var balance *big.Int
	err := chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		if isNativeAsset(asset) {
			b, err := a.client.BalanceAt(ctx, owner, nil)
			if err != nil {
				return err
			}
			balance = b
			return nil
		}

		data, err := erc20ABI.Pack("balanceOf", owner)
		if err != nil {
			return err
		}
		token := common.HexToAddress(asset)
		out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil {
			return err
		}
		vals, err := erc20ABI.Unpack("balanceOf", out)
		if err != nil {
			return err
		}
		balance = vals[0].(*big.Int)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("balance of %s on %s: %w", address, a.opts.Network, err)
	}
	return balance, nil
}

// GetMyBalance implements chains.Adapter.
func (a *Adapter) GetMyBalance(ctx context.Context, asset string) (*big.Int, error) {
	return a.GetBalance(ctx, a.MyAddress(), asset)
}

func isNativeAsset(asset string) bool {
	return asset == "" || asset == "0x0000000000000000000000000000000000000000"
}

// GetRequiredStake implements chains.Adapter.
func (a *Adapter) GetRequiredStake(ctx context.Context, bridgeAddr string, amount *big.Int) (*big.Int, error) {
	data, err := bridgeABI.Pack("getRequiredStake", amount)
	if err != nil {
		return nil, fmt.Errorf("pack getRequiredStake: %w", err)
	}

	var stake *big.Int
	to := common.HexToAddress(bridgeAddr)
	err = chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		if err != nil {
			return err
		}
		vals, err := bridgeABI.Unpack("getRequiredStake", out)
		if err != nil {
			return err
		}
		stake = vals[0].(*big.Int)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("required stake on %s: %w", bridgeAddr, err)
	}
	return stake, nil
}

// settingsTuple mirrors the bridge's public settings struct.
type settingsTuple struct {
	TokenAddress        common.Address
	Ratio100            uint16
	CounterstakeCoef100 uint16   `abi:"counterstake_coef100"`
	MinTxAge            uint32   `abi:"min_tx_age"`
	MinStake            *big.Int `abi:"min_stake"`
	MinTxTs             uint32   `abi:"min_tx_ts"`
	LargeThreshold      *big.Int `abi:"large_threshold"`
}

// GetBridgeParams implements chains.Adapter: reads the side's counterstake
// settings and challenging periods from the contract, and the token decimals
// from the ERC20 it moves.
func (a *Adapter) GetBridgeParams(ctx context.Context, bridgeAddr string, side domain.Side) (*domain.BridgeParams, int, error) {
	to := common.HexToAddress(bridgeAddr)

	var s settingsTuple
	err := chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		data, err := bridgeABI.Pack("settings")
		if err != nil {
			return err
		}
		out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		if err != nil {
			return err
		}
		return bridgeABI.UnpackIntoInterface(&s, "settings", out)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("read settings of %s: %w", bridgeAddr, err)
	}

	var periods, largePeriods []*big.Int
	err = chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		data, err := bridgeABI.Pack("getChallengingPeriods")
		if err != nil {
			return err
		}
		out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		if err != nil {
			return err
		}
		vals, err := bridgeABI.Unpack("getChallengingPeriods", out)
		if err != nil {
			return err
		}
		periods = vals[0].([]*big.Int)
		largePeriods = vals[1].([]*big.Int)
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("read challenging periods of %s: %w", bridgeAddr, err)
	}

	params := &domain.BridgeParams{
		CounterstakeCoef100:     int64(s.CounterstakeCoef100),
		Ratio100:                int64(s.Ratio100),
		MinStake:                s.MinStake,
		LargeThreshold:          s.LargeThreshold,
		ChallengingPeriods:      periodsToSeconds(periods),
		LargeChallengingPeriods: periodsToSeconds(largePeriods),
		MinTxAge:                int64(s.MinTxAge),
	}

	// Import contracts are themselves the image ERC20; export contracts
	// custody the token named in their settings.
	tokenAddr := hexAddr(s.TokenAddress)
	if side == domain.SideImport {
		tokenAddr = bridgeAddr
	}
	decimals, err := a.tokenDecimals(ctx, tokenAddr)
	if err != nil {
		return nil, 0, err
	}
	return params, decimals, nil
}

func periodsToSeconds(periods []*big.Int) []int64 {
	out := make([]int64, len(periods))
	for i, p := range periods {
		out[i] = p.Int64()
	}
	return out
}

// tokenDecimals reads an ERC20's decimals. The native coin has 18.
func (a *Adapter) tokenDecimals(ctx context.Context, tokenAddr string) (int, error) {
	if isNativeAsset(tokenAddr) {
		return 18, nil
	}

	var decimals uint8
	token := common.HexToAddress(tokenAddr)
	err := chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		data, err := erc20ABI.Pack("decimals")
		if err != nil {
			return err
		}
		out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil {
			return err
		}
		vals, err := erc20ABI.Unpack("decimals", out)
		if err != nil {
			return err
		}
		decimals = vals[0].(uint8)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("decimals of %s: %w", tokenAddr, err)
	}
	return int(decimals), nil
}

// claimTuple mirrors the on-chain claim struct layout.
type claimTuple struct {
	Amount           *big.Int
	RecipientAddress common.Address
	Txts             uint32
	Ts               uint32
	ClaimantAddress  common.Address
	ExpiryTs         uint32
	PeriodNumber     uint16
	CurrentOutcome   uint8
	IsLarge          bool
	Withdrawn        bool
	Finished         bool
	SenderAddress    string
	Data             string
	YesStake         *big.Int
	NoStake          *big.Int
}

// GetClaim implements chains.Adapter.
func (a *Adapter) GetClaim(ctx context.Context, bridgeAddr string, claimNum int64) (*domain.Claim, error) {
	data, err := bridgeABI.Pack("getClaim", big.NewInt(claimNum))
	if err != nil {
		return nil, fmt.Errorf("pack getClaim: %w", err)
	}

	var out []byte
	to := common.HexToAddress(bridgeAddr)
	err = chains.WithRetry(ctx, a.opts.Retry, func(ctx context.Context) error {
		res, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read claim %d on %s: %w", claimNum, bridgeAddr, err)
	}

	var tuple claimTuple
	if err := bridgeABI.UnpackIntoInterface(&tuple, "getClaim", out); err != nil {
		return nil, fmt.Errorf("decode claim %d: %w", claimNum, err)
	}
	if tuple.Amount == nil || tuple.Amount.Sign() == 0 {
		return nil, chains.ErrClaimNotFound
	}

	side, _ := a.sideOf(to)
	c := &domain.Claim{
		Type:              claimedType(side),
		ClaimNum:          claimNum,
		Amount:            tuple.Amount,
		SenderAddress:     tuple.SenderAddress,
		DestAddress:       tuple.RecipientAddress.Hex(),
		ClaimantAddress:   tuple.ClaimantAddress.Hex(),
		Data:              tuple.Data,
		Txts:              int64(tuple.Txts),
		Ts:                int64(tuple.Ts),
		ExpiryTs:          int64(tuple.ExpiryTs),
		PeriodNumber:      int(tuple.PeriodNumber),
		CurrentOutcome:    outcomeFromUint8(tuple.CurrentOutcome),
		IsLarge:           tuple.IsLarge,
		Withdrawn:         tuple.Withdrawn,
		Finished:          tuple.Finished,
		YesStake:          tuple.YesStake,
		NoStake:           tuple.NoStake,
		ChallengingTarget: new(big.Int),
	}
	return c, nil
}

func outcomeFromUint8(v uint8) domain.Outcome {
	if v == 1 {
		return domain.OutcomeYes
	}
	return domain.OutcomeNo
}

func outcomeToUint8(o domain.Outcome) uint8 {
	if o == domain.OutcomeYes {
		return 1
	}
	return 0
}

// SendClaim implements chains.Adapter.
func (a *Adapter) SendClaim(ctx context.Context, req *chains.ClaimRequest) (string, error) {
	calldata, err := bridgeABI.Pack("claim",
		req.Txid, uint32(req.Txts), req.Amount, req.Reward, req.Stake,
		req.Sender, common.HexToAddress(req.Recipient), req.Data)
	if err != nil {
		return "", fmt.Errorf("pack claim: %w", err)
	}
	return a.submit(ctx, common.HexToAddress(req.BridgeAddr), calldata, req.Stake)
}

// SendChallenge implements chains.Adapter.
func (a *Adapter) SendChallenge(ctx context.Context, req *chains.ChallengeRequest) (string, error) {
	calldata, err := bridgeABI.Pack("challenge",
		big.NewInt(req.ClaimNum), outcomeToUint8(req.StakeOn), req.Stake)
	if err != nil {
		return "", fmt.Errorf("pack challenge: %w", err)
	}
	return a.submit(ctx, common.HexToAddress(req.BridgeAddr), calldata, req.Stake)
}

// SendWithdrawalRequest implements chains.Adapter.
func (a *Adapter) SendWithdrawalRequest(ctx context.Context, bridgeAddr string, claimNum int64) (string, error) {
	calldata, err := bridgeABI.Pack("withdraw", big.NewInt(claimNum))
	if err != nil {
		return "", fmt.Errorf("pack withdraw: %w", err)
	}
	return a.submit(ctx, common.HexToAddress(bridgeAddr), calldata, nil)
}

// submit builds, signs and sends a transaction. Nonce acquisition and send
// are serialized so concurrent submissions never reuse a nonce.
func (a *Adapter) submit(ctx context.Context, to common.Address, calldata []byte, value *big.Int) (string, error) {
	a.txMu.Lock()
	defer a.txMu.Unlock()

	from := a.opts.Signer.Address()
	if value == nil {
		value = new(big.Int)
	}

	gasPrice, err := a.gasPrice.Get(ctx, func(ctx context.Context) (*big.Int, error) {
		return a.client.SuggestGasPrice(ctx)
	})
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}

	msg := ethereum.CallMsg{From: from, To: &to, Value: value, Data: calldata}
	gasLimit, err := a.client.EstimateGas(ctx, msg)
	if err != nil {
		return "", a.mapSubmitError(err)
	}
	// Headroom over the estimate; unused gas is refunded.
	gasLimit += gasLimit / 5

	nonce, err := a.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})

	signed, err := a.opts.Signer.SignTx(tx, a.chainID)
	if err != nil {
		return "", err
	}

	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return "", a.mapSubmitError(err)
	}

	txid := signed.Hash().Hex()
	a.opts.Logger.Printf("[%s] sent tx %s to %s", a.opts.Network, txid, to.Hex())
	return txid, nil
}

// mapSubmitError normalizes revert reasons. "Already claimed" is expected
// control flow and maps to the sentinel; everything else passes through.
func (a *Adapter) mapSubmitError(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "already claimed") {
		return chains.ErrAlreadyClaimed
	}
	return fmt.Errorf("submit tx on %s: %w", a.opts.Network, err)
}

// EnsureApproval grants the bridge an unlimited allowance on the given token
// if one is not already in place. Native-coin bridges need no approval.
func (a *Adapter) EnsureApproval(ctx context.Context, tokenAddr, bridgeAddr string) error {
	if isNativeAsset(tokenAddr) {
		return nil
	}

	key := tokenAddr + "|" + bridgeAddr
	a.approvalsMu.Lock()
	done := a.approvals[key]
	a.approvalsMu.Unlock()
	if done {
		return nil
	}

	owner := a.opts.Signer.Address()
	token := common.HexToAddress(tokenAddr)
	spender := common.HexToAddress(bridgeAddr)

	calldata, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return fmt.Errorf("pack allowance: %w", err)
	}
	out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: calldata}, nil)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	vals, err := erc20ABI.Unpack("allowance", out)
	if err != nil {
		return fmt.Errorf("decode allowance: %w", err)
	}
	allowance := vals[0].(*big.Int)

	// Half of MaxUint256 is still effectively unlimited.
	threshold := new(big.Int).Rsh(maxUint256(), 1)
	if allowance.Cmp(threshold) < 0 {
		approveData, err := erc20ABI.Pack("approve", spender, maxUint256())
		if err != nil {
			return fmt.Errorf("pack approve: %w", err)
		}
		if _, err := a.submit(ctx, token, approveData, nil); err != nil {
			return fmt.Errorf("approve %s for %s: %w", tokenAddr, bridgeAddr, err)
		}
	}

	a.approvalsMu.Lock()
	a.approvals[key] = true
	a.approvalsMu.Unlock()
	return nil
}

func maxUint256() *big.Int {
	one := big.NewInt(1)
	return new(big.Int).Sub(new(big.Int).Lsh(one, 256), one)
}
