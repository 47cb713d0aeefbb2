// Package main prints a NAV report for every pooled assistant vault the
// watchdog manages: gross holdings, accrued fees, realized profit, capital
// locked in open claims and the resulting share price.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"counterstake-watchdog/internal/assistant"
	"counterstake-watchdog/internal/chains"
	"counterstake-watchdog/internal/chains/evm"
	"counterstake-watchdog/internal/chains/obyte"
	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage/migrations"
	pgstore "counterstake-watchdog/internal/storage/postgres"
)

func main() {
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	ethereumRPC := flag.String("ethereum-rpc", os.Getenv("ETHEREUM_RPC"), "Ethereum JSON-RPC HTTP endpoint (optional, enables gross balances)")
	bscRPC := flag.String("bsc-rpc", os.Getenv("BSC_RPC"), "BSC JSON-RPC HTTP endpoint (optional)")
	obyteWS := flag.String("obyte-ws", os.Getenv("OBYTE_WS"), "Obyte node daemon endpoint (optional)")
	evmKey := flag.String("evm-key", os.Getenv("EVM_PRIVATE_KEY"), "Hex private key for EVM networks")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall report timeout")

	flag.Parse()

	logger := log.New(os.Stderr, "[navreport] ", log.LstdFlags)

	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("connect to postgres: %v", err)
	}
	defer pool.Close()
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatalf("run migrations: %v", err)
	}

	registry := chains.NewRegistry()
	connectReadOnly(ctx, registry, *ethereumRPC, *bscRPC, *obyteWS, *evmKey, logger)
	defer func() {
		for _, network := range registry.Networks() {
			if adapter, err := registry.Get(network); err == nil {
				adapter.Close()
			}
		}
	}()

	assistants, err := pgstore.NewAssistantStore(pool).List(ctx)
	if err != nil {
		logger.Fatalf("list assistants: %v", err)
	}
	if len(assistants) == 0 {
		fmt.Println("no assistant vaults configured")
		return
	}

	bridges := pgstore.NewBridgeStore(pool)
	eng := assistant.NewEngine(func() int64 { return time.Now().Unix() })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VAULT\tNETWORK\tSIDE\tGROSS\tIN WORK\tACCRUED MF\tPROFIT\tNAV\tSHARE PRICE")
	for _, a := range assistants {
		b, err := bridges.GetByID(ctx, a.BridgeID)
		if err != nil {
			logger.Printf("vault %s: load bridge %d: %v", a.Addr, a.BridgeID, err)
			continue
		}

		gross, ok := fetchGross(ctx, registry, b, a)
		if ok {
			eng.AccrueMF(a, gross)
		} else {
			// Without chain access the report still shows the stored
			// accounting state against a zero gross balance.
			gross = domain.NewAssetAmounts()
		}
		nav := eng.NAV(a, gross)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.Addr, a.Network, a.Side,
			formatAmounts(gross),
			formatAmounts(a.BalanceInWork),
			formatAmounts(a.MF),
			formatAmounts(a.Profit),
			formatAmounts(nav),
			sharePrice(nav, a.SharesSupply),
		)
	}
	w.Flush()
}

// connectReadOnly dials whatever networks are configured; missing networks
// just leave their vaults without gross balances.
func connectReadOnly(ctx context.Context, registry *chains.Registry, ethereumRPC, bscRPC, obyteWS, evmKey string, logger *log.Logger) {
	var signer evm.Signer
	if evmKey != "" {
		var err error
		if signer, err = evm.NewKeySigner(evmKey); err != nil {
			logger.Printf("parse evm key: %v", err)
			return
		}
	}

	if ethereumRPC != "" && signer != nil {
		if adapter, err := evm.New(ctx, evm.Options{Network: "Ethereum", RPCURL: ethereumRPC, Signer: signer, Logger: logger}); err == nil {
			registry.SetReady(adapter)
		} else {
			logger.Printf("connect Ethereum: %v", err)
		}
	}
	if bscRPC != "" && signer != nil {
		if adapter, err := evm.New(ctx, evm.Options{Network: "BSC", RPCURL: bscRPC, Signer: signer, Logger: logger}); err == nil {
			registry.SetReady(adapter)
		} else {
			logger.Printf("connect BSC: %v", err)
		}
	}
	if obyteWS != "" {
		if adapter, err := obyte.New(ctx, obyte.Options{Network: "Obyte", WSURL: obyteWS, Logger: logger}); err == nil {
			registry.SetReady(adapter)
		} else {
			logger.Printf("connect Obyte: %v", err)
		}
	}
}

// fetchGross reads the vault's on-chain holdings: the stake asset always,
// plus the image asset on the import side.
func fetchGross(ctx context.Context, registry *chains.Registry, b *domain.Bridge, a *domain.PooledAssistant) (domain.AssetAmounts, bool) {
	gross := domain.NewAssetAmounts()

	adapter, err := registry.Get(a.Network)
	if err != nil {
		return gross, false
	}

	stakeAsset := b.HomeAsset
	if a.Side == domain.SideImport {
		stakeAsset = "" // import side stakes the foreign chain's native asset
	}
	if gross.Stake, err = adapter.GetBalance(ctx, a.Addr, stakeAsset); err != nil {
		return gross, false
	}
	if a.Side == domain.SideImport {
		if gross.Image, err = adapter.GetBalance(ctx, a.Addr, b.ForeignAsset); err != nil {
			return gross, false
		}
	}
	return gross, true
}

func formatAmounts(v domain.AssetAmounts) string {
	stake := "0"
	if v.Stake != nil {
		stake = v.Stake.String()
	}
	if v.Image == nil || v.Image.Sign() == 0 {
		return stake
	}
	return stake + "+" + v.Image.String() + "i"
}

// sharePrice renders NAV per share with 4 decimal places.
func sharePrice(nav domain.AssetAmounts, shares *big.Int) string {
	if shares == nil || shares.Sign() == 0 {
		return "-"
	}
	total := new(big.Int).Add(orZero(nav.Stake), orZero(nav.Image))
	price := new(big.Rat).SetFrac(total, shares)
	return strings.TrimRight(strings.TrimRight(price.FloatString(4), "0"), ".")
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
