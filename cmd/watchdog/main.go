// Package main runs the counterstake bridge watchdog: it watches bridge
// contracts on every configured network, claims transfers whose reward covers
// the cost, counterstakes fraudulent claims and withdraws winning stakes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"counterstake-watchdog/internal/assistant"
	"counterstake-watchdog/internal/chains"
	"counterstake-watchdog/internal/chains/evm"
	"counterstake-watchdog/internal/chains/obyte"
	"counterstake-watchdog/internal/notify"
	"counterstake-watchdog/internal/observability"
	"counterstake-watchdog/internal/oracle"
	"counterstake-watchdog/internal/recon"
	"counterstake-watchdog/internal/storage"
	chstore "counterstake-watchdog/internal/storage/clickhouse"
	"counterstake-watchdog/internal/storage/memory"
	"counterstake-watchdog/internal/storage/migrations"
	pgstore "counterstake-watchdog/internal/storage/postgres"
)

func main() {
	loadEnvFile()

	// Parse flags (env vars as defaults)
	ethereumRPC := flag.String("ethereum-rpc", os.Getenv("ETHEREUM_RPC"), "Ethereum JSON-RPC HTTP endpoint")
	ethereumWS := flag.String("ethereum-ws", os.Getenv("ETHEREUM_WS"), "Ethereum WebSocket endpoint (optional, falls back to polling)")
	ethereumFactories := flag.String("ethereum-factories", os.Getenv("ETHEREUM_FACTORIES"), "Comma-separated Ethereum bridge factory addresses")
	bscRPC := flag.String("bsc-rpc", os.Getenv("BSC_RPC"), "BSC JSON-RPC HTTP endpoint")
	bscWS := flag.String("bsc-ws", os.Getenv("BSC_WS"), "BSC WebSocket endpoint (optional)")
	bscFactories := flag.String("bsc-factories", os.Getenv("BSC_FACTORIES"), "Comma-separated BSC bridge factory addresses")
	obyteWS := flag.String("obyte-ws", os.Getenv("OBYTE_WS"), "Obyte node daemon WebSocket endpoint")
	evmKey := flag.String("evm-key", os.Getenv("EVM_PRIVATE_KEY"), "Hex private key for EVM networks")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for the event archive (optional)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	gasCosts := flag.String("gas-costs", os.Getenv("GAS_COSTS"), "Per-network claim gas cost in native units, e.g. Ethereum=2000000000000000")
	rates := flag.String("rates", os.Getenv("EXCHANGE_RATES"), "Static exchange rates, e.g. Ethereum::Obyte:=1/120000 (dstNet:dstAsset:srcNet:srcAsset=num/den)")
	assistants := flag.String("assistants", os.Getenv("ASSISTANTS"), "Pooled assistant vaults, e.g. Ethereum:0xPOOL:0xEXPORT:100:1000 (network:vault:bridgeSide:mfBps:sfBps)")
	minRewardBPS := flag.Int64("min-reward-bps", 100, "Minimum claim reward as basis points of the amount")
	maxExposurePct := flag.Int64("max-exposure-pct", 50, "Maximum share of a balance staked on one counterstake")
	alertWindow := flag.Duration("alert-window", time.Hour, "Suppression window for repeated alerts with the same subject")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")

	flag.Parse()

	logger := log.New(os.Stdout, "[watchdog] ", log.LstdFlags|log.Lshortfile)

	if *obyteWS == "" && *ethereumRPC == "" && *bscRPC == "" {
		logger.Fatal("no networks configured: set at least one of --obyte-ws, --ethereum-rpc, --bsc-rpc")
	}
	if (*ethereumRPC != "" || *bscRPC != "") && *evmKey == "" {
		logger.Fatal("--evm-key is required when an EVM network is configured")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	gasCostMap, err := parseGasCosts(*gasCosts)
	if err != nil {
		logger.Fatalf("parse --gas-costs: %v", err)
	}
	rateSource, err := parseRates(*rates)
	if err != nil {
		logger.Fatalf("parse --rates: %v", err)
	}
	assistantSeeds, err := parseAssistants(*assistants)
	if err != nil {
		logger.Fatalf("parse --assistants: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanupStores, err := createStores(ctx, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatalf("create stores: %v", err)
	}
	defer cleanupStores()

	archive, cleanupArchive, err := createArchive(ctx, *clickhouseDSN, *useMemory, logger)
	if err != nil {
		logger.Fatalf("create event archive: %v", err)
	}
	defer cleanupArchive()

	registry := chains.NewRegistry()
	if err := connectAdapters(ctx, registry, adapterConfig{
		ethereumRPC:       *ethereumRPC,
		ethereumWS:        *ethereumWS,
		ethereumFactories: splitList(*ethereumFactories),
		bscRPC:            *bscRPC,
		bscWS:             *bscWS,
		bscFactories:      splitList(*bscFactories),
		obyteWS:           *obyteWS,
		evmKey:            *evmKey,
		logger:            logger,
	}); err != nil {
		logger.Fatalf("connect networks: %v", err)
	}
	for _, network := range registry.Networks() {
		adapter, _ := registry.Get(network)
		logger.Printf("connected to %s as %s", network, adapter.MyAddress())
	}

	notifier := notify.NewThrottled(&notify.LogNotifier{Logger: logger}, *alertWindow)

	var archiveSink recon.EventSink
	if archive != nil {
		archiveSink = archive
	}
	engine := recon.New(recon.Options{
		Registry:            registry,
		Stores:              stores,
		Vaults:              assistant.NewEngine(func() int64 { return time.Now().Unix() }),
		Rates:               oracle.NewCachingSource(rateSource, 5*time.Minute),
		Notifier:            notifier,
		Logger:              logger,
		Archive:             archiveSink,
		Assistants:          assistantSeeds,
		MaxExposure100:      *maxExposurePct,
		MinRewardRatio10000: *minRewardBPS,
		GasCost:             gasCostMap,
	})
	engine.Start(ctx)

	go serveMetrics(*metricsAddr, registry, logger)
	if archive != nil {
		go trackArchiveDrops(ctx, archive)
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Printf("received signal %v, shutting down...", sig)
	cancel()

	shutdownDone := make(chan struct{})
	go func() {
		engine.Close()
		close(shutdownDone)
	}()
	select {
	case <-shutdownDone:
	case <-time.After(30 * time.Second):
		logger.Println("graceful shutdown timed out after 30s, forcing exit")
		os.Exit(1)
	}

	for _, network := range registry.Networks() {
		if adapter, err := registry.Get(network); err == nil {
			adapter.Close()
		}
	}
	logger.Println("shutdown complete")
}

// createStores wires either the in-memory or the PostgreSQL store set. The
// PostgreSQL path applies embedded migrations first.
func createStores(ctx context.Context, dsn string, useMemory bool) (storage.Stores, func(), error) {
	if useMemory {
		return storage.Stores{
			Bridges:    memory.NewBridgeStore(),
			Transfers:  memory.NewTransferStore(),
			Claims:     memory.NewClaimStore(),
			Challenges: memory.NewChallengeStore(),
			Assistants: memory.NewAssistantStore(),
			LastBlocks: memory.NewLastBlockStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return storage.Stores{}, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return storage.Stores{}, nil, err
	}

	return storage.Stores{
		Bridges:    pgstore.NewBridgeStore(pool),
		Transfers:  pgstore.NewTransferStore(pool),
		Claims:     pgstore.NewClaimStore(pool),
		Challenges: pgstore.NewChallengeStore(pool),
		Assistants: pgstore.NewAssistantStore(pool),
		LastBlocks: pgstore.NewLastBlockStore(pool),
	}, pool.Close, nil
}

// createArchive starts the ClickHouse event archiver, or returns nil when the
// archive is not configured. The watchdog runs fine without it.
func createArchive(ctx context.Context, dsn string, useMemory bool, logger *log.Logger) (*chstore.Archiver, func(), error) {
	if dsn == "" || useMemory {
		return nil, func() {}, nil
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	archiver := chstore.NewArchiver(chstore.NewEventArchiveStore(conn), &chstore.ArchiverOptions{Logger: logger})
	cleanup := func() {
		archiver.Close()
		conn.Close()
	}
	return archiver, cleanup, nil
}

type adapterConfig struct {
	ethereumRPC       string
	ethereumWS        string
	ethereumFactories []string
	bscRPC            string
	bscWS             string
	bscFactories      []string
	obyteWS           string
	evmKey            string
	logger            *log.Logger
}

// connectAdapters dials every configured network and registers the adapters.
func connectAdapters(ctx context.Context, registry *chains.Registry, cfg adapterConfig) error {
	var signer evm.Signer
	if cfg.ethereumRPC != "" || cfg.bscRPC != "" {
		var err error
		signer, err = evm.NewKeySigner(cfg.evmKey)
		if err != nil {
			return err
		}
	}

	if cfg.ethereumRPC != "" {
		registry.SetConnecting("Ethereum")
		adapter, err := evm.New(ctx, evm.Options{
			Network:      "Ethereum",
			RPCURL:       cfg.ethereumRPC,
			WSURL:        cfg.ethereumWS,
			Signer:       signer,
			FactoryAddrs: cfg.ethereumFactories,
			Logger:       cfg.logger,
		})
		if err != nil {
			return fmt.Errorf("connect Ethereum: %w", err)
		}
		registry.SetReady(adapter)
	}

	if cfg.bscRPC != "" {
		registry.SetConnecting("BSC")
		adapter, err := evm.New(ctx, evm.Options{
			Network:      "BSC",
			RPCURL:       cfg.bscRPC,
			WSURL:        cfg.bscWS,
			Signer:       signer,
			FactoryAddrs: cfg.bscFactories,
			// BSC finalizes faster than mainnet but reorgs deeper.
			FinalityBlocks: 30,
			Logger:         cfg.logger,
		})
		if err != nil {
			return fmt.Errorf("connect BSC: %w", err)
		}
		registry.SetReady(adapter)
	}

	if cfg.obyteWS != "" {
		registry.SetConnecting("Obyte")
		adapter, err := obyte.New(ctx, obyte.Options{
			Network: "Obyte",
			WSURL:   cfg.obyteWS,
			Logger:  cfg.logger,
		})
		if err != nil {
			return fmt.Errorf("connect Obyte: %w", err)
		}
		registry.SetReady(adapter)
	}

	return nil
}

// serveMetrics exposes Prometheus metrics plus a health endpoint reporting
// per-network connection state.
func serveMetrics(addr string, registry *chains.Registry, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		states := make(map[string]string)
		for _, network := range registry.Networks() {
			states[network] = registry.State(network).String()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(states)
	})

	logger.Printf("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Printf("metrics server: %v", err)
	}
}

// trackArchiveDrops feeds the archiver's drop counter into Prometheus.
func trackArchiveDrops(ctx context.Context, archiver *chstore.Archiver) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dropped := archiver.Dropped()
			if dropped > last {
				observability.DefaultMetrics.ArchiveDropped.Add(float64(dropped - last))
				last = dropped
			}
		}
	}
}

func parseGasCosts(spec string) (map[string]*big.Int, error) {
	costs := make(map[string]*big.Int)
	for _, entry := range splitList(spec) {
		network, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("malformed entry %q, want network=cost", entry)
		}
		cost, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
		if !ok {
			return nil, fmt.Errorf("malformed cost %q for %s", value, network)
		}
		costs[strings.TrimSpace(network)] = cost
	}
	return costs, nil
}

// parseAssistants builds vault seeds from network:vault:bridgeSide:mfBps:sfBps
// entries. Fees are basis points; the bridge side address binds the vault to
// its bridge once that side is discovered.
func parseAssistants(spec string) ([]recon.AssistantSeed, error) {
	var seeds []recon.AssistantSeed
	for _, entry := range splitList(spec) {
		parts := strings.Split(entry, ":")
		if len(parts) != 5 {
			return nil, fmt.Errorf("malformed entry %q, want network:vault:bridgeSide:mfBps:sfBps", entry)
		}
		mf, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed management fee in %q", entry)
		}
		sf, err := strconv.ParseInt(parts[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed success fee in %q", entry)
		}
		seeds = append(seeds, recon.AssistantSeed{
			Network:            parts[0],
			Addr:               parts[1],
			BridgeAddr:         parts[2],
			ManagementFee10000: mf,
			SuccessFee10000:    sf,
		})
	}
	return seeds, nil
}

// parseRates builds a static rate table from dstNet:dstAsset:srcNet:srcAsset=num/den
// entries. Empty asset fields mean the network's native asset.
func parseRates(spec string) (*oracle.StaticSource, error) {
	src := oracle.NewStaticSource()
	for _, entry := range splitList(spec) {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("malformed entry %q, want pair=rate", entry)
		}
		parts := strings.Split(key, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("malformed pair %q, want dstNet:dstAsset:srcNet:srcAsset", key)
		}
		rate, ok := new(big.Rat).SetString(strings.TrimSpace(value))
		if !ok || rate.Sign() <= 0 {
			return nil, fmt.Errorf("malformed rate %q in %q", value, entry)
		}
		src.Set(parts[0], parts[1], parts[2], parts[3], rate)
	}
	return src, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
