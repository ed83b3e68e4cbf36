// Package main runs the raw ingestion stage: Uniswap swaps, Coinbase
// candles, and Ethereum basefee blocks for one UTC window.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"eth-basis-lab/internal/config"
	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/logging"
	"eth-basis-lab/internal/observability"
	"eth-basis-lab/internal/pipeline"
	"eth-basis-lab/internal/sources/coinbase"
	"eth-basis-lab/internal/sources/ethrpc"
	"eth-basis-lab/internal/sources/uniswapgraph"
	"eth-basis-lab/internal/storage/memory"
	"eth-basis-lab/internal/storage/migrations"
	pgstore "eth-basis-lab/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the pipeline config file")
	outputDir := flag.String("output-dir", "", "Override for the raw artifact directory")
	useMemory := flag.Bool("use-memory", false, "Use in-memory stores instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (empty to disable)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *metricsAddr != "" {
		go serveMetrics(logger, *metricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, cancelling ingestion", zap.String("signal", sig.String()))
		cancel()
	}()

	result, err := runIngestion(ctx, cfg, logger, *outputDir, *useMemory)
	if err != nil {
		logger.Error("ingestion failed", zap.Error(err))
		os.Exit(1)
	}

	fmt.Printf("Raw ingestion %s complete\n", result.RunID)
	fmt.Printf("  Manifest: %s\n", result.ManifestPath)
	for source, count := range result.RowCounts {
		fmt.Printf("  %s: %d rows\n", source, count)
	}
}

func serveMetrics(logger *zap.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	logger.Info("starting metrics server", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", zap.Error(err))
	}
}

func runIngestion(ctx context.Context, cfg *config.Config, logger *zap.Logger, outputDir string, useMemory bool) (*pipeline.RawResult, error) {
	start, end, err := cfg.WindowBounds()
	if err != nil {
		return nil, err
	}

	ingestion, err := buildIngestion(ctx, cfg, logger, useMemory)
	if err != nil {
		return nil, err
	}

	if outputDir == "" {
		outputDir = cfg.Pipeline.OutputDir + "/raw"
	}
	opts := pipeline.RawOptions{
		StartTimeUTC:            start,
		EndTimeUTC:              end,
		OutputDir:               outputDir,
		CoinbaseProductID:       cfg.Coinbase.ProductID,
		CoinbaseIntervalSeconds: cfg.Coinbase.GranularitySeconds,
		RPC: ethrpc.FetchOptions{
			Mode:             cfg.EthRPC.Mode,
			BlocksPerRequest: cfg.EthRPC.BlocksPerRequest,
		},
	}
	for _, pool := range cfg.Uniswap.Pools {
		switch pool.FeeTierBps {
		case domain.FeeTier5Bps:
			opts.Pool5ID = pool.ID
		case domain.FeeTier30Bps:
			opts.Pool30ID = pool.ID
		}
	}

	return ingestion.Run(ctx, opts)
}

// buildIngestion wires the source clients and stores from config. Any
// source without its endpoint configured is skipped.
func buildIngestion(ctx context.Context, cfg *config.Config, logger *zap.Logger, useMemory bool) (*pipeline.RawIngestion, error) {
	ingestion := &pipeline.RawIngestion{Logger: logger}

	if cfg.Uniswap.Endpoint != "" || cfg.Uniswap.SubgraphID != "" {
		endpoint, err := uniswapgraph.ResolveEndpoint(cfg.Uniswap.Endpoint, cfg.Uniswap.APIKey, cfg.Uniswap.SubgraphID)
		if err != nil {
			return nil, err
		}
		ingestion.Swaps = uniswapgraph.NewClient(endpoint, uniswapgraph.WithLogger(logger))
	}

	if cfg.Coinbase.ProductID != "" {
		ingestion.Candles = coinbase.NewClient(coinbase.WithLogger(logger))
	}

	if cfg.EthRPC.URL != "" {
		transport := ethrpc.NewTransport(cfg.EthRPC.URL, &http.Client{Timeout: 30 * time.Second})
		ingestion.Gas = ethrpc.NewClient(transport, ethrpc.WithLogger(logger))
	}

	if useMemory {
		ingestion.SwapStore = memory.NewSwapStore()
		ingestion.CandleStore = memory.NewCandleStore()
		ingestion.GasStore = memory.NewGasBlockStore()
		return ingestion, nil
	}

	if cfg.Storage.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return nil, fmt.Errorf("run postgres migrations: %w", err)
		}
		ingestion.SwapStore = pgstore.NewSwapStore(pool)
		ingestion.CandleStore = pgstore.NewCandleStore(pool)
		ingestion.GasStore = pgstore.NewGasBlockStore(pool)
	}

	return ingestion, nil
}
