// Package main runs the minute dataset pipeline end to end:
// raw ingestion, minute alignment, quality gate, feature derivation,
// and the deterministic CSV export.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"eth-basis-lab/internal/align"
	"eth-basis-lab/internal/config"
	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/logging"
	"eth-basis-lab/internal/normalize"
	"eth-basis-lab/internal/observability"
	"eth-basis-lab/internal/pipeline"
	"eth-basis-lab/internal/sources/coinbase"
	"eth-basis-lab/internal/sources/ethrpc"
	"eth-basis-lab/internal/sources/uniswapgraph"
	chstore "eth-basis-lab/internal/storage/clickhouse"
	"eth-basis-lab/internal/storage/migrations"
	pgstore "eth-basis-lab/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the pipeline config file")
	stage := flag.String("stage", "full", "Pipeline stage: full, aligned, or processed")
	manifestPath := flag.String("manifest", "", "Raw run manifest path (aligned stage; empty picks latest)")
	alignedPath := flag.String("aligned-json", "", "Aligned records JSON path (processed stage)")
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
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			logger.Info("starting metrics server", zap.String("addr", *metricsAddr))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, cancelling pipeline", zap.String("signal", sig.String()))
		cancel()
	}()

	switch *stage {
	case "full":
		err = runFull(ctx, cfg, logger)
	case "aligned":
		err = runAligned(cfg, logger, *manifestPath)
	case "processed":
		err = runProcessed(ctx, cfg, logger, *alignedPath)
	default:
		err = fmt.Errorf("unknown stage: %s", *stage)
	}
	if err != nil {
		logger.Error("pipeline failed", zap.Error(err))
		os.Exit(1)
	}
}

func alignedOptions(cfg *config.Config, logger *zap.Logger, manifestPath string) (pipeline.AlignedOptions, error) {
	policy, err := align.ParsePolicy(cfg.Pipeline.DuplicatePolicy)
	if err != nil {
		return pipeline.AlignedOptions{}, err
	}
	return pipeline.AlignedOptions{
		ManifestPath:    manifestPath,
		RawDir:          filepath.Join(cfg.Pipeline.OutputDir, "raw"),
		OutputPath:      filepath.Join(cfg.Pipeline.OutputDir, "interim", "aligned_records.json"),
		DuplicatePolicy: policy,
		EndInclusive:    cfg.Window.EndInclusive,
		Uniswap:         normalize.UniswapConfig{AssumeUSDQuote: cfg.Uniswap.AssumeUSDQuote},
		Logger:          logger,
	}, nil
}

func processedOptions(ctx context.Context, cfg *config.Config, logger *zap.Logger) (pipeline.ProcessedOptions, func(), error) {
	opts := pipeline.ProcessedOptions{
		OutputDir:   filepath.Join(cfg.Pipeline.OutputDir, "processed"),
		DatasetName: cfg.Pipeline.DatasetName,
		Logger:      logger,
	}
	cleanup := func() {}
	if cfg.Storage.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			return opts, cleanup, fmt.Errorf("run clickhouse migrations: %w", err)
		}
		opts.DatasetStore = chstore.NewDatasetStore(conn)
		cleanup = func() { conn.Close() }
	}
	return opts, cleanup, nil
}

func runFull(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	start, end, err := cfg.WindowBounds()
	if err != nil {
		return err
	}

	ingestion := &pipeline.RawIngestion{Logger: logger}
	if cfg.Uniswap.Endpoint != "" || cfg.Uniswap.SubgraphID != "" {
		endpoint, err := uniswapgraph.ResolveEndpoint(cfg.Uniswap.Endpoint, cfg.Uniswap.APIKey, cfg.Uniswap.SubgraphID)
		if err != nil {
			return err
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
	if cfg.Storage.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run postgres migrations: %w", err)
		}
		ingestion.SwapStore = pgstore.NewSwapStore(pool)
		ingestion.CandleStore = pgstore.NewCandleStore(pool)
		ingestion.GasStore = pgstore.NewGasBlockStore(pool)
	}

	rawOpts := pipeline.RawOptions{
		StartTimeUTC:            start,
		EndTimeUTC:              end,
		OutputDir:               filepath.Join(cfg.Pipeline.OutputDir, "raw"),
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
			rawOpts.Pool5ID = pool.ID
		case domain.FeeTier30Bps:
			rawOpts.Pool30ID = pool.ID
		}
	}

	alignedOpts, err := alignedOptions(cfg, logger, "")
	if err != nil {
		return err
	}
	processedOpts, cleanup, err := processedOptions(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := pipeline.RunFull(ctx, ingestion, pipeline.FullOptions{
		Raw:              rawOpts,
		Aligned:          alignedOpts,
		Processed:        processedOpts,
		FatalQualityGate: cfg.Pipeline.FatalQualityGate,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Full pipeline run %s complete\n", result.Raw.RunID)
	fmt.Printf("  Aligned records: %s\n", result.AlignedJSONPath)
	fmt.Printf("  Dataset CSV: %s\n", result.Processed.CSVPath)
	fmt.Printf("  Run summary: %s\n", result.SummaryJSONPath)
	if result.QualityIssueCount > 0 {
		fmt.Printf("  Quality issues: %d\n", result.QualityIssueCount)
	}
	return nil
}

func runAligned(cfg *config.Config, logger *zap.Logger, manifestPath string) error {
	opts, err := alignedOptions(cfg, logger, manifestPath)
	if err != nil {
		return err
	}
	records, err := pipeline.BuildAligned(opts)
	if err != nil {
		return err
	}
	fmt.Printf("Aligned %d minute records to %s\n", len(records), opts.OutputPath)
	return nil
}

func runProcessed(ctx context.Context, cfg *config.Config, logger *zap.Logger, alignedPath string) error {
	if alignedPath == "" {
		alignedPath = filepath.Join(cfg.Pipeline.OutputDir, "interim", "aligned_records.json")
	}
	payload, err := os.ReadFile(alignedPath)
	if err != nil {
		return fmt.Errorf("read aligned records: %w", err)
	}
	var records []domain.Record
	if err := json.Unmarshal(payload, &records); err != nil {
		return fmt.Errorf("decode aligned records: %w", err)
	}

	opts, cleanup, err := processedOptions(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := pipeline.RunProcessed(ctx, records, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Processed %d aligned records\n", len(records))
	fmt.Printf("  Dataset CSV: %s\n", result.CSVPath)
	fmt.Printf("  Missingness report: %s\n", result.MissingnessJSONPath)
	if result.ValidationIssueCount > 0 {
		fmt.Printf("  Validation issues: %d\n", result.ValidationIssueCount)
	}
	return nil
}
