package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/manifest"
	"eth-basis-lab/internal/normalize"
	"eth-basis-lab/internal/observability"
	"eth-basis-lab/internal/sources/coinbase"
	"eth-basis-lab/internal/sources/ethrpc"
	"eth-basis-lab/internal/sources/uniswapgraph"
	"eth-basis-lab/internal/storage"
)

// SwapFetcher fetches Uniswap pool swaps for a window.
type SwapFetcher interface {
	FetchPoolSwaps(ctx context.Context, poolID string, feeTierBps int, start, end time.Time) ([]domain.UniswapSwap, error)
}

// CandleFetcher fetches exchange candles for a window.
type CandleFetcher interface {
	FetchCandles(ctx context.Context, productID string, intervalSeconds int, start, end time.Time) ([]domain.CoinbaseCandle, error)
}

// GasFetcher fetches block basefee observations for a window.
type GasFetcher interface {
	FetchGasBlocks(ctx context.Context, start, end time.Time, opts ethrpc.FetchOptions) ([]domain.GasBlock, error)
}

// RawIngestion runs the raw fetch stage. Nil fetchers skip their
// source; nil stores skip database persistence (artifacts are always
// written).
type RawIngestion struct {
	Swaps   SwapFetcher
	Candles CandleFetcher
	Gas     GasFetcher

	SwapStore   storage.SwapStore
	CandleStore storage.CandleStore
	GasStore    storage.GasBlockStore

	Logger *zap.Logger
}

// RawOptions is the window and source configuration for one raw run.
type RawOptions struct {
	StartTimeUTC time.Time
	EndTimeUTC   time.Time
	OutputDir    string

	Pool5ID  string
	Pool30ID string

	CoinbaseProductID       string
	CoinbaseIntervalSeconds int

	RPC ethrpc.FetchOptions
}

// RawResult summarizes one raw ingestion run.
type RawResult struct {
	RunID        string
	ManifestPath string
	Files        map[string]string
	RowCounts    map[string]int
}

func newRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return now.UTC().Format("20060102T150405Z") + "_" + suffix
}

func (r *RawIngestion) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

// Run fetches every configured source, writes one JSON artifact per
// source plus a run manifest under opts.OutputDir, and optionally
// persists raw rows to the configured stores.
func (r *RawIngestion) Run(ctx context.Context, opts RawOptions) (*RawResult, error) {
	if !opts.EndTimeUTC.After(opts.StartTimeUTC) {
		return nil, fmt.Errorf("end_time_utc must be later than start_time_utc")
	}

	log := r.logger()
	runID := newRunID(time.Now())
	files := make(map[string]string)
	rowCounts := make(map[string]int)

	pools := []struct {
		id     string
		tier   int
		source string
	}{
		{opts.Pool5ID, domain.FeeTier5Bps, domain.SourceUniswap5},
		{opts.Pool30ID, domain.FeeTier30Bps, domain.SourceUniswap30},
	}
	for _, pool := range pools {
		if pool.id == "" || r.Swaps == nil {
			continue
		}
		swaps, err := r.Swaps.FetchPoolSwaps(ctx, pool.id, pool.tier, opts.StartTimeUTC, opts.EndTimeUTC)
		if err != nil {
			observability.RecordIngestionError(pool.source)
			return nil, fmt.Errorf("fetch %s swaps: %w", pool.source, err)
		}

		prefix := fmt.Sprintf("uniswap_%dbps", pool.tier)
		artifactPath := filepath.Join(opts.OutputDir, fmt.Sprintf("uniswap_swaps_%dbps_%s.json", pool.tier, runID))
		if err := writeJSON(artifactPath, uniswapgraph.SwapsToRecords(swaps)); err != nil {
			return nil, err
		}
		files[prefix+"_json"] = artifactPath
		rowCounts[prefix] = len(swaps)
		observability.RecordRowsFetched(pool.source, len(swaps))
		log.Info("raw ingestion wrote source artifact",
			zap.String("source", prefix), zap.Int("rows", len(swaps)))

		if r.SwapStore != nil {
			if err := r.SwapStore.InsertBulk(ctx, swapPtrs(swaps)); err != nil {
				if errors.Is(err, storage.ErrDuplicateKey) {
					log.Warn("swap rows already stored, skipping insert", zap.String("source", prefix))
				} else {
					return nil, fmt.Errorf("store %s swaps: %w", prefix, err)
				}
			}
		}
	}

	if r.Candles != nil && opts.CoinbaseProductID != "" {
		candles, err := r.Candles.FetchCandles(ctx,
			opts.CoinbaseProductID, opts.CoinbaseIntervalSeconds, opts.StartTimeUTC, opts.EndTimeUTC)
		if err != nil {
			observability.RecordIngestionError(domain.SourceCoinbase)
			return nil, fmt.Errorf("fetch coinbase candles: %w", err)
		}

		artifactPath := filepath.Join(opts.OutputDir,
			fmt.Sprintf("coinbase_%s_%s.json", opts.CoinbaseProductID, runID))
		if err := writeJSON(artifactPath, coinbase.CandlesToRecords(candles)); err != nil {
			return nil, err
		}
		files["coinbase_json"] = artifactPath
		rowCounts["coinbase"] = len(candles)
		observability.RecordRowsFetched(domain.SourceCoinbase, len(candles))
		log.Info("raw ingestion wrote source artifact",
			zap.String("source", "coinbase"), zap.Int("rows", len(candles)))

		if r.CandleStore != nil {
			if err := r.CandleStore.InsertBulk(ctx, candlePtrs(candles)); err != nil {
				if errors.Is(err, storage.ErrDuplicateKey) {
					log.Warn("candle rows already stored, skipping insert")
				} else {
					return nil, fmt.Errorf("store coinbase candles: %w", err)
				}
			}
		}
	}

	if r.Gas != nil {
		blocks, err := r.Gas.FetchGasBlocks(ctx, opts.StartTimeUTC, opts.EndTimeUTC, opts.RPC)
		if err != nil {
			observability.RecordIngestionError(domain.SourceGas)
			return nil, fmt.Errorf("fetch gas blocks: %w", err)
		}

		artifactPath := filepath.Join(opts.OutputDir, fmt.Sprintf("ethereum_blocks_%s.json", runID))
		if err := writeJSON(artifactPath, ethrpc.BlocksToRecords(blocks)); err != nil {
			return nil, err
		}
		files["ethereum_rpc_json"] = artifactPath
		rowCounts["ethereum_rpc"] = len(blocks)
		observability.RecordRowsFetched(domain.SourceGas, len(blocks))
		log.Info("raw ingestion wrote source artifact",
			zap.String("source", "ethereum_rpc"), zap.Int("rows", len(blocks)))

		// Minute-level preview aggregate alongside the per-block rows.
		minutes := normalize.AggregateGasToMinutes(blocks)
		minutesPath := filepath.Join(opts.OutputDir, fmt.Sprintf("ethereum_minutes_%s.json", runID))
		if err := writeJSON(minutesPath, minuteGasRecords(minutes)); err != nil {
			return nil, err
		}
		files["ethereum_rpc_minutes_json"] = minutesPath
		rowCounts["ethereum_rpc_minutes"] = len(minutes)
		log.Info("raw ingestion wrote gas minute aggregate",
			zap.Int("blocks", len(blocks)), zap.Int("minutes", len(minutes)))

		if r.GasStore != nil {
			if err := r.GasStore.InsertBulk(ctx, blockPtrs(blocks)); err != nil {
				if errors.Is(err, storage.ErrDuplicateKey) {
					log.Warn("gas block rows already stored, skipping insert")
				} else {
					return nil, fmt.Errorf("store gas blocks: %w", err)
				}
			}
		}
	}

	manifestPath := filepath.Join(opts.OutputDir, fmt.Sprintf("raw_ingestion_run_%s.json", runID))
	runManifest := &manifest.RunManifest{
		RunID:        runID,
		StartTimeUTC: domain.FormatUTC(opts.StartTimeUTC),
		EndTimeUTC:   domain.FormatUTC(opts.EndTimeUTC),
		RawFormat:    "json",
		RowCounts:    rowCounts,
		Files:        files,
	}
	if err := manifest.Save(manifestPath, runManifest); err != nil {
		return nil, err
	}
	files["run_log"] = manifestPath
	log.Info("raw ingestion run manifest written", zap.String("path", manifestPath))

	return &RawResult{
		RunID:        runID,
		ManifestPath: manifestPath,
		Files:        files,
		RowCounts:    rowCounts,
	}, nil
}

func swapPtrs(swaps []domain.UniswapSwap) []*domain.UniswapSwap {
	out := make([]*domain.UniswapSwap, len(swaps))
	for i := range swaps {
		out[i] = &swaps[i]
	}
	return out
}

func candlePtrs(candles []domain.CoinbaseCandle) []*domain.CoinbaseCandle {
	out := make([]*domain.CoinbaseCandle, len(candles))
	for i := range candles {
		out[i] = &candles[i]
	}
	return out
}

func minuteGasRecords(minutes []domain.MinuteGas) []domain.Record {
	out := make([]domain.Record, 0, len(minutes))
	for _, minute := range minutes {
		out = append(out, minute.ToRecord())
	}
	return out
}

func blockPtrs(blocks []domain.GasBlock) []*domain.GasBlock {
	out := make([]*domain.GasBlock, len(blocks))
	for i := range blocks {
		out[i] = &blocks[i]
	}
	return out
}
