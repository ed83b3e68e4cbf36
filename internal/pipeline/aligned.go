package pipeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"eth-basis-lab/internal/align"
	"eth-basis-lab/internal/cleaning"
	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/manifest"
	"eth-basis-lab/internal/normalize"
	"eth-basis-lab/internal/observability"
	"eth-basis-lab/internal/timeindex"
)

// AlignedOptions configures the alignment stage.
type AlignedOptions struct {
	// ManifestPath selects a specific raw run. Empty picks the latest
	// manifest under RawDir.
	ManifestPath string
	RawDir       string
	OutputPath   string

	DuplicatePolicy align.DuplicatePolicy
	EndInclusive    bool
	Uniswap         normalize.UniswapConfig
	Cleaning        cleaning.Config
	Series          []cleaning.Series

	Logger *zap.Logger
}

// BuildAligned loads raw artifacts from one ingestion run, aligns each
// source onto the canonical minute index, merges them, and runs the
// price cleaning passes. The aligned records are written as a JSON
// artifact and returned.
func BuildAligned(opts AlignedOptions) ([]domain.Record, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	manifestPath := opts.ManifestPath
	if manifestPath == "" {
		latest, err := manifest.LatestPath(opts.RawDir)
		if err != nil {
			return nil, err
		}
		manifestPath = latest
	}

	runManifest, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, err
	}

	start, err := time.Parse(time.RFC3339, runManifest.StartTimeUTC)
	if err != nil {
		return nil, fmt.Errorf("parse manifest start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, runManifest.EndTimeUTC)
	if err != nil {
		return nil, fmt.Errorf("parse manifest end: %w", err)
	}

	minuteIndex, err := timeindex.BuildMinuteIndex(start, end, opts.EndInclusive)
	if err != nil {
		return nil, err
	}

	sourceMaps := make(map[string]map[time.Time]domain.Record)

	if path := runManifest.SourceFile("coinbase"); path != "" {
		raw, err := readRecords(path)
		if err != nil {
			return nil, err
		}
		aligned, err := align.Records(minuteIndex,
			normalize.CoinbaseRows(raw), domain.KeyTimestampUTC, opts.DuplicatePolicy)
		if err != nil {
			return nil, fmt.Errorf("align coinbase: %w", err)
		}
		sourceMaps[domain.SourceCoinbase] = aligned
	}

	if path := runManifest.SourceFile("ethereum_rpc"); path != "" {
		raw, err := readRecords(path)
		if err != nil {
			return nil, err
		}
		aligned, err := align.Records(minuteIndex,
			normalize.GasRows(raw), domain.KeyTimestampUTC, opts.DuplicatePolicy)
		if err != nil {
			return nil, fmt.Errorf("align gas: %w", err)
		}
		sourceMaps[domain.SourceGas] = aligned
	}

	uniswapSources := []struct {
		prefix string
		source string
	}{
		{"uniswap_5bps", domain.SourceUniswap5},
		{"uniswap_30bps", domain.SourceUniswap30},
	}
	for _, entry := range uniswapSources {
		path := runManifest.SourceFile(entry.prefix)
		if path == "" {
			continue
		}
		raw, err := readRecords(path)
		if err != nil {
			return nil, err
		}
		minuteRows, err := normalize.AggregateUniswapMinutes(
			normalize.UniswapRows(raw, opts.Uniswap), opts.DuplicatePolicy)
		if err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", entry.source, err)
		}
		aligned, err := align.Records(minuteIndex, minuteRows, domain.KeyTimestampUTC, opts.DuplicatePolicy)
		if err != nil {
			return nil, fmt.Errorf("align %s: %w", entry.source, err)
		}
		sourceMaps[entry.source] = aligned
	}

	for source, alignedMap := range sourceMaps {
		missing := align.MissingMinutes(minuteIndex, alignedMap)
		observability.DefaultMetrics.MissingMinutes.WithLabelValues(source).Set(float64(len(missing)))
		log.Info("source aligned",
			zap.String("source", source),
			zap.Int("present_minutes", len(alignedMap)),
			zap.Int("missing_minutes", len(missing)))
	}

	rows := align.Merge(minuteIndex, sourceMaps)
	records := domain.RowsToRecords(rows)
	observability.DefaultMetrics.RowsAligned.Add(float64(len(records)))

	series := opts.Series
	if series == nil {
		series = cleaning.DefaultSeries()
	}
	cleaningCfg := opts.Cleaning
	if cleaningCfg == (cleaning.Config{}) {
		cleaningCfg = cleaning.DefaultConfig()
	}
	if err := cleaning.Clean(records, series, cleaningCfg); err != nil {
		return nil, fmt.Errorf("clean aligned records: %w", err)
	}

	if opts.OutputPath != "" {
		if err := writeJSON(opts.OutputPath, records); err != nil {
			return nil, err
		}
		log.Info("aligned records written",
			zap.String("path", opts.OutputPath), zap.Int("rows", len(records)))
	}

	return records, nil
}
