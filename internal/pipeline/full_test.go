package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"eth-basis-lab/internal/align"
	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/normalize"
	"eth-basis-lab/internal/storage/memory"
)

func fullOptions(t *testing.T, start, end time.Time) (FullOptions, string) {
	t.Helper()
	outputDir := t.TempDir()

	return FullOptions{
		Raw: RawOptions{
			StartTimeUTC:            start,
			EndTimeUTC:              end,
			OutputDir:               filepath.Join(outputDir, "raw"),
			Pool5ID:                 "pool-5",
			Pool30ID:                "pool-30",
			CoinbaseProductID:       "ETH-USD",
			CoinbaseIntervalSeconds: 60,
		},
		Aligned: AlignedOptions{
			RawDir:          filepath.Join(outputDir, "raw"),
			OutputPath:      filepath.Join(outputDir, "interim", "aligned_records.json"),
			DuplicatePolicy: align.PolicyLast,
			Uniswap:         normalize.UniswapConfig{AssumeUSDQuote: true},
		},
		Processed: ProcessedOptions{
			OutputDir:   filepath.Join(outputDir, "processed"),
			DatasetName: "eth_basis_minute",
		},
	}, outputDir
}

func TestRunFull_EndToEnd(t *testing.T) {
	start, end := testWindow()
	swaps, candles, gas := rawFixtures(start)
	ingestion := &RawIngestion{Swaps: swaps, Candles: candles, Gas: gas}

	opts, _ := fullOptions(t, start, end)
	datasetStore := memory.NewDatasetStore()
	opts.Processed.DatasetStore = datasetStore

	result, err := RunFull(context.Background(), ingestion, opts)
	if err != nil {
		t.Fatalf("RunFull failed: %v", err)
	}

	// Five-minute exclusive window yields five dataset rows.
	if len(result.Processed.DatasetRows) != 5 {
		t.Fatalf("Expected 5 dataset rows, got %d", len(result.Processed.DatasetRows))
	}

	// Forward fill carries both pool prices through the sparse minutes,
	// so the default quality gate passes clean.
	if result.QualityIssueCount != 0 {
		t.Errorf("Expected no quality issues, got %d", result.QualityIssueCount)
	}

	for _, path := range []string{
		result.AlignedJSONPath,
		result.SummaryJSONPath,
		result.Processed.CSVPath,
		result.Processed.MetadataPath,
		result.Processed.DatasetJSONPath,
		result.Processed.MissingnessJSONPath,
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Expected artifact at %s: %v", path, err)
		}
	}

	// The summary ties the raw run id to the artifact index.
	data, err := os.ReadFile(result.SummaryJSONPath)
	if err != nil {
		t.Fatalf("Read summary failed: %v", err)
	}
	var summary map[string]any
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("Decode summary failed: %v", err)
	}
	if summary["raw_run_id"] != result.Raw.RunID {
		t.Errorf("Summary run id %v != %s", summary["raw_run_id"], result.Raw.RunID)
	}
	if _, ok := summary["quality_metrics"]; !ok {
		t.Error("Summary missing quality_metrics")
	}
	if _, ok := summary["dataset_summary"]; !ok {
		t.Error("Summary missing dataset_summary")
	}

	// Dataset rows were also persisted to the configured store.
	stored, err := datasetStore.GetByTimeRange(context.Background(), start, end)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(stored) != 5 {
		t.Errorf("Expected 5 stored dataset rows, got %d", len(stored))
	}

	// Derived columns are present on a priced minute.
	row := result.Processed.DatasetRows[0]
	if domain.AsFloat(row["basis_5_bps"]) == nil {
		t.Errorf("Expected basis_5_bps on first minute, got %v", row["basis_5_bps"])
	}
	if domain.AsFloat(row["implied_band_5_bps"]) == nil {
		t.Errorf("Expected implied_band_5_bps on first minute, got %v", row["implied_band_5_bps"])
	}
	if domain.AsFloat(row["gas_base_fee_gwei"]) == nil {
		t.Errorf("Expected gas_base_fee_gwei on first minute, got %v", row["gas_base_fee_gwei"])
	}
}

func TestRunFull_FatalQualityGate(t *testing.T) {
	start, end := testWindow()
	_, candles, gas := rawFixtures(start)

	// No swaps at all drives both pool coverages to zero.
	ingestion := &RawIngestion{
		Swaps:   &stubSwapFetcher{swaps: map[string][]domain.UniswapSwap{}},
		Candles: candles,
		Gas:     gas,
	}

	opts, _ := fullOptions(t, start, end)
	opts.FatalQualityGate = true

	_, err := RunFull(context.Background(), ingestion, opts)
	if err == nil {
		t.Fatal("Expected fatal quality gate to fail the run")
	}
	if !strings.Contains(err.Error(), "quality gate failed") {
		t.Errorf("Expected quality gate error, got %v", err)
	}
	if !strings.Contains(err.Error(), "low_uniswap5_coverage") {
		t.Errorf("Expected coverage issue in message, got %v", err)
	}
}

func TestRunFull_NonFatalQualityIssues(t *testing.T) {
	start, end := testWindow()
	_, candles, gas := rawFixtures(start)

	ingestion := &RawIngestion{
		Swaps:   &stubSwapFetcher{swaps: map[string][]domain.UniswapSwap{}},
		Candles: candles,
		Gas:     gas,
	}

	opts, _ := fullOptions(t, start, end)

	result, err := RunFull(context.Background(), ingestion, opts)
	if err != nil {
		t.Fatalf("RunFull failed: %v", err)
	}
	if result.QualityIssueCount == 0 {
		t.Error("Expected quality issues for an unpriced window")
	}
}
