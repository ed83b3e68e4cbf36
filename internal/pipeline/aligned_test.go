package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"eth-basis-lab/internal/align"
	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/manifest"
	"eth-basis-lab/internal/normalize"
	"eth-basis-lab/internal/sources/coinbase"
	"eth-basis-lab/internal/sources/ethrpc"
	"eth-basis-lab/internal/sources/uniswapgraph"
)

// writeRawRun materializes one ingestion run's artifacts and manifest
// under dir, returning the manifest path.
func writeRawRun(t *testing.T, dir, runID string, start, end time.Time, closePrice float64) string {
	t.Helper()

	swaps5, candles, gas := rawFixtures(start)
	swapRows := swaps5.swaps["pool-5"]
	swap30Rows := swaps5.swaps["pool-30"]
	for i := range candles.candles {
		candles.candles[i].ClosePrice = closePrice
	}

	files := map[string]string{}
	artifacts := map[string]any{
		"uniswap_swaps_5bps":  uniswapgraph.SwapsToRecords(swapRows),
		"uniswap_swaps_30bps": uniswapgraph.SwapsToRecords(swap30Rows),
		"coinbase":            coinbase.CandlesToRecords(candles.candles),
		"ethereum_blocks":     ethrpc.BlocksToRecords(gas.blocks),
	}
	prefixes := map[string]string{
		"uniswap_swaps_5bps":  "uniswap_5bps",
		"uniswap_swaps_30bps": "uniswap_30bps",
		"coinbase":            "coinbase",
		"ethereum_blocks":     "ethereum_rpc",
	}
	for name, payload := range artifacts {
		path := filepath.Join(dir, name+"_"+runID+".json")
		if err := writeJSON(path, payload); err != nil {
			t.Fatalf("write artifact %s: %v", name, err)
		}
		files[prefixes[name]+"_json"] = path
	}

	manifestPath := filepath.Join(dir, "raw_ingestion_run_"+runID+".json")
	err := manifest.Save(manifestPath, &manifest.RunManifest{
		RunID:        runID,
		StartTimeUTC: domain.FormatUTC(start),
		EndTimeUTC:   domain.FormatUTC(end),
		RawFormat:    "json",
		Files:        files,
	})
	if err != nil {
		t.Fatalf("save manifest: %v", err)
	}
	return manifestPath
}

func TestBuildAligned_MergesSourcesOntoMinuteGrid(t *testing.T) {
	start, end := testWindow()
	dir := t.TempDir()
	manifestPath := writeRawRun(t, dir, "20240101T000000Z_aaaa1111", start, end, 2000.0)

	outputPath := filepath.Join(t.TempDir(), "aligned.json")
	records, err := BuildAligned(AlignedOptions{
		ManifestPath:    manifestPath,
		OutputPath:      outputPath,
		DuplicatePolicy: align.PolicyLast,
		Uniswap:         normalize.UniswapConfig{AssumeUSDQuote: true},
	})
	if err != nil {
		t.Fatalf("BuildAligned failed: %v", err)
	}

	if len(records) != 5 {
		t.Fatalf("Expected 5 aligned minutes, got %d", len(records))
	}

	first := records[0]
	if first[domain.KeyMinuteUTC] != "2024-01-01T00:00:00Z" {
		t.Errorf("Expected first minute key, got %v", first[domain.KeyMinuteUTC])
	}
	if domain.AsFloat(first[domain.KeyCoinbaseClose]) == nil {
		t.Errorf("Expected namespaced coinbase close, got %v", first[domain.KeyCoinbaseClose])
	}
	if domain.AsFloat(first[domain.KeyGasBaseFeeWei]) == nil {
		t.Errorf("Expected namespaced gas base fee, got %v", first[domain.KeyGasBaseFeeWei])
	}
	if domain.AsFloat(first[domain.KeyUniswap5Price]) == nil {
		t.Errorf("Expected uniswap5 price, got %v", first[domain.KeyUniswap5Price])
	}

	// Cleaning attaches fee tiers and the staleness alias, and forward
	// fill carries the price into the unpriced tail minutes.
	if first[domain.KeyUniswap5FeeTier] != domain.FeeTier5Bps {
		t.Errorf("Expected fee tier constant, got %v", first[domain.KeyUniswap5FeeTier])
	}
	last := records[4]
	if domain.AsFloat(last[domain.KeyUniswap5Price]) == nil {
		t.Errorf("Expected forward-filled price in last minute, got %v", last[domain.KeyUniswap5Price])
	}
	if age := domain.AsFloat(last[domain.KeyUniswap5Age]); age == nil || *age != 3 {
		t.Errorf("Expected fill age 3 in last minute, got %v", last[domain.KeyUniswap5Age])
	}
	if last[domain.KeyUniswap5Staleness] == nil {
		t.Error("Expected staleness alias on filled minute")
	}

	if _, err := os.Stat(outputPath); err != nil {
		t.Errorf("Expected aligned artifact at %s: %v", outputPath, err)
	}
}

func TestBuildAligned_PicksLatestManifest(t *testing.T) {
	start, end := testWindow()
	dir := t.TempDir()

	// Two runs over the same window with different candle closes; the
	// lexicographically newest manifest must win.
	writeRawRun(t, dir, "20240101T000000Z_aaaa1111", start, end, 1500.0)
	writeRawRun(t, dir, "20240102T000000Z_bbbb2222", start, end, 2500.0)

	records, err := BuildAligned(AlignedOptions{
		RawDir:          dir,
		DuplicatePolicy: align.PolicyLast,
		Uniswap:         normalize.UniswapConfig{AssumeUSDQuote: true},
	})
	if err != nil {
		t.Fatalf("BuildAligned failed: %v", err)
	}

	closePrice := domain.AsFloat(records[0][domain.KeyCoinbaseClose])
	if closePrice == nil || *closePrice != 2500.0 {
		t.Errorf("Expected latest run's close 2500, got %v", records[0][domain.KeyCoinbaseClose])
	}
}

func TestBuildAligned_EndInclusive(t *testing.T) {
	start, end := testWindow()
	dir := t.TempDir()
	manifestPath := writeRawRun(t, dir, "20240101T000000Z_cccc3333", start, end, 2000.0)

	records, err := BuildAligned(AlignedOptions{
		ManifestPath:    manifestPath,
		DuplicatePolicy: align.PolicyLast,
		EndInclusive:    true,
		Uniswap:         normalize.UniswapConfig{AssumeUSDQuote: true},
	})
	if err != nil {
		t.Fatalf("BuildAligned failed: %v", err)
	}
	if len(records) != 6 {
		t.Errorf("Expected 6 minutes with inclusive end, got %d", len(records))
	}
}

func TestBuildAligned_NoManifests(t *testing.T) {
	_, err := BuildAligned(AlignedOptions{RawDir: t.TempDir(), DuplicatePolicy: align.PolicyLast})
	if err == nil {
		t.Error("Expected error when no manifests exist")
	}
}
