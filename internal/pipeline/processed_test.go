package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/features"
	"eth-basis-lab/internal/validation"
)

func alignedFixture() []domain.Record {
	minutes := []string{
		"2024-01-01T00:00:00Z",
		"2024-01-01T00:01:00Z",
		"2024-01-01T00:02:00Z",
	}
	prices := []float64{2000.0, 2001.0, 2002.0}

	records := make([]domain.Record, 0, len(minutes))
	for i, minute := range minutes {
		records = append(records, domain.Record{
			domain.KeyMinuteUTC:        minute,
			domain.KeyCoinbaseClose:    prices[i],
			domain.KeyCoinbaseVolume:   3.5,
			domain.KeyUniswap5Price:    prices[i] * 1.001,
			domain.KeyUniswap5Age:      0.0,
			domain.KeyUniswap5FeeTier:  domain.FeeTier5Bps,
			domain.KeyUniswap30Price:   prices[i] * 1.002,
			domain.KeyUniswap30Age:     0.0,
			domain.KeyUniswap30FeeTier: domain.FeeTier30Bps,
			domain.KeyGasBaseFeeWei:    int64(20_000_000_000),
		})
	}
	return records
}

func TestRunProcessed_ExportsArtifacts(t *testing.T) {
	outputDir := t.TempDir()

	result, err := RunProcessed(context.Background(), alignedFixture(), ProcessedOptions{
		OutputDir:   outputDir,
		DatasetName: "eth_basis_minute",
	})
	if err != nil {
		t.Fatalf("RunProcessed failed: %v", err)
	}

	if len(result.DatasetRows) != 3 {
		t.Fatalf("Expected 3 dataset rows, got %d", len(result.DatasetRows))
	}

	// Artifact names share the CSV's run tag.
	tag := strings.TrimSuffix(result.CSVPath, ".csv")
	if result.DatasetJSONPath != tag+".dataset.json" {
		t.Errorf("Dataset JSON %q does not match CSV tag", result.DatasetJSONPath)
	}
	if result.MissingnessJSONPath != tag+".missingness.json" {
		t.Errorf("Missingness JSON %q does not match CSV tag", result.MissingnessJSONPath)
	}

	for _, path := range []string{result.CSVPath, result.MetadataPath, result.DatasetJSONPath, result.MissingnessJSONPath} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Expected artifact at %s: %v", path, err)
		}
	}

	// The missingness report carries the run's validation findings.
	data, err := os.ReadFile(result.MissingnessJSONPath)
	if err != nil {
		t.Fatalf("Read missingness report failed: %v", err)
	}
	var report struct {
		ValidationIssues []validation.Issue `json:"validation_issues"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("Decode missingness report failed: %v", err)
	}
	if report.ValidationIssues == nil {
		t.Error("Expected validation_issues list in report, got null")
	}

	// Derived columns were computed on every priced minute.
	for i, row := range result.DatasetRows {
		if domain.AsFloat(row["basis_5_bps"]) == nil {
			t.Errorf("Row %d missing basis_5_bps", i)
		}
		if domain.AsFloat(row["gas_base_fee_gwei"]) == nil {
			t.Errorf("Row %d missing gas_base_fee_gwei", i)
		}
	}
}

func TestRunProcessed_FailOnWarnings(t *testing.T) {
	records := alignedFixture()
	// A negative volume trips a warning-severity range check.
	records[1][domain.KeyCoinbaseVolume] = -1.0

	_, err := RunProcessed(context.Background(), records, ProcessedOptions{
		OutputDir:      t.TempDir(),
		DatasetName:    "eth_basis_minute",
		FailOnWarnings: true,
	})
	if !errors.Is(err, validation.ErrValidationFailed) {
		t.Errorf("Expected ErrValidationFailed, got %v", err)
	}
}

func TestRunProcessed_WarningsPassByDefault(t *testing.T) {
	records := alignedFixture()
	records[1][domain.KeyCoinbaseVolume] = -1.0

	result, err := RunProcessed(context.Background(), records, ProcessedOptions{
		OutputDir:   t.TempDir(),
		DatasetName: "eth_basis_minute",
	})
	if err != nil {
		t.Fatalf("RunProcessed failed: %v", err)
	}
	if result.ValidationIssueCount == 0 {
		t.Error("Expected the warning to be recorded")
	}
}

func TestRunProcessed_HardErrorAlwaysFails(t *testing.T) {
	records := alignedFixture()
	// A negative close violates a hard range check.
	records[0][domain.KeyCoinbaseClose] = -5.0

	_, err := RunProcessed(context.Background(), records, ProcessedOptions{
		OutputDir:   t.TempDir(),
		DatasetName: "eth_basis_minute",
	})
	if !errors.Is(err, validation.ErrValidationFailed) {
		t.Errorf("Expected ErrValidationFailed for hard error, got %v", err)
	}
}

func TestRunProcessed_CustomFeatureOptions(t *testing.T) {
	opts := features.DefaultOptions()
	opts.RealizedVolWindow = 2

	result, err := RunProcessed(context.Background(), alignedFixture(), ProcessedOptions{
		OutputDir:   t.TempDir(),
		DatasetName: "eth_basis_minute",
		Features:    opts,
	})
	if err != nil {
		t.Fatalf("RunProcessed failed: %v", err)
	}

	// With a 2-return window the third minute has a realized vol value.
	if domain.AsFloat(result.DatasetRows[2]["realized_vol_annualized"]) == nil {
		t.Errorf("Expected realized vol on row 2, got %v", result.DatasetRows[2]["realized_vol_annualized"])
	}
}
