package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/export"
	"eth-basis-lab/internal/features"
	"eth-basis-lab/internal/observability"
	"eth-basis-lab/internal/reporting"
	"eth-basis-lab/internal/storage"
	"eth-basis-lab/internal/validation"
)

// ProcessedOptions configures the dataset derivation and export stage.
type ProcessedOptions struct {
	OutputDir   string
	DatasetName string

	Features       features.Options
	FailOnWarnings bool

	// DatasetStore, when set, also persists the exported rows.
	DatasetStore storage.DatasetStore

	Logger *zap.Logger
}

// ProcessedResult lists the artifacts from one processed export run.
type ProcessedResult struct {
	DatasetRows []domain.Record

	DatasetJSONPath      string
	MissingnessJSONPath  string
	CSVPath              string
	MetadataPath         string
	ValidationIssueCount int
}

// processedReport is the missingness report extended with the
// validation findings of the same run.
type processedReport struct {
	reporting.MissingnessReport
	ValidationIssues []validation.Issue `json:"validation_issues"`
}

func datasetChecks() validation.Checks {
	nonNegative := validation.Range{Min: validation.FloatPtr(0)}
	return validation.Checks{
		TimestampKey:    domain.KeyMinuteUTC,
		RequiredColumns: []string{domain.KeyMinuteUTC},
		NumericRanges: map[string]validation.Range{
			domain.KeyCoinbaseClose: nonNegative,
		},
		WarningNumericRanges: map[string]validation.Range{
			domain.KeyUniswap5Price:   nonNegative,
			domain.KeyUniswap30Price:  nonNegative,
			"uniswap5_flow_usd":       nonNegative,
			"uniswap30_flow_usd":      nonNegative,
			"uniswap5_swap_count":     nonNegative,
			"uniswap30_swap_count":    nonNegative,
			domain.KeyCoinbaseVolume:  nonNegative,
			domain.KeyGasBaseFeeWei:   nonNegative,
			"gas_base_fee_gwei":       nonNegative,
			"gas_usd":                 nonNegative,
			"congestion_30d_pct":      {Min: validation.FloatPtr(0), Max: validation.FloatPtr(1)},
			"realized_vol_annualized": nonNegative,
		},
		WarningMissingThresholds: map[string]float64{
			domain.KeyCoinbaseClose:  0.2,
			domain.KeyUniswap5Price:  0.2,
			domain.KeyUniswap30Price: 0.95,
		},
	}
}

func expectedDatasetColumns() []string {
	return []string{
		domain.KeyMinuteUTC,
		domain.KeyCoinbaseClose,
		domain.KeyCoinbaseVolume,
		"coinbase_log_price",
		"coinbase_log_return",
		domain.KeyUniswap5Price,
		domain.KeyUniswap30Price,
		"uniswap5_log_price",
		"uniswap30_log_price",
		"uniswap5_log_return",
		"uniswap30_log_return",
		"wedge_5_price_diff",
		"wedge_30_price_diff",
		"wedge_5_bps",
		"wedge_30_bps",
		"basis_5_bps",
		"basis_30_bps",
		"basis_spread_bps",
		"implied_band_5_bps",
		"implied_band_30_bps",
		"violation_5",
		"violation_30",
		"violation_5_mag_bps",
		"violation_30_mag_bps",
		"gas_base_fee_gwei",
		"gas_usd",
		"congestion_30d_pct",
		"uniswap5_flow_usd",
		"uniswap30_flow_usd",
		"uniswap5_swap_count",
		"uniswap30_swap_count",
		domain.KeyGasBaseFeeWei,
		domain.KeyUniswap5Age,
		domain.KeyUniswap30Age,
		domain.KeyUniswap5FeeTier,
		domain.KeyUniswap30FeeTier,
		"realized_vol_annualized",
	}
}

// extractWindow finds the dataset's minute bounds. Empty or unparsable
// rows fall back to the current time so artifact names stay valid.
func extractWindow(records []domain.Record) (start, end time.Time) {
	now := time.Now().UTC()
	start, end = now, now
	first := true
	for _, row := range records {
		raw, ok := row[domain.KeyMinuteUTC].(string)
		if !ok {
			continue
		}
		minute, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			continue
		}
		minute = minute.UTC()
		if first {
			start, end = minute, minute
			first = false
			continue
		}
		if minute.Before(start) {
			start = minute
		}
		if minute.After(end) {
			end = minute
		}
	}
	return start, end
}

// RunProcessed derives the dataset columns from aligned records,
// validates them, writes the missingness report, and exports the
// deterministic CSV with its metadata sidecar.
func RunProcessed(ctx context.Context, alignedRecords []domain.Record, opts ProcessedOptions) (*ProcessedResult, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	featureOpts := opts.Features
	if featureOpts == (features.Options{}) {
		featureOpts = features.DefaultOptions()
	}

	datasetRows := features.BuildDatasetRows(alignedRecords, featureOpts)

	issues, err := validation.Enforce(datasetRows, datasetChecks(), opts.FailOnWarnings)
	for _, issue := range issues {
		observability.RecordValidationIssue(issue.Severity, issue.Code)
	}
	if err != nil {
		return nil, err
	}

	report := processedReport{
		MissingnessReport: reporting.BuildMissingnessReport(datasetRows, expectedDatasetColumns()),
		ValidationIssues:  issues,
	}
	if report.ValidationIssues == nil {
		report.ValidationIssues = []validation.Issue{}
	}

	start, end := extractWindow(datasetRows)
	exportResult, err := export.Records(datasetRows, opts.OutputDir, opts.DatasetName, start, end, map[string]any{
		"realized_vol_window":   featureOpts.RealizedVolWindow,
		"annualization_minutes": featureOpts.AnnualizationMinutes,
		"fail_on_warnings":      opts.FailOnWarnings,
	})
	if err != nil {
		return nil, err
	}
	observability.DefaultMetrics.DatasetRowsExported.Add(float64(len(datasetRows)))

	runTag := strings.TrimSuffix(filepath.Base(exportResult.CSVPath), ".csv")
	datasetJSONPath := filepath.Join(opts.OutputDir, runTag+".dataset.json")
	missingnessJSONPath := filepath.Join(opts.OutputDir, runTag+".missingness.json")

	if err := writeJSON(datasetJSONPath, datasetRows); err != nil {
		return nil, err
	}
	if err := writeJSON(missingnessJSONPath, report); err != nil {
		return nil, err
	}

	if opts.DatasetStore != nil {
		storedRows := make([]*domain.MinuteDatasetRow, 0, len(datasetRows))
		for _, record := range datasetRows {
			row, err := domain.DatasetRowFromRecord(record)
			if err != nil {
				return nil, fmt.Errorf("convert dataset row: %w", err)
			}
			storedRows = append(storedRows, row)
		}
		if err := opts.DatasetStore.InsertBulk(ctx, storedRows); err != nil {
			return nil, fmt.Errorf("store dataset rows: %w", err)
		}
	}

	log.Info("processed dataset exported",
		zap.Int("rows", len(datasetRows)),
		zap.Int("validation_issues", len(issues)),
		zap.String("csv", exportResult.CSVPath))

	return &ProcessedResult{
		DatasetRows:          datasetRows,
		DatasetJSONPath:      datasetJSONPath,
		MissingnessJSONPath:  missingnessJSONPath,
		CSVPath:              exportResult.CSVPath,
		MetadataPath:         exportResult.MetadataPath,
		ValidationIssueCount: len(issues),
	}, nil
}
