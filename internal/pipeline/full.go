package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/observability"
	"eth-basis-lab/internal/validation"
)

// FullOptions bundles the per-stage configuration for one end-to-end
// run.
type FullOptions struct {
	Raw       RawOptions
	Aligned   AlignedOptions
	Processed ProcessedOptions

	Quality QualityThresholds
	// FatalQualityGate turns quality warnings into a run failure
	// before feature derivation starts.
	FatalQualityGate bool

	Logger *zap.Logger
}

// FullResult is the artifact index for one end-to-end run.
type FullResult struct {
	Raw       *RawResult
	Processed *ProcessedResult

	AlignedJSONPath   string
	SummaryJSONPath   string
	QualityIssueCount int
}

// datasetSummary is the dataset shape block of the run summary.
type datasetSummary struct {
	RowCount                int `json:"row_count"`
	ColumnCount             int `json:"column_count"`
	RealizedVolNonNullCount int `json:"realized_vol_non_null_count"`
}

type fullRunSummary struct {
	RunTimeUTC     string             `json:"run_time_utc"`
	RawRunID       string             `json:"raw_run_id"`
	RawRowCounts   map[string]int     `json:"raw_row_counts"`
	QualityMetrics QualityMetrics     `json:"quality_metrics"`
	QualityIssues  []validation.Issue `json:"quality_issues"`
	DatasetSummary datasetSummary     `json:"dataset_summary"`
	Artifacts      map[string]any     `json:"artifacts"`
}

func summarizeDataset(rows []domain.Record) datasetSummary {
	columns := make(map[string]struct{})
	realizedVolNonNull := 0
	for _, row := range rows {
		for key := range row {
			columns[key] = struct{}{}
		}
		if domain.AsFloat(row["realized_vol_annualized"]) != nil {
			realizedVolNonNull++
		}
	}
	return datasetSummary{
		RowCount:                len(rows),
		ColumnCount:             len(columns),
		RealizedVolNonNullCount: realizedVolNonNull,
	}
}

func formatQualityIssues(issues []validation.Issue) string {
	parts := make([]string, 0, len(issues))
	for _, issue := range issues {
		parts = append(parts, fmt.Sprintf("[%s:%s] %s", issue.Severity, issue.Code, issue.Message))
	}
	return strings.Join(parts, "; ")
}

// RunFull executes ingestion, alignment, the quality gate, and the
// processed export in sequence, then writes the run summary next to
// the processed artifacts.
func RunFull(ctx context.Context, ingestion *RawIngestion, opts FullOptions) (*FullResult, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	started := time.Now()

	rawResult, err := ingestion.Run(ctx, opts.Raw)
	if err != nil {
		observability.RecordPipelineRun("full", "error", time.Since(started).Seconds())
		return nil, fmt.Errorf("raw ingestion: %w", err)
	}

	alignedOpts := opts.Aligned
	alignedOpts.ManifestPath = rawResult.ManifestPath
	if alignedOpts.Logger == nil {
		alignedOpts.Logger = log
	}
	alignedRecords, err := BuildAligned(alignedOpts)
	if err != nil {
		observability.RecordPipelineRun("full", "error", time.Since(started).Seconds())
		return nil, fmt.Errorf("alignment: %w", err)
	}

	thresholds := opts.Quality
	if thresholds == (QualityThresholds{}) {
		thresholds = DefaultQualityThresholds()
	}
	qualityMetrics, qualityIssues := EvaluateAlignmentQuality(alignedRecords, thresholds)
	for _, issue := range qualityIssues {
		observability.RecordValidationIssue(issue.Severity, issue.Code)
		log.Warn("quality gate issue",
			zap.String("code", issue.Code),
			zap.String("message", issue.Message))
	}
	if opts.FatalQualityGate && len(qualityIssues) > 0 {
		observability.RecordPipelineRun("full", "error", time.Since(started).Seconds())
		return nil, fmt.Errorf("quality gate failed: %s", formatQualityIssues(qualityIssues))
	}

	processedOpts := opts.Processed
	if processedOpts.Logger == nil {
		processedOpts.Logger = log
	}
	processedResult, err := RunProcessed(ctx, alignedRecords, processedOpts)
	if err != nil {
		observability.RecordPipelineRun("full", "error", time.Since(started).Seconds())
		return nil, fmt.Errorf("processed export: %w", err)
	}

	if qualityIssues == nil {
		qualityIssues = []validation.Issue{}
	}
	summary := fullRunSummary{
		RunTimeUTC:     time.Now().UTC().Format(time.RFC3339),
		RawRunID:       rawResult.RunID,
		RawRowCounts:   rawResult.RowCounts,
		QualityMetrics: qualityMetrics,
		QualityIssues:  qualityIssues,
		DatasetSummary: summarizeDataset(processedResult.DatasetRows),
		Artifacts: map[string]any{
			"raw":                     rawResult.Files,
			"aligned_json":            alignedOpts.OutputPath,
			"dataset_json":            processedResult.DatasetJSONPath,
			"missingness_report_json": processedResult.MissingnessJSONPath,
			"csv":                     processedResult.CSVPath,
			"metadata_json":           processedResult.MetadataPath,
		},
	}
	summaryPath := filepath.Join(processedOpts.OutputDir, fmt.Sprintf("full_run_summary_%s.json", rawResult.RunID))
	if err := writeJSON(summaryPath, summary); err != nil {
		observability.RecordPipelineRun("full", "error", time.Since(started).Seconds())
		return nil, fmt.Errorf("write run summary: %w", err)
	}

	observability.RecordPipelineRun("full", "success", time.Since(started).Seconds())
	observability.DefaultMetrics.LastSuccessfulRun.SetToCurrentTime()

	log.Info("full pipeline run complete",
		zap.String("run_id", rawResult.RunID),
		zap.Int("aligned_rows", len(alignedRecords)),
		zap.Int("dataset_rows", len(processedResult.DatasetRows)),
		zap.Int("quality_issues", len(qualityIssues)),
		zap.Duration("elapsed", time.Since(started)))

	return &FullResult{
		Raw:               rawResult,
		Processed:         processedResult,
		AlignedJSONPath:   alignedOpts.OutputPath,
		SummaryJSONPath:   summaryPath,
		QualityIssueCount: len(qualityIssues),
	}, nil
}
