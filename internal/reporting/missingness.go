// Package reporting builds data-quality summaries for processed
// datasets.
package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"eth-basis-lab/internal/domain"
)

// ColumnMissingness summarizes gaps in one column.
type ColumnMissingness struct {
	MissingCount          int     `json:"missing_count"`
	MissingRate           float64 `json:"missing_rate"`
	MaxConsecutiveMissing int     `json:"max_consecutive_missing"`
}

// MissingnessReport is the per-column missingness summary for one
// dataset.
type MissingnessReport struct {
	TotalRows   int                          `json:"total_rows"`
	ColumnCount int                          `json:"column_count"`
	PerColumn   map[string]ColumnMissingness `json:"per_column"`
}

// BuildMissingnessReport computes missing rates and longest
// consecutive gaps per column. Columns are the union of expected
// columns and every key observed in the records; absent keys count as
// missing.
func BuildMissingnessReport(records []domain.Record, expectedColumns []string) MissingnessReport {
	columns := make(map[string]struct{}, len(expectedColumns))
	for _, column := range expectedColumns {
		columns[column] = struct{}{}
	}
	for _, row := range records {
		for key := range row {
			columns[key] = struct{}{}
		}
	}

	names := make([]string, 0, len(columns))
	for column := range columns {
		names = append(names, column)
	}
	sort.Strings(names)

	perColumn := make(map[string]ColumnMissingness, len(names))
	for _, column := range names {
		missing := 0
		maxRun := 0
		run := 0
		for _, row := range records {
			if value, ok := row[column]; !ok || value == nil {
				missing++
				run++
				if run > maxRun {
					maxRun = run
				}
			} else {
				run = 0
			}
		}

		rate := 0.0
		if len(records) > 0 {
			rate = float64(missing) / float64(len(records))
		}
		perColumn[column] = ColumnMissingness{
			MissingCount:          missing,
			MissingRate:           rate,
			MaxConsecutiveMissing: maxRun,
		}
	}

	return MissingnessReport{
		TotalRows:   len(records),
		ColumnCount: len(names),
		PerColumn:   perColumn,
	}
}

// WriteMissingnessReport writes the report as indented JSON.
func WriteMissingnessReport(path string, report MissingnessReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
