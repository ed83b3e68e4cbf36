// Package main prints coverage, staleness, and missingness reports
// for a pipeline run's artifacts.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/pipeline"
	"eth-basis-lab/internal/reporting"
)

func main() {
	alignedPath := flag.String("aligned-json", "data/interim/aligned_records.json", "Aligned records JSON path")
	datasetPath := flag.String("dataset-json", "", "Processed dataset JSON path (optional)")
	jsonOutput := flag.Bool("json", false, "Emit the report as JSON instead of text")
	flag.Parse()

	records, err := readRecords(*alignedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading aligned records: %v\n", err)
		os.Exit(1)
	}

	metrics, issues := pipeline.EvaluateAlignmentQuality(records, pipeline.DefaultQualityThresholds())

	var missingness *reporting.MissingnessReport
	if *datasetPath != "" {
		datasetRows, err := readRecords(*datasetPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading dataset: %v\n", err)
			os.Exit(1)
		}
		report := reporting.BuildMissingnessReport(datasetRows, nil)
		missingness = &report
	}

	if *jsonOutput {
		payload := map[string]any{
			"aligned_json":    *alignedPath,
			"quality_metrics": metrics,
			"quality_issues":  issues,
		}
		if missingness != nil {
			payload["missingness"] = missingness
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(payload); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding report: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("Alignment quality for %s\n", filepath.Base(*alignedPath))
	fmt.Printf("  Total minutes: %d\n", metrics.TotalMinutes)
	fmt.Printf("  Coverage: uniswap5=%.3f uniswap30=%.3f\n", metrics.Coverage.Uniswap5, metrics.Coverage.Uniswap30)
	if shares := metrics.Staleness.ShareOverThreshold; shares != nil {
		fmt.Printf("  Stale share (>%.0f min): uniswap5=%.3f uniswap30=%.3f\n",
			metrics.Staleness.ThresholdMinutes, shares["uniswap5"], shares["uniswap30"])
	}
	if len(issues) == 0 {
		fmt.Println("  No quality issues")
	} else {
		fmt.Printf("  Quality issues (%d):\n", len(issues))
		for _, issue := range issues {
			fmt.Printf("    [%s:%s] %s\n", issue.Severity, issue.Code, issue.Message)
		}
	}

	if missingness != nil {
		fmt.Printf("\nMissingness for %s (%d rows, %d columns)\n",
			filepath.Base(*datasetPath), missingness.TotalRows, missingness.ColumnCount)
		columns := make([]string, 0, len(missingness.PerColumn))
		for column := range missingness.PerColumn {
			columns = append(columns, column)
		}
		sort.Strings(columns)
		for _, column := range columns {
			stats := missingness.PerColumn[column]
			if stats.MissingCount == 0 {
				continue
			}
			fmt.Printf("  %-36s missing=%.3f max_consecutive=%d\n",
				column, stats.MissingRate, stats.MaxConsecutiveMissing)
		}
	}
}

func readRecords(path string) ([]domain.Record, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []domain.Record
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return records, nil
}
