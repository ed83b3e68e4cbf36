// Package pipeline orchestrates the ingestion stages: raw source
// fetch, minute alignment and cleaning, dataset derivation and export,
// and the end-to-end run with quality gates.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"eth-basis-lab/internal/domain"
)

// writeJSON writes an indented JSON artifact, creating parent
// directories as needed.
func writeJSON(path string, payload any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	return nil
}

// readRecords loads a JSON artifact holding a list of records.
func readRecords(path string) ([]domain.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	var records []domain.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	return records, nil
}
