// Package manifest reads and writes the raw ingestion run descriptor
// that associates a time window with per-source artifact files.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrNoManifests is returned when a directory holds no run manifests.
var ErrNoManifests = errors.New("no raw ingestion run manifests found")

// RunManifest describes one raw ingestion run: the window it covered
// and where each source's artifact landed. File keys are namespaced
// "<source>_<format>", e.g. "coinbase_json".
type RunManifest struct {
	RunID        string            `json:"run_id"`
	StartTimeUTC string            `json:"start_time_utc"`
	EndTimeUTC   string            `json:"end_time_utc"`
	RawFormat    string            `json:"raw_format"`
	RowCounts    map[string]int    `json:"row_counts"`
	Files        map[string]string `json:"files"`
}

// SourceFile picks the artifact path for a source prefix, preferring
// the JSON artifact. Falls back to an unsuffixed key written by early
// ingest runs. Returns "" when the source was not ingested.
func (m *RunManifest) SourceFile(prefix string) string {
	if path, ok := m.Files[prefix+"_json"]; ok {
		return path
	}
	if path, ok := m.Files[prefix]; ok {
		return path
	}
	return ""
}

// Load reads a run manifest from disk.
func Load(path string) (*RunManifest, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m RunManifest
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// Save writes a run manifest as indented JSON.
func Save(path string, m *RunManifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// LatestPath returns the most recent run manifest in rawDir, by
// lexicographic run-id ordering (run ids start with a UTC timestamp).
func LatestPath(rawDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(rawDir, "raw_ingestion_run_*.json"))
	if err != nil {
		return "", fmt.Errorf("glob manifests: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoManifests, rawDir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
