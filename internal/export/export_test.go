package export

import (
	"os"
	"strings"
	"testing"
	"time"

	"eth-basis-lab/internal/domain"
)

func testRecords() []domain.Record {
	return []domain.Record{
		{"minute_utc": "2024-01-01T00:00:00Z", "coinbase_close": 2000.5, "violation_5": true, "note": nil},
		{"minute_utc": "2024-01-01T00:01:00Z", "coinbase_close": 2001.0, "violation_5": false},
	}
}

func TestRecords_CSVAndMetadata(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 2, 0, 0, time.UTC)

	result, err := Records(testRecords(), dir, "test_dataset", start, end, map[string]any{"w": 30})
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}

	payload, err := os.ReadFile(result.CSVPath)
	if err != nil {
		t.Fatalf("Read CSV failed: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(payload), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d lines", len(lines))
	}

	// Columns are the sorted union of keys.
	if lines[0] != "coinbase_close,minute_utc,note,violation_5" {
		t.Errorf("Header: got %q", lines[0])
	}
	if lines[1] != "2000.5,2024-01-01T00:00:00Z,,true" {
		t.Errorf("Row 1: got %q", lines[1])
	}
	// Absent keys render as empty cells.
	if lines[2] != "2001,2024-01-01T00:01:00Z,,false" {
		t.Errorf("Row 2: got %q", lines[2])
	}

	meta := result.Metadata
	if meta.RowCount != 2 || meta.ColumnCount != 4 {
		t.Errorf("Metadata counts: rows=%d cols=%d", meta.RowCount, meta.ColumnCount)
	}
	if meta.NullCounts["note"] != 2 {
		t.Errorf("note null count: got %d, want 2", meta.NullCounts["note"])
	}
	if meta.CSVSHA256 == "" || meta.ConfigHash == "" {
		t.Error("Metadata hashes must be populated")
	}
	if meta.Window.StartTimeUTC != "2024-01-01T00:00:00Z" {
		t.Errorf("Window start: got %s", meta.Window.StartTimeUTC)
	}
}

func TestRecords_DeterministicReruns(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 2, 0, 0, time.UTC)
	config := map[string]any{"realized_vol_window": 30, "fail_on_warnings": false}

	first, err := Records(testRecords(), dir, "test_dataset", start, end, config)
	if err != nil {
		t.Fatalf("First export failed: %v", err)
	}
	second, err := Records(testRecords(), dir, "test_dataset", start, end, config)
	if err != nil {
		t.Fatalf("Second export failed: %v", err)
	}

	if first.CSVPath != second.CSVPath {
		t.Errorf("Paths differ: %s vs %s", first.CSVPath, second.CSVPath)
	}
	if first.Metadata.CSVSHA256 != second.Metadata.CSVSHA256 {
		t.Error("Re-run produced a different CSV hash")
	}
}

func TestConfigHash_OrderIndependent(t *testing.T) {
	a, err := ConfigHash(map[string]any{"x": 1, "y": "z"})
	if err != nil {
		t.Fatalf("ConfigHash failed: %v", err)
	}
	b, err := ConfigHash(map[string]any{"y": "z", "x": 1})
	if err != nil {
		t.Fatalf("ConfigHash failed: %v", err)
	}
	if a != b {
		t.Error("Hash must not depend on map declaration order")
	}
	c, _ := ConfigHash(map[string]any{"x": 2, "y": "z"})
	if a == c {
		t.Error("Different configs must hash differently")
	}
}

func TestRecords_QuotesSpecialStrings(t *testing.T) {
	dir := t.TempDir()
	records := []domain.Record{
		{"minute_utc": "2024-01-01T00:00:00Z", "label": `a,"b"`},
	}

	result, err := Records(records, dir, "quoting", time.Now(), time.Now(), nil)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}

	payload, _ := os.ReadFile(result.CSVPath)
	if !strings.Contains(string(payload), `"a,""b"""`) {
		t.Errorf("CSV quoting wrong: %s", payload)
	}
}
