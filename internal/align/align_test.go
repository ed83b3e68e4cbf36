package align

import (
	"errors"
	"testing"
	"time"

	"eth-basis-lab/internal/domain"
)

func minuteIndex(start time.Time, n int) []time.Time {
	minutes := make([]time.Time, n)
	for i := range minutes {
		minutes[i] = start.Add(time.Duration(i) * time.Minute)
	}
	return minutes
}

func TestRecords_FloorsToMinute(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	index := minuteIndex(start, 3)

	records := []domain.Record{
		{"timestamp_utc": "2024-01-01T00:01:42Z", "close": 100.0},
	}

	aligned, err := Records(index, records, "timestamp_utc", PolicyLast)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}

	minute := start.Add(time.Minute)
	row, ok := aligned[minute]
	if !ok {
		t.Fatalf("Expected record at %v", minute)
	}
	if row["close"] != 100.0 {
		t.Errorf("close: got %v, want 100.0", row["close"])
	}
	if _, ok := row["timestamp_utc"]; ok {
		t.Error("Timestamp key should be stripped from the payload")
	}
}

func TestRecords_DuplicatePolicyLast(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	index := minuteIndex(start, 1)

	records := []domain.Record{
		{"timestamp_utc": "2024-01-01T00:00:10Z", "close": 1.0},
		{"timestamp_utc": "2024-01-01T00:00:05Z", "close": 2.0},
	}

	aligned, err := Records(index, records, "timestamp_utc", PolicyLast)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}

	// Last in input order wins, regardless of in-minute timestamp order.
	if aligned[start]["close"] != 2.0 {
		t.Errorf("close: got %v, want 2.0", aligned[start]["close"])
	}
}

func TestRecords_DuplicatePolicyFirst(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	index := minuteIndex(start, 1)

	records := []domain.Record{
		{"timestamp_utc": "2024-01-01T00:00:10Z", "close": 1.0},
		{"timestamp_utc": "2024-01-01T00:00:05Z", "close": 2.0},
	}

	aligned, err := Records(index, records, "timestamp_utc", PolicyFirst)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}

	if aligned[start]["close"] != 1.0 {
		t.Errorf("close: got %v, want 1.0", aligned[start]["close"])
	}
}

func TestRecords_DropsOutOfWindowAndMissingTimestamps(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	index := minuteIndex(start, 2)

	records := []domain.Record{
		{"timestamp_utc": "2023-12-31T23:59:00Z", "close": 1.0},
		{"timestamp_utc": "2024-01-01T00:05:00Z", "close": 2.0},
		{"close": 3.0},
		{"timestamp_utc": "2024-01-01T00:01:00Z", "close": 4.0},
	}

	aligned, err := Records(index, records, "timestamp_utc", PolicyLast)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}

	if len(aligned) != 1 {
		t.Fatalf("Expected 1 aligned minute, got %d", len(aligned))
	}
	if aligned[start.Add(time.Minute)]["close"] != 4.0 {
		t.Errorf("Unexpected row: %v", aligned[start.Add(time.Minute)])
	}
}

func TestRecords_MalformedTimestampFails(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	index := minuteIndex(start, 1)

	records := []domain.Record{
		{"timestamp_utc": "garbage", "close": 1.0},
	}

	if _, err := Records(index, records, "timestamp_utc", PolicyLast); err == nil {
		t.Error("Expected error for malformed timestamp")
	}
}

func TestParsePolicy(t *testing.T) {
	if _, err := ParsePolicy("first"); err != nil {
		t.Errorf("ParsePolicy(first) failed: %v", err)
	}
	if _, err := ParsePolicy("last"); err != nil {
		t.Errorf("ParsePolicy(last) failed: %v", err)
	}
	if _, err := ParsePolicy("latest"); !errors.Is(err, ErrInvalidDuplicatePolicy) {
		t.Errorf("Expected ErrInvalidDuplicatePolicy, got %v", err)
	}
}

func TestMerge_NamespacesAndNullAbsence(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	index := minuteIndex(start, 2)

	sourceMaps := map[string]map[time.Time]domain.Record{
		"coinbase": {
			start: {"close": 100.0, "volume": 5.0},
		},
		"uniswap5": {
			start:                  {"token0_price": 99.5},
			start.Add(time.Minute): {"token0_price": 99.8},
		},
	}

	rows := Merge(index, sourceMaps)
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}

	first := rows[0].Values
	if first["coinbase_close"] != 100.0 {
		t.Errorf("coinbase_close: got %v", first["coinbase_close"])
	}
	if first["uniswap5_token0_price"] != 99.5 {
		t.Errorf("uniswap5_token0_price: got %v", first["uniswap5_token0_price"])
	}

	second := rows[1].Values
	if _, ok := second["coinbase_close"]; ok {
		t.Error("Absent source must not contribute keys")
	}
	if second["uniswap5_token0_price"] != 99.8 {
		t.Errorf("uniswap5_token0_price: got %v", second["uniswap5_token0_price"])
	}
}

func TestMissingMinutes(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	index := minuteIndex(start, 3)

	alignedMap := map[time.Time]domain.Record{
		start.Add(time.Minute): {"close": 1.0},
	}

	missing := MissingMinutes(index, alignedMap)
	if len(missing) != 2 {
		t.Fatalf("Expected 2 missing minutes, got %d", len(missing))
	}
	if !missing[0].Equal(start) || !missing[1].Equal(start.Add(2*time.Minute)) {
		t.Errorf("Unexpected missing minutes: %v", missing)
	}
}
