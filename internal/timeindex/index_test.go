package timeindex

import (
	"errors"
	"testing"
	"time"
)

func TestBuildMinuteIndex_ExclusiveEnd(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)

	minutes, err := BuildMinuteIndex(start, end, false)
	if err != nil {
		t.Fatalf("BuildMinuteIndex failed: %v", err)
	}

	if len(minutes) != 5 {
		t.Fatalf("Expected 5 minutes, got %d", len(minutes))
	}
	if !minutes[0].Equal(start) {
		t.Errorf("First minute: got %v, want %v", minutes[0], start)
	}
	last := time.Date(2024, 1, 1, 0, 4, 0, 0, time.UTC)
	if !minutes[4].Equal(last) {
		t.Errorf("Last minute: got %v, want %v", minutes[4], last)
	}
}

func TestBuildMinuteIndex_InclusiveEnd(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)

	minutes, err := BuildMinuteIndex(start, end, true)
	if err != nil {
		t.Fatalf("BuildMinuteIndex failed: %v", err)
	}

	if len(minutes) != 6 {
		t.Fatalf("Expected 6 minutes, got %d", len(minutes))
	}
	if !minutes[5].Equal(end) {
		t.Errorf("Last minute: got %v, want %v", minutes[5], end)
	}
}

func TestBuildMinuteIndex_FloorsSubMinuteBounds(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 2, 45, 0, time.UTC)

	minutes, err := BuildMinuteIndex(start, end, false)
	if err != nil {
		t.Fatalf("BuildMinuteIndex failed: %v", err)
	}

	// floor(start)=00:00, floor(end)-1m=00:01
	if len(minutes) != 2 {
		t.Fatalf("Expected 2 minutes, got %d", len(minutes))
	}
	if minutes[0].Second() != 0 {
		t.Errorf("Minute boundary not floored: %v", minutes[0])
	}
}

func TestBuildMinuteIndex_InvertedWindow(t *testing.T) {
	start := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := BuildMinuteIndex(start, end, false)
	if !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("Expected ErrInvalidWindow, got %v", err)
	}
}

func TestBuildMinuteIndex_SubMinuteWindowIsEmpty(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 0, 50, 0, time.UTC)

	minutes, err := BuildMinuteIndex(start, end, false)
	if err != nil {
		t.Fatalf("BuildMinuteIndex failed: %v", err)
	}
	if len(minutes) != 0 {
		t.Errorf("Expected empty index, got %d minutes", len(minutes))
	}
}

func TestParseUTC_Formats(t *testing.T) {
	want := time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)

	cases := []struct {
		name  string
		value any
	}{
		{"rfc3339", "2024-01-01T12:30:00Z"},
		{"rfc3339_offset", "2024-01-01T14:30:00+02:00"},
		{"naive_iso", "2024-01-01T12:30:00"},
		{"naive_space", "2024-01-01 12:30:00"},
		{"unix_string", "1704112200"},
		{"unix_float", float64(1704112200)},
		{"unix_int64", int64(1704112200)},
		{"native", want},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseUTC(tc.value)
			if err != nil {
				t.Fatalf("ParseUTC(%v) failed: %v", tc.value, err)
			}
			if !got.Equal(want) {
				t.Errorf("ParseUTC(%v) = %v, want %v", tc.value, got, want)
			}
		})
	}
}

func TestParseUTC_Invalid(t *testing.T) {
	if _, err := ParseUTC("not-a-timestamp"); err == nil {
		t.Error("Expected error for malformed string")
	}
	if _, err := ParseUTC(struct{}{}); err == nil {
		t.Error("Expected error for unsupported type")
	}
}

func TestFloorToMinute(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 30, 59, 999_000_000, time.UTC)
	want := time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)
	if got := FloorToMinute(ts); !got.Equal(want) {
		t.Errorf("FloorToMinute = %v, want %v", got, want)
	}
}
