// Package timeindex builds the canonical per-minute UTC timeline that
// every source is aligned onto.
package timeindex

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidWindow is returned when end does not fall after start.
var ErrInvalidWindow = errors.New("end_time_utc must be later than start_time_utc")

// FloorToMinute truncates a timestamp to its UTC minute boundary.
func FloorToMinute(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Minute)
}

// BuildMinuteIndex returns the ordered sequence of minute boundaries
// from floor(start) to floor(end), inclusive or exclusive of the end
// boundary. The index is strictly increasing and gap-free.
//
// An inverted window is a configuration error. A window whose computed
// stop boundary precedes the start boundary yields an empty index.
func BuildMinuteIndex(start, end time.Time, endInclusive bool) ([]time.Time, error) {
	if !end.After(start) {
		return nil, ErrInvalidWindow
	}

	startMinute := FloorToMinute(start)
	stop := FloorToMinute(end)
	if !endInclusive {
		stop = stop.Add(-time.Minute)
	}

	if stop.Before(startMinute) {
		return []time.Time{}, nil
	}

	minutes := make([]time.Time, 0, stop.Sub(startMinute)/time.Minute+1)
	for current := startMinute; !current.After(stop); current = current.Add(time.Minute) {
		minutes = append(minutes, current)
	}
	return minutes, nil
}

// ParseUTC parses a timestamp value into UTC. Accepted shapes: native
// time.Time, ISO-8601 strings (with offset, or naive and read as UTC),
// and unix-second strings or numbers, since raw artifacts mix all three.
func ParseUTC(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		stripped := strings.TrimSpace(v)
		if isAllDigits(stripped) {
			unix, err := strconv.ParseInt(stripped, 10, 64)
			if err != nil {
				return time.Time{}, fmt.Errorf("parse unix timestamp %q: %w", v, err)
			}
			return time.Unix(unix, 0).UTC(), nil
		}
		parsed, err := time.Parse(time.RFC3339, stripped)
		if err != nil {
			// Timezone-naive ISO-8601 strings are read as UTC.
			for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
				if naive, naiveErr := time.ParseInLocation(layout, stripped, time.UTC); naiveErr == nil {
					return naive, nil
				}
			}
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
		}
		return parsed.UTC(), nil
	case float64:
		return time.Unix(int64(v), 0).UTC(), nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case int:
		return time.Unix(int64(v), 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", value)
	}
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
