// Package align maps normalized per-source records onto the canonical
// minute index and merges aligned sources into per-minute rows.
package align

import (
	"errors"
	"fmt"
	"time"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/timeindex"
)

// DuplicatePolicy resolves multiple records landing in the same minute.
type DuplicatePolicy string

const (
	// PolicyFirst keeps the first record in input order.
	PolicyFirst DuplicatePolicy = "first"
	// PolicyLast keeps the last record in input order.
	PolicyLast DuplicatePolicy = "last"
)

// ErrInvalidDuplicatePolicy is returned for policies outside {first, last}.
var ErrInvalidDuplicatePolicy = errors.New("duplicate_policy must be 'last' or 'first'")

// ParsePolicy validates a duplicate policy string.
func ParsePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case PolicyFirst, PolicyLast:
		return DuplicatePolicy(s), nil
	default:
		return "", fmt.Errorf("%w, got %q", ErrInvalidDuplicatePolicy, s)
	}
}

// Records maps normalized source records onto the canonical minute
// index. Each record's timestamp is floored to the minute; records
// landing outside the index are dropped silently (expected at window
// edges). Collisions within a minute are resolved by the duplicate
// policy, stable in input order rather than timestamp order.
func Records(
	minuteIndex []time.Time,
	records []domain.Record,
	timestampKey string,
	policy DuplicatePolicy,
) (map[time.Time]domain.Record, error) {
	if policy != PolicyFirst && policy != PolicyLast {
		return nil, fmt.Errorf("%w, got %q", ErrInvalidDuplicatePolicy, policy)
	}

	inIndex := make(map[time.Time]struct{}, len(minuteIndex))
	for _, minute := range minuteIndex {
		inIndex[minute] = struct{}{}
	}

	aligned := make(map[time.Time]domain.Record)
	for _, record := range records {
		raw, ok := record[timestampKey]
		if !ok {
			continue
		}
		ts, err := timeindex.ParseUTC(raw)
		if err != nil {
			return nil, fmt.Errorf("record timestamp: %w", err)
		}

		minute := timeindex.FloorToMinute(ts)
		if _, ok := inIndex[minute]; !ok {
			continue
		}

		payload := make(domain.Record, len(record))
		for k, v := range record {
			if k == timestampKey {
				continue
			}
			payload[k] = v
		}

		if _, exists := aligned[minute]; !exists || policy == PolicyLast {
			aligned[minute] = payload
		}
	}

	return aligned, nil
}

// Merge joins aligned per-source maps into one row per canonical
// minute. Fields are namespaced "<source>_<field>"; sources absent at
// a minute contribute nothing, so downstream code treats missing keys
// as null rather than zero.
func Merge(
	minuteIndex []time.Time,
	sourceMaps map[string]map[time.Time]domain.Record,
) []domain.AlignedRow {
	rows := make([]domain.AlignedRow, 0, len(minuteIndex))
	for _, minute := range minuteIndex {
		merged := domain.Record{}
		for sourceName, alignedMap := range sourceMaps {
			for key, value := range alignedMap[minute] {
				merged[sourceName+"_"+key] = value
			}
		}
		rows = append(rows, domain.AlignedRow{MinuteUTC: minute, Values: merged})
	}
	return rows
}

// MissingMinutes returns the canonical minutes with no record for one
// aligned source map.
func MissingMinutes(
	minuteIndex []time.Time,
	alignedMap map[time.Time]domain.Record,
) []time.Time {
	var missing []time.Time
	for _, minute := range minuteIndex {
		if _, ok := alignedMap[minute]; !ok {
			missing = append(missing, minute)
		}
	}
	return missing
}
