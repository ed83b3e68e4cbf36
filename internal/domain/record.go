package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Record is a named field bag for one source observation or one merged
// minute row. Sources emit different field sets, so rows stay dynamic;
// a missing key and a nil value both mean "no observation".
type Record map[string]any

// AlignedRow is a canonical minute row with merged source payload.
type AlignedRow struct {
	MinuteUTC time.Time
	Values    Record
}

// AsFloat coerces a record value to a finite float64.
// Returns nil for absent, nil, unparseable, or non-finite values;
// malformed individual fields are data gaps, never errors.
func AsFloat(value any) *float64 {
	var parsed float64
	switch v := value.(type) {
	case nil:
		return nil
	case float64:
		parsed = v
	case float32:
		parsed = float64(v)
	case int:
		parsed = float64(v)
	case int64:
		parsed = float64(v)
	case uint64:
		parsed = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil
		}
		parsed = f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		parsed = f
	case bool:
		return nil
	default:
		return nil
	}

	if math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return nil
	}
	return &parsed
}

// AsPositiveFloat is AsFloat restricted to values usable as prices.
func AsPositiveFloat(value any) *float64 {
	f := AsFloat(value)
	if f == nil || *f <= 0 {
		return nil
	}
	return f
}

// RowsToRecords converts aligned rows into flat serializable records
// keyed by minute_utc.
func RowsToRecords(rows []AlignedRow) []Record {
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		record := Record{
			KeyMinuteUTC: FormatUTC(row.MinuteUTC),
		}
		for k, v := range row.Values {
			record[k] = v
		}
		records = append(records, record)
	}
	return records
}

// FormatUTC renders a timestamp as an ISO-8601 UTC string with Z suffix.
func FormatUTC(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}
