package normalize

import (
	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/timeindex"
)

// CoinbaseRows normalizes raw candle rows into uniform records with
// keys timestamp_utc, close, and volume. Rows without a timestamp are
// skipped.
func CoinbaseRows(rawRows []domain.Record) []domain.Record {
	normalized := make([]domain.Record, 0, len(rawRows))
	for _, row := range rawRows {
		ts, ok := row[domain.KeyTimestampUTC]
		if !ok || ts == nil {
			ts, ok = row["time"]
			if !ok || ts == nil {
				continue
			}
		}
		parsed, err := timeindex.ParseUTC(ts)
		if err != nil {
			continue
		}

		closeValue, ok := row["close_price"]
		if !ok {
			closeValue = row["close"]
		}

		normalized = append(normalized, domain.Record{
			domain.KeyTimestampUTC: domain.FormatUTC(parsed),
			"close":                closeValue,
			"volume":               row["volume"],
		})
	}
	return normalized
}
