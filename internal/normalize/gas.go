package normalize

import (
	"sort"
	"time"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/timeindex"
)

// GasRows normalizes raw block/gas rows into uniform records with keys
// timestamp_utc and base_fee_per_gas_wei.
func GasRows(rawRows []domain.Record) []domain.Record {
	normalized := make([]domain.Record, 0, len(rawRows))
	for _, row := range rawRows {
		ts, ok := row[domain.KeyTimestampUTC]
		if !ok || ts == nil {
			continue
		}
		parsed, err := timeindex.ParseUTC(ts)
		if err != nil {
			continue
		}

		baseFee, ok := row["base_fee_per_gas_wei"]
		if !ok {
			baseFee = row["base_fee"]
		}

		normalized = append(normalized, domain.Record{
			domain.KeyTimestampUTC: domain.FormatUTC(parsed),
			"base_fee_per_gas_wei": baseFee,
		})
	}
	return normalized
}

// AggregateGasToMinutes collapses block observations to one aggregate
// per UTC minute, keeping the latest block within each minute and
// recording how many blocks it summarizes.
func AggregateGasToMinutes(blocks []domain.GasBlock) []domain.MinuteGas {
	if len(blocks) == 0 {
		return nil
	}

	buckets := make(map[time.Time][]domain.GasBlock)
	for _, block := range blocks {
		minute := timeindex.FloorToMinute(block.TimestampUTC)
		buckets[minute] = append(buckets[minute], block)
	}

	minutes := make([]time.Time, 0, len(buckets))
	for minute := range buckets {
		minutes = append(minutes, minute)
	}
	sort.Slice(minutes, func(i, j int) bool { return minutes[i].Before(minutes[j]) })

	out := make([]domain.MinuteGas, 0, len(minutes))
	for _, minute := range minutes {
		blocksInMinute := buckets[minute]
		sort.Slice(blocksInMinute, func(i, j int) bool {
			if !blocksInMinute[i].TimestampUTC.Equal(blocksInMinute[j].TimestampUTC) {
				return blocksInMinute[i].TimestampUTC.Before(blocksInMinute[j].TimestampUTC)
			}
			return blocksInMinute[i].BlockNumber < blocksInMinute[j].BlockNumber
		})
		chosen := blocksInMinute[len(blocksInMinute)-1]
		out = append(out, domain.MinuteGas{
			MinuteUTC:        minute,
			BaseFeePerGasWei: chosen.BaseFeePerGasWei,
			GasUsed:          chosen.GasUsed,
			GasLimit:         chosen.GasLimit,
			BlockNumber:      chosen.BlockNumber,
			BlockCount:       len(blocksInMinute),
		})
	}
	return out
}
