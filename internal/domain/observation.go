package domain

import "time"

// UniswapSwap is one raw swap row fetched from The Graph for a pool.
// Numeric fields stay as decimal strings until normalization; subgraph
// amounts exceed float64 integer range.
type UniswapSwap struct {
	ID           string
	TimestampUTC time.Time
	PoolID       string
	FeeTierBps   int
	Amount0      string
	Amount1      string
	AmountUSD    string
	SqrtPriceX96 string
}

// ToRecord converts a swap into a serializable raw artifact record.
func (s UniswapSwap) ToRecord() Record {
	return Record{
		"id":            s.ID,
		KeyTimestampUTC: FormatUTC(s.TimestampUTC),
		"pool_id":       s.PoolID,
		"fee_tier_bps":  s.FeeTierBps,
		"amount0":       s.Amount0,
		"amount1":       s.Amount1,
		"amountUSD":     s.AmountUSD,
		"sqrtPriceX96":  s.SqrtPriceX96,
	}
}

// CoinbaseCandle is one normalized Coinbase candle observation.
type CoinbaseCandle struct {
	TimestampUTC    time.Time
	ProductID       string
	IntervalSeconds int
	OpenPrice       float64
	HighPrice       float64
	LowPrice        float64
	ClosePrice      float64
	Volume          float64
}

// ToRecord converts a candle into a serializable raw artifact record.
func (c CoinbaseCandle) ToRecord() Record {
	return Record{
		KeyTimestampUTC:    FormatUTC(c.TimestampUTC),
		"product_id":       c.ProductID,
		"interval_seconds": c.IntervalSeconds,
		"open_price":       c.OpenPrice,
		"high_price":       c.HighPrice,
		"low_price":        c.LowPrice,
		"close_price":      c.ClosePrice,
		"volume":           c.Volume,
	}
}

// GasBlock is a block-level basefee/gas observation from Ethereum RPC.
type GasBlock struct {
	BlockNumber      int64
	TimestampUTC     time.Time
	BaseFeePerGasWei int64
	GasUsed          int64
	GasLimit         int64
}

// ToRecord converts a block observation into a serializable record.
func (g GasBlock) ToRecord() Record {
	return Record{
		"block_number":         g.BlockNumber,
		KeyTimestampUTC:        FormatUTC(g.TimestampUTC),
		"base_fee_per_gas_wei": g.BaseFeePerGasWei,
		"gas_used":             g.GasUsed,
		"gas_limit":            g.GasLimit,
	}
}

// MinuteGas is a minute-level gas aggregate: the latest block observed
// within the minute, with a count of the blocks it summarizes.
type MinuteGas struct {
	MinuteUTC        time.Time
	BaseFeePerGasWei int64
	GasUsed          int64
	GasLimit         int64
	BlockNumber      int64
	BlockCount       int
}

// ToRecord converts a minute aggregate into a serializable record.
func (m MinuteGas) ToRecord() Record {
	return Record{
		KeyMinuteUTC:           FormatUTC(m.MinuteUTC),
		"base_fee_per_gas_wei": m.BaseFeePerGasWei,
		"gas_used":             m.GasUsed,
		"gas_limit":            m.GasLimit,
		"block_number":         m.BlockNumber,
		"block_count":          m.BlockCount,
	}
}
