package domain

// Source name prefixes used when merging aligned maps. Merged row keys
// are "<source>_<field>".
const (
	SourceCoinbase  = "coinbase"
	SourceGas       = "gas"
	SourceUniswap5  = "uniswap5"
	SourceUniswap30 = "uniswap30"
)

// Fee tiers for the two tracked Uniswap v3 pools, in basis points.
const (
	FeeTier5Bps  = 5
	FeeTier30Bps = 30
)

// Well-known record keys.
const (
	KeyMinuteUTC    = "minute_utc"
	KeyTimestampUTC = "timestamp_utc"

	KeyCoinbaseClose  = "coinbase_close"
	KeyCoinbaseVolume = "coinbase_volume"
	KeyGasBaseFeeWei  = "gas_base_fee_per_gas_wei"

	KeyUniswap5Price        = "uniswap5_token0_price"
	KeyUniswap5Age          = "uniswap5_age_since_last_trade_min"
	KeyUniswap5OutlierFlag  = "uniswap5_price_outlier_flag"
	KeyUniswap5SpikeFlag    = "uniswap5_price_spike_patch_flag"
	KeyUniswap5FeeTier      = "uniswap5_fee_tier_bps"
	KeyUniswap5Staleness    = "uniswap5_staleness_min"
	KeyUniswap30Price       = "uniswap30_token0_price"
	KeyUniswap30Age         = "uniswap30_age_since_last_trade_min"
	KeyUniswap30OutlierFlag = "uniswap30_price_outlier_flag"
	KeyUniswap30SpikeFlag   = "uniswap30_price_spike_patch_flag"
	KeyUniswap30FeeTier     = "uniswap30_fee_tier_bps"
	KeyUniswap30Staleness   = "uniswap30_staleness_min"
)
