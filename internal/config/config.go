// Package config loads pipeline configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"eth-basis-lab/internal/align"
	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/sources/ethrpc"
)

// PoolConfig identifies one Uniswap v3 pool to ingest.
type PoolConfig struct {
	ID         string `mapstructure:"id"`
	FeeTierBps int    `mapstructure:"fee_tier_bps"`
}

// UniswapConfig configures The Graph ingestion.
type UniswapConfig struct {
	Endpoint       string       `mapstructure:"endpoint"`
	APIKey         string       `mapstructure:"api_key"`
	SubgraphID     string       `mapstructure:"subgraph_id"`
	Pools          []PoolConfig `mapstructure:"pools"`
	AssumeUSDQuote bool         `mapstructure:"assume_usd_quote"`
}

// CoinbaseConfig configures candle ingestion.
type CoinbaseConfig struct {
	ProductID          string `mapstructure:"product_id"`
	GranularitySeconds int    `mapstructure:"granularity_seconds"`
}

// EthRPCConfig configures gas/basefee ingestion.
type EthRPCConfig struct {
	URL              string `mapstructure:"url"`
	Mode             string `mapstructure:"mode"`
	BlocksPerRequest int    `mapstructure:"blocks_per_request"`
}

// WindowConfig is the ingestion window in RFC3339 UTC.
type WindowConfig struct {
	Start        string `mapstructure:"start"`
	End          string `mapstructure:"end"`
	EndInclusive bool   `mapstructure:"end_inclusive"`
}

// PipelineConfig controls alignment and export behavior.
type PipelineConfig struct {
	OutputDir        string `mapstructure:"output_dir"`
	DatasetName      string `mapstructure:"dataset_name"`
	DuplicatePolicy  string `mapstructure:"duplicate_policy"`
	FatalQualityGate bool   `mapstructure:"fatal_quality_gate"`
}

// StorageConfig holds optional database DSNs. Empty DSNs disable the
// corresponding store.
type StorageConfig struct {
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickhouseDSN string `mapstructure:"clickhouse_dsn"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the full pipeline configuration.
type Config struct {
	Window   WindowConfig   `mapstructure:"window"`
	Uniswap  UniswapConfig  `mapstructure:"uniswap"`
	Coinbase CoinbaseConfig `mapstructure:"coinbase"`
	EthRPC   EthRPCConfig   `mapstructure:"eth_rpc"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("window.end_inclusive", true)
	v.SetDefault("uniswap.assume_usd_quote", true)
	v.SetDefault("coinbase.product_id", "ETH-USD")
	v.SetDefault("coinbase.granularity_seconds", 60)
	v.SetDefault("eth_rpc.mode", ethrpc.ModeAuto)
	v.SetDefault("eth_rpc.blocks_per_request", 1024)
	v.SetDefault("pipeline.output_dir", "data")
	v.SetDefault("pipeline.dataset_name", "eth_basis_minute")
	v.SetDefault("pipeline.duplicate_policy", string(align.PolicyLast))
	v.SetDefault("pipeline.fatal_quality_gate", false)
	v.SetDefault("logging.level", "info")
}

// Load reads the config file at path and applies BASISLAB_* environment
// overrides (e.g. BASISLAB_UNISWAP_API_KEY).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BASISLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks window bounds and enum fields.
func (c *Config) Validate() error {
	start, end, err := c.WindowBounds()
	if err != nil {
		return err
	}
	if !end.After(start) {
		return fmt.Errorf("window end %s must be later than start %s",
			domain.FormatUTC(end), domain.FormatUTC(start))
	}

	if _, err := align.ParsePolicy(c.Pipeline.DuplicatePolicy); err != nil {
		return err
	}

	switch c.EthRPC.Mode {
	case ethrpc.ModeAuto, ethrpc.ModeBlocks, ethrpc.ModeFeeHistory:
	default:
		return fmt.Errorf("eth_rpc.mode must be one of: auto, blocks, feehistory; got %q", c.EthRPC.Mode)
	}

	for _, pool := range c.Uniswap.Pools {
		if pool.ID == "" {
			return fmt.Errorf("uniswap pool missing id")
		}
		if pool.FeeTierBps != domain.FeeTier5Bps && pool.FeeTierBps != domain.FeeTier30Bps {
			return fmt.Errorf("uniswap pool %s has unsupported fee tier %d bps", pool.ID, pool.FeeTierBps)
		}
	}

	return nil
}

// WindowBounds parses the configured window into UTC timestamps.
func (c *Config) WindowBounds() (start, end time.Time, err error) {
	start, err = time.Parse(time.RFC3339, c.Window.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse window.start %q: %w", c.Window.Start, err)
	}
	end, err = time.Parse(time.RFC3339, c.Window.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse window.end %q: %w", c.Window.End, err)
	}
	return start.UTC(), end.UTC(), nil
}
