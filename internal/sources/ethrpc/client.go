// Package ethrpc fetches block-level basefee and gas observations from
// an Ethereum JSON-RPC endpoint over HTTP or websocket.
package ethrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"eth-basis-lab/internal/domain"
)

// Fetch modes. Auto prefers eth_feeHistory and falls back to
// block-by-block polling when the endpoint rejects it.
const (
	ModeAuto       = "auto"
	ModeBlocks     = "blocks"
	ModeFeeHistory = "feehistory"
)

const (
	maxFeeHistoryBlocks = 1024

	requestsPerSecond = 20
	maxRetries        = 3
	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 10 * time.Second

	maxGasUsedRatio = 1.5
)

// Client wraps a JSON-RPC transport with rate limiting and bounded
// retries.
type Client struct {
	transport Transport
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRateLimit overrides the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// NewClient creates a client over an existing transport.
func NewClient(transport Transport, opts ...Option) *Client {
	c := &Client{
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the underlying transport.
func (c *Client) Close() error { return c.transport.Close() }

func parseHexInt(value string) (int64, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return 0, fmt.Errorf("empty hex value")
	}
	parsed, err := strconv.ParseInt(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex %q: %w", value, err)
	}
	return parsed, nil
}

func hexOrZero(value string) int64 {
	if value == "" {
		return 0
	}
	parsed, err := parseHexInt(value)
	if err != nil {
		return 0
	}
	return parsed
}

func toHex(value int64) string {
	return "0x" + strconv.FormatInt(value, 16)
}

func (c *Client) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var result json.RawMessage
	operation := func() error {
		res, err := c.transport.Call(ctx, method, params)
		if err != nil {
			// JSON-RPC application errors are not retryable.
			if strings.Contains(err.Error(), "rpc error") {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialRetryDelay
	policy.MaxInterval = maxRetryDelay
	policy.MaxElapsedTime = 0

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx)); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return result, nil
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (int64, error) {
	result, err := c.call(ctx, "eth_blockNumber", []any{})
	if err != nil {
		return 0, err
	}
	var hexNumber string
	if err := json.Unmarshal(result, &hexNumber); err != nil {
		return 0, fmt.Errorf("decode block number: %w", err)
	}
	return parseHexInt(hexNumber)
}

type Block struct {
	Number        string `json:"number"`
	Timestamp     string `json:"timestamp"`
	BaseFeePerGas string `json:"baseFeePerGas"`
	GasUsed       string `json:"gasUsed"`
	GasLimit      string `json:"gasLimit"`
}

// BlockByNumber returns the block header fields, or nil when the node
// has no block at that height.
func (c *Client) BlockByNumber(ctx context.Context, blockNumber int64) (*Block, error) {
	result, err := c.call(ctx, "eth_getBlockByNumber", []any{toHex(blockNumber), false})
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, nil
	}
	var block Block
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, fmt.Errorf("decode block %d: %w", blockNumber, err)
	}
	return &block, nil
}

type FeeHistoryResult struct {
	OldestBlock   string    `json:"oldestBlock"`
	BaseFeePerGas []string  `json:"baseFeePerGas"`
	GasUsedRatio  []float64 `json:"gasUsedRatio"`
}

// FeeHistory returns the eth_feeHistory payload for a contiguous block
// window ending at newestBlock.
func (c *Client) FeeHistory(ctx context.Context, blockCount int, newestBlock int64) (*FeeHistoryResult, error) {
	result, err := c.call(ctx, "eth_feeHistory", []any{toHex(int64(blockCount)), toHex(newestBlock), []any{}})
	if err != nil {
		return nil, err
	}
	var history FeeHistoryResult
	if err := json.Unmarshal(result, &history); err != nil {
		return nil, fmt.Errorf("decode fee history: %w", err)
	}
	if history.OldestBlock == "" {
		return nil, fmt.Errorf("feeHistory missing oldestBlock")
	}
	return &history, nil
}

func parseBlockObservation(block *Block) (domain.GasBlock, error) {
	blockNumber, err := parseHexInt(block.Number)
	if err != nil {
		return domain.GasBlock{}, fmt.Errorf("block missing number: %w", err)
	}
	timestamp, err := parseHexInt(block.Timestamp)
	if err != nil {
		return domain.GasBlock{}, fmt.Errorf("block %d missing timestamp: %w", blockNumber, err)
	}
	return domain.GasBlock{
		BlockNumber:      blockNumber,
		TimestampUTC:     time.Unix(timestamp, 0).UTC(),
		BaseFeePerGasWei: hexOrZero(block.BaseFeePerGas),
		GasUsed:          hexOrZero(block.GasUsed),
		GasLimit:         hexOrZero(block.GasLimit),
	}, nil
}

// findFirstBlockAtOrAfter binary-searches for the first block whose
// timestamp is at or after the target. Missing blocks are probed
// forward so pruned ranges do not break the search.
func (c *Client) findFirstBlockAtOrAfter(ctx context.Context, targetUnix, latestBlockNumber int64) (int64, error) {
	low := int64(0)
	high := latestBlockNumber + 1

	for low < high {
		mid := (low + high) / 2
		block, err := c.BlockByNumber(ctx, mid)
		if err != nil {
			return 0, err
		}
		if block == nil {
			c.logger.Warn("missing block while searching bounds, probing forward", zap.Int64("block_number", mid))
			probe := mid + 1
			for probe < high {
				block, err = c.BlockByNumber(ctx, probe)
				if err != nil {
					return 0, err
				}
				if block != nil {
					mid = probe
					break
				}
				c.logger.Warn("missing block while searching bounds, probing forward", zap.Int64("block_number", probe))
				probe++
			}
			if block == nil {
				high = mid
				continue
			}
		}

		midTs := hexOrZero(block.Timestamp)
		if midTs < targetUnix {
			low = mid + 1
		} else {
			high = mid
		}
	}
	return low, nil
}

// FetchOptions controls a window fetch.
type FetchOptions struct {
	Mode             string
	BlocksPerRequest int
}

// DefaultFetchOptions returns the auto mode with the maximum
// feeHistory chunk size.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{Mode: ModeAuto, BlocksPerRequest: maxFeeHistoryBlocks}
}

// FetchGasBlocks fetches block observations whose timestamps fall
// within [startTimeUTC, endTimeUTC], sorted by block number.
func (c *Client) FetchGasBlocks(
	ctx context.Context,
	startTimeUTC, endTimeUTC time.Time,
	opts FetchOptions,
) ([]domain.GasBlock, error) {
	start := startTimeUTC.UTC()
	end := endTimeUTC.UTC()
	if !end.After(start) {
		return nil, fmt.Errorf("end_time_utc must be later than start_time_utc")
	}

	switch opts.Mode {
	case ModeAuto, ModeBlocks, ModeFeeHistory:
	default:
		return nil, fmt.Errorf("rpc mode must be one of: auto, blocks, feehistory; got %q", opts.Mode)
	}

	latestBlockNumber, err := c.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	latestBlock, err := c.BlockByNumber(ctx, latestBlockNumber)
	if err != nil {
		return nil, err
	}
	if latestBlock == nil {
		return nil, fmt.Errorf("latest block %d missing", latestBlockNumber)
	}

	latestTimestamp := hexOrZero(latestBlock.Timestamp)
	if start.Unix() > latestTimestamp {
		return nil, nil
	}

	startBlock, err := c.findFirstBlockAtOrAfter(ctx, start.Unix(), latestBlockNumber)
	if err != nil {
		return nil, err
	}
	firstAfterEnd, err := c.findFirstBlockAtOrAfter(ctx, end.Unix()+1, latestBlockNumber)
	if err != nil {
		return nil, err
	}
	endBlock := firstAfterEnd - 1
	if endBlock > latestBlockNumber {
		endBlock = latestBlockNumber
	}
	if startBlock > endBlock {
		return nil, nil
	}

	if opts.Mode == ModeAuto || opts.Mode == ModeFeeHistory {
		rows, err := c.fetchViaFeeHistory(ctx, start, end, startBlock, endBlock, opts.BlocksPerRequest)
		if err == nil {
			return rows, nil
		}
		if opts.Mode == ModeFeeHistory {
			return nil, err
		}
		c.logger.Warn("eth_feeHistory unavailable, falling back to block polling", zap.Error(err))
	}

	return c.fetchViaBlocks(ctx, start, end, startBlock, endBlock)
}

func (c *Client) fetchViaBlocks(
	ctx context.Context,
	start, end time.Time,
	startBlock, endBlock int64,
) ([]domain.GasBlock, error) {
	c.logger.Info("block fetch starting",
		zap.Int64("start_block", startBlock),
		zap.Int64("end_block", endBlock),
		zap.Int64("total_blocks", endBlock-startBlock+1))

	var rows []domain.GasBlock
	for blockNumber := startBlock; blockNumber <= endBlock; blockNumber++ {
		block, err := c.BlockByNumber(ctx, blockNumber)
		if err != nil {
			return nil, err
		}
		if block == nil {
			c.logger.Warn("missing block, skipping", zap.Int64("block_number", blockNumber))
			continue
		}
		row, err := parseBlockObservation(block)
		if err != nil {
			return nil, err
		}
		if row.TimestampUTC.Before(start) || row.TimestampUTC.After(end) {
			continue
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].BlockNumber < rows[j].BlockNumber })
	return rows, nil
}

func (c *Client) fetchViaFeeHistory(
	ctx context.Context,
	start, end time.Time,
	startBlock, endBlock int64,
	blocksPerRequest int,
) ([]domain.GasBlock, error) {
	if blocksPerRequest < 1 || blocksPerRequest > maxFeeHistoryBlocks {
		return nil, fmt.Errorf("blocks per request must be between 1 and %d", maxFeeHistoryBlocks)
	}

	c.logger.Info("feehistory fetch starting",
		zap.Int64("start_block", startBlock),
		zap.Int64("end_block", endBlock),
		zap.Int64("total_blocks", endBlock-startBlock+1),
		zap.Int("chunk", blocksPerRequest))

	var rows []domain.GasBlock
	for chunkStart := startBlock; chunkStart <= endBlock; {
		chunkEnd := chunkStart + int64(blocksPerRequest) - 1
		if chunkEnd > endBlock {
			chunkEnd = endBlock
		}
		chunkCount := int(chunkEnd - chunkStart + 1)

		history, err := c.FeeHistory(ctx, chunkCount, chunkEnd)
		if err != nil {
			return nil, err
		}
		oldestBlock, err := parseHexInt(history.OldestBlock)
		if err != nil {
			return nil, fmt.Errorf("feeHistory oldestBlock: %w", err)
		}
		if oldestBlock != chunkStart {
			return nil, fmt.Errorf("feeHistory oldestBlock mismatch: expected %d, got %d", chunkStart, oldestBlock)
		}
		if len(history.GasUsedRatio) != chunkCount {
			return nil, fmt.Errorf("feeHistory gasUsedRatio length mismatch")
		}
		if len(history.BaseFeePerGas) < chunkCount {
			return nil, fmt.Errorf("feeHistory baseFeePerGas length mismatch")
		}

		// Block timestamps are interpolated between the chunk's first
		// and last block headers.
		startPayload, err := c.BlockByNumber(ctx, chunkStart)
		if err != nil {
			return nil, err
		}
		endPayload := startPayload
		if chunkCount > 1 {
			endPayload, err = c.BlockByNumber(ctx, chunkEnd)
			if err != nil {
				return nil, err
			}
		}
		if startPayload == nil || endPayload == nil {
			return nil, fmt.Errorf("feeHistory timestamp anchors missing block payload")
		}

		startTs := hexOrZero(startPayload.Timestamp)
		endTs := hexOrZero(endPayload.Timestamp)
		gasLimit := hexOrZero(endPayload.GasLimit)
		if gasLimit <= 0 {
			gasLimit = hexOrZero(startPayload.GasLimit)
		}
		if gasLimit <= 0 {
			gasLimit = 1
		}

		for offset := 0; offset < chunkCount; offset++ {
			blockNumber := chunkStart + int64(offset)
			tsUnix := startTs
			if chunkCount > 1 {
				fraction := float64(offset) / float64(chunkCount-1)
				tsUnix = int64(math.Round(float64(startTs) + float64(endTs-startTs)*fraction))
			}

			timestampUTC := time.Unix(tsUnix, 0).UTC()
			if timestampUTC.Before(start) || timestampUTC.After(end) {
				continue
			}

			ratio := history.GasUsedRatio[offset]
			if ratio < 0 {
				ratio = 0
			}
			if ratio > maxGasUsedRatio {
				ratio = maxGasUsedRatio
			}

			baseFee, err := parseHexInt(history.BaseFeePerGas[offset])
			if err != nil {
				return nil, fmt.Errorf("feeHistory baseFeePerGas[%d]: %w", offset, err)
			}

			rows = append(rows, domain.GasBlock{
				BlockNumber:      blockNumber,
				TimestampUTC:     timestampUTC,
				BaseFeePerGasWei: baseFee,
				GasUsed:          int64(ratio * float64(gasLimit)),
				GasLimit:         gasLimit,
			})
		}

		chunkStart = chunkEnd + 1
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].BlockNumber < rows[j].BlockNumber })
	return rows, nil
}

// BlocksToRecords converts block observations into raw artifact
// records.
func BlocksToRecords(blocks []domain.GasBlock) []domain.Record {
	records := make([]domain.Record, 0, len(blocks))
	for _, block := range blocks {
		records = append(records, block.ToRecord())
	}
	return records
}
