// Package uniswapgraph fetches Uniswap v3 pool swaps from The Graph's
// GraphQL gateway, paginated over a bounded UTC window.
package uniswapgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"eth-basis-lab/internal/domain"
)

const (
	gatewayBaseURL  = "https://gateway.thegraph.com/api"
	defaultPageSize = 1000

	requestTimeout    = 60 * time.Second
	requestsPerSecond = 2
	maxRetries        = 3
	initialRetryDelay = time.Second
	maxRetryDelay     = 15 * time.Second
)

const swapsQuery = `
query PoolSwaps($pool: String!, $startTs: BigInt!, $endTs: BigInt!, $first: Int!, $skip: Int!) {
  swaps(
    first: $first
    skip: $skip
    orderBy: timestamp
    orderDirection: asc
    where: { pool: $pool, timestamp_gte: $startTs, timestamp_lte: $endTs }
  ) {
    id
    timestamp
    amount0
    amount1
    amountUSD
    sqrtPriceX96
  }
}`

const poolMinuteDatasQuery = `
query PoolMinuteDatas($pool: String!, $startTs: Int!, $endTs: Int!, $first: Int!, $skip: Int!) {
  poolMinuteDatas(
    first: $first
    skip: $skip
    orderBy: periodStartUnix
    orderDirection: asc
    where: { pool: $pool, periodStartUnix_gte: $startTs, periodStartUnix_lte: $endTs }
  ) {
    periodStartUnix
    token0Price
    token1Price
    volumeUSD
    txCount
  }
}`

// ResolveEndpoint builds the gateway query URL for a deployed subgraph.
// An explicit endpoint wins over the api-key/subgraph-id pair.
func ResolveEndpoint(endpoint, apiKey, subgraphID string) (string, error) {
	if endpoint != "" {
		return endpoint, nil
	}
	if apiKey == "" || subgraphID == "" {
		return "", fmt.Errorf("either an explicit endpoint or both api key and subgraph id are required")
	}
	return fmt.Sprintf("%s/%s/subgraphs/id/%s", gatewayBaseURL, apiKey, subgraphID), nil
}

// Client is a GraphQL client for one subgraph endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	pageSize   int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithPageSize overrides the pagination page size.
func WithPageSize(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.pageSize = size
		}
	}
}

// NewClient creates a client for the given endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:     zap.NewNop(),
		pageSize:   defaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type graphRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphError struct {
	Message string `json:"message"`
}

type graphResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphError    `json:"errors"`
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func (c *Client) query(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	requestBody, err := json.Marshal(graphRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	var data json.RawMessage
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(requestBody))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http post: %w", err)
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("graph status %d: %s", resp.StatusCode, string(payload))
			if retryableStatus(resp.StatusCode) {
				return err
			}
			return backoff.Permanent(err)
		}

		var parsed graphResponse
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("decode graphql response: %w", err))
		}
		if len(parsed.Errors) > 0 {
			messages := make([]string, 0, len(parsed.Errors))
			for _, gqlErr := range parsed.Errors {
				messages = append(messages, gqlErr.Message)
			}
			return backoff.Permanent(fmt.Errorf("graphql errors: %s", strings.Join(messages, "; ")))
		}

		data = parsed.Data
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialRetryDelay
	policy.MaxInterval = maxRetryDelay
	policy.MaxElapsedTime = 0

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx)); err != nil {
		return nil, err
	}
	return data, nil
}

type swapRow struct {
	ID           string `json:"id"`
	Timestamp    string `json:"timestamp"`
	Amount0      string `json:"amount0"`
	Amount1      string `json:"amount1"`
	AmountUSD    string `json:"amountUSD"`
	SqrtPriceX96 string `json:"sqrtPriceX96"`
}

// FetchPoolSwaps fetches all swaps for one pool within [start, end],
// paging until a short page is returned. Results are in ascending
// timestamp order as served by the subgraph.
func (c *Client) FetchPoolSwaps(
	ctx context.Context,
	poolID string,
	feeTierBps int,
	startTimeUTC, endTimeUTC time.Time,
) ([]domain.UniswapSwap, error) {
	pool := strings.ToLower(poolID)
	startTs := startTimeUTC.UTC().Unix()
	endTs := endTimeUTC.UTC().Unix()

	var swaps []domain.UniswapSwap
	for skip := 0; ; skip += c.pageSize {
		variables := map[string]any{
			"pool":    pool,
			"startTs": strconv.FormatInt(startTs, 10),
			"endTs":   strconv.FormatInt(endTs, 10),
			"first":   c.pageSize,
			"skip":    skip,
		}

		data, err := c.query(ctx, swapsQuery, variables)
		if err != nil {
			return nil, fmt.Errorf("fetch swaps pool=%s skip=%d: %w", pool, skip, err)
		}

		var page struct {
			Swaps []swapRow `json:"swaps"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("decode swaps page: %w", err)
		}

		for _, row := range page.Swaps {
			unixTs, err := strconv.ParseInt(row.Timestamp, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse swap timestamp %q: %w", row.Timestamp, err)
			}
			swaps = append(swaps, domain.UniswapSwap{
				ID:           row.ID,
				TimestampUTC: time.Unix(unixTs, 0).UTC(),
				PoolID:       pool,
				FeeTierBps:   feeTierBps,
				Amount0:      row.Amount0,
				Amount1:      row.Amount1,
				AmountUSD:    row.AmountUSD,
				SqrtPriceX96: row.SqrtPriceX96,
			})
		}

		c.logger.Debug("swaps page fetched",
			zap.String("pool_id", pool),
			zap.Int("skip", skip),
			zap.Int("rows", len(page.Swaps)))

		if len(page.Swaps) < c.pageSize {
			break
		}
	}
	return swaps, nil
}

// PoolMinuteData is one pre-aggregated minute bar as served by the
// subgraph's poolMinuteDatas entity.
type PoolMinuteData struct {
	MinuteUTC   time.Time
	PoolID      string
	FeeTierBps  int
	Token0Price string
	Token1Price string
	VolumeUSD   string
	TxCount     int64
}

type minuteDataRow struct {
	PeriodStartUnix int64  `json:"periodStartUnix"`
	Token0Price     string `json:"token0Price"`
	Token1Price     string `json:"token1Price"`
	VolumeUSD       string `json:"volumeUSD"`
	TxCount         string `json:"txCount"`
}

// FetchPoolMinuteData fetches the subgraph's minute bars for one pool
// within [start, end]. Not every subgraph deployment indexes the
// poolMinuteDatas entity, so callers fall back to FetchPoolSwaps when
// this returns a GraphQL error.
func (c *Client) FetchPoolMinuteData(
	ctx context.Context,
	poolID string,
	feeTierBps int,
	startTimeUTC, endTimeUTC time.Time,
) ([]PoolMinuteData, error) {
	pool := strings.ToLower(poolID)

	var bars []PoolMinuteData
	for skip := 0; ; skip += c.pageSize {
		variables := map[string]any{
			"pool":    pool,
			"startTs": startTimeUTC.UTC().Unix(),
			"endTs":   endTimeUTC.UTC().Unix(),
			"first":   c.pageSize,
			"skip":    skip,
		}

		data, err := c.query(ctx, poolMinuteDatasQuery, variables)
		if err != nil {
			return nil, fmt.Errorf("fetch minute bars pool=%s skip=%d: %w", pool, skip, err)
		}

		var page struct {
			PoolMinuteDatas []minuteDataRow `json:"poolMinuteDatas"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("decode minute bars page: %w", err)
		}

		for _, row := range page.PoolMinuteDatas {
			txCount, err := strconv.ParseInt(row.TxCount, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse minute bar txCount %q: %w", row.TxCount, err)
			}
			bars = append(bars, PoolMinuteData{
				MinuteUTC:   time.Unix(row.PeriodStartUnix, 0).UTC(),
				PoolID:      pool,
				FeeTierBps:  feeTierBps,
				Token0Price: row.Token0Price,
				Token1Price: row.Token1Price,
				VolumeUSD:   row.VolumeUSD,
				TxCount:     txCount,
			})
		}

		c.logger.Debug("minute bars page fetched",
			zap.String("pool_id", pool),
			zap.Int("skip", skip),
			zap.Int("rows", len(page.PoolMinuteDatas)))

		if len(page.PoolMinuteDatas) < c.pageSize {
			break
		}
	}
	return bars, nil
}

// MinuteDataToRecords converts minute bars into raw artifact records.
// The key shape matches swap records so the same normalizer applies.
func MinuteDataToRecords(bars []PoolMinuteData) []domain.Record {
	records := make([]domain.Record, 0, len(bars))
	for _, bar := range bars {
		records = append(records, domain.Record{
			"timestamp_utc": bar.MinuteUTC.Format(time.RFC3339),
			"pool_id":       bar.PoolID,
			"fee_tier_bps":  bar.FeeTierBps,
			"token0Price":   bar.Token0Price,
			"token1Price":   bar.Token1Price,
			"amountUSD":     bar.VolumeUSD,
			"swap_count":    bar.TxCount,
		})
	}
	return records
}

// SwapsToRecords converts swaps into raw artifact records.
func SwapsToRecords(swaps []domain.UniswapSwap) []domain.Record {
	records := make([]domain.Record, 0, len(swaps))
	for _, swap := range swaps {
		records = append(records, swap.ToRecord())
	}
	return records
}
