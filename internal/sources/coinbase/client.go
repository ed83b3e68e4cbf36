// Package coinbase fetches historical candles from the Coinbase
// Exchange REST API over a bounded UTC window.
package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"eth-basis-lab/internal/domain"
)

const (
	defaultBaseURL       = "https://api.exchange.coinbase.com"
	maxCandlesPerRequest = 300

	requestTimeout    = 30 * time.Second
	requestsPerSecond = 8
	maxRetries        = 3
	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 10 * time.Second
)

// Client is a Coinbase REST client with rate limiting and bounded
// retries on 429/5xx responses.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (used by tests).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a Coinbase REST client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, path, params.Encode())

	var body json.RawMessage
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http get: %w", err)
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("coinbase status %d: %s", resp.StatusCode, string(payload))
			if retryableStatus(resp.StatusCode) {
				return err
			}
			return backoff.Permanent(err)
		}

		body = payload
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialRetryDelay
	policy.MaxInterval = maxRetryDelay
	policy.MaxElapsedTime = 0

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

// ParseCandleRows parses the Coinbase candles payload, which is a list
// of [unix_ts, low, high, open, close, volume] rows, into normalized
// observations sorted by timestamp.
func ParseCandleRows(payload json.RawMessage, productID string, intervalSeconds int) ([]domain.CoinbaseCandle, error) {
	var rows [][]float64
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("unexpected coinbase payload shape: %w", err)
	}

	observations := make([]domain.CoinbaseCandle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("unexpected coinbase candle row length %d", len(row))
		}
		observations = append(observations, domain.CoinbaseCandle{
			TimestampUTC:    time.Unix(int64(row[0]), 0).UTC(),
			ProductID:       productID,
			IntervalSeconds: intervalSeconds,
			LowPrice:        row[1],
			HighPrice:       row[2],
			OpenPrice:       row[3],
			ClosePrice:      row[4],
			Volume:          row[5],
		})
	}

	sort.Slice(observations, func(i, j int) bool {
		return observations[i].TimestampUTC.Before(observations[j].TimestampUTC)
	})
	return observations, nil
}

// FetchCandles fetches and normalizes candles over a UTC window,
// chunking requests to the API's 300-candle page limit and
// deduplicating overlapping timestamps.
func (c *Client) FetchCandles(
	ctx context.Context,
	productID string,
	intervalSeconds int,
	startTimeUTC, endTimeUTC time.Time,
) ([]domain.CoinbaseCandle, error) {
	if !endTimeUTC.After(startTimeUTC) {
		return nil, fmt.Errorf("end_time_utc must be later than start_time_utc")
	}

	start := startTimeUTC.UTC()
	end := endTimeUTC.UTC()
	chunkSpan := time.Duration(intervalSeconds*(maxCandlesPerRequest-1)) * time.Second

	merged := make(map[time.Time]domain.CoinbaseCandle)
	for cursor := start; !cursor.After(end); {
		chunkEnd := cursor.Add(chunkSpan)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		params := url.Values{}
		params.Set("start", domain.FormatUTC(cursor))
		params.Set("end", domain.FormatUTC(chunkEnd))
		params.Set("granularity", fmt.Sprintf("%d", intervalSeconds))

		payload, err := c.getJSON(ctx, fmt.Sprintf("products/%s/candles", productID), params)
		if err != nil {
			return nil, fmt.Errorf("fetch candles %s..%s: %w",
				domain.FormatUTC(cursor), domain.FormatUTC(chunkEnd), err)
		}

		rows, err := ParseCandleRows(payload, productID, intervalSeconds)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			merged[row.TimestampUTC] = row
		}

		c.logger.Debug("coinbase chunk fetched",
			zap.String("product_id", productID),
			zap.Int("rows", len(rows)),
			zap.Time("chunk_start", cursor),
			zap.Time("chunk_end", chunkEnd))

		cursor = chunkEnd.Add(time.Duration(intervalSeconds) * time.Second)
	}

	observations := make([]domain.CoinbaseCandle, 0, len(merged))
	for _, row := range merged {
		observations = append(observations, row)
	}
	sort.Slice(observations, func(i, j int) bool {
		return observations[i].TimestampUTC.Before(observations[j].TimestampUTC)
	})
	return observations, nil
}

// CandlesToRecords converts observations into raw artifact records.
func CandlesToRecords(observations []domain.CoinbaseCandle) []domain.Record {
	records := make([]domain.Record, 0, len(observations))
	for _, obs := range observations {
		records = append(records, obs.ToRecord())
	}
	return records
}
