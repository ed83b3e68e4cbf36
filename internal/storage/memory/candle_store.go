package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CoinbaseCandle // keyed by (product_id, timestamp)
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{data: make(map[string]*domain.CoinbaseCandle)}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

func candleKey(productID string, ts time.Time) string {
	return fmt.Sprintf("%s|%d", productID, ts.Unix())
}

// Insert adds a new candle. Returns ErrDuplicateKey if (product_id, timestamp) exists.
func (s *CandleStore) Insert(_ context.Context, candle *domain.CoinbaseCandle) error {
	if candle == nil || candle.ProductID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := candleKey(candle.ProductID, candle.TimestampUTC)
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	candleCopy := *candle
	s.data[key] = &candleCopy
	return nil
}

// InsertBulk adds multiple candles atomically. Fails entire batch on any duplicate.
func (s *CandleStore) InsertBulk(_ context.Context, candles []*domain.CoinbaseCandle) error {
	if len(candles) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(candles))
	for _, candle := range candles {
		if candle == nil || candle.ProductID == "" {
			return storage.ErrInvalidInput
		}
		key := candleKey(candle.ProductID, candle.TimestampUTC)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, candle := range candles {
		candleCopy := *candle
		s.data[candleKey(candle.ProductID, candle.TimestampUTC)] = &candleCopy
	}
	return nil
}

// GetByProduct retrieves all candles for a product, ordered by timestamp ASC.
func (s *CandleStore) GetByProduct(_ context.Context, productID string) ([]*domain.CoinbaseCandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CoinbaseCandle
	for _, candle := range s.data {
		if candle.ProductID == productID {
			candleCopy := *candle
			result = append(result, &candleCopy)
		}
	}

	sortCandles(result)
	return result, nil
}

// GetByTimeRange retrieves candles for a product within [start, end] (inclusive).
func (s *CandleStore) GetByTimeRange(_ context.Context, productID string, start, end time.Time) ([]*domain.CoinbaseCandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CoinbaseCandle
	for _, candle := range s.data {
		if candle.ProductID == productID && !candle.TimestampUTC.Before(start) && !candle.TimestampUTC.After(end) {
			candleCopy := *candle
			result = append(result, &candleCopy)
		}
	}

	sortCandles(result)
	return result, nil
}

func sortCandles(candles []*domain.CoinbaseCandle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].TimestampUTC.Before(candles[j].TimestampUTC)
	})
}
