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

// SwapStore is an in-memory implementation of storage.SwapStore.
type SwapStore struct {
	mu   sync.RWMutex
	data map[string]*domain.UniswapSwap // keyed by (pool_id, swap_id)
}

// NewSwapStore creates a new in-memory swap store.
func NewSwapStore() *SwapStore {
	return &SwapStore{data: make(map[string]*domain.UniswapSwap)}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

func swapKey(poolID, swapID string) string {
	return fmt.Sprintf("%s|%s", poolID, swapID)
}

// Insert adds a new swap. Returns ErrDuplicateKey if (pool_id, swap_id) exists.
func (s *SwapStore) Insert(_ context.Context, swap *domain.UniswapSwap) error {
	if swap == nil || swap.PoolID == "" || swap.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := swapKey(swap.PoolID, swap.ID)
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	swapCopy := *swap
	s.data[key] = &swapCopy
	return nil
}

// InsertBulk adds multiple swaps atomically. Fails entire batch on any duplicate.
func (s *SwapStore) InsertBulk(_ context.Context, swaps []*domain.UniswapSwap) error {
	if len(swaps) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(swaps))
	for _, swap := range swaps {
		if swap == nil || swap.PoolID == "" || swap.ID == "" {
			return storage.ErrInvalidInput
		}
		key := swapKey(swap.PoolID, swap.ID)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, swap := range swaps {
		swapCopy := *swap
		s.data[swapKey(swap.PoolID, swap.ID)] = &swapCopy
	}
	return nil
}

// GetByPool retrieves all swaps for a pool, ordered by timestamp ASC.
func (s *SwapStore) GetByPool(_ context.Context, poolID string) ([]*domain.UniswapSwap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.UniswapSwap
	for _, swap := range s.data {
		if swap.PoolID == poolID {
			swapCopy := *swap
			result = append(result, &swapCopy)
		}
	}

	sortSwaps(result)
	return result, nil
}

// GetByTimeRange retrieves swaps for a pool within [start, end] (inclusive).
func (s *SwapStore) GetByTimeRange(_ context.Context, poolID string, start, end time.Time) ([]*domain.UniswapSwap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.UniswapSwap
	for _, swap := range s.data {
		if swap.PoolID == poolID && !swap.TimestampUTC.Before(start) && !swap.TimestampUTC.After(end) {
			swapCopy := *swap
			result = append(result, &swapCopy)
		}
	}

	sortSwaps(result)
	return result, nil
}

func sortSwaps(swaps []*domain.UniswapSwap) {
	sort.Slice(swaps, func(i, j int) bool {
		if !swaps[i].TimestampUTC.Equal(swaps[j].TimestampUTC) {
			return swaps[i].TimestampUTC.Before(swaps[j].TimestampUTC)
		}
		return swaps[i].ID < swaps[j].ID
	})
}
