package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/storage"
)

// GasBlockStore is an in-memory implementation of storage.GasBlockStore.
type GasBlockStore struct {
	mu   sync.RWMutex
	data map[int64]*domain.GasBlock // keyed by block_number
}

// NewGasBlockStore creates a new in-memory gas block store.
func NewGasBlockStore() *GasBlockStore {
	return &GasBlockStore{data: make(map[int64]*domain.GasBlock)}
}

// Compile-time interface check.
var _ storage.GasBlockStore = (*GasBlockStore)(nil)

// Insert adds a new block observation. Returns ErrDuplicateKey if block_number exists.
func (s *GasBlockStore) Insert(_ context.Context, block *domain.GasBlock) error {
	if block == nil || block.BlockNumber <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[block.BlockNumber]; exists {
		return storage.ErrDuplicateKey
	}

	blockCopy := *block
	s.data[block.BlockNumber] = &blockCopy
	return nil
}

// InsertBulk adds multiple observations atomically. Fails entire batch on any duplicate.
func (s *GasBlockStore) InsertBulk(_ context.Context, blocks []*domain.GasBlock) error {
	if len(blocks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[int64]struct{}, len(blocks))
	for _, block := range blocks {
		if block == nil || block.BlockNumber <= 0 {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[block.BlockNumber]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[block.BlockNumber]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[block.BlockNumber] = struct{}{}
	}

	for _, block := range blocks {
		blockCopy := *block
		s.data[block.BlockNumber] = &blockCopy
	}
	return nil
}

// GetByBlockRange retrieves observations within [startBlock, endBlock] (inclusive).
func (s *GasBlockStore) GetByBlockRange(_ context.Context, startBlock, endBlock int64) ([]*domain.GasBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.GasBlock
	for _, block := range s.data {
		if block.BlockNumber >= startBlock && block.BlockNumber <= endBlock {
			blockCopy := *block
			result = append(result, &blockCopy)
		}
	}

	sortBlocks(result)
	return result, nil
}

// GetByTimeRange retrieves observations within [start, end] (inclusive).
func (s *GasBlockStore) GetByTimeRange(_ context.Context, start, end time.Time) ([]*domain.GasBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.GasBlock
	for _, block := range s.data {
		if !block.TimestampUTC.Before(start) && !block.TimestampUTC.After(end) {
			blockCopy := *block
			result = append(result, &blockCopy)
		}
	}

	sortBlocks(result)
	return result, nil
}

func sortBlocks(blocks []*domain.GasBlock) {
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].BlockNumber < blocks[j].BlockNumber
	})
}
