package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"eth-basis-lab/internal/domain"
	"eth-basis-lab/internal/storage"
)

// DatasetStore is an in-memory implementation of storage.DatasetStore.
type DatasetStore struct {
	mu   sync.RWMutex
	data map[int64]*domain.MinuteDatasetRow // keyed by minute unix
}

// NewDatasetStore creates a new in-memory dataset store.
func NewDatasetStore() *DatasetStore {
	return &DatasetStore{data: make(map[int64]*domain.MinuteDatasetRow)}
}

// Compile-time interface check.
var _ storage.DatasetStore = (*DatasetStore)(nil)

// InsertBulk adds multiple rows. Fails entire batch on duplicate minute_utc.
func (s *DatasetStore) InsertBulk(_ context.Context, rows []*domain.MinuteDatasetRow) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[int64]struct{}, len(rows))
	for _, row := range rows {
		if row == nil || row.MinuteUTC.IsZero() {
			return storage.ErrInvalidInput
		}
		key := row.MinuteUTC.Unix()
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, row := range rows {
		rowCopy := *row
		s.data[row.MinuteUTC.Unix()] = &rowCopy
	}
	return nil
}

// GetByTimeRange retrieves rows within [start, end] (inclusive), ordered by minute ASC.
func (s *DatasetStore) GetByTimeRange(_ context.Context, start, end time.Time) ([]*domain.MinuteDatasetRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MinuteDatasetRow
	for _, row := range s.data {
		if !row.MinuteUTC.Before(start) && !row.MinuteUTC.After(end) {
			rowCopy := *row
			result = append(result, &rowCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].MinuteUTC.Before(result[j].MinuteUTC)
	})
	return result, nil
}
