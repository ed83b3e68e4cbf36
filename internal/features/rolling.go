package features

import "sort"

// PercentileWindow maintains a trailing window of values in sorted
// order and reports the inclusive percentile rank of the newest value.
// Backed by a binary-search insertion-sorted slice; nil values occupy
// a window slot but never enter the sorted set.
type PercentileWindow struct {
	size   int
	queue  []*float64
	sorted []float64
}

// NewPercentileWindow creates a window of the given size. Size must
// be at least 1.
func NewPercentileWindow(size int) *PercentileWindow {
	if size < 1 {
		panic("features: percentile window size must be >= 1")
	}
	return &PercentileWindow{size: size}
}

// Push slides the window forward by one slot and returns the inclusive
// rank-from-the-right percentile of value within the trailing window,
// in [0, 1]. Returns nil when value is nil or the window holds no
// observed values.
func (w *PercentileWindow) Push(value *float64) *float64 {
	w.queue = append(w.queue, value)
	if value != nil {
		w.insert(*value)
	}

	for len(w.queue) > w.size {
		evicted := w.queue[0]
		w.queue = w.queue[1:]
		if evicted != nil {
			w.remove(*evicted)
		}
	}

	if value == nil || len(w.sorted) == 0 {
		return nil
	}

	rank := sort.SearchFloat64s(w.sorted, *value)
	// Advance past equal values for inclusive right-rank semantics.
	for rank < len(w.sorted) && w.sorted[rank] == *value {
		rank++
	}
	pct := float64(rank) / float64(len(w.sorted))
	return &pct
}

func (w *PercentileWindow) insert(value float64) {
	idx := sort.SearchFloat64s(w.sorted, value)
	w.sorted = append(w.sorted, 0)
	copy(w.sorted[idx+1:], w.sorted[idx:])
	w.sorted[idx] = value
}

func (w *PercentileWindow) remove(value float64) {
	idx := sort.SearchFloat64s(w.sorted, value)
	if idx < len(w.sorted) && w.sorted[idx] == value {
		w.sorted = append(w.sorted[:idx], w.sorted[idx+1:]...)
	}
}

// RollingPercentileRank maps each value to its trailing-window
// percentile rank across a whole series.
func RollingPercentileRank(values []*float64, windowSize int) []*float64 {
	window := NewPercentileWindow(windowSize)
	out := make([]*float64, len(values))
	for i, value := range values {
		out[i] = window.Push(value)
	}
	return out
}
