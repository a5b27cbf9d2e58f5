package gateway

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps the most recent request durations in a ring and
// reports percentiles over them. Safe for concurrent use.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []float64 // milliseconds
	next    int
	n       int
	total   uint64
}

// NewLatencyTracker holds the last capacity samples (10000 when capacity <= 0).
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{samples: make([]float64, capacity)}
}

// Record adds one request duration.
func (lt *LatencyTracker) Record(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0
	lt.mu.Lock()
	lt.samples[lt.next] = ms
	lt.next = (lt.next + 1) % len(lt.samples)
	if lt.n < len(lt.samples) {
		lt.n++
	}
	lt.total++
	lt.mu.Unlock()
}

// LatencySnapshot summarizes the retained samples.
type LatencySnapshot struct {
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
	Samples int     `json:"samples"`
	Total   uint64  `json:"total"`
}

// Snapshot computes percentiles in milliseconds. All zero when empty.
func (lt *LatencyTracker) Snapshot() LatencySnapshot {
	lt.mu.Lock()
	sorted := make([]float64, lt.n)
	copy(sorted, lt.samples[:lt.n])
	total := lt.total
	lt.mu.Unlock()

	// Ring order does not matter once sorted.
	sort.Float64s(sorted)
	return LatencySnapshot{
		P50:     percentile(sorted, 0.50),
		P95:     percentile(sorted, 0.95),
		P99:     percentile(sorted, 0.99),
		Samples: len(sorted),
		Total:   total,
	}
}

// percentile interpolates the p-th percentile (0..1) of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	switch n {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := p * float64(n-1)
	lo := int(math.Floor(rank))
	if lo+1 >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}
