package gateway

import (
	"math"
	"testing"
	"time"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestLatencyTracker_Empty(t *testing.T) {
	s := NewLatencyTracker(100).Snapshot()
	if s.P50 != 0 || s.P95 != 0 || s.P99 != 0 || s.Samples != 0 {
		t.Errorf("empty tracker: got %+v", s)
	}
}

func TestLatencyTracker_SingleSample(t *testing.T) {
	lt := NewLatencyTracker(100)
	lt.Record(42500 * time.Microsecond)

	s := lt.Snapshot()
	if s.P50 != 42.5 || s.P95 != 42.5 || s.P99 != 42.5 {
		t.Errorf("single sample: got %+v", s)
	}
}

func TestLatencyTracker_Percentiles(t *testing.T) {
	lt := NewLatencyTracker(10000)
	for i := 1; i <= 100; i++ {
		lt.Record(ms(i))
	}

	s := lt.Snapshot()
	if math.Abs(s.P50-50.5) > 0.01 {
		t.Errorf("p50: got %f, want 50.5", s.P50)
	}
	if math.Abs(s.P95-95.05) > 0.01 {
		t.Errorf("p95: got %f, want 95.05", s.P95)
	}
	if math.Abs(s.P99-99.01) > 0.01 {
		t.Errorf("p99: got %f, want 99.01", s.P99)
	}
}

func TestLatencyTracker_Wraparound(t *testing.T) {
	lt := NewLatencyTracker(10)
	for i := 1; i <= 20; i++ {
		lt.Record(ms(i))
	}

	s := lt.Snapshot()
	if s.Samples != 10 || s.Total != 20 {
		t.Fatalf("samples=%d total=%d, want 10 and 20", s.Samples, s.Total)
	}
	// Only 11..20 are retained.
	if math.Abs(s.P50-15.5) > 0.01 {
		t.Errorf("p50 after wraparound: got %f, want 15.5", s.P50)
	}
}
