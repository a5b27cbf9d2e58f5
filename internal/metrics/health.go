package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Probe checks one optional dependency (journal database, Redis).
type Probe func(ctx context.Context) error

// DependencyStatus is the last liveness result for one dependency.
type DependencyStatus struct {
	OK        bool    `json:"ok"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// Health tracks gateway uptime and periodic probes of optional dependencies.
type Health struct {
	mu sync.RWMutex

	StartedAt   time.Time
	LastCheckAt time.Time
	deps        map[string]DependencyStatus
}

// NewHealth returns a health tracker started now.
func NewHealth() *Health {
	return &Health{
		StartedAt: time.Now(),
		deps:      make(map[string]DependencyStatus),
	}
}

// Uptime returns the time since the tracker was created.
func (h *Health) Uptime() time.Duration {
	return time.Since(h.StartedAt)
}

// Check runs one probe and records its latency and result.
func (h *Health) Check(ctx context.Context, name string, probe Probe) {
	start := time.Now()
	err := probe(ctx)
	latency := time.Since(start)

	st := DependencyStatus{
		OK:        err == nil,
		LatencyMs: float64(latency.Microseconds()) / 1000.0,
	}
	if err != nil {
		st.Error = err.Error()
	}

	h.mu.Lock()
	h.deps[name] = st
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// Dependencies returns a copy of the last probe results.
func (h *Health) Dependencies() map[string]DependencyStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]DependencyStatus, len(h.deps))
	for k, v := range h.deps {
		out[k] = v
	}
	return out
}

// StartLivenessChecker probes every dependency once immediately and then on
// each interval until ctx is cancelled.
func (h *Health) StartLivenessChecker(ctx context.Context, probes map[string]Probe, interval time.Duration) {
	if len(probes) == 0 {
		return
	}
	names := make([]string, 0, len(probes))
	for n := range probes {
		names = append(names, n)
	}
	sort.Strings(names)

	run := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		for _, n := range names {
			h.Check(probeCtx, n, probes[n])
			if st := h.Dependencies()[n]; !st.OK {
				slog.Warn("[health] dependency check failed", "dependency", n, "error", st.Error)
			}
		}
	}

	go func() {
		run()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
