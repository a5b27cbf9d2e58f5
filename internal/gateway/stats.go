package gateway

import (
	"net/http"
	"runtime"
	"time"

	"mt5-gateway/internal/metrics"
)

// RuntimeStats is the process resource snapshot reported by GET /stats.
type RuntimeStats struct {
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	GCRuns      uint32  `json:"gc_runs"`
}

// Stats is the GET /stats body.
type Stats struct {
	UptimeSec    int64                               `json:"uptime_sec"`
	Connected    bool                                `json:"connected"`
	LatencyMs    LatencySnapshot                     `json:"latency_ms"`
	Dependencies map[string]metrics.DependencyStatus `json:"dependencies"`
	Runtime      RuntimeStats                        `json:"runtime"`
	TS           string                              `json:"ts"`
}

func collectRuntime() RuntimeStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeStats{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(ms.HeapAlloc) / 1024 / 1024,
		SysMB:       float64(ms.Sys) / 1024 / 1024,
		GCRuns:      ms.NumGC,
	}
}

func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Stats{
		UptimeSec:    int64(h.health.Uptime().Seconds()),
		Connected:    h.sess.Connected(),
		LatencyMs:    h.latency.Snapshot(),
		Dependencies: h.health.Dependencies(),
		Runtime:      collectRuntime(),
		TS:           time.Now().UTC().Format(time.RFC3339Nano),
	})
}
