// Package gateway serves the terminal capability as JSON endpoints. Every
// handler validates its parameters first, then invokes the terminal one step
// at a time and translates absent results into failure bodies carrying the
// terminal's last diagnostic.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"mt5-gateway/internal/events"
	"mt5-gateway/internal/journal"
	"mt5-gateway/internal/logger"
	"mt5-gateway/internal/metrics"
	"mt5-gateway/internal/model"
	"mt5-gateway/internal/session"
	"mt5-gateway/internal/terminal"
)

// OrderJournal records order submissions. A nil journal disables GET /orders.
type OrderJournal interface {
	Record(ctx context.Context, e journal.Entry) error
	List(ctx context.Context, limit int) ([]journal.Row, error)
}

// Config wires a gateway.
type Config struct {
	Session    *session.Manager
	Timeframes *model.TimeframeSet

	DefaultTimeframe string
	DefaultCount     int
	OrderComment     string
	OrderDeviation   int
	LazyConnect      bool
	CORSAllowOrigin  string

	Journal OrderJournal     // optional
	Events  events.Publisher // optional
	Metrics *metrics.Metrics // optional; a private instance is created when nil
	Health  *metrics.Health  // optional
	Logger  *slog.Logger
}

// Handlers holds the dependencies of every endpoint.
type Handlers struct {
	cfg     Config
	sess    *session.Manager
	term    terminal.Terminal
	tfs     *model.TimeframeSet
	journal OrderJournal
	events  events.Publisher
	metrics *metrics.Metrics
	health  *metrics.Health
	latency *LatencyTracker
	log     *slog.Logger
}

// New creates the gateway handlers.
func New(cfg Config) *Handlers {
	if cfg.Timeframes == nil {
		cfg.Timeframes, _ = model.NewTimeframeSet([]string{"M1", "M5", "M15", "M30", "H1", "H4", "D1"})
	}
	if cfg.DefaultCount <= 0 {
		cfg.DefaultCount = 300
	}
	if cfg.CORSAllowOrigin == "" {
		cfg.CORSAllowOrigin = "*"
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Health == nil {
		cfg.Health = metrics.NewHealth()
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	if cfg.DefaultTimeframe == "" {
		cfg.DefaultTimeframe = "M1"
	}
	if _, ok := cfg.Timeframes.Resolve(cfg.DefaultTimeframe); !ok && cfg.Timeframes.Len() > 0 {
		fallback := cfg.Timeframes.Allowed()[0]
		lg.Warn("[gateway] default timeframe not enabled, using first enabled",
			"default", cfg.DefaultTimeframe, "using", fallback)
		cfg.DefaultTimeframe = fallback
	}

	return &Handlers{
		cfg:     cfg,
		sess:    cfg.Session,
		term:    cfg.Session.Terminal(),
		tfs:     cfg.Timeframes,
		journal: cfg.Journal,
		events:  cfg.Events,
		metrics: cfg.Metrics,
		health:  cfg.Health,
		latency: NewLatencyTracker(10000),
		log:     lg.With(slog.String("component", "gateway")),
	}
}

// Router returns the HTTP handler with all routes and middleware installed.
func (h *Handlers) Router() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": KindNotFound})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": KindMethodNotAllowed})
	})
	r.Use(h.traceMiddleware, h.instrumentMiddleware)

	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/connect", h.handleConnect).Methods(http.MethodPost)
	r.HandleFunc("/shutdown", h.handleShutdown).Methods(http.MethodPost)
	r.HandleFunc("/account", h.handleAccount).Methods(http.MethodPost)
	r.HandleFunc("/symbol_info", h.handleSymbolInfo).Methods(http.MethodPost)
	r.HandleFunc("/rates", h.handleRates).Methods(http.MethodPost)
	r.HandleFunc("/rates_range", h.handleRatesRange).Methods(http.MethodPost)
	r.HandleFunc("/tick", h.handleTick).Methods(http.MethodPost)
	r.HandleFunc("/order", h.handleOrder).Methods(http.MethodPost)
	r.HandleFunc("/orders", h.handleOrders).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)
	r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)

	return h.corsMiddleware(r)
}

// corsMiddleware sets CORS headers and answers preflight requests before routing.
func (h *Handlers) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", h.cfg.CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+logger.TraceHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// traceMiddleware attaches a trace ID (caller-supplied or generated) to the
// request context and echoes it in the response.
func (h *Handlers) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := r.Header.Get(logger.TraceHeader)
		if tid == "" {
			tid = logger.GenerateTraceID(r.URL.Path, time.Now())
		}
		w.Header().Set(logger.TraceHeader, tid)
		next.ServeHTTP(w, r.WithContext(logger.WithTraceID(r.Context(), tid)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrumentMiddleware writes the access log line and records request metrics.
func (h *Handlers) instrumentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		h.metrics.ObserveRequest(route, rec.status, elapsed)
		h.latency.Record(elapsed)
		h.log.Info("[gateway] request", append(logger.LogWithTrace(r.Context()),
			"method", r.Method, "path", route, "status", rec.status,
			"duration_ms", float64(elapsed.Microseconds())/1000.0)...)
	})
}
