package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway. Each instance owns
// its own registry so several gateways (or tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec   // labels: route, status
	RequestDuration *prometheus.HistogramVec // labels: route

	TerminalCalls        *prometheus.CounterVec   // labels: method, outcome
	TerminalCallDuration *prometheus.HistogramVec // labels: method
	TerminalConnected    prometheus.Gauge

	FailuresTotal *prometheus.CounterVec // labels: kind

	JournalWrites   *prometheus.CounterVec // labels: outcome
	EventsPublished *prometheus.CounterVec // labels: outcome

	// Event publisher circuit breaker
	EventsBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	EventsBreakerTrips prometheus.Counter
}

// New registers and returns all gateway metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "HTTP requests served, by route and status code",
		}, []string{"route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route"}),

		TerminalCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_terminal_calls_total",
			Help: "Terminal capability calls by method and outcome (ok, absent, error)",
		}, []string{"method", "outcome"}),
		TerminalCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_terminal_call_duration_seconds",
			Help:    "Terminal capability call latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method"}),
		TerminalConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_terminal_connected",
			Help: "Terminal session state as last observed (0=down, 1=up)",
		}),

		FailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_failures_total",
			Help: "Failure responses by error kind",
		}, []string{"kind"}),

		JournalWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_journal_writes_total",
			Help: "Order journal inserts by outcome",
		}, []string{"outcome"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_events_published_total",
			Help: "Redis event publishes by outcome (ok, error, dropped)",
		}, []string{"outcome"}),

		EventsBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_events_circuit_breaker_state",
			Help: "Event publisher circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		EventsBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_events_circuit_breaker_trips_total",
			Help: "Times the event publisher circuit breaker tripped open",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.TerminalCalls,
		m.TerminalCallDuration,
		m.TerminalConnected,
		m.FailuresTotal,
		m.JournalWrites,
		m.EventsPublished,
		m.EventsBreakerState,
		m.EventsBreakerTrips,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the Prometheus exposition for this instance.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveCall implements terminal.Observer.
func (m *Metrics) ObserveCall(method string, d time.Duration, outcome string) {
	m.TerminalCalls.WithLabelValues(method, outcome).Inc()
	m.TerminalCallDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Failure counts one failure response of the given kind.
func (m *Metrics) Failure(kind string) {
	m.FailuresTotal.WithLabelValues(kind).Inc()
}

// SetConnected records the terminal session state.
func (m *Metrics) SetConnected(up bool) {
	if up {
		m.TerminalConnected.Set(1)
	} else {
		m.TerminalConnected.Set(0)
	}
}

// JournalWrite counts one journal insert.
func (m *Metrics) JournalWrite(err error) {
	if err != nil {
		m.JournalWrites.WithLabelValues("error").Inc()
		return
	}
	m.JournalWrites.WithLabelValues("ok").Inc()
}

// EventPublished counts one publish attempt.
func (m *Metrics) EventPublished(outcome string) {
	m.EventsPublished.WithLabelValues(outcome).Inc()
}

// BreakerStateChanged tracks the event publisher circuit breaker.
func (m *Metrics) BreakerStateChanged(state int, tripped bool) {
	m.EventsBreakerState.Set(float64(state))
	if tripped {
		m.EventsBreakerTrips.Inc()
	}
}
