package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the recorder and the demo
// spectator server. Each binary only moves the series it owns.
type Metrics struct {
	registry *prometheus.Registry

	pollsTotal             prometheus.Counter
	pollFailuresTotal      prometheus.Counter
	itemsStoredTotal       *prometheus.CounterVec
	itemsSkippedTotal      *prometheus.CounterVec
	backfillPassesTotal    prometheus.Counter
	sessionsCompletedTotal prometheus.Counter
	lastChunkID            prometheus.Gauge

	requestsTotal        *prometheus.CounterVec
	errorsTotal          *prometheus.CounterVec
	activeSessions       prometheus.Gauge
	itemsRegisteredTotal *prometheus.CounterVec
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	pollsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spectator_polls_total",
		Help: "Total number of latest chunk info polls issued",
	})
	pollFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spectator_poll_failures_total",
		Help: "Total number of latest chunk info polls that failed",
	})
	itemsStoredTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spectator_items_stored_total",
		Help: "Total number of chunks and keyframes durably stored",
	}, []string{"kind"})
	itemsSkippedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spectator_items_skipped_total",
		Help: "Total number of chunk and keyframe fetch-and-store attempts that were skipped",
	}, []string{"kind"})
	backfillPassesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spectator_backfill_passes_total",
		Help: "Total number of gap-triggered backfill passes",
	})
	sessionsCompletedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spectator_sessions_completed_total",
		Help: "Total number of sessions recorded up to their final chunk",
	})
	lastChunkID := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spectator_last_chunk_id",
		Help: "Most recent chunk id reported by the spectator server",
	})
	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spectator_requests_total",
		Help: "Total number of HTTP requests received, by route pattern",
	}, []string{"route"})
	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spectator_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx), by route pattern",
	}, []string{"route"})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spectator_active_sessions",
		Help: "Number of served sessions that are not ended",
	})
	itemsRegisteredTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spectator_items_registered_total",
		Help: "Total number of chunks and keyframes registered with the demo server",
	}, []string{"kind"})

	registry.MustRegister(
		pollsTotal,
		pollFailuresTotal,
		itemsStoredTotal,
		itemsSkippedTotal,
		backfillPassesTotal,
		sessionsCompletedTotal,
		lastChunkID,
		requestsTotal,
		errorsTotal,
		activeSessions,
		itemsRegisteredTotal,
	)

	return &Metrics{
		registry:               registry,
		pollsTotal:             pollsTotal,
		pollFailuresTotal:      pollFailuresTotal,
		itemsStoredTotal:       itemsStoredTotal,
		itemsSkippedTotal:      itemsSkippedTotal,
		backfillPassesTotal:    backfillPassesTotal,
		sessionsCompletedTotal: sessionsCompletedTotal,
		lastChunkID:            lastChunkID,
		requestsTotal:          requestsTotal,
		errorsTotal:            errorsTotal,
		activeSessions:         activeSessions,
		itemsRegisteredTotal:   itemsRegisteredTotal,
	}
}

// IncPolls increments the poll counter.
func (m *Metrics) IncPolls() {
	m.pollsTotal.Inc()
}

// IncPollFailures increments the failed poll counter.
func (m *Metrics) IncPollFailures() {
	m.pollFailuresTotal.Inc()
}

// IncItemsStored increments the stored counter for kind ("chunk" or "keyframe").
func (m *Metrics) IncItemsStored(kind string) {
	m.itemsStoredTotal.WithLabelValues(kind).Inc()
}

// IncItemsSkipped increments the skipped counter for kind.
func (m *Metrics) IncItemsSkipped(kind string) {
	m.itemsSkippedTotal.WithLabelValues(kind).Inc()
}

// IncBackfillPasses increments the backfill pass counter.
func (m *Metrics) IncBackfillPasses() {
	m.backfillPassesTotal.Inc()
}

// IncSessionsCompleted increments the completed session counter.
func (m *Metrics) IncSessionsCompleted() {
	m.sessionsCompletedTotal.Inc()
}

// SetLastChunkID records the latest reported chunk id.
func (m *Metrics) SetLastChunkID(id uint32) {
	m.lastChunkID.Set(float64(id))
}

// IncRequests increments the request counter for route.
func (m *Metrics) IncRequests(route string) {
	m.requestsTotal.WithLabelValues(route).Inc()
}

// IncErrors increments the error counter for route.
func (m *Metrics) IncErrors(route string) {
	m.errorsTotal.WithLabelValues(route).Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// IncItemsRegistered increments the demo server's registration counter for kind.
func (m *Metrics) IncItemsRegistered(kind string) {
	m.itemsRegisteredTotal.WithLabelValues(kind).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
