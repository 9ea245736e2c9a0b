package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Metrics backend queries
	QueriesTotal    *prometheus.CounterVec
	QueryDuration   *prometheus.HistogramVec
	QueryRetries    prometheus.Counter
	QueryRowsLoaded prometheus.Counter

	// Conflict checks
	ChecksTotal      *prometheus.CounterVec
	CheckDuration    prometheus.Histogram
	ChecksInProgress prometheus.Gauge
	AlertsTotal      *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer
// in binaries and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_metrics_queries_total",
				Help: "Total number of search metrics queries by outcome",
			},
			[]string{"window", "status"},
		),

		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_metrics_query_duration_seconds",
				Help:    "Search metrics query duration in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"window"},
		),

		QueryRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "search_metrics_query_retries_total",
				Help: "Total number of rate-limited queries retried",
			},
		),

		QueryRowsLoaded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "search_metrics_rows_total",
				Help: "Total number of per-URL rows returned by the backend",
			},
		),

		ChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conflict_checks_total",
				Help: "Total number of conflict checks by outcome",
			},
			[]string{"outcome"},
		),

		CheckDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "conflict_check_duration_seconds",
				Help:    "Conflict check duration in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		ChecksInProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conflict_checks_in_progress",
				Help: "Number of conflict checks currently running",
			},
		),

		AlertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conflict_alerts_total",
				Help: "Total number of alerts raised by tier",
			},
			[]string{"tier"},
		),
	}
}

func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordQuery counts one backend query; status is "success" or an error code.
func (m *Metrics) RecordQuery(window, status string, rows int, duration time.Duration) {
	m.QueriesTotal.WithLabelValues(window, status).Inc()
	m.QueryDuration.WithLabelValues(window).Observe(duration.Seconds())
	m.QueryRowsLoaded.Add(float64(rows))
}

func (m *Metrics) RecordRetry() {
	m.QueryRetries.Inc()
}

// RecordCheck counts one finished check; outcome is complete, partial, invalid or failed.
func (m *Metrics) RecordCheck(outcome string, duration time.Duration) {
	m.ChecksTotal.WithLabelValues(outcome).Inc()
	m.CheckDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordAlert(tier string) {
	m.AlertsTotal.WithLabelValues(tier).Inc()
}

func (m *Metrics) IncChecksInProgress() {
	m.ChecksInProgress.Inc()
}

func (m *Metrics) DecChecksInProgress() {
	m.ChecksInProgress.Dec()
}
