package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the costscope server.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Management API metrics.
	UpstreamCallsTotal   *prometheus.CounterVec
	UpstreamCallDuration *prometheus.HistogramVec

	// Fan-out metrics.
	BatchesTotal      *prometheus.CounterVec
	ItemFailuresTotal *prometheus.CounterVec
	RetriesTotal      *prometheus.CounterVec

	// Auth metrics.
	AuthFailuresTotal      *prometheus.CounterVec
	AuthSuccessesTotal     prometheus.Counter
	SigningKeyRefreshTotal *prometheus.CounterVec

	// Inbound rate limiting.
	RateLimitRejectionsTotal prometheus.Counter

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "costscope_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "costscope_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"method", "path_pattern"}),

		HTTPResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "costscope_http_response_size_bytes",
			Help:    "HTTP response size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"method", "path_pattern"}),

		UpstreamCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "costscope_upstream_calls_total",
			Help: "Total number of management API calls by operation and outcome.",
		}, []string{"operation", "outcome"}),

		UpstreamCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "costscope_upstream_call_duration_seconds",
			Help:    "Management API call duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		BatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "costscope_batches_total",
			Help: "Total number of per-subscription batches issued.",
		}, []string{"operation"}),

		ItemFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "costscope_batch_item_failures_total",
			Help: "Total number of per-subscription calls that failed and were left out of a report.",
		}, []string{"operation"}),

		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "costscope_retries_total",
			Help: "Total number of retries after a rate-limited call.",
		}, []string{"operation"}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "costscope_auth_failures_total",
			Help: "Total number of rejected bearer tokens by reason.",
		}, []string{"reason"}),

		AuthSuccessesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "costscope_auth_successes_total",
			Help: "Total number of accepted bearer tokens.",
		}),

		SigningKeyRefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "costscope_signing_key_refreshes_total",
			Help: "Total number of signing key set fetches.",
		}, []string{"status"}),

		RateLimitRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "costscope_ratelimit_rejections_total",
			Help: "Total number of requests rejected by the inbound rate limiter.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "costscope_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.UpstreamCallsTotal,
		m.UpstreamCallDuration,
		m.BatchesTotal,
		m.ItemFailuresTotal,
		m.RetriesTotal,
		m.AuthFailuresTotal,
		m.AuthSuccessesTotal,
		m.SigningKeyRefreshTotal,
		m.RateLimitRejectionsTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTPRequest records one served request under its route pattern.
func (m *Metrics) ObserveHTTPRequest(method, pattern string, status int, seconds float64, bytes int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pattern).Observe(seconds)
	m.HTTPResponseSize.WithLabelValues(method, pattern).Observe(float64(bytes))
}

// ObserveUpstreamCall records one management API call.
func (m *Metrics) ObserveUpstreamCall(operation, outcome string, seconds float64) {
	m.UpstreamCallsTotal.WithLabelValues(operation, outcome).Inc()
	m.UpstreamCallDuration.WithLabelValues(operation).Observe(seconds)
}

// IncBatch increments the batch counter for a report operation.
func (m *Metrics) IncBatch(operation string) {
	m.BatchesTotal.WithLabelValues(operation).Inc()
}

// IncItemFailure increments the failed per-subscription call counter.
func (m *Metrics) IncItemFailure(operation string) {
	m.ItemFailuresTotal.WithLabelValues(operation).Inc()
}

// IncRetry increments the retry counter.
func (m *Metrics) IncRetry(operation string) {
	m.RetriesTotal.WithLabelValues(operation).Inc()
}

// IncAuthFailure increments the auth failure counter for the given reason.
func (m *Metrics) IncAuthFailure(reason string) {
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// IncAuthSuccess increments the auth success counter.
func (m *Metrics) IncAuthSuccess() {
	m.AuthSuccessesTotal.Inc()
}

// ObserveKeyRefresh records a signing key set fetch.
func (m *Metrics) ObserveKeyRefresh(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SigningKeyRefreshTotal.WithLabelValues(status).Inc()
}

// IncRateLimitRejection increments the inbound rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection() {
	m.RateLimitRejectionsTotal.Inc()
}
