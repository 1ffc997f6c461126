package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets      = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	operationDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	bodySizeBuckets          = []float64{100, 1024, 10240, 102400, 1048576}
	// Reversal decisions take from minutes to weeks.
	decisionLatencyBuckets = []float64{60, 600, 3600, 4 * 3600, 24 * 3600, 3 * 24 * 3600, 7 * 24 * 3600, 30 * 24 * 3600}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Onboarding metrics
	OnboardingsStartedTotal prometheus.Counter
	StageChangesTotal       *prometheus.CounterVec
	TaskTogglesTotal        *prometheus.CounterVec
	OperationDuration       *prometheus.HistogramVec

	// Reversal metrics
	ReversalRequestsTotal   prometheus.Counter
	ReversalDecisionsTotal  *prometheus.CounterVec
	ReversalDecisionLatency prometheus.Histogram
	PendingReversals        prometheus.Gauge

	// Delivery and cache metrics
	NotificationFailuresTotal  *prometheus.CounterVec
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter
	IdempotentReplaysTotal     *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerhub_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "partnerhub_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "partnerhub_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "partnerhub_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Onboarding
		OnboardingsStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partnerhub_onboardings_started_total",
			Help: "Total number of partner onboardings started.",
		}),
		StageChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerhub_stage_changes_total",
			Help: "Total number of stage change requests by outcome.",
		}, []string{"from_stage", "to_stage", "outcome"}),
		TaskTogglesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerhub_task_toggles_total",
			Help: "Total number of checklist task toggles.",
		}, []string{"stage", "completed"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "partnerhub_operation_duration_seconds",
			Help:    "Onboarding operation duration in seconds.",
			Buckets: operationDurationBuckets,
		}, []string{"operation", "status"}),

		// Reversals
		ReversalRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partnerhub_reversal_requests_total",
			Help: "Total number of stage reversal requests submitted.",
		}),
		ReversalDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerhub_reversal_decisions_total",
			Help: "Total number of stage reversal decisions.",
		}, []string{"decision"}),
		ReversalDecisionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "partnerhub_reversal_decision_latency_seconds",
			Help:    "Time from reversal request to decision in seconds.",
			Buckets: decisionLatencyBuckets,
		}),
		PendingReversals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "partnerhub_reversal_requests_pending",
			Help: "Number of reversal requests awaiting a decision.",
		}),

		// Delivery and cache
		NotificationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerhub_notification_failures_total",
			Help: "Total number of failed notification deliveries.",
		}, []string{"event"}),
		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partnerhub_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partnerhub_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),
		IdempotentReplaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerhub_idempotent_replays_total",
			Help: "Total number of responses replayed for a repeated idempotency key.",
		}, []string{"path_pattern"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Onboarding
		m.OnboardingsStartedTotal,
		m.StageChangesTotal,
		m.TaskTogglesTotal,
		m.OperationDuration,
		// Reversals
		m.ReversalRequestsTotal,
		m.ReversalDecisionsTotal,
		m.ReversalDecisionLatency,
		m.PendingReversals,
		// Delivery and cache
		m.NotificationFailuresTotal,
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
		m.IdempotentReplaysTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordOnboardingStarted records a new onboarding record.
func (m *Metrics) RecordOnboardingStarted() {
	m.OnboardingsStartedTotal.Inc()
}

// RecordStageChange records a stage change request. Outcome is "applied" or
// "pending_approval".
func (m *Metrics) RecordStageChange(fromStage, toStage, outcome string) {
	m.StageChangesTotal.WithLabelValues(fromStage, toStage, outcome).Inc()
}

// RecordTaskToggle records a checklist task toggle.
func (m *Metrics) RecordTaskToggle(stage string, completed bool) {
	m.TaskTogglesTotal.WithLabelValues(stage, strconv.FormatBool(completed)).Inc()
}

// RecordOperation records the duration of a controller operation. Status is
// "ok" or the error code.
func (m *Metrics) RecordOperation(operation, status string, duration time.Duration) {
	m.OperationDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordReversalRequested records a submitted reversal request.
func (m *Metrics) RecordReversalRequested() {
	m.ReversalRequestsTotal.Inc()
	m.PendingReversals.Inc()
}

// RecordReversalDecision records a reversal decision and how long it waited.
func (m *Metrics) RecordReversalDecision(decision string, waited time.Duration) {
	m.ReversalDecisionsTotal.WithLabelValues(decision).Inc()
	m.ReversalDecisionLatency.Observe(waited.Seconds())
	m.PendingReversals.Dec()
}

// SetPendingReversals sets the pending reversal gauge, e.g. at startup.
func (m *Metrics) SetPendingReversals(count float64) {
	m.PendingReversals.Set(count)
}

// RecordNotificationFailure records a failed notification delivery.
func (m *Metrics) RecordNotificationFailure(event string) {
	m.NotificationFailuresTotal.WithLabelValues(event).Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	m.CapabilityCacheMissesTotal.Inc()
}

// RecordIdempotentReplay records a response replayed from the idempotency store.
func (m *Metrics) RecordIdempotentReplay(pathPattern string) {
	m.IdempotentReplaysTotal.WithLabelValues(pathPattern).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := RoutePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler serving the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RoutePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func RoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.ReplaceAll(pattern, "/*/", "/")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
