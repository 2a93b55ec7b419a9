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
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Decision metrics
	DecisionsTotal             *prometheus.CounterVec
	DecisionDuration           *prometheus.HistogramVec
	DecisionValidationFailures *prometheus.CounterVec
	DecisionReplaysTotal       *prometheus.CounterVec
	DecisionConflictsTotal     *prometheus.CounterVec

	// Worklist metrics
	WorklistQueriesTotal   *prometheus.CounterVec
	WorklistQueryDuration  *prometheus.HistogramVec
	WorklistStaleDiscards  *prometheus.CounterVec
	WorklistDebounceFlushes prometheus.Counter

	// Backend invocation metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState *prometheus.GaugeVec
	BackendRetriesTotal        *prometheus.CounterVec

	// Attachment metrics
	AttachmentBytesStreamed  *prometheus.CounterVec
	AttachmentRejectionsTotal *prometheus.CounterVec

	// Cache metrics
	LookupCacheHitsTotal   *prometheus.CounterVec
	LookupCacheMissesTotal *prometheus.CounterVec

	// Session metrics
	ActiveSessions       prometheus.Gauge
	SessionEvictionsTotal *prometheus.CounterVec

	// System metrics
	OperationsIndexed *prometheus.GaugeVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verdict_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verdict_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verdict_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Decisions
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_decisions_total",
			Help: "Total number of approval decisions applied.",
		}, []string{"domain_id", "decision", "status"}),
		DecisionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verdict_decision_duration_seconds",
			Help:    "Decision processing duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"domain_id"}),
		DecisionValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_decision_validation_failures_total",
			Help: "Total number of decision validation failures.",
		}, []string{"domain_id"}),
		DecisionReplaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_decision_replays_total",
			Help: "Total number of idempotent decision replays.",
		}, []string{"domain_id"}),
		DecisionConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_decision_conflicts_total",
			Help: "Total number of decision conflicts on non-pending items.",
		}, []string{"domain_id"}),

		// Worklist
		WorklistQueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_worklist_queries_total",
			Help: "Total number of worklist queries executed.",
		}, []string{"domain_id", "tab"}),
		WorklistQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verdict_worklist_query_duration_seconds",
			Help:    "Worklist query duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"domain_id"}),
		WorklistStaleDiscards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_worklist_stale_discards_total",
			Help: "Total number of superseded worklist responses discarded.",
		}, []string{"domain_id"}),
		WorklistDebounceFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verdict_worklist_debounce_flushes_total",
			Help: "Total number of debounced search flushes.",
		}),

		// Backend
		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_backend_requests_total",
			Help: "Total number of backend service requests.",
		}, []string{"service_id", "operation_id", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verdict_backend_request_duration_seconds",
			Help:    "Backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"service_id"}),
		BackendCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "verdict_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"service_id"}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_backend_retries_total",
			Help: "Total number of backend request retries.",
		}, []string{"service_id"}),

		// Attachments
		AttachmentBytesStreamed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_attachment_bytes_streamed_total",
			Help: "Total attachment bytes streamed to clients.",
		}, []string{"service_id"}),
		AttachmentRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_attachment_rejections_total",
			Help: "Total attachments rejected by size or content type checks.",
		}, []string{"reason"}),

		// Cache
		LookupCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_lookup_cache_hits_total",
			Help: "Total lookup cache hits.",
		}, []string{"kind"}),
		LookupCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_lookup_cache_misses_total",
			Help: "Total lookup cache misses.",
		}, []string{"kind"}),

		// Sessions
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "verdict_active_sessions",
			Help: "Number of active UI sessions.",
		}),
		SessionEvictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_session_evictions_total",
			Help: "Total sessions evicted, by reason.",
		}, []string{"reason"}),

		// System
		OperationsIndexed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "verdict_backend_operations_indexed",
			Help: "Number of indexed backend operations.",
		}, []string{"service_id"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Decisions
		m.DecisionsTotal,
		m.DecisionDuration,
		m.DecisionValidationFailures,
		m.DecisionReplaysTotal,
		m.DecisionConflictsTotal,
		// Worklist
		m.WorklistQueriesTotal,
		m.WorklistQueryDuration,
		m.WorklistStaleDiscards,
		m.WorklistDebounceFlushes,
		// Backend
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		// Attachments
		m.AttachmentBytesStreamed,
		m.AttachmentRejectionsTotal,
		// Cache
		m.LookupCacheHitsTotal,
		m.LookupCacheMissesTotal,
		// Sessions
		m.ActiveSessions,
		m.SessionEvictionsTotal,
		// System
		m.OperationsIndexed,
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

// RecordDecision records a decision attempt and its outcome status.
func (m *Metrics) RecordDecision(domainID, decision, status string, duration time.Duration) {
	m.DecisionsTotal.WithLabelValues(domainID, decision, status).Inc()
	m.DecisionDuration.WithLabelValues(domainID).Observe(duration.Seconds())
}

// RecordDecisionValidationFailure records a decision rejected before any
// store or network activity.
func (m *Metrics) RecordDecisionValidationFailure(domainID string) {
	m.DecisionValidationFailures.WithLabelValues(domainID).Inc()
}

// RecordDecisionReplay records an idempotent replay of a prior decision.
func (m *Metrics) RecordDecisionReplay(domainID string) {
	m.DecisionReplaysTotal.WithLabelValues(domainID).Inc()
}

// RecordDecisionConflict records a decision refused because the item was no
// longer pending.
func (m *Metrics) RecordDecisionConflict(domainID string) {
	m.DecisionConflictsTotal.WithLabelValues(domainID).Inc()
}

// RecordWorklistQuery records a worklist query execution.
func (m *Metrics) RecordWorklistQuery(domainID, tab string, duration time.Duration) {
	m.WorklistQueriesTotal.WithLabelValues(domainID, tab).Inc()
	m.WorklistQueryDuration.WithLabelValues(domainID).Observe(duration.Seconds())
}

// RecordWorklistStaleDiscard records a superseded response that was dropped.
func (m *Metrics) RecordWorklistStaleDiscard(domainID string) {
	m.WorklistStaleDiscards.WithLabelValues(domainID).Inc()
}

// RecordWorklistDebounceFlush records a debounced search flush.
func (m *Metrics) RecordWorklistDebounceFlush() {
	m.WorklistDebounceFlushes.Inc()
}

// RecordBackendRequest records a backend service request.
func (m *Metrics) RecordBackendRequest(serviceID, operationID string, status int, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(serviceID, operationID, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(serviceID).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the circuit breaker state for a service.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBackendCircuitBreakerState(serviceID string, state float64) {
	m.BackendCircuitBreakerState.WithLabelValues(serviceID).Set(state)
}

// RecordBackendRetry records a backend request retry.
func (m *Metrics) RecordBackendRetry(serviceID string) {
	m.BackendRetriesTotal.WithLabelValues(serviceID).Inc()
}

// RecordAttachmentBytes records bytes streamed for an attachment.
func (m *Metrics) RecordAttachmentBytes(serviceID string, n int64) {
	m.AttachmentBytesStreamed.WithLabelValues(serviceID).Add(float64(n))
}

// RecordAttachmentRejection records a rejected attachment.
// Reason is "size" or "content_type".
func (m *Metrics) RecordAttachmentRejection(reason string) {
	m.AttachmentRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordLookupCacheHit records a lookup cache hit.
func (m *Metrics) RecordLookupCacheHit(kind string) {
	m.LookupCacheHitsTotal.WithLabelValues(kind).Inc()
}

// RecordLookupCacheMiss records a lookup cache miss.
func (m *Metrics) RecordLookupCacheMiss(kind string) {
	m.LookupCacheMissesTotal.WithLabelValues(kind).Inc()
}

// SetActiveSessions sets the active session gauge.
func (m *Metrics) SetActiveSessions(count float64) {
	m.ActiveSessions.Set(count)
}

// RecordSessionEviction records a session eviction.
// Reason is "idle" or "cap".
func (m *Metrics) RecordSessionEviction(reason string) {
	m.SessionEvictionsTotal.WithLabelValues(reason).Inc()
}

// SetOperationsIndexed sets the number of indexed operations for a service.
func (m *Metrics) SetOperationsIndexed(serviceID string, count float64) {
	m.OperationsIndexed.WithLabelValues(serviceID).Set(count)
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
		pathPattern := routePattern(r)
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

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
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
