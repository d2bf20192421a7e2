package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atlas-hcm/atlas-authz/internal/engine"
)

// Metrics collects Prometheus metrics for the service. It implements
// engine.MetricsSink so the evaluation path reports through the same
// registry as the HTTP layer.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	evaluations     *prometheus.CounterVec
	conflicts       *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	batchItems      *prometheus.CounterVec
	jobRuns         *prometheus.CounterVec
}

// NewMetrics initialises the registry and all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "authz_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	evaluations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_evaluations_total",
		Help: "Permission evaluations by final decision.",
	}, []string{"decision"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_conflicts_detected_total",
		Help: "Conflicts surfaced during evaluation, by kind and severity.",
	}, []string{"kind", "severity"})
	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_decision_cache_hits_total",
		Help: "Decision cache hits.",
	})
	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_decision_cache_misses_total",
		Help: "Decision cache misses.",
	})
	batchItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_batch_items_total",
		Help: "Batch operation items by outcome.",
	}, []string{"outcome"})
	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_job_runs_total",
		Help: "Background job executions by task and status.",
	}, []string{"task", "status"})
	registry.MustRegister(requests, duration, evaluations, conflicts, cacheHits, cacheMisses, batchItems, jobRuns)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		evaluations:     evaluations,
		conflicts:       conflicts,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		batchItems:      batchItems,
		jobRuns:         jobRuns,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request counters for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// EvaluationObserved counts one final decision.
func (m *Metrics) EvaluationObserved(granted bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if granted {
		decision = "grant"
	}
	m.evaluations.WithLabelValues(decision).Inc()
}

// ConflictObserved counts one detected conflict.
func (m *Metrics) ConflictObserved(kind engine.ConflictKind, severity engine.Severity) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(string(kind), string(severity)).Inc()
}

// DecisionCacheHit counts a cache hit on the evaluation path.
func (m *Metrics) DecisionCacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

// DecisionCacheMiss counts a cache miss on the evaluation path.
func (m *Metrics) DecisionCacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

// BatchItemObserved counts one batch item outcome.
func (m *Metrics) BatchItemObserved(outcome string) {
	if m != nil {
		m.batchItems.WithLabelValues(outcome).Inc()
	}
}

// JobObserved counts one background job run.
func (m *Metrics) JobObserved(task, status string) {
	if m != nil {
		m.jobRuns.WithLabelValues(task, status).Inc()
	}
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
