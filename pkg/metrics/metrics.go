package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the lookup reused a stored response.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no entry was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupExpired indicates an entry was present but past its max age.
	CacheLookupExpired CacheLookupOutcome = "expired"
)

// CacheStoreOutcome captures the result of a cache store attempt.
type CacheStoreOutcome string

const (
	// CacheStoreStored indicates the entry was written and persisted.
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStorePersistError indicates the entry is held in memory only.
	CacheStorePersistError CacheStoreOutcome = "persist_error"
)

// Recorder publishes Prometheus metrics for orchestration activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	runs        *prometheus.CounterVec
	runLatency  *prometheus.HistogramVec
	dispatches  *prometheus.CounterVec
	dispatchLat *prometheus.HistogramVec
	retrySleeps *prometheus.HistogramVec
	rateLimited *prometheus.CounterVec

	cacheLookups   *prometheus.CounterVec
	cacheStores    *prometheus.CounterVec
	cacheEvictions prometheus.Counter
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "infralens",
		Subsystem: "run",
		Name:      "total",
		Help:      "Report runs by terminal state.",
	}, []string{"state", "error_kind"})

	runLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "infralens",
		Subsystem: "run",
		Name:      "duration_seconds",
		Help:      "Wall time of report runs.",
		Buckets:   []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"state"})

	dispatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "infralens",
		Subsystem: "upstream",
		Name:      "dispatches_total",
		Help:      "Remote calls dispatched to the generative AI service.",
	}, []string{"operation", "outcome"})

	dispatchLat := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "infralens",
		Subsystem: "upstream",
		Name:      "dispatch_duration_seconds",
		Help:      "Latency of remote calls.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"operation", "outcome"})

	retrySleeps := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "infralens",
		Subsystem: "retry",
		Name:      "backoff_seconds",
		Help:      "Backoff delays slept between attempts.",
		Buckets:   []float64{1, 2, 4, 8, 16, 30},
	}, []string{"operation"})

	rateLimited := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "infralens",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Attempts refused by the local sliding-window limiter.",
	}, []string{"operation"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "infralens",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Result cache lookups by outcome.",
	}, []string{"result"})

	cacheStores := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "infralens",
		Subsystem: "cache",
		Name:      "stores_total",
		Help:      "Result cache writes by outcome.",
	}, []string{"result"})

	cacheEvictions := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "infralens",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Entries evicted because the cache was at capacity.",
	})

	reg.MustRegister(runs, runLatency, dispatches, dispatchLat, retrySleeps, rateLimited, cacheLookups, cacheStores, cacheEvictions)

	return &Recorder{
		gatherer:       reg,
		handler:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		runs:           runs,
		runLatency:     runLatency,
		dispatches:     dispatches,
		dispatchLat:    dispatchLat,
		retrySleeps:    retrySleeps,
		rateLimited:    rateLimited,
		cacheLookups:   cacheLookups,
		cacheStores:    cacheStores,
		cacheEvictions: cacheEvictions,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveRun records a finished run.
func (r *Recorder) ObserveRun(state, errorKind string, duration time.Duration) {
	if r == nil {
		return
	}
	stateLabel := normalizeLabel(state)
	kindLabel := strings.TrimSpace(errorKind)
	if kindLabel == "" {
		kindLabel = "none"
	}
	r.runs.WithLabelValues(stateLabel, kindLabel).Inc()
	r.runLatency.WithLabelValues(stateLabel).Observe(duration.Seconds())
}

// ObserveDispatch records one remote call.
func (r *Recorder) ObserveDispatch(operation, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	opLabel := normalizeLabel(operation)
	outLabel := normalizeLabel(outcome)
	r.dispatches.WithLabelValues(opLabel, outLabel).Inc()
	r.dispatchLat.WithLabelValues(opLabel, outLabel).Observe(duration.Seconds())
}

// ObserveBackoff records a backoff sleep.
func (r *Recorder) ObserveBackoff(operation string, delay time.Duration) {
	if r == nil {
		return
	}
	r.retrySleeps.WithLabelValues(normalizeLabel(operation)).Observe(delay.Seconds())
}

// ObserveRateLimited records an attempt refused by the local limiter.
func (r *Recorder) ObserveRateLimited(operation string) {
	if r == nil {
		return
	}
	r.rateLimited.WithLabelValues(normalizeLabel(operation)).Inc()
}

// ObserveCacheLookup records the result of a cache lookup.
func (r *Recorder) ObserveCacheLookup(result CacheLookupOutcome) {
	if r == nil {
		return
	}
	label := string(result)
	if label == "" {
		label = string(CacheLookupMiss)
	}
	r.cacheLookups.WithLabelValues(label).Inc()
}

// ObserveCacheStore records the result of a cache write.
func (r *Recorder) ObserveCacheStore(result CacheStoreOutcome) {
	if r == nil {
		return
	}
	label := string(result)
	if label == "" {
		label = string(CacheStoreStored)
	}
	r.cacheStores.WithLabelValues(label).Inc()
}

// ObserveCacheEviction records a capacity eviction.
func (r *Recorder) ObserveCacheEviction() {
	if r == nil {
		return
	}
	r.cacheEvictions.Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
