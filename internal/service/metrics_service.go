package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/jobs"
)

// MetricsNamespace prefixes every collector exposed on /metrics.
const MetricsNamespace = "driveschool"

// Redis round trips sit well under the default buckets.
var cacheBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1}

type httpCollectors struct {
	duration *prometheus.HistogramVec
	requests *prometheus.CounterVec
	inFlight prometheus.Gauge
	errors   *prometheus.CounterVec
}

type cacheCollectors struct {
	lookups  *prometheus.CounterVec
	latency  prometheus.Histogram
	writes   prometheus.Histogram
	hitRatio prometheus.Gauge
}

type schedulingCollectors struct {
	txDuration     *prometheus.HistogramVec
	txRetries      *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	conflicts      *prometheus.CounterVec
	doubleBookings *prometheus.GaugeVec
}

type jobCollectors struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// snapshotCounters back the JSON snapshot without scraping the registry.
type snapshotCounters struct {
	requests      atomic.Uint64
	requestNanos  atomic.Uint64
	inFlight      atomic.Int64
	apiErrors     atomic.Uint64
	cacheHits     atomic.Uint64
	cacheMisses   atomic.Uint64
	transactions  atomic.Uint64
	txNanos       atomic.Uint64
	txRetries     atomic.Uint64
	conflicts     atomic.Uint64
	transitions   atomic.Uint64
	jobsSucceeded atomic.Uint64
	jobsRetried   atomic.Uint64
	jobsDropped   atomic.Uint64
}

// MetricsService owns the Prometheus registry and a small set of counters for
// the JSON snapshot. Every method is safe on a nil receiver.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler
	started  time.Time

	http  httpCollectors
	cache cacheCollectors
	sched schedulingCollectors
	jobs  jobCollectors

	counts snapshotCounters
}

// NewMetricsService builds a private registry with the process, Go runtime and
// application collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: MetricsNamespace}),
	)
	f := promauto.With(registry)

	m := &MetricsService{
		registry: registry,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		started:  time.Now(),
	}

	m.http = httpCollectors{
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time to serve a request, by route template",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Requests served, by route template",
		}, []string{"method", "path", "status"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Requests currently being served",
		}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Error envelopes written, by error code",
		}, []string{"code"}),
	}

	m.cache = cacheCollectors{
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "View cache lookups by result",
		}, []string{"result"}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "cache",
			Name:      "lookup_seconds",
			Help:      "View cache lookup latency",
			Buckets:   cacheBuckets,
		}),
		writes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "cache",
			Name:      "write_seconds",
			Help:      "View cache write latency",
			Buckets:   cacheBuckets,
		}),
		hitRatio: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "cache",
			Name:      "hit_ratio",
			Help:      "Hits over lookups since start",
		}),
	}

	m.sched = schedulingCollectors{
		txDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "db",
			Name:      "tx_duration_seconds",
			Help:      "Time for a labelled transaction to settle, retries included",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tx"}),
		txRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "db",
			Name:      "tx_retries_total",
			Help:      "Transactions replayed after a serialization failure or deadlock",
		}, []string{"tx"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "attendance",
			Name:      "transitions_total",
			Help:      "Session status transitions applied by mark and reset",
		}, []string{"from", "to"}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "booking",
			Name:      "conflicts_total",
			Help:      "Bookings rejected because a resource was already taken",
		}, []string{"resource"}),
		doubleBookings: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "audit",
			Name:      "double_bookings",
			Help:      "Overlapping live session pairs found by the last sweep",
		}, []string{"tenant"}),
	}

	m.jobs = jobCollectors{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Background job runs by queue, type and outcome",
		}, []string{"queue", "type", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Background job run time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
	}

	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one served request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.http.duration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	m.http.requests.WithLabelValues(method, path, code).Inc()
	m.counts.requests.Add(1)
	m.counts.requestNanos.Add(uint64(duration))
}

// TrackInFlight counts a request as in flight until the returned func runs.
func (m *MetricsService) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.http.inFlight.Inc()
	m.counts.inFlight.Add(1)
	return func() {
		m.http.inFlight.Dec()
		m.counts.inFlight.Add(-1)
	}
}

// ObserveAPIError counts an error envelope by its code.
func (m *MetricsService) ObserveAPIError(code string) {
	if m == nil || code == "" {
		return
	}
	m.http.errors.WithLabelValues(code).Inc()
	m.counts.apiErrors.Add(1)
}

// RecordCacheOperation records a view cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cache.latency.Observe(duration.Seconds())
	if hit {
		m.cache.lookups.WithLabelValues("hit").Inc()
		m.counts.cacheHits.Add(1)
	} else {
		m.cache.lookups.WithLabelValues("miss").Inc()
		m.counts.cacheMisses.Add(1)
	}
	m.cache.hitRatio.Set(ratio(m.counts.cacheHits.Load(), m.counts.cacheMisses.Load()))
}

// ObserveCacheWrite records a view cache write.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cache.writes.Observe(duration.Seconds())
}

// ObserveDBQuery records how long a labelled transaction took to settle.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sched.txDuration.WithLabelValues(label).Observe(duration.Seconds())
	m.counts.transactions.Add(1)
	m.counts.txNanos.Add(uint64(duration))
}

// ObserveTransition counts an attendance status change.
func (m *MetricsService) ObserveTransition(from, to models.SessionStatus) {
	if m == nil {
		return
	}
	m.sched.transitions.WithLabelValues(string(from), string(to)).Inc()
	m.counts.transitions.Add(1)
}

// ObserveConflict counts a rejected booking.
func (m *MetricsService) ObserveConflict(resource models.ResourceKind) {
	if m == nil {
		return
	}
	m.sched.conflicts.WithLabelValues(string(resource)).Inc()
	m.counts.conflicts.Add(1)
}

// ObserveTxRetry implements database.TxObserver.
func (m *MetricsService) ObserveTxRetry(label string) {
	if m == nil {
		return
	}
	m.sched.txRetries.WithLabelValues(label).Inc()
	m.counts.txRetries.Add(1)
}

// SetDoubleBookings records the latest audit result for a tenant.
func (m *MetricsService) SetDoubleBookings(tenantID string, count int) {
	if m == nil {
		return
	}
	m.sched.doubleBookings.WithLabelValues(tenantID).Set(float64(count))
}

// ObserveJob implements jobs.Observer.
func (m *MetricsService) ObserveJob(queue, jobType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobs.runs.WithLabelValues(queue, jobType, outcome).Inc()
	m.jobs.duration.WithLabelValues(queue).Observe(duration.Seconds())
	switch outcome {
	case jobs.OutcomeSucceeded:
		m.counts.jobsSucceeded.Add(1)
	case jobs.OutcomeRetried:
		m.counts.jobsRetried.Add(1)
	case jobs.OutcomeDropped:
		m.counts.jobsDropped.Add(1)
	}
}

// Snapshot returns the counters behind GET /metrics/snapshot.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	c := &m.counts
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return models.SystemMetrics{
		HTTP: models.HTTPMetrics{
			Requests:      c.requests.Load(),
			InFlight:      c.inFlight.Load(),
			Errors:        c.apiErrors.Load(),
			AvgDurationMs: avgMillis(c.requestNanos.Load(), c.requests.Load()),
		},
		Cache: models.CacheMetrics{
			Hits:     c.cacheHits.Load(),
			Misses:   c.cacheMisses.Load(),
			HitRatio: ratio(c.cacheHits.Load(), c.cacheMisses.Load()),
		},
		Scheduling: models.SchedulingMetrics{
			Transactions:    c.transactions.Load(),
			AvgTxDurationMs: avgMillis(c.txNanos.Load(), c.transactions.Load()),
			TxRetries:       c.txRetries.Load(),
			Conflicts:       c.conflicts.Load(),
			Transitions:     c.transitions.Load(),
		},
		Jobs: models.JobMetrics{
			Succeeded: c.jobsSucceeded.Load(),
			Retried:   c.jobsRetried.Load(),
			Dropped:   c.jobsDropped.Load(),
		},
		Runtime: models.RuntimeMetrics{
			Goroutines:     runtime.NumGoroutine(),
			HeapAllocBytes: mem.HeapAlloc,
			UptimeSeconds:  time.Since(m.started).Seconds(),
		},
		GeneratedAt: time.Now().UTC(),
	}
}

func ratio(hits, misses uint64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func avgMillis(totalNanos, n uint64) float64 {
	if n == 0 {
		return 0
	}
	return float64(totalNanos) / float64(n) / float64(time.Millisecond)
}
