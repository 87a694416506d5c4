// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	poolCapacity               prometheus.Gauge
	poolInUse                  prometheus.Gauge
	poolAcquireWaitSeconds     prometheus.Histogram
	poolRotationsTotal         *prometheus.CounterVec
	tasksTotal                 *prometheus.CounterVec
	taskDurationSeconds        *prometheus.HistogramVec
	sessionsTotal              *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		poolCapacity = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "matchday_pool_capacity",
			Help: "Effective number of execution contexts in the active pool.",
		})

		poolInUse = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "matchday_pool_in_use",
			Help: "Execution contexts currently held by workers.",
		})

		poolAcquireWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "matchday_pool_acquire_wait_seconds",
			Help:    "Time spent waiting for a free execution context.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		})

		poolRotationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matchday_pool_rotations_total",
				Help: "Context rotations, labeled by result.",
			},
			[]string{"result"},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matchday_tasks_total",
				Help: "Fetch tasks completed, labeled by status and failure kind.",
			},
			[]string{"status", "kind"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "matchday_task_duration_seconds",
				Help:    "Fetch task latency including retries.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
			},
			[]string{"status"},
		)

		sessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matchday_sessions_total",
				Help: "Crawl sessions finished, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "matchday_rate_limit_delay_seconds",
				Help:    "Time requests waited on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetPoolCapacity records the effective pool size.
func SetPoolCapacity(n int) {
	Init()
	poolCapacity.Set(float64(n))
}

// SetPoolInUse records how many contexts are busy.
func SetPoolInUse(n int) {
	Init()
	poolInUse.Set(float64(n))
}

// ObserveAcquireWait records how long a worker waited for a context.
func ObserveAcquireWait(d time.Duration) {
	Init()
	poolAcquireWaitSeconds.Observe(d.Seconds())
}

// ObserveRotation counts a context rotation.
func ObserveRotation(ok bool) {
	Init()
	result := "replaced"
	if !ok {
		result = "degraded"
	}
	poolRotationsTotal.WithLabelValues(result).Inc()
}

// ObserveTask records a finished fetch task.
func ObserveTask(status, kind string, d time.Duration) {
	Init()
	if kind == "" {
		kind = "none"
	}
	tasksTotal.WithLabelValues(status, kind).Inc()
	taskDurationSeconds.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveSession counts a finished session.
func ObserveSession(result string) {
	Init()
	sessionsTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records how long a request waited for its host's token.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
