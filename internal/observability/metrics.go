// Package observability wraps the Prometheus counters and gauges the
// service surface exposes: HTTP request volume/latency, run throughput
// by status, worker pool occupancy, and retry outcomes by operation. The
// server updates the HTTP and worker-pool series; nothing outside this
// package's tests calls the run and retry recorders.
package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Metrics struct {
	logger *logrus.Logger

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	runsTotal    *prometheus.CounterVec
	runsInFlight prometheus.Gauge
	runDuration  *prometheus.HistogramVec

	workerPoolSize      prometheus.Gauge
	workerPoolQueueSize prometheus.Gauge

	retryAttemptsTotal *prometheus.CounterVec
	retrySuccessTotal  *prometheus.CounterVec
}

func NewMetrics(logger *logrus.Logger, namespace string) *Metrics {
	if namespace == "" {
		namespace = "unity_buildscan"
	}

	m := &Metrics{
		logger: logger,

		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"method", "path"},
		),
		runsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of analysis runs by terminal status",
			},
			[]string{"status"},
		),
		runsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_in_flight",
				Help:      "Number of analysis runs currently executing",
			},
		),
		runDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Analysis run duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180},
			},
			[]string{"status"},
		),
		workerPoolSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_size",
				Help:      "Configured worker pool size",
			},
		),
		workerPoolQueueSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_pool_queue_size",
				Help:      "Number of tasks waiting in the worker pool's channel",
			},
		),
		retryAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts by operation",
			},
			[]string{"operation"},
		),
		retrySuccessTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_success_total",
				Help:      "Total number of operations that eventually succeeded after a retry",
			},
			[]string{"operation"},
		),
	}

	logger.Info("prometheus metrics initialized")
	return m
}

// HTTPMiddleware records one observation per request.
func (m *Metrics) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func (m *Metrics) RunStarted() {
	m.runsInFlight.Inc()
}

func (m *Metrics) RunFinished(status string, duration time.Duration) {
	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) UpdateWorkerPoolStats(size, queueSize int) {
	m.workerPoolSize.Set(float64(size))
	m.workerPoolQueueSize.Set(float64(queueSize))
}

func (m *Metrics) RecordRetryAttempt(operation string) {
	m.retryAttemptsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordRetrySuccess(operation string) {
	m.retrySuccessTotal.WithLabelValues(operation).Inc()
}
