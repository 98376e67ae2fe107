package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors for the worker and the ops server.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	jobsProcessedTotal    *prometheus.CounterVec
	sendDuration          *prometheus.HistogramVec
	workerInflight        *prometheus.GaugeVec
	retryScheduledTotal   *prometheus.CounterVec
	attemptsRecordedTotal *prometheus.CounterVec
	templateCacheTotal    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notifykit",
				Name:      "http_requests_total",
				Help:      "Total number of ops HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notifykit",
				Name:      "http_request_duration_seconds",
				Help:      "Ops HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		jobsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notifykit",
				Name:      "jobs_processed_total",
				Help:      "Total number of terminal job attempts by method and state.",
			},
			[]string{"method", "state"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notifykit",
				Name:      "send_duration_seconds",
				Help:      "Provider send duration in seconds by delivery method.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"method"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "notifykit",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight job executions by delivery method.",
			},
			[]string{"method"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notifykit",
				Name:      "retry_scheduled_total",
				Help:      "Total number of job attempts scheduled for retry.",
			},
			[]string{"method"},
		),
		attemptsRecordedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notifykit",
				Name:      "attempts_recorded_total",
				Help:      "Total number of attempt-log writes by recorded state.",
			},
			[]string{"state"},
		),
		templateCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notifykit",
				Name:      "template_cache_total",
				Help:      "Template cache lookups by outcome.",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.jobsProcessedTotal,
		m.sendDuration,
		m.workerInflight,
		m.retryScheduledTotal,
		m.attemptsRecordedTotal,
		m.templateCacheTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncJobProcessed(method string, state string) {
	if m == nil {
		return
	}
	m.jobsProcessedTotal.WithLabelValues(normalizeLabel(method), normalizeLabel(state)).Inc()
}

func (m *Metrics) ObserveSendDuration(method string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.sendDuration.WithLabelValues(normalizeLabel(method)).Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight(method string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(method)).Inc()
}

func (m *Metrics) DecWorkerInFlight(method string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(method)).Dec()
}

func (m *Metrics) IncRetryScheduled(method string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(method)).Inc()
}

func (m *Metrics) IncAttemptRecorded(state string) {
	if m == nil {
		return
	}
	m.attemptsRecordedTotal.WithLabelValues(normalizeLabel(state)).Inc()
}

func (m *Metrics) IncTemplateCacheHit() {
	if m == nil {
		return
	}
	m.templateCacheTotal.WithLabelValues("hit").Inc()
}

func (m *Metrics) IncTemplateCacheMiss() {
	if m == nil {
		return
	}
	m.templateCacheTotal.WithLabelValues("miss").Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
