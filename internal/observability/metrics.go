// Package observability provides Prometheus metrics for the application.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vidgrab"

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Download metrics
	DownloadsTotal     *prometheus.CounterVec
	DownloadsInFlight  prometheus.Gauge
	DownloadsQueued    prometheus.Gauge
	DownloadDuration   *prometheus.HistogramVec
	DeliveredBytes     prometheus.Counter
	DownloadsAbandoned prometheus.Counter

	// Workspace metrics
	WorkspacesActive prometheus.Gauge
	WorkspacesSwept  prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Proxy metrics
	ProxyRequestsTotal *prometheus.CounterVec
	ProxyFailures      *prometheus.CounterVec
	ProxiesAvailable   prometheus.Gauge

	// Auth metrics
	LoginsTotal  *prometheus.CounterVec
	RateLimited  prometheus.Counter
	SignupsTotal prometheus.Counter
}

// New creates a registry with process and Go collectors and registers all application metrics on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		DownloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "total",
			Help:      "Total number of resolved downloads by backend and status",
		}, []string{"backend", "status"}),
		DownloadsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "in_progress",
			Help:      "Number of downloads currently running on a worker",
		}),
		DownloadsQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "queued",
			Help:      "Number of downloads waiting for a worker",
		}),
		DownloadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "duration_seconds",
			Help:      "Histogram of backend resolve duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"backend"}),
		DeliveredBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "delivered_bytes_total",
			Help:      "Total bytes of media files handed to clients",
		}),
		DownloadsAbandoned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "abandoned_total",
			Help:      "Downloads dropped because the client left while queued",
		}),

		WorkspacesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workspace",
			Name:      "active",
			Help:      "Number of live request workspaces",
		}),
		WorkspacesSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workspace",
			Name:      "swept_total",
			Help:      "Total number of stale workspaces removed by the sweeper",
		}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request duration in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 30, 120, 600},
		}, []string{"method", "path"}),
		HTTPResponseSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Histogram of HTTP response sizes in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		}, []string{"method", "path"}),

		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Total number of downloads routed through a proxy",
		}, []string{"proxy"}),
		ProxyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "failures_total",
			Help:      "Total number of proxy failures",
		}, []string{"proxy"}),
		ProxiesAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "available",
			Help:      "Number of currently available proxies",
		}),

		LoginsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter",
		}),
		SignupsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "signups_total",
			Help:      "Users created through signup",
		}),
	}
}

// Handler returns the Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.DefaultGatherer
	}

	return m.registry
}

// DownloadTimer returns a function to record resolve duration for backend.
func (m *Metrics) DownloadTimer(backend string) func() {
	start := time.Now()

	return func() {
		if m == nil {
			return
		}

		m.DownloadDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	}
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, size int64) {
	if m == nil {
		return
	}

	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
}

// RecordQueued marks a download as waiting for a worker.
func (m *Metrics) RecordQueued() {
	if m == nil {
		return
	}

	m.DownloadsQueued.Inc()
}

// RecordStarted moves a download from the queue to a worker.
func (m *Metrics) RecordStarted() {
	if m == nil {
		return
	}

	m.DownloadsQueued.Dec()
	m.DownloadsInFlight.Inc()
}

// RecordAbandoned drops a queued download whose caller left.
func (m *Metrics) RecordAbandoned() {
	if m == nil {
		return
	}

	m.DownloadsQueued.Dec()
	m.DownloadsAbandoned.Inc()
}

// RecordDone marks a worker as free again.
func (m *Metrics) RecordDone() {
	if m == nil {
		return
	}

	m.DownloadsInFlight.Dec()
}

// RecordResolved records the outcome of one backend resolve.
func (m *Metrics) RecordResolved(backend string, err error) {
	if m == nil {
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
	}

	m.DownloadsTotal.WithLabelValues(backend, status).Inc()
}

// RecordDelivered adds n streamed bytes.
func (m *Metrics) RecordDelivered(n int64) {
	if m == nil {
		return
	}

	m.DeliveredBytes.Add(float64(n))
}

// SetWorkspacesActive sets the number of live workspaces.
func (m *Metrics) SetWorkspacesActive(count int) {
	if m == nil {
		return
	}

	m.WorkspacesActive.Set(float64(count))
}

// RecordSwept records removed stale workspaces.
func (m *Metrics) RecordSwept(count int) {
	if m == nil {
		return
	}

	m.WorkspacesSwept.Add(float64(count))
}

// RecordProxyRequest records a proxy request.
func (m *Metrics) RecordProxyRequest(proxy string) {
	if m == nil {
		return
	}

	m.ProxyRequestsTotal.WithLabelValues(proxy).Inc()
}

// RecordProxyFailure records a proxy failure.
func (m *Metrics) RecordProxyFailure(proxy string) {
	if m == nil {
		return
	}

	m.ProxyFailures.WithLabelValues(proxy).Inc()
}

// SetProxiesAvailable sets the number of available proxies.
func (m *Metrics) SetProxiesAvailable(count int) {
	if m == nil {
		return
	}

	m.ProxiesAvailable.Set(float64(count))
}

// RecordLogin records a login attempt.
func (m *Metrics) RecordLogin(ok bool) {
	if m == nil {
		return
	}

	result := "success"
	if !ok {
		result = "failure"
	}

	m.LoginsTotal.WithLabelValues(result).Inc()
}

// RecordSignup counts a created user.
func (m *Metrics) RecordSignup() {
	if m == nil {
		return
	}

	m.SignupsTotal.Inc()
}

// RecordRateLimited counts a rejected request.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}

	m.RateLimited.Inc()
}
