// Package monitoring exposes Prometheus metrics and health checks for a
// running modserve instance.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "modserve"

// Metrics holds the application's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	CompilesTotal     *prometheus.CounterVec
	CompileDuration   prometheus.Histogram
	CacheLookups      *prometheus.CounterVec
	LiveReloadClients prometheus.Gauge
	ReloadsTotal      prometheus.Counter
	RateLimited       prometheus.Counter
}

// NewMetrics creates the collectors on a fresh registry, together with the
// standard Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		CompilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compiles_total",
			Help:      "Component compiles by result.",
		}, []string{"result"}),
		CompileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Component compile latency.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compile_cache_lookups_total",
			Help:      "Compile cache lookups by result.",
		}, []string{"result"}),
		LiveReloadClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "livereload_clients",
			Help:      "Connected live reload clients.",
		}),
		ReloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "livereload_broadcasts_total",
			Help:      "Reload notifications broadcast to clients.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.CompilesTotal,
		m.CompileDuration,
		m.CacheLookups,
		m.LiveReloadClients,
		m.ReloadsTotal,
		m.RateLimited,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one served HTTP request.
func (m *Metrics) RecordRequest(method string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordCompile records one compiler run.
func (m *Metrics) RecordCompile(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CompilesTotal.WithLabelValues(result).Inc()
	m.CompileDuration.Observe(d.Seconds())
}

// RecordCacheLookup records a compile cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}
