// Package metrics holds the Prometheus collectors owned by one gateway
// instance. Every instance gets a private registry so several gateways can
// coexist in one process.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "ccs"
	subsystem = "gateway"
)

// Collector records gateway metrics. A nil *Collector is valid and records
// nothing.
type Collector struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	providerHealth  *prometheus.GaugeVec
	fallback        *prometheus.CounterVec
	inputTokens     prometheus.Histogram
	httpRequests    *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Messages requests by tier, provider and response status",
			},
			[]string{"tier", "provider", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "request_duration_seconds",
				Help:      "Upstream request latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider"},
		),

		providerHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "provider_health",
				Help:      "Last probe result per provider (1=healthy, 0=unhealthy)",
			},
			[]string{"provider"},
		),

		fallback: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "fallback_attempts_total",
				Help:      "Fallback chain candidates tried, by outcome",
			},
			[]string{"provider", "outcome"},
		),

		inputTokens: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "input_tokens",
				Help:      "Estimated prompt tokens per request",
				Buckets:   []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 200000},
			},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_total",
				Help:      "HTTP requests served by the gateway",
			},
			[]string{"method", "path", "status"},
		),
	}

	c.registry.MustRegister(
		c.requests,
		c.requestDuration,
		c.providerHealth,
		c.fallback,
		c.inputTokens,
		c.httpRequests,
	)

	return c
}

// RegisterPoolSize exposes the connection pool size as a gauge read at scrape
// time.
func (c *Collector) RegisterPoolSize(size func() int) {
	if c == nil {
		return
	}

	c.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pool_connections",
			Help:      "Provider descriptors currently held by the connection pool",
		},
		func() float64 { return float64(size()) },
	))
}

func (c *Collector) RecordRequest(tier, provider string, status int, duration time.Duration) {
	if c == nil {
		return
	}

	c.requests.WithLabelValues(tier, provider, strconv.Itoa(status)).Inc()
	if provider != "" {
		c.requestDuration.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

func (c *Collector) RecordHealth(provider string, healthy bool) {
	if c == nil {
		return
	}

	value := 0.0
	if healthy {
		value = 1
	}
	c.providerHealth.WithLabelValues(provider).Set(value)
}

func (c *Collector) RecordFallbackAttempt(provider string, success bool) {
	if c == nil {
		return
	}

	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.fallback.WithLabelValues(provider, outcome).Inc()
}

func (c *Collector) RecordInputTokens(tokens int) {
	if c == nil {
		return
	}

	c.inputTokens.Observe(float64(tokens))
}

func (c *Collector) RecordHTTPRequest(method, path string, status int) {
	if c == nil {
		return
	}

	c.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

// Registry returns the private registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
