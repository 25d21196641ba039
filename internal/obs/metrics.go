// Package obs exposes the gateway's prometheus metrics.
package obs

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// UnmatchedRoute is the route label used when no route matched the request.
const UnmatchedRoute = "unmatched"

type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
	limiterFailOpen prometheus.Counter
	cacheRefresh    *prometheus.CounterVec
	cachedRoutes    prometheus.Gauge
	publishFailures prometheus.Counter
	subscribers     prometheus.Gauge
	breakerOpen     *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Total requests handled by the gateway",
	}, []string{"route", "status_class"})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "End-to-end request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	rateLimited := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_rate_limited_total",
		Help: "Total requests rejected by the rate limiter",
	}, []string{"route"})

	limiterFailOpen := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_rate_limiter_fail_open_total",
		Help: "Total rate-limit checks allowed because the store was unavailable",
	})

	cacheRefresh := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_route_cache_refresh_total",
		Help: "Total route cache refresh attempts",
	}, []string{"result"})

	cachedRoutes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_cached_routes",
		Help: "Routes in the current cache snapshot",
	})

	publishFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_access_log_publish_failures_total",
		Help: "Total access log events that failed to enqueue",
	})

	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_stream_subscribers",
		Help: "Currently connected live-stream subscribers",
	})

	breakerOpen := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_breaker_open",
		Help: "1 when the circuit breaker for a route is open",
	}, []string{"route"})

	registry.MustRegister(requests, requestDuration, rateLimited, limiterFailOpen,
		cacheRefresh, cachedRoutes, publishFailures, subscribers, breakerOpen)

	return &Metrics{
		registry:        registry,
		requests:        requests,
		requestDuration: requestDuration,
		rateLimited:     rateLimited,
		limiterFailOpen: limiterFailOpen,
		cacheRefresh:    cacheRefresh,
		cachedRoutes:    cachedRoutes,
		publishFailures: publishFailures,
		subscribers:     subscribers,
		breakerOpen:     breakerOpen,
	}
}

func (m *Metrics) RecordRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, statusClass(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *Metrics) RecordRateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(route).Inc()
}

func (m *Metrics) RecordLimiterFailOpen() {
	if m == nil {
		return
	}
	m.limiterFailOpen.Inc()
}

func (m *Metrics) RecordCacheRefresh(result string, routes int) {
	if m == nil {
		return
	}
	m.cacheRefresh.WithLabelValues(result).Inc()
	if result == "success" {
		m.cachedRoutes.Set(float64(routes))
	}
}

func (m *Metrics) RecordPublishFailure() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}

func (m *Metrics) SetSubscribers(count int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(count))
}

func (m *Metrics) SetBreakerOpen(route string, open bool) {
	if m == nil {
		return
	}
	value := 0.0
	if open {
		value = 1.0
	}
	m.breakerOpen.WithLabelValues(route).Set(value)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func statusClass(status int) string {
	return fmt.Sprintf("%dxx", status/100)
}
