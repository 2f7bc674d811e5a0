// Package telemetry exposes HostPulse's own service metrics to Prometheus.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collect outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Metrics groups the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	collects       *prometheus.CounterVec
	sampleLatency  prometheus.Histogram
	cacheErrors    prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates and registers the collectors on reg. The registry also serves
// as the gatherer for Handler.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostpulse_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hostpulse_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		}, []string{"route"}),
		collects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostpulse_collect_total",
			Help: "Collect-and-persist attempts by outcome.",
		}, []string{"outcome"}),
		sampleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hostpulse_sample_duration_seconds",
			Help:    "Time spent reading host counters, including the CPU averaging window.",
			Buckets: prometheus.LinearBuckets(0.25, 0.25, 12),
		}),
		cacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hostpulse_cache_errors_total",
			Help: "Latest-sample cache operations that failed and fell back to the store.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.requests, m.requestLatency, m.collects, m.sampleLatency, m.cacheErrors)
	return m
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.requestLatency.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveCollect records a collect-and-persist outcome.
func (m *Metrics) ObserveCollect(err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
	}
	m.collects.WithLabelValues(outcome).Inc()
}

// ObserveSample records the duration of one sampler call.
func (m *Metrics) ObserveSample(d time.Duration) {
	if m == nil {
		return
	}
	m.sampleLatency.Observe(d.Seconds())
}

// CacheError counts a failed cache operation.
func (m *Metrics) CacheError() {
	if m == nil {
		return
	}
	m.cacheErrors.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
