// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// resolveBuckets cover extractor runs, which routinely take seconds.
var resolveBuckets = []float64{.1, .25, .5, 1, 2, 4, 8, 15, 30}

// Metrics holds all Prometheus metric collectors for the relay.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	ResolveDuration *prometheus.HistogramVec
	ResolveTotal    *prometheus.CounterVec

	RelaysActive  prometheus.Gauge
	RelayBytes    *prometheus.CounterVec
	RelaySessions *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_relay_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "media_relay_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "media_relay_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "media_relay_upstream_request_duration_seconds",
			Help:    "Time until upstream response headers, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_relay_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		ResolveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "media_relay_resolve_duration_seconds",
			Help:    "Extraction latency in seconds.",
			Buckets: resolveBuckets,
		}, []string{"platform", "extractor"}),

		ResolveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_relay_resolve_total",
			Help: "Total extraction attempts by platform and outcome.",
		}, []string{"platform", "outcome"}),

		RelaysActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "media_relay_relays_active",
			Help: "Number of relay sessions currently streaming.",
		}),

		RelayBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_relay_relay_bytes_total",
			Help: "Total media bytes forwarded to clients.",
		}, []string{"platform"}),

		RelaySessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_relay_relay_sessions_total",
			Help: "Total relay sessions by platform and termination reason.",
		}, []string{"platform", "outcome"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.ResolveDuration,
		m.ResolveTotal,
		m.RelaysActive,
		m.RelayBytes,
		m.RelaySessions,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/stream", "/formats", "/healthz", "/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	if path == "/" || path == "" {
		return "/"
	}
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
