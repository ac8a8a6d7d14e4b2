package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pobradovic08/demo-app/internal/responder"
)

// unmatchedRoute labels requests that hit no route.
const unmatchedRoute = "unmatched"

// Metrics holds all Prometheus metrics for demo-app.
type Metrics struct {
	registry                 *prometheus.Registry
	RequestsTotal            *prometheus.CounterVec
	RequestDuration          *prometheus.HistogramVec
	RouteNotFoundTotal       prometheus.Counter
	RateLimitRejectionsTotal prometheus.Counter
	CertificateReloadsTotal  *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them, together with the Go
// runtime and process collectors, on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "demoapp_http_requests_total",
				Help: "Total number of HTTP requests by route, method and status code.",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "demoapp_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RouteNotFoundTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "demoapp_route_not_found_total",
				Help: "Total number of requests that matched no route.",
			},
		),
		RateLimitRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "demoapp_ratelimit_rejections_total",
				Help: "Total number of requests rejected by rate limiting.",
			},
		),
		CertificateReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "demoapp_tls_certificate_reloads_total",
				Help: "Total number of TLS certificate reload attempts by result.",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.RouteNotFoundTotal,
		m.RateLimitRejectionsTotal,
		m.CertificateReloadsTotal,
	)

	return m
}

// IncRateLimitRejectionsTotal increments the rate limit rejection counter.
// Its signature matches ratelimit.Options.OnReject.
func (m *Metrics) IncRateLimitRejectionsTotal(*http.Request) {
	m.RateLimitRejectionsTotal.Inc()
}

// ObserveCertificateReload counts a certificate reload attempt.
// Its signature matches tlsutil.ReloadFunc.
func (m *Metrics) ObserveCertificateReload(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.CertificateReloadsTotal.WithLabelValues(result).Inc()
}

// Middleware records request count and latency. Route labels come from
// the responder table so arbitrary paths cannot grow label cardinality.
func (m *Metrics) Middleware(r *responder.Responder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, req)

		route, method := unmatchedRoute, "OTHER"
		if _, err := r.Lookup(req.Method, req.URL.Path); err == nil {
			route, method = req.URL.Path, req.Method
		} else if sw.status == http.StatusNotFound {
			m.RouteNotFoundTotal.Inc()
		}

		m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(sw.status)).Inc()
		m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler returns an http.Handler that serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
