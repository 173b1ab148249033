// Package metrics exposes Prometheus collectors for dispatch, catalog,
// geo lookups and the webhook HTTP surface. All methods are nil-safe so
// components can run without metrics wired.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pizzabot"

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeFail     = "fail"
	OutcomeToken    = "token_error"
	OutcomeNotFound = "not_found"
)

// Metrics bundles the collectors registered on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	transitions      *prometheus.CounterVec
	tokenRefresh     *prometheus.CounterVec
	catalogRebuild   prometheus.Histogram
	catalogProducts  prometheus.Gauge
	geoLookups       *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     prometheus.Histogram
	sendFailures     prometheus.CounterFunc
}

// New registers all collectors. sendFailures may be nil; when set it is
// exported as a counter read on scrape.
func New(sendFailures func() float64) *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_total",
		Help:      "Conversation events dispatched, by platform and outcome.",
	}, []string{"platform", "outcome"})
	m.dispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Time spent handling one conversation event.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1.0, 3.0, 5.0, 10.0},
	}, []string{"platform"})
	m.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_transitions_total",
		Help:      "Persisted state transitions.",
	}, []string{"platform", "from", "to"})
	m.tokenRefresh = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refresh_total",
		Help:      "Upstream token refreshes, including the catalog rebuild.",
	}, []string{"outcome"})
	m.catalogRebuild = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "catalog_rebuild_duration_seconds",
		Help:      "Catalog snapshot rebuild duration.",
		Buckets:   []float64{0.5, 1, 3, 5, 10, 30, 60},
	})
	m.catalogProducts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "catalog_products",
		Help:      "Products in the published catalog snapshot.",
	})
	m.geoLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "geo_lookups_total",
		Help:      "Address resolutions, by outcome.",
	}, []string{"outcome"})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Webhook HTTP requests, by method and status code.",
	}, []string{"method", "code"})
	m.httpDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Webhook HTTP request duration in seconds.",
		Buckets:   []float64{0.1, 0.3, 0.5, 0.7, 1.0, 3.0, 5.0, 7.0, 10.0},
	})

	m.reg.MustRegister(
		m.dispatchTotal, m.dispatchDuration, m.transitions,
		m.tokenRefresh, m.catalogRebuild, m.catalogProducts,
		m.geoLookups, m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if sendFailures != nil {
		m.sendFailures = prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Outbound messages that failed after retries.",
		}, sendFailures)
		m.reg.MustRegister(m.sendFailures)
	}
	return m
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveDispatch records one dispatched event.
func (m *Metrics) ObserveDispatch(platform, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(platform, outcome).Inc()
	m.dispatchDuration.WithLabelValues(platform).Observe(took.Seconds())
}

// ObserveTransition records a persisted state change.
func (m *Metrics) ObserveTransition(platform, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(platform, from, to).Inc()
}

// ObserveTokenRefresh records a token refresh attempt.
func (m *Metrics) ObserveTokenRefresh(outcome string) {
	if m == nil {
		return
	}
	m.tokenRefresh.WithLabelValues(outcome).Inc()
}

// ObserveCatalogRebuild records a successful rebuild.
func (m *Metrics) ObserveCatalogRebuild(took time.Duration, products int) {
	if m == nil {
		return
	}
	m.catalogRebuild.Observe(took.Seconds())
	m.catalogProducts.Set(float64(products))
}

// ObserveGeoLookup records an address resolution.
func (m *Metrics) ObserveGeoLookup(outcome string) {
	if m == nil {
		return
	}
	m.geoLookups.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records one webhook request.
func (m *Metrics) ObserveHTTP(method string, code int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpDuration.Observe(took.Seconds())
}
