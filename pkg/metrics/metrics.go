// Package metrics defines the Prometheus collectors used by the service and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	QueriesTotal         *prometheus.CounterVec
	QueryLatency         *prometheus.HistogramVec
	QueryResultsCount    prometheus.Histogram
	QueryCandidates      prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CacheEntries         prometheus.Gauge
	CacheEvictions       prometheus.Gauge
	RecordsIndexed       prometheus.Gauge
	MutationsTotal       *prometheus.CounterVec
	IngestEventsTotal    *prometheus.CounterVec
	RateLimitedTotal     prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geo_queries_total",
				Help: "Total queries by geographic mode and cache status (hit, miss, bypass).",
			},
			[]string{"mode", "cache_status"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "geo_query_latency_seconds",
				Help:    "Engine query latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"mode"},
		),
		QueryResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "geo_query_results_count",
				Help:    "Number of hits returned per query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500, 1000},
			},
		),
		QueryCandidates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "geo_query_candidates_count",
				Help:    "Number of index candidates examined per uncached query.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "geo_cache_hits_total",
				Help: "Total number of result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "geo_cache_misses_total",
				Help: "Total number of result cache misses.",
			},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "geo_cache_entries",
				Help: "Number of entries currently held by the result cache.",
			},
		),
		CacheEvictions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "geo_cache_evictions",
				Help: "Capacity evictions performed by the result cache since start.",
			},
		),
		RecordsIndexed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "geo_records_indexed",
				Help: "Number of records currently in the spatial index.",
			},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geo_mutations_total",
				Help: "Index mutations by operation.",
			},
			[]string{"op"},
		),
		IngestEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geo_ingest_events_total",
				Help: "Change-feed events by operation and outcome.",
			},
			[]string{"op", "status"},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Requests rejected by the rate limiter.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.QueriesTotal,
		m.QueryLatency,
		m.QueryResultsCount,
		m.QueryCandidates,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEntries,
		m.CacheEvictions,
		m.RecordsIndexed,
		m.MutationsTotal,
		m.IngestEventsTotal,
		m.RateLimitedTotal,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveQuery records one engine execution.
func (m *Metrics) ObserveQuery(mode string, cacheable, cacheHit bool, candidates, returned int, elapsed time.Duration) {
	status := "bypass"
	switch {
	case cacheHit:
		status = "hit"
		m.CacheHitsTotal.Inc()
	case cacheable:
		status = "miss"
		m.CacheMissesTotal.Inc()
	}
	m.QueriesTotal.WithLabelValues(mode, status).Inc()
	m.QueryLatency.WithLabelValues(mode).Observe(elapsed.Seconds())
	m.QueryResultsCount.Observe(float64(returned))
	if !cacheHit {
		m.QueryCandidates.Observe(float64(candidates))
	}
}

// ObserveMutation records an index mutation and the resulting size.
func (m *Metrics) ObserveMutation(op string, size int) {
	m.MutationsTotal.WithLabelValues(op).Inc()
	m.RecordsIndexed.Set(float64(size))
}

// SetCacheStats mirrors the result cache's own counters.
func (m *Metrics) SetCacheStats(entries int, evictions int64) {
	m.CacheEntries.Set(float64(entries))
	m.CacheEvictions.Set(float64(evictions))
}

// Handler returns the scrape handler for gatherer; nil uses the default
// gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
