package geoapi

import (
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/query"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/metrics"
)

// MetricsObserver forwards engine events to Prometheus collectors.
type MetricsObserver struct {
	m *metrics.Metrics
}

var _ engine.Observer = MetricsObserver{}

func NewMetricsObserver(m *metrics.Metrics) MetricsObserver {
	return MetricsObserver{m: m}
}

func (o MetricsObserver) ObserveQuery(e query.Execution) {
	o.m.ObserveQuery(string(e.Mode), e.Cacheable, e.CacheHit, e.Candidates, e.Returned, e.Elapsed)
}

func (o MetricsObserver) ObserveMutation(op string, size int) {
	o.m.ObserveMutation(op, size)
}
