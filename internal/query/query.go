// Package query implements the chainable, immutable query description and the
// pipeline that executes it against a spatial index.
package query

import (
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/spatial"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/geo"
)

// Mode identifies which geographic filter a query carries.
type Mode string

const (
	ModeAll    Mode = "all"
	ModeRadius Mode = "radius"
	ModeBounds Mode = "bounds"
)

// ScoreFunc computes a ranking score for a surviving record. hasDistance is
// false unless the query has a radius filter.
type ScoreFunc[R model.Record] func(record R, distanceKm float64, hasDistance bool) float64

// Hit is one output row.
type Hit[R model.Record] struct {
	Record      R
	Distance    float64
	HasDistance bool
	Score       float64
	HasScore    bool
}

// Metadata describes a finished execution.
type Metadata struct {
	Total     int           `json:"total"`
	Returned  int           `json:"returned"`
	Elapsed   time.Duration `json:"elapsed"`
	FromCache bool          `json:"fromCache"`
}

// Result is the output of ExecuteWithMetadata.
type Result[R model.Record] struct {
	Hits     []Hit[R]
	Metadata Metadata
}

// Records strips the hits down to their records.
func (r Result[R]) Records() []R {
	return Records(r.Hits)
}

// Records strips hits down to their records.
func Records[R model.Record](hits []Hit[R]) []R {
	out := make([]R, len(hits))
	for i, h := range hits {
		out[i] = h.Record
	}
	return out
}

// Execution is reported to an Observer after every run.
type Execution struct {
	Mode       Mode
	Candidates int
	Matched    int
	Returned   int
	CacheHit   bool
	Cacheable  bool
	Elapsed    time.Duration
}

// Observer receives execution reports. Implementations must be cheap.
type Observer interface {
	ObserveQuery(e Execution)
}

// Query is an immutable query description. Every builder method returns a
// new value; the receiver is never modified and no two values share slices.
type Query[R model.Record] struct {
	index    spatial.Index[R]
	cache    *cache.ResultCache[[]Hit[R]]
	observer Observer
	logger   *slog.Logger

	mode     Mode
	center   geo.Point
	radiusKm float64
	bounds   geo.Bounds

	conds  []filter.Condition
	scorer ScoreFunc[R]
	sorts  []SortCriterion

	limit    int
	hasLimit bool
	offset   int
}

// New starts an empty query over index. c and obs may be nil.
func New[R model.Record](index spatial.Index[R], c *cache.ResultCache[[]Hit[R]], obs Observer) Query[R] {
	return Query[R]{
		index:    index,
		cache:    c,
		observer: obs,
		logger:   slog.Default().With("component", "query"),
		mode:     ModeAll,
	}
}

// Near sets a radius filter, replacing any bounds filter.
func (q Query[R]) Near(center geo.Point, radiusKm float64) Query[R] {
	q.mode = ModeRadius
	q.center = center
	q.radiusKm = radiusKm
	q.bounds = geo.Bounds{}
	return q
}

// WithinBounds sets a rectangle filter, replacing any radius filter.
func (q Query[R]) WithinBounds(b geo.Bounds) Query[R] {
	q.mode = ModeBounds
	q.bounds = b
	q.center = geo.Point{}
	q.radiusKm = 0
	return q
}

// Where appends an attribute condition. Conditions are ANDed in the order
// they were added.
func (q Query[R]) Where(field string, op filter.Operator, value any) Query[R] {
	conds := make([]filter.Condition, len(q.conds), len(q.conds)+1)
	copy(conds, q.conds)
	q.conds = append(conds, filter.Condition{Field: field, Op: op, Value: value})
	return q
}

// SortBy appends sort criteria after any already set.
func (q Query[R]) SortBy(criteria ...SortCriterion) Query[R] {
	sorts := make([]SortCriterion, len(q.sorts), len(q.sorts)+len(criteria))
	copy(sorts, q.sorts)
	q.sorts = append(sorts, criteria...)
	return q
}

// Score sets the scoring function. Scored queries bypass the result cache.
func (q Query[R]) Score(fn ScoreFunc[R]) Query[R] {
	q.scorer = fn
	return q
}

// Limit caps the number of returned hits. A negative limit returns nothing.
func (q Query[R]) Limit(n int) Query[R] {
	q.limit = n
	q.hasLimit = true
	return q
}

// Offset skips the first n hits after sorting. Negative values count as 0.
func (q Query[R]) Offset(n int) Query[R] {
	if n < 0 {
		n = 0
	}
	q.offset = n
	return q
}

func (q Query[R]) Mode() Mode { return q.mode }

// Conditions returns a copy of the attribute conditions.
func (q Query[R]) Conditions() []filter.Condition {
	out := make([]filter.Condition, len(q.conds))
	copy(out, q.conds)
	return out
}

// SortCriteria returns a copy of the sort criteria.
func (q Query[R]) SortCriteria() []SortCriterion {
	out := make([]SortCriterion, len(q.sorts))
	copy(out, q.sorts)
	return out
}
