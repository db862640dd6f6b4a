package query

import (
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/geo"
)

// canonical is the serialized shape of the cacheable part of a query.
// Condition and sort order are kept as given, so the same conditions added
// in a different order produce a different key.
type canonical struct {
	Mode     Mode               `json:"mode"`
	Center   *geo.Point         `json:"center,omitempty"`
	RadiusKm *float64           `json:"radiusKm,omitempty"`
	Bounds   *geo.Bounds        `json:"bounds,omitempty"`
	Filters  []filter.Condition `json:"filters"`
	Sort     []SortCriterion    `json:"sort"`
	Limit    *int               `json:"limit,omitempty"`
	Offset   int                `json:"offset"`
}

func (q Query[R]) canonical() canonical {
	c := canonical{
		Mode:    q.mode,
		Filters: q.conds,
		Sort:    q.sorts,
		Offset:  q.offset,
	}
	switch q.mode {
	case ModeRadius:
		center, radius := q.center, q.radiusKm
		c.Center, c.RadiusKm = &center, &radius
	case ModeBounds:
		b := q.bounds
		c.Bounds = &b
	}
	if q.hasLimit {
		limit := q.limit
		c.Limit = &limit
	}
	return c
}

// Key returns the cache key for the query. ok is false when the query cannot
// be cached: it carries a scoring function, or a value that does not
// serialize.
func (q Query[R]) Key() (key string, ok bool) {
	if q.scorer != nil {
		return "", false
	}
	k, err := cache.BuildKey(q.canonical())
	if err != nil {
		q.logger.Debug("query not cacheable", "error", err)
		return "", false
	}
	return k, true
}

func (q Query[R]) cacheKey() (string, bool) {
	if q.cache == nil {
		return "", false
	}
	return q.Key()
}
