package query

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
)

// Execute runs the query and returns the paginated hits.
func (q Query[R]) Execute() []Hit[R] {
	return q.ExecuteWithMetadata().Hits
}

// ExecuteWithMetadata runs the query and reports the pre-pagination match
// count alongside the hits. A cache hit reports the cached page length as the
// total, since the cache stores only the final page.
func (q Query[R]) ExecuteWithMetadata() Result[R] {
	start := time.Now()

	key, cacheable := q.cacheKey()
	if cacheable {
		if hits, ok := q.cache.Get(key); ok {
			out := make([]Hit[R], len(hits))
			copy(out, hits)
			res := Result[R]{
				Hits: out,
				Metadata: Metadata{
					Total:     len(out),
					Returned:  len(out),
					Elapsed:   time.Since(start),
					FromCache: true,
				},
			}
			q.report(Execution{
				Mode: q.mode, Matched: len(out), Returned: len(out),
				CacheHit: true, Cacheable: true, Elapsed: res.Metadata.Elapsed,
			})
			return res
		}
	}

	candidates := q.candidates()
	matched := candidates[:0]
	for _, h := range candidates {
		if filter.All(h.Record, q.conds) {
			matched = append(matched, h)
		}
	}
	nCandidates := len(candidates)
	total := len(matched)

	if q.scorer != nil {
		for i := range matched {
			h := &matched[i]
			h.Score = q.scorer(h.Record, h.Distance, h.HasDistance)
			h.HasScore = true
		}
	}

	if !(q.mode == ModeRadius && q.index.RadiusSorted() && sortedByDistance(q.sorts)) {
		sortHits(matched, q.sorts)
	}

	page := q.paginate(matched)
	if cacheable {
		stored := make([]Hit[R], len(page))
		copy(stored, page)
		q.cache.Set(key, stored)
	}

	elapsed := time.Since(start)
	q.report(Execution{
		Mode: q.mode, Candidates: nCandidates, Matched: total, Returned: len(page),
		Cacheable: cacheable, Elapsed: elapsed,
	})
	return Result[R]{
		Hits: page,
		Metadata: Metadata{
			Total:    total,
			Returned: len(page),
			Elapsed:  elapsed,
		},
	}
}

// Count returns the number of records matching the geographic and attribute
// filters, ignoring scoring, sorting and pagination.
func (q Query[R]) Count() int {
	n := 0
	for _, h := range q.candidates() {
		if filter.All(h.Record, q.conds) {
			n++
		}
	}
	return n
}

func (q Query[R]) candidates() []Hit[R] {
	switch q.mode {
	case ModeRadius:
		ns := q.index.SearchRadius(q.center, q.radiusKm)
		out := make([]Hit[R], len(ns))
		for i, n := range ns {
			out[i] = Hit[R]{Record: n.Record, Distance: n.DistanceKm, HasDistance: true}
		}
		return out
	case ModeBounds:
		return wrap(q.index.SearchBounds(q.bounds))
	default:
		return wrap(q.index.All())
	}
}

func wrap[R model.Record](records []R) []Hit[R] {
	out := make([]Hit[R], len(records))
	for i, r := range records {
		out[i].Record = r
	}
	return out
}

func (q Query[R]) paginate(hits []Hit[R]) []Hit[R] {
	start := q.offset
	if start > len(hits) {
		start = len(hits)
	}
	end := len(hits)
	if q.hasLimit {
		if q.limit <= 0 {
			end = start
		} else if rem := end - start; q.limit < rem {
			end = start + q.limit
		}
	}
	return hits[start:end]
}

func (q Query[R]) report(e Execution) {
	if q.observer != nil {
		q.observer.ObserveQuery(e)
	}
	q.logger.Debug("query executed",
		"mode", e.Mode,
		"candidates", e.Candidates,
		"matched", e.Matched,
		"returned", e.Returned,
		"cache_hit", e.CacheHit,
		"elapsed", e.Elapsed,
	)
}
