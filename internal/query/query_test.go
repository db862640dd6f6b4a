package query

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/spatial"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/geo"
)

var center = geo.Point{Lat: 51.0447, Lng: -114.0719}

func places() []*model.Item {
	return []*model.Item{
		model.NewItem("a", 51.0447, -114.0719, map[string]any{"rating": 4.5, "kind": "cafe", "tags": []any{"wifi"}}),
		model.NewItem("b", 51.0375, -114.0820, map[string]any{"rating": 4.2, "kind": "bar"}),
		model.NewItem("c", 51.0530, -114.0880, map[string]any{"rating": 4.8, "kind": "cafe", "tags": []any{"wifi", "patio"}}),
		model.NewItem("d", 51.0370, -114.0300, map[string]any{"rating": 4.0, "kind": "bar"}),
		model.NewItem("e", 51.1200, -114.0719, map[string]any{"rating": 3.5, "kind": "cafe"}),
	}
}

func hitIDs(hits []Hit[*model.Item]) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Record.ID
	}
	return out
}

type recorder struct{ runs []Execution }

func (r *recorder) ObserveQuery(e Execution) { r.runs = append(r.runs, e) }

func newQuery(t *testing.T, static bool, c *cache.ResultCache[[]Hit[*model.Item]]) (Query[*model.Item], *recorder) {
	t.Helper()
	var idx spatial.Index[*model.Item]
	if static {
		idx = spatial.NewStatic(places())
	} else {
		m := spatial.NewMutable[*model.Item]()
		require.NoError(t, m.Load(places()))
		idx = m
	}
	rec := &recorder{}
	return New(idx, c, rec), rec
}

func TestWhereRatings(t *testing.T) {
	q, _ := newQuery(t, false, nil)
	hits := q.Where("rating", filter.GreaterThan, 4.0).SortBy(Asc("id")).Execute()
	assert.Equal(t, []string{"a", "b", "c"}, hitIDs(hits))
}

func TestNearAttachesDistance(t *testing.T) {
	for _, static := range []bool{false, true} {
		t.Run(fmt.Sprintf("static=%v", static), func(t *testing.T) {
			q, _ := newQuery(t, static, nil)
			hits := q.Near(center, 5).SortBy(Asc(KeyDistance)).Execute()
			require.Equal(t, []string{"a", "b", "c", "d"}, hitIDs(hits))
			for _, h := range hits {
				assert.True(t, h.HasDistance)
				assert.LessOrEqual(t, h.Distance, 5.0)
			}

			far := q.Near(center, 10).SortBy(Desc(KeyDistance)).Limit(1).Execute()
			require.Len(t, far, 1)
			assert.Equal(t, "e", far[0].Record.ID)
			assert.InDelta(t, 8.5, far[0].Distance, 0.5)
		})
	}
}

func TestBoundsHasNoDistance(t *testing.T) {
	q, _ := newQuery(t, false, nil)
	hits := q.WithinBounds(geo.Bounds{MinLat: 51, MinLng: -115, MaxLat: 51.05, MaxLng: -114}).Execute()
	assert.ElementsMatch(t, []string{"a", "b", "d"}, hitIDs(hits))
	for _, h := range hits {
		assert.False(t, h.HasDistance)
	}
}

func TestGeoFilterLastWriteWins(t *testing.T) {
	q, _ := newQuery(t, false, nil)
	b := geo.Bounds{MinLat: 51.1, MinLng: -115, MaxLat: 51.2, MaxLng: -114}

	hits := q.Near(center, 1).WithinBounds(b).Execute()
	assert.Equal(t, []string{"e"}, hitIDs(hits))
	assert.Equal(t, ModeBounds, q.Near(center, 1).WithinBounds(b).Mode())

	hits = q.WithinBounds(b).Near(center, 1).Execute()
	assert.Equal(t, []string{"a"}, hitIDs(hits))
}

func TestBuildersDoNotMutate(t *testing.T) {
	q, _ := newQuery(t, false, nil)
	base := q.Where("kind", filter.Equals, "cafe")
	cafesGood := base.Where("rating", filter.GreaterThan, 4.6)
	cafesBad := base.Where("rating", filter.LessThan, 4.0)

	assert.Len(t, base.Conditions(), 1)
	assert.Len(t, cafesGood.Conditions(), 2)
	assert.Equal(t, []string{"c"}, hitIDs(cafesGood.Execute()))
	assert.Equal(t, []string{"e"}, hitIDs(cafesBad.Execute()))

	sorted := base.SortBy(Desc("rating"))
	_ = sorted.SortBy(Asc("id"))
	assert.Equal(t, []SortCriterion{Desc("rating")}, sorted.SortCriteria())
	assert.Empty(t, base.SortCriteria())
}

func TestMultiKeySortIsStable(t *testing.T) {
	q, _ := newQuery(t, false, nil)
	hits := q.SortBy(Asc("kind"), Desc("rating")).Execute()
	assert.Equal(t, []string{"b", "d", "c", "a", "e"}, hitIDs(hits))

	again := make([]Hit[*model.Item], len(hits))
	copy(again, hits)
	sortHits(again, []SortCriterion{Asc("kind"), Desc("rating")})
	assert.Equal(t, hitIDs(hits), hitIDs(again))
}

func TestSortMissingValuesTrail(t *testing.T) {
	items := []*model.Item{
		model.NewItem("none", 0, 0, nil),
		model.NewItem("two", 0, 0, map[string]any{"n": 2}),
		model.NewItem("word", 0, 0, map[string]any{"n": "x"}),
		model.NewItem("one", 0, 0, map[string]any{"n": 1}),
	}
	idx := spatial.NewMutable[*model.Item]()
	require.NoError(t, idx.Load(items))
	q := New[*model.Item](idx, nil, nil)

	assert.Equal(t, []string{"one", "two", "word", "none"}, hitIDs(q.SortBy(Asc("n")).Execute()))
	assert.Equal(t, []string{"two", "one", "word", "none"}, hitIDs(q.SortBy(Desc("n")).Execute()))
}

func TestScore(t *testing.T) {
	q, _ := newQuery(t, false, nil)
	hits := q.Near(center, 10).
		Score(func(it *model.Item, d float64, hasD bool) float64 {
			r, _ := it.Field("rating")
			return r.(float64) - d/10
		}).
		SortBy(Desc(KeyScore)).
		Execute()
	require.Len(t, hits, 5)
	assert.Equal(t, "c", hits[0].Record.ID)
	for i := 1; i < len(hits); i++ {
		assert.True(t, hits[i].HasScore)
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestPaginationConsistency(t *testing.T) {
	q, _ := newQuery(t, false, nil)
	q = q.SortBy(Desc("rating"))
	all := hitIDs(q.Execute())
	require.Len(t, all, 5)

	for k := 0; k <= len(all); k++ {
		first := hitIDs(q.Offset(0).Limit(k).Execute())
		rest := hitIDs(q.Offset(k).Limit(len(all) - k).Execute())
		assert.Equal(t, all, append(first, rest...), "split at %d", k)
	}
}

func TestPaginationEdges(t *testing.T) {
	q, _ := newQuery(t, false, nil)
	q = q.SortBy(Asc("id"))
	assert.Empty(t, q.Offset(10).Execute())
	assert.Empty(t, q.Limit(-1).Execute())
	assert.Empty(t, q.Limit(0).Execute())
	assert.Equal(t, []string{"a", "b"}, hitIDs(q.Offset(-3).Limit(2).Execute()))
	assert.Equal(t, []string{"b", "c", "d", "e"}, hitIDs(q.Limit(math.MaxInt).Offset(1).Execute()))
	assert.Equal(t, []string{"e"}, hitIDs(q.Offset(4).Limit(math.MaxInt).Execute()))
}

func TestMetadata(t *testing.T) {
	q, rec := newQuery(t, false, nil)
	res := q.Where("kind", filter.Equals, "cafe").SortBy(Asc("id")).Offset(1).Limit(1).ExecuteWithMetadata()
	assert.Equal(t, 3, res.Metadata.Total)
	assert.Equal(t, 1, res.Metadata.Returned)
	assert.False(t, res.Metadata.FromCache)
	assert.Equal(t, []string{"c"}, hitIDs(res.Hits))
	assert.Equal(t, 3, q.Where("kind", filter.Equals, "cafe").Count())

	require.Len(t, rec.runs, 1)
	assert.Equal(t, 5, rec.runs[0].Candidates)
	assert.Equal(t, 3, rec.runs[0].Matched)
}

func TestEmptyResults(t *testing.T) {
	q, _ := newQuery(t, true, nil)
	assert.Empty(t, q.Near(geo.Point{Lat: -33.9, Lng: 18.4}, 50).Execute())
	assert.Empty(t, q.Where("kind", filter.Equals, "museum").Execute())

	empty := New[*model.Item](spatial.NewStatic[*model.Item](nil), nil, nil)
	res := empty.Near(center, 0).ExecuteWithMetadata()
	assert.Empty(t, res.Hits)
	assert.Equal(t, 0, res.Metadata.Total)
}

func TestCacheHitAndKey(t *testing.T) {
	c := cache.New[[]Hit[*model.Item]](10)
	q, rec := newQuery(t, false, c)

	build := func() Query[*model.Item] {
		return q.Near(center, 10).Where("kind", filter.Equals, "cafe").SortBy(Asc(KeyDistance)).Limit(2)
	}
	first := build().ExecuteWithMetadata()
	second := build().ExecuteWithMetadata()

	assert.False(t, first.Metadata.FromCache)
	assert.True(t, second.Metadata.FromCache)
	assert.Equal(t, hitIDs(first.Hits), hitIDs(second.Hits))
	assert.Equal(t, 2, second.Metadata.Total)
	assert.Equal(t, 1, c.Len())
	require.Len(t, rec.runs, 2)
	assert.True(t, rec.runs[1].CacheHit)

	second.Hits[0] = Hit[*model.Item]{}
	third := build().Execute()
	assert.Equal(t, hitIDs(first.Hits), hitIDs(third))
}

func TestCacheKeyPreservesFilterOrder(t *testing.T) {
	q, _ := newQuery(t, false, nil)
	ab := q.Where("kind", filter.Equals, "cafe").Where("rating", filter.GreaterThan, 4)
	ba := q.Where("rating", filter.GreaterThan, 4).Where("kind", filter.Equals, "cafe")

	k1, ok := ab.Key()
	require.True(t, ok)
	k2, ok := ba.Key()
	require.True(t, ok)
	k3, _ := q.Where("kind", filter.Equals, "cafe").Where("rating", filter.GreaterThan, 4).Key()

	assert.NotEqual(t, k1, k2)
	assert.Equal(t, k1, k3)
}

func TestUncacheableQueries(t *testing.T) {
	c := cache.New[[]Hit[*model.Item]](10)
	q, _ := newQuery(t, false, c)

	scored := q.Score(func(*model.Item, float64, bool) float64 { return 1 })
	_, ok := scored.Key()
	assert.False(t, ok)
	scored.Execute()
	assert.False(t, scored.ExecuteWithMetadata().Metadata.FromCache)

	nan := q.Where("rating", filter.Equals, math.NaN())
	_, ok = nan.Key()
	assert.False(t, ok)
	nan.Execute()

	assert.Equal(t, 0, c.Len())
}

func TestParseSort(t *testing.T) {
	tests := []struct {
		in      string
		want    SortCriterion
		wantErr bool
	}{
		{"rating", Asc("rating"), false},
		{"rating:asc", Asc("rating"), false},
		{"distance:DESC", Desc("distance"), false},
		{"rating:up", SortCriterion{}, true},
		{":desc", SortCriterion{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSort(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
