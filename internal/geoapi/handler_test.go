package geoapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/source"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/proto"
)

func places() []*model.Item {
	return []*model.Item{
		model.NewItem("a", 51.0447, -114.0719, map[string]any{"rating": 4.5, "kind": "cafe"}),
		model.NewItem("b", 51.0375, -114.0820, map[string]any{"rating": 4.2, "kind": "bar"}),
		model.NewItem("c", 51.0530, -114.0880, map[string]any{"rating": 4.8, "kind": "cafe"}),
		model.NewItem("d", 51.0370, -114.0300, map[string]any{"rating": 4.0, "kind": "bar"}),
		model.NewItem("e", 51.1200, -114.0719, map[string]any{"rating": 3.5, "kind": "cafe"}),
	}
}

type fakeTracker struct {
	mu        sync.Mutex
	queries   []analytics.QueryEvent
	mutations []analytics.MutationEvent
}

func (f *fakeTracker) TrackQuery(e analytics.QueryEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, e)
}

func (f *fakeTracker) TrackMutation(e analytics.MutationEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations = append(f.mutations, e)
}

func (f *fakeTracker) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fixture struct {
	store   *Store
	tracker *fakeTracker
	metrics *metrics.Metrics
	server  http.Handler
}

func newFixture(t *testing.T, opts engine.Options, storeOpts ...StoreOption) *fixture {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	tracker := &fakeTracker{}
	e := engine.New(places(), opts, engine.WithObserver(NewMetricsObserver(m)))
	store := NewStore(e, append([]StoreOption{WithTracker(tracker), WithMetrics(m)}, storeOpts...)...)

	mux := http.NewServeMux()
	NewHandler(store, testLimits, tracker).Register(mux)
	return &fixture{
		store:   store,
		tracker: tracker,
		metrics: m,
		server:  middleware.Chain(mux, middleware.RequestID),
	}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func ids(resp proto.QueryResponse) []string {
	out := make([]string, len(resp.Hits))
	for i, h := range resp.Hits {
		out[i] = h.Item["id"].(string)
	}
	return out
}

func TestNearbyEndpoint(t *testing.T) {
	for _, static := range []bool{false, true} {
		f := newFixture(t, engine.Options{Static: static})
		rec := f.do(t, http.MethodGet, "/api/v1/nearby?lat=51.0447&lng=-114.0719&radius=5&sort=distance", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))

		resp := decode[proto.QueryResponse](t, rec)
		assert.Equal(t, []string{"a", "b", "c", "d"}, ids(resp))
		require.NotNil(t, resp.Hits[0].DistanceKm)
		assert.InDelta(t, 0, *resp.Hits[0].DistanceKm, 1e-9)
		assert.InDelta(t, 3.05, *resp.Hits[3].DistanceKm, 0.05)
		assert.Equal(t, 4, resp.Metadata.Total)
		assert.Equal(t, 4, resp.Metadata.Returned)
		assert.Equal(t, 4.5, resp.Hits[0].Item["rating"])
	}
}

func TestNearbyWithFilterSortAndPage(t *testing.T) {
	f := newFixture(t, engine.DefaultOptions())
	rec := f.do(t, http.MethodGet,
		"/api/v1/nearby?lat=51.0447&lng=-114.0719&radius=10&where=kind:equals:cafe&sort=rating:desc&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[proto.QueryResponse](t, rec)
	assert.Equal(t, []string{"c", "a"}, ids(resp))
	assert.Equal(t, 3, resp.Metadata.Total)
	assert.Equal(t, 2, resp.Metadata.Returned)

	require.Len(t, f.tracker.queries, 1)
	ev := f.tracker.queries[0]
	assert.Equal(t, "radius", ev.Mode)
	assert.Equal(t, "radius|kind:equals|sort=rating:desc", ev.Shape)
	assert.Equal(t, 3, ev.Total)
	assert.NotEmpty(t, ev.RequestID)
}

func TestWithinEndpoint(t *testing.T) {
	f := newFixture(t, engine.DefaultOptions())
	rec := f.do(t, http.MethodGet, "/api/v1/within?minLat=51.03&minLng=-114.09&maxLat=51.05&maxLng=-114.03&sort=id", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[proto.QueryResponse](t, rec)
	assert.Equal(t, []string{"a", "b", "d"}, ids(resp))
	assert.Nil(t, resp.Hits[0].DistanceKm, "bounds queries carry no distance")
}

func TestListEndpointZeroLimitCounts(t *testing.T) {
	f := newFixture(t, engine.DefaultOptions())
	rec := f.do(t, http.MethodGet, "/api/v1/records?where=rating:greaterThanOrEqual:4.2&limit=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[proto.QueryResponse](t, rec)
	assert.Empty(t, resp.Hits)
	assert.Equal(t, 3, resp.Metadata.Total)
}

func TestQueryValidationError(t *testing.T) {
	f := newFixture(t, engine.DefaultOptions())
	rec := f.do(t, http.MethodGet, "/api/v1/nearby?lat=95&lng=0", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "validation failed", body["error"])
	fields := body["fields"].(map[string]any)
	assert.Contains(t, fields, "lat")
	assert.Contains(t, fields, "radius")
}

func TestRecordLifecycle(t *testing.T) {
	f := newFixture(t, engine.DefaultOptions())

	rec := f.do(t, http.MethodPost, "/api/v1/records", `{"id": "f", "lat": 51.045, "lng": -114.07, "kind": "cafe"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	up := decode[upsertResponse](t, rec)
	assert.Equal(t, []string{"f"}, up.IDs)
	assert.Equal(t, 6, up.Size)

	// Replacing "a" moves it far away.
	rec = f.do(t, http.MethodPost, "/api/v1/records", `[{"id": "a", "lat": 0, "lng": 0}, {"lat": 1, "lng": 1}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	up = decode[upsertResponse](t, rec)
	assert.Equal(t, 7, up.Size)
	assert.NotEmpty(t, up.IDs[1], "missing ids are generated")

	rec = f.do(t, http.MethodGet, "/api/v1/nearby?lat=51.0447&lng=-114.0719&radius=2&sort=distance", "")
	assert.Equal(t, []string{"f", "b", "c"}, ids(decode[proto.QueryResponse](t, rec)))

	rec = f.do(t, http.MethodGet, "/api/v1/records/a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, decode[map[string]any](t, rec)["lat"])

	rec = f.do(t, http.MethodDelete, "/api/v1/records/f", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/v1/records/f", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/records/f", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 6, f.store.Size())
	ops := make([]string, len(f.tracker.mutations))
	for i, m := range f.tracker.mutations {
		ops[i] = m.Op
	}
	assert.Equal(t, []string{"upsert", "upsert", "delete"}, ops)
	assert.Equal(t, 6.0, testutil.ToFloat64(f.metrics.RecordsIndexed))
	// Replacing "a" and deleting "f" both remove from the index.
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.MutationsTotal.WithLabelValues("remove")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.MutationsTotal.WithLabelValues("addMany")))
}

func TestUpsertRejectsInvalidItems(t *testing.T) {
	f := newFixture(t, engine.DefaultOptions())
	for _, body := range []string{``, `{"lat": "north", "lng": 0}`, `[{"id": "x", "lat": 91, "lng": 0}]`, `{`} {
		rec := f.do(t, http.MethodPost, "/api/v1/records", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Equal(t, 5, f.store.Size())
}

func TestUpsertBodyReadErrors(t *testing.T) {
	f := newFixture(t, engine.DefaultOptions())

	rec := f.do(t, http.MethodPost, "/api/v1/records", strings.Repeat(" ", maxBodyBytes+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/records", iotest.ErrReader(errors.New("connection reset")))
	rec = httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "could not read request body", decode[map[string]string](t, rec)["error"])
	assert.Equal(t, 5, f.store.Size())
}

func TestStaticEngineRejectsMutations(t *testing.T) {
	f := newFixture(t, engine.Options{Static: true})

	rec := f.do(t, http.MethodPost, "/api/v1/records", `{"id": "z", "lat": 0, "lng": 0}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "not supported on a static index")

	rec = f.do(t, http.MethodDelete, "/api/v1/records/a", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, 5, f.store.Size())
}

func TestReload(t *testing.T) {
	f := newFixture(t, engine.Options{Static: true})
	rec := f.do(t, http.MethodPost, "/api/v1/reload", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "no source configured")

	path := filepath.Join(t.TempDir(), "places.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "only", "lat": 1, "lng": 2}, {"id": "bad", "lat": 99, "lng": 0}]`), 0o644))
	f = newFixture(t, engine.Options{Static: true}, WithLoader(source.NewFile(path), config.SourceConfig{}))

	rec = f.do(t, http.MethodPost, "/api/v1/reload", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[source.Report](t, rec)
	assert.Equal(t, 1, report.Loaded)
	assert.Equal(t, 1, report.Skipped)

	assert.Equal(t, 1, f.store.Size())
	_, ok := f.store.Get("only")
	assert.True(t, ok)
	_, ok = f.store.Get("a")
	assert.False(t, ok)
}

func TestReloadSourceFailure(t *testing.T) {
	f := newFixture(t, engine.DefaultOptions(),
		WithLoader(source.NewFile(filepath.Join(t.TempDir(), "missing.json")), config.SourceConfig{Retries: 1}))
	rec := f.do(t, http.MethodPost, "/api/v1/reload", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 5, f.store.Size())
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t, engine.DefaultOptions())
	rec := f.do(t, http.MethodGet, "/api/v1/cache/stats", "")
	assert.Equal(t, "disabled", decode[map[string]string](t, rec)["status"])
	rec = f.do(t, http.MethodPost, "/api/v1/cache/invalidate", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f = newFixture(t, engine.Options{Cache: true, CacheSize: 10})
	target := "/api/v1/nearby?lat=51.0447&lng=-114.0719&radius=5"
	first := decode[proto.QueryResponse](t, f.do(t, http.MethodGet, target, ""))
	second := decode[proto.QueryResponse](t, f.do(t, http.MethodGet, target, ""))
	assert.False(t, first.Metadata.FromCache)
	assert.True(t, second.Metadata.FromCache)
	assert.ElementsMatch(t, ids(first), ids(second))

	stats := decode[map[string]any](t, f.do(t, http.MethodGet, "/api/v1/cache/stats", ""))
	assert.Equal(t, 1.0, stats["hits"])
	assert.Equal(t, 1.0, stats["misses"])
	assert.Equal(t, 1.0, stats["size"])
	assert.Equal(t, 0.5, stats["hit_rate"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.QueriesTotal.WithLabelValues("radius", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.QueriesTotal.WithLabelValues("radius", "miss")))

	rec = f.do(t, http.MethodPost, "/api/v1/cache/invalidate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	third := decode[proto.QueryResponse](t, f.do(t, http.MethodGet, target, ""))
	assert.False(t, third.Metadata.FromCache)
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t, engine.Options{Static: true, Cache: true, CacheSize: 4})
	stats := decode[proto.StatsResponse](t, f.do(t, http.MethodGet, "/api/v1/stats", ""))
	assert.Equal(t, proto.StatsResponse{Records: 5, Index: "static", CacheEnabled: true}, stats)
}

func TestStoreConcurrentAccess(t *testing.T) {
	f := newFixture(t, engine.Options{Cache: true})
	req := Request{Mode: "radius", RadiusKm: 50, Limit: 10}
	req.Center.Lat, req.Center.Lng = 51.0447, -114.0719

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.store.Query(context.Background(), req)
			assert.NoError(t, err)
		}()
		go func(i int) {
			defer wg.Done()
			it := model.NewItem("", 51+float64(i)/100, -114, nil)
			assert.NoError(t, f.store.Upsert(context.Background(), []*model.Item{it}))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 13, f.store.Size())
}
