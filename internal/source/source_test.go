package source

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/geoquery/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/resilience"
)

const arrayDoc = `[
  {"id": "a", "lat": 51.0447, "lng": -114.0719, "rating": 4.5, "category": "restaurant"},
  {"id": "b", "lat": 51.05, "lon": -114.08, "tags": ["wifi", "patio"]},
  {"id": "bad-lat", "lat": 95, "lng": 0},
  {"id": "no-lat", "lng": 0},
  {"id": "a", "lat": 51.1, "lng": -114.1, "rating": 3.9}
]`

const geojsonDoc = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "p1", "geometry": {"type": "Point", "coordinates": [-114.0719, 51.0447]}, "properties": {"name": "Tower"}},
    {"type": "Feature", "id": 7, "geometry": {"type": "Point", "coordinates": [2.35, 48.85]}, "properties": {}},
    {"type": "Feature", "geometry": {"type": "LineString", "coordinates": [[0, 0], [1, 1]]}, "properties": {}}
  ]
}`

func TestDecodeArray(t *testing.T) {
	items, err := Decode([]byte(arrayDoc))
	require.NoError(t, err)
	require.Len(t, items, 5)

	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, 4.5, items[0].Attrs["rating"])
	assert.Equal(t, -114.08, items[1].Lng, "lon is accepted as an alias")
	assert.Nil(t, items[3], "undecodable entries come back nil")
}

func TestDecodeFeatureCollection(t *testing.T) {
	items, err := Decode([]byte(geojsonDoc))
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "p1", items[0].ID)
	assert.Equal(t, 51.0447, items[0].Lat)
	assert.Equal(t, -114.0719, items[0].Lng)
	assert.Equal(t, "Tower", items[0].Attrs["name"])
	assert.Equal(t, "7", items[1].ID)
	assert.Nil(t, items[2], "only points are indexed")
}

func TestDecodeRejectsUnknownDocuments(t *testing.T) {
	for _, doc := range []string{`{"type": "Feature"}`, `[1, 2`, `{"type":`} {
		_, err := Decode([]byte(doc))
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput, doc)
	}
	items, err := Decode([]byte("  "))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSanitize(t *testing.T) {
	raw, err := Decode([]byte(arrayDoc))
	require.NoError(t, err)

	items, report := sanitize(raw)
	require.Len(t, items, 2)
	assert.Equal(t, 2, report.Loaded)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Duplicates)

	// The later "a" wins but keeps the first slot.
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, 3.9, items[0].Attrs["rating"])
	assert.Equal(t, "b", items[1].ID)
}

func TestFileLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "places.json")
	require.NoError(t, os.WriteFile(path, []byte(arrayDoc), 0o644))

	items, report, err := Load(context.Background(), NewFile(path), config.SourceConfig{})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, "file:"+path, report.Source)
	assert.Equal(t, 2, report.Skipped)
}

func TestFileLoadMissing(t *testing.T) {
	_, _, err := Load(context.Background(), NewFile(filepath.Join(t.TempDir(), "nope.json")),
		config.SourceConfig{Retries: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type flakyLoader struct {
	calls int
	fails int
	err   error
}

func (f *flakyLoader) Name() string { return "flaky" }

func (f *flakyLoader) Load(context.Context) ([]*model.Item, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, f.err
	}
	return []*model.Item{model.NewItem("x", 1, 1, nil)}, nil
}

func TestLoadRetriesTransientFailures(t *testing.T) {
	l := &flakyLoader{fails: 1, err: errors.New("connection reset")}
	items, _, err := Load(context.Background(), l, config.SourceConfig{Retries: 3})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 2, l.calls)
}

func TestLoadDoesNotRetryInvalidInput(t *testing.T) {
	l := &flakyLoader{fails: 5, err: apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "bad document")}
	_, _, err := Load(context.Background(), l, config.SourceConfig{Retries: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, 1, l.calls)
}

type stalledLoader struct{ calls int }

func (s *stalledLoader) Name() string { return "stalled" }

func (s *stalledLoader) Load(ctx context.Context) ([]*model.Item, error) {
	s.calls++
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestLoadTimesOutEachAttempt(t *testing.T) {
	l := &stalledLoader{}
	_, _, err := Load(context.Background(), l, config.SourceConfig{Retries: 2, Timeout: 5 * time.Millisecond})
	require.Error(t, err)

	var timeout *resilience.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "load stalled", timeout.Op)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)

	var attempts *resilience.AttemptsError
	require.ErrorAs(t, err, &attempts)
	assert.Equal(t, 2, attempts.Attempts)
	assert.Equal(t, 2, l.calls)
}

type fakeHash struct {
	fields map[string]string
}

func (f *fakeHash) HGetAll(context.Context, string) (map[string]string, error) {
	return f.fields, nil
}

func (f *fakeHash) HSet(_ context.Context, _ string, field string, value any) error {
	f.fields[field] = value.(string)
	return nil
}

func (f *fakeHash) HDel(_ context.Context, _ string, fields ...string) error {
	for _, k := range fields {
		delete(f.fields, k)
	}
	return nil
}

func TestRedisLoadAndSink(t *testing.T) {
	store := &fakeHash{fields: map[string]string{
		"b": `{"lat": 10, "lng": 20, "kind": "cafe"}`,
		"a": `{"id": "ignored", "lat": 1, "lng": 2}`,
		"c": `not json`,
	}}
	r := NewRedis(store, "geoquery:records")
	assert.Equal(t, "redis:geoquery:records", r.Name())

	items, report, err := Load(context.Background(), r, config.SourceConfig{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "b", items[1].ID)
	assert.Equal(t, "cafe", items[1].Attrs["kind"])
	assert.Equal(t, 1, report.Skipped)

	require.NoError(t, r.Put(context.Background(), model.NewItem("d", 5, 6, map[string]any{"open": true})))
	require.NoError(t, r.Delete(context.Background(), "a"))

	items, _, err = Load(context.Background(), r, config.SourceConfig{})
	require.NoError(t, err)
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"b", "d"}, ids)
	assert.Equal(t, true, items[1].Attrs["open"])
}

func TestSelectQuery(t *testing.T) {
	q, err := selectQuery("places")
	require.NoError(t, err)
	assert.Equal(t, `SELECT id, lat, lng, COALESCE(attrs, '{}'::jsonb) FROM "places"`, q)

	q, err = selectQuery("geo.places")
	require.NoError(t, err)
	assert.Contains(t, q, `FROM "geo"."places"`)

	for _, bad := range []string{"", "places; DROP TABLE x", "a.b.c", "1abc"} {
		_, err := selectQuery(bad)
		assert.Error(t, err, bad)
	}
}

func TestDecodeRow(t *testing.T) {
	it := decodeRow("r1", 51, -114, []byte(`{"rating": 4.2}`))
	require.NotNil(t, it)
	assert.Equal(t, 4.2, it.Attrs["rating"])

	it = decodeRow("r2", 51, -114, nil)
	require.NotNil(t, it)
	assert.Empty(t, it.Attrs)

	assert.Nil(t, decodeRow("r3", 0, 0, []byte(`[1,2]`)))
}

func TestFromConfig(t *testing.T) {
	l, err := FromConfig(config.SourceConfig{Kind: config.SourceNone}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, l)

	l, err = FromConfig(config.SourceConfig{Kind: config.SourceFile, Path: "x.json"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "file:x.json", l.Name())

	_, err = FromConfig(config.SourceConfig{Kind: config.SourcePostgres, Table: "places"}, nil, nil)
	assert.Error(t, err)
	_, err = FromConfig(config.SourceConfig{Kind: config.SourceRedis}, nil, nil)
	assert.Error(t, err)
	_, err = FromConfig(config.SourceConfig{Kind: "s3"}, nil, nil)
	assert.Error(t, err)
}
