package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/geoquery/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/metrics"
)

type fakeStore struct {
	static  bool
	items   map[string]*model.Item
	failErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string]*model.Item)}
}

func (f *fakeStore) Static() bool { return f.static }

func (f *fakeStore) Upsert(_ context.Context, items []*model.Item) error {
	if f.failErr != nil {
		return f.failErr
	}
	for _, it := range items {
		if err := model.Validate(it); err != nil {
			return err
		}
		f.items[it.ID] = it
	}
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	if _, ok := f.items[id]; !ok {
		return apperrors.Newf(apperrors.ErrRecordNotFound, http.StatusNotFound, "record %q not found", id)
	}
	delete(f.items, id)
	return nil
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestHandlerAppliesEvents(t *testing.T) {
	store := newFakeStore()
	m := metrics.New(prometheus.NewRegistry())
	h := Handler(store, m)
	ctx := context.Background()

	require.NoError(t, h(ctx, []byte("a"), []byte(`{"op":"upsert","item":{"id":"a","lat":51.04,"lng":-114.07,"kind":"cafe"}}`)))
	require.Contains(t, store.items, "a")
	assert.Equal(t, "cafe", store.items["a"].Attrs["kind"])

	require.NoError(t, h(ctx, []byte("a"), []byte(`{"op":"DELETE","id":"a"}`)))
	assert.Empty(t, store.items)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestEventsTotal.WithLabelValues("upsert", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestEventsTotal.WithLabelValues("delete", "applied")))
}

func TestHandlerCommitsUnprocessableEvents(t *testing.T) {
	store := newFakeStore()
	m := metrics.New(prometheus.NewRegistry())
	h := Handler(store, m)
	ctx := context.Background()

	for _, value := range []string{
		`not json`,
		`{"op":"upsert"}`,
		`{"op":"delete"}`,
		`{"op":"rename","id":"a"}`,
		`{"op":"upsert","item":{"id":"x","lat":95,"lng":0}}`,
		`{"op":"delete","id":"ghost"}`,
	} {
		assert.NoError(t, h(ctx, nil, []byte(value)), value)
	}
	assert.Empty(t, store.items)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestEventsTotal.WithLabelValues("upsert", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestEventsTotal.WithLabelValues("delete", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestEventsTotal.WithLabelValues("unknown", "malformed")))
}

func TestHandlerSkipsOnStaticIndex(t *testing.T) {
	store := newFakeStore()
	store.static = true
	h := Handler(store, nil)

	require.NoError(t, h(context.Background(), nil, []byte(`{"op":"upsert","item":{"id":"a","lat":1,"lng":1}}`)))
	assert.Empty(t, store.items)
}

func TestHandlerReturnsStoreFailures(t *testing.T) {
	store := newFakeStore()
	store.failErr = errors.New("index unavailable")
	h := Handler(store, nil)

	err := h(context.Background(), nil, []byte(`{"op":"upsert","item":{"id":"a","lat":1,"lng":1}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert a")
}

type capturePublisher struct {
	events []kafka.Event
}

func (c *capturePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	c.events = append(c.events, events...)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func TestPublisherRoundTrip(t *testing.T) {
	capture := &capturePublisher{}
	p := NewPublisher(capture)
	require.NoError(t, p.Upsert(context.Background(), model.NewItem("a", 1, 2, map[string]any{"n": 1})))
	require.NoError(t, p.Delete(context.Background(), "b"))
	require.Len(t, capture.events, 2)
	assert.Equal(t, "a", capture.events[0].Key)

	store := newFakeStore()
	store.items["b"] = model.NewItem("b", 0, 0, nil)
	h := Handler(store, nil)
	for _, e := range capture.events {
		require.NoError(t, h(context.Background(), []byte(e.Key), encode(t, e.Value)))
	}
	require.Contains(t, store.items, "a")
	assert.NotContains(t, store.items, "b")
	assert.Equal(t, 2.0, store.items["a"].Lng)
}
