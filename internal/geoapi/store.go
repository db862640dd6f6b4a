// Package geoapi exposes the engine over HTTP and RPC. Store serializes all
// engine access; Handler and the RPC methods translate requests into queries.
package geoapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/query"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/source"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/geoquery/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/proto"
)

// Engine is the item engine the service runs.
type Engine = engine.Engine[*model.Item]

// Store guards one Engine with a RWMutex and keeps an id index so records
// can be replaced or removed by ID.
//
// Queries take the read lock only when the engine is static and uncached;
// a cached query writes to the LRU and must be exclusive.
type Store struct {
	mu     sync.RWMutex
	engine *Engine
	byID   map[string]*model.Item

	loader    source.Loader
	sourceCfg config.SourceConfig
	sink      source.Sink
	tracker   analytics.Tracker
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithLoader enables Reload.
func WithLoader(l source.Loader, cfg config.SourceConfig) StoreOption {
	return func(s *Store) {
		s.loader = l
		s.sourceCfg = cfg
	}
}

// WithSink mirrors upserts and deletes into sink after they are applied.
func WithSink(sink source.Sink) StoreOption {
	return func(s *Store) { s.sink = sink }
}

// WithTracker reports mutations to t.
func WithTracker(t analytics.Tracker) StoreOption {
	return func(s *Store) { s.tracker = t }
}

// WithMetrics keeps the cache gauges current.
func WithMetrics(m *metrics.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

func NewStore(e *Engine, opts ...StoreOption) *Store {
	s := &Store{
		engine: e,
		byID:   make(map[string]*model.Item, e.Size()),
		logger: slog.Default().With("component", "store"),
	}
	for _, o := range opts {
		o(s)
	}
	for _, it := range e.All() {
		s.byID[it.ID] = it
	}
	s.refreshGauges()
	return s
}

// Static reports whether the engine rejects incremental mutations.
func (s *Store) Static() bool { return s.engine.Static() }

func (s *Store) lockForQuery() func() {
	if s.engine.Static() && !s.engine.Options().Cache {
		s.mu.RLock()
		return s.mu.RUnlock
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Query runs req and returns the page with its metadata.
func (s *Store) Query(ctx context.Context, req Request) (query.Result[*model.Item], error) {
	if err := ctx.Err(); err != nil {
		return query.Result[*model.Item]{}, err
	}
	unlock := s.lockForQuery()
	defer unlock()
	result := req.Build(s.engine.Query()).ExecuteWithMetadata()
	s.refreshGauges()
	return result, nil
}

// Get returns the item stored under id.
func (s *Store) Get(id string) (*model.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.byID[id]
	return it, ok
}

func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.Size()
}

// Upsert validates items and inserts them, replacing any stored item with
// the same ID. Within one call the last item for an ID wins.
func (s *Store) Upsert(ctx context.Context, items []*model.Item) error {
	if s.engine.Static() {
		return apperrors.Unsupported("upsert")
	}
	batch := make([]*model.Item, 0, len(items))
	pos := make(map[string]int, len(items))
	for _, it := range items {
		if err := model.Validate(it); err != nil {
			return err
		}
		if i, ok := pos[it.ID]; ok {
			batch[i] = it
			continue
		}
		pos[it.ID] = len(batch)
		batch = append(batch, it)
	}
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	replaced := 0
	for _, it := range batch {
		if old, ok := s.byID[it.ID]; ok {
			if _, err := s.engine.Remove(old); err != nil {
				s.mu.Unlock()
				return fmt.Errorf("replacing %s: %w", it.ID, err)
			}
			replaced++
		}
	}
	if err := s.engine.AddMany(batch); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("adding records: %w", err)
	}
	for _, it := range batch {
		s.byID[it.ID] = it
	}
	size := s.engine.Size()
	s.refreshGauges()
	s.mu.Unlock()

	s.logger.Debug("records upserted", "count", len(batch), "replaced", replaced, "size", size)
	s.trackMutation("upsert", len(batch), size)
	if s.sink != nil {
		for _, it := range batch {
			if err := s.sink.Put(ctx, it); err != nil {
				s.logger.Warn("failed to persist record", "id", it.ID, "error", err)
			}
		}
	}
	return nil
}

// Delete removes the item stored under id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s.engine.Static() {
		return apperrors.Unsupported("remove")
	}
	s.mu.Lock()
	it, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return apperrors.Newf(apperrors.ErrRecordNotFound, http.StatusNotFound, "record %q not found", id)
	}
	if _, err := s.engine.Remove(it); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("removing %s: %w", id, err)
	}
	delete(s.byID, id)
	size := s.engine.Size()
	s.refreshGauges()
	s.mu.Unlock()

	s.trackMutation("delete", 1, size)
	if s.sink != nil {
		if err := s.sink.Delete(ctx, id); err != nil {
			s.logger.Warn("failed to delete persisted record", "id", id, "error", err)
		}
	}
	return nil
}

// Reload replaces the whole record set from the configured source. It is
// the only mutation a static engine accepts.
func (s *Store) Reload(ctx context.Context) (source.Report, error) {
	if s.loader == nil {
		return source.Report{}, apperrors.New(apperrors.ErrInvalidInput, http.StatusConflict, "no record source is configured")
	}
	items, report, err := source.Load(ctx, s.loader, s.sourceCfg)
	if err != nil {
		return report, apperrors.Newf(apperrors.ErrSourceUnavailable, http.StatusServiceUnavailable, "%v", err)
	}
	s.Replace(items)
	return report, nil
}

// Replace swaps in a new record set.
func (s *Store) Replace(items []*model.Item) {
	s.mu.Lock()
	_ = s.engine.Load(items)
	s.byID = make(map[string]*model.Item, len(items))
	for _, it := range items {
		s.byID[it.ID] = it
	}
	size := s.engine.Size()
	s.refreshGauges()
	s.mu.Unlock()
	s.trackMutation("reload", len(items), size)
}

// InvalidateCache empties the result cache and reports whether one exists.
func (s *Store) InvalidateCache() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.engine.CacheStats(); !ok {
		return false
	}
	s.engine.InvalidateCache()
	s.refreshGauges()
	return true
}

func (s *Store) CacheStats() (cache.Stats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.CacheStats()
}

// Stats reports index and cache state.
func (s *Store) Stats() proto.StatsResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp := proto.StatsResponse{
		Records: s.engine.Size(),
		Index:   s.engine.Kind().String(),
	}
	if cs, ok := s.engine.CacheStats(); ok {
		resp.CacheEnabled = true
		resp.CacheEntries = cs.Size
		resp.CacheHits = cs.Hits
		resp.CacheMisses = cs.Misses
	}
	return resp
}

// refreshGauges must run with s.mu held.
func (s *Store) refreshGauges() {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordsIndexed.Set(float64(s.engine.Size()))
	if cs, ok := s.engine.CacheStats(); ok {
		s.metrics.SetCacheStats(cs.Size, cs.Evictions)
	}
}

func (s *Store) trackMutation(op string, count, size int) {
	if s.tracker == nil {
		return
	}
	s.tracker.TrackMutation(analytics.MutationEvent{
		Op:        op,
		Count:     count,
		Size:      size,
		Timestamp: time.Now().UTC(),
	})
}
