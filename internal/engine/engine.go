// Package engine is the facade that owns a spatial index and an optional
// result cache, applies mutations, and hands out query chains.
//
// An Engine is not safe for concurrent use. Callers sharing one across
// goroutines must serialize access; concurrent queries without mutation are
// safe only on a static engine without a cache.
package engine

import (
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/query"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/spatial"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/geo"
)

// Options selects the index backing and caching behaviour.
type Options struct {
	// Static selects the bulk-built read-only index.
	Static bool `yaml:"static"`
	// Cache enables the result cache.
	Cache bool `yaml:"cache"`
	// CacheSize is the maximum number of cached queries.
	CacheSize int `yaml:"cacheSize"`
}

// DefaultOptions returns a mutable, uncached configuration.
func DefaultOptions() Options {
	return Options{CacheSize: cache.DefaultSize}
}

// Observer receives query and mutation events.
type Observer interface {
	query.Observer
	ObserveMutation(op string, size int)
}

// Option customizes an Engine.
type Option func(*config)

type config struct {
	observer Observer
	logger   *slog.Logger
}

// WithObserver reports queries and mutations to o.
func WithObserver(o Observer) Option {
	return func(c *config) { c.observer = o }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Engine owns one index and, when enabled, one result cache.
type Engine[R model.Record] struct {
	index    spatial.Index[R]
	cache    *cache.ResultCache[[]query.Hit[R]]
	opts     Options
	observer Observer
	logger   *slog.Logger
}

// New builds an engine over records.
func New[R model.Record](records []R, opts Options, options ...Option) *Engine[R] {
	cfg := config{logger: slog.Default().With("component", "engine")}
	for _, o := range options {
		o(&cfg)
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = cache.DefaultSize
	}

	e := &Engine[R]{
		opts:     opts,
		observer: cfg.observer,
		logger:   cfg.logger,
	}
	start := time.Now()
	if opts.Static {
		e.index = spatial.NewStatic(records)
	} else {
		m := spatial.NewMutable[R]()
		_ = m.Load(records)
		e.index = m
	}
	if opts.Cache {
		e.cache = cache.New[[]query.Hit[R]](opts.CacheSize)
	}
	e.logger.Info("engine ready",
		"backing", e.index.Kind().String(),
		"records", e.index.Size(),
		"cache", opts.Cache,
		"cache_size", opts.CacheSize,
		"build_ms", time.Since(start).Milliseconds(),
	)
	return e
}

func (e *Engine[R]) Options() Options { return e.opts }

func (e *Engine[R]) Kind() spatial.Kind { return e.index.Kind() }

// Static reports whether mutations other than Load are rejected.
func (e *Engine[R]) Static() bool { return e.index.Kind() == spatial.KindStatic }

func (e *Engine[R]) Size() int { return e.index.Size() }

func (e *Engine[R]) All() []R { return e.index.All() }

// Add inserts one record. It fails with errors.ErrUnsupportedOperation on a
// static engine.
func (e *Engine[R]) Add(record R) error {
	if err := e.index.Add(record); err != nil {
		return err
	}
	e.mutated("add")
	return nil
}

func (e *Engine[R]) AddMany(records []R) error {
	if err := e.index.AddMany(records); err != nil {
		return err
	}
	e.mutated("addMany")
	return nil
}

// Remove deletes record and reports whether it was indexed.
func (e *Engine[R]) Remove(record R) (bool, error) {
	removed, err := e.index.Remove(record)
	if err != nil {
		return false, err
	}
	if removed {
		e.mutated("remove")
	}
	return removed, nil
}

func (e *Engine[R]) Clear() error {
	if err := e.index.Clear(); err != nil {
		return err
	}
	e.mutated("clear")
	return nil
}

// Load replaces the whole record set. It is the only mutation a static
// engine accepts.
func (e *Engine[R]) Load(records []R) error {
	start := time.Now()
	if err := e.index.Load(records); err != nil {
		return err
	}
	e.logger.Info("index rebuilt",
		"backing", e.index.Kind().String(),
		"records", e.index.Size(),
		"build_ms", time.Since(start).Milliseconds(),
	)
	e.mutated("load")
	return nil
}

func (e *Engine[R]) mutated(op string) {
	e.InvalidateCache()
	if e.observer != nil {
		e.observer.ObserveMutation(op, e.index.Size())
	}
}

// InvalidateCache drops every cached result.
func (e *Engine[R]) InvalidateCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

// CacheStats reports cache counters; ok is false when caching is disabled.
func (e *Engine[R]) CacheStats() (stats cache.Stats, ok bool) {
	if e.cache == nil {
		return cache.Stats{}, false
	}
	return e.cache.Stats(), true
}

// Query starts an empty query chain bound to this engine's index and cache.
func (e *Engine[R]) Query() query.Query[R] {
	var obs query.Observer
	if e.observer != nil {
		obs = e.observer
	}
	return query.New(e.index, e.cache, obs)
}

func (e *Engine[R]) Near(center geo.Point, radiusKm float64) query.Query[R] {
	return e.Query().Near(center, radiusKm)
}

func (e *Engine[R]) WithinBounds(b geo.Bounds) query.Query[R] {
	return e.Query().WithinBounds(b)
}

func (e *Engine[R]) Where(field string, op filter.Operator, value any) query.Query[R] {
	return e.Query().Where(field, op, value)
}

func (e *Engine[R]) SortBy(criteria ...query.SortCriterion) query.Query[R] {
	return e.Query().SortBy(criteria...)
}
