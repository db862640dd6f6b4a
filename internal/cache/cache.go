// Package cache holds query results in a bounded least-recently-used map.
package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultSize is the entry capacity used when none is configured.
const DefaultSize = 100

const keyPrefix = "geo:"

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
}

// ResultCache maps canonical query keys to finished result slices. It has no
// time-based expiry. It is not safe for concurrent use; the engine's owner
// serializes access.
type ResultCache[V any] struct {
	lru       *simplelru.LRU[string, V]
	capacity  int
	logger    *slog.Logger
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New returns a cache holding at most size entries; size <= 0 selects
// DefaultSize.
func New[V any](size int) *ResultCache[V] {
	if size <= 0 {
		size = DefaultSize
	}
	lru, err := simplelru.NewLRU[string, V](size, nil)
	if err != nil {
		// NewLRU only fails on a non-positive size.
		panic(err)
	}
	return &ResultCache[V]{
		lru:      lru,
		capacity: size,
		logger:   slog.Default().With("component", "result-cache"),
	}
}

// Get returns the value for key and marks it most recently used.
func (c *ResultCache[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set inserts or overwrites key, evicting the least recently used entry when
// the cache is full.
func (c *ResultCache[V]) Set(key string, value V) {
	if c.lru.Add(key, value) {
		c.evictions.Add(1)
	}
}

// Clear drops every entry.
func (c *ResultCache[V]) Clear() {
	n := c.lru.Len()
	c.lru.Purge()
	if n > 0 {
		c.logger.Debug("cache cleared", "entries", n)
	}
}

func (c *ResultCache[V]) Len() int { return c.lru.Len() }

func (c *ResultCache[V]) Capacity() int { return c.capacity }

// Keys returns the cached keys from least to most recently used.
func (c *ResultCache[V]) Keys() []string { return c.lru.Keys() }

func (c *ResultCache[V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.lru.Len(),
		Capacity:  c.capacity,
	}
}

// BuildKey hashes a JSON-serializable canonical query description into a
// cache key.
func BuildKey(canonical any) (string, error) {
	raw, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("encoding cache key: %w", err)
	}
	hash := sha256.Sum256(raw)
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16]), nil
}
