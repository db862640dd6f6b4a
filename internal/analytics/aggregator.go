package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/kafka"
)

// maxLatencySamples bounds the latency window used for percentiles.
const maxLatencySamples = 10000

// Tracker accepts analytics events. Collector publishes them; Aggregator
// folds them in process.
type Tracker interface {
	TrackQuery(e QueryEvent)
	TrackMutation(e MutationEvent)
}

type AggregatedStats struct {
	TotalQueries     int64            `json:"total_queries"`
	QueriesByMode    map[string]int64 `json:"queries_by_mode"`
	CacheHits        int64            `json:"cache_hits"`
	CacheMisses      int64            `json:"cache_misses"`
	CacheHitRatio    float64          `json:"cache_hit_ratio"`
	ZeroResultCount  int64            `json:"zero_result_count"`
	Mutations        map[string]int64 `json:"mutations"`
	AvgLatencyMs     float64          `json:"avg_latency_ms"`
	P50LatencyMs     float64          `json:"p50_latency_ms"`
	P95LatencyMs     float64          `json:"p95_latency_ms"`
	P99LatencyMs     float64          `json:"p99_latency_ms"`
	TopShapes        []ShapeCount     `json:"top_shapes"`
	ZeroResultShapes []ShapeCount     `json:"zero_result_shapes"`
	QueriesPerMinute float64          `json:"queries_per_minute"`
}

type ShapeCount struct {
	Shape string `json:"shape"`
	Count int64  `json:"count"`
}

// Aggregator folds query and mutation events into running statistics.
type Aggregator struct {
	mu          sync.RWMutex
	total       int64
	byMode      map[string]int64
	cacheHits   int64
	cacheMisses int64
	zeroResults int64
	mutations   map[string]int64
	latencies   []int64
	next        int
	shapes      map[string]int64
	zeroShapes  map[string]int64
	startTime   time.Time

	consumer *kafka.Consumer
	logger   *slog.Logger
}

var _ Tracker = (*Aggregator)(nil)

// NewAggregator creates an Aggregator. consumer may be nil when events are
// fed in process.
func NewAggregator(consumer *kafka.Consumer) *Aggregator {
	return &Aggregator{
		byMode:     make(map[string]int64),
		mutations:  make(map[string]int64),
		latencies:  make([]int64, 0, 1024),
		shapes:     make(map[string]int64),
		zeroShapes: make(map[string]int64),
		startTime:  time.Now(),
		consumer:   consumer,
		logger:     slog.Default().With("component", "analytics-aggregator"),
	}
}

// SetConsumer attaches the Kafka consumer Start will run.
func (a *Aggregator) SetConsumer(c *kafka.Consumer) { a.consumer = c }

// Start runs the Kafka consumer, if any, until ctx is cancelled.
func (a *Aggregator) Start(ctx context.Context) error {
	if a.consumer == nil {
		return nil
	}
	a.logger.Info("analytics aggregator starting")
	return a.consumer.Start(ctx)
}

// HandleEvent decodes published events into agg. Undecodable messages are
// logged and committed.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[Event](value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		switch {
		case event.Type == EventQuery && event.Query != nil:
			agg.TrackQuery(*event.Query)
		case event.Type == EventMutation && event.Mutation != nil:
			agg.TrackMutation(*event.Mutation)
		default:
			agg.logger.Warn("ignoring analytics event", "type", event.Type)
		}
		return nil
	}
}

func (a *Aggregator) TrackQuery(e QueryEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.byMode[e.Mode]++
	if e.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	a.shapes[e.Shape]++
	if e.Total == 0 {
		a.zeroResults++
		a.zeroShapes[e.Shape]++
	}
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, e.LatencyUs)
	} else {
		a.latencies[a.next] = e.LatencyUs
		a.next = (a.next + 1) % maxLatencySamples
	}
}

func (a *Aggregator) TrackMutation(e MutationEvent) {
	a.mu.Lock()
	a.mutations[e.Op] += int64(e.Count)
	a.mu.Unlock()
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalQueries:    a.total,
		QueriesByMode:   copyCounts(a.byMode),
		CacheHits:       a.cacheHits,
		CacheMisses:     a.cacheMisses,
		ZeroResultCount: a.zeroResults,
		Mutations:       copyCounts(a.mutations),
	}
	if a.cacheHits+a.cacheMisses > 0 {
		stats.CacheHitRatio = float64(a.cacheHits) / float64(a.cacheHits+a.cacheMisses)
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted)) / 1000
		stats.P50LatencyMs = float64(percentile(sorted, 50)) / 1000
		stats.P95LatencyMs = float64(percentile(sorted, 95)) / 1000
		stats.P99LatencyMs = float64(percentile(sorted, 99)) / 1000
	}
	stats.TopShapes = topN(a.shapes, 10)
	stats.ZeroResultShapes = topN(a.zeroShapes, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalQueries) / elapsed
	}
	return stats
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []ShapeCount {
	result := make([]ShapeCount, 0, len(counts))
	for shape, count := range counts {
		result = append(result, ShapeCount{Shape: shape, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Shape < result[j].Shape
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
