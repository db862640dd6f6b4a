package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/resilience"
)

// Collector accumulates analytics events and flushes them to Kafka either
// when the batch reaches batchSize or after flushInterval. Publishing goes
// through a circuit breaker so a dead broker does not stall every flush.
type Collector struct {
	publisher     kafka.Publisher
	breaker       *resilience.CircuitBreaker
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	dropped       int64
	flushing      atomic.Bool
	logger        *slog.Logger
	done          chan struct{}
}

var _ Tracker = (*Collector)(nil)

// NewCollector creates a Collector. breaker may be nil.
func NewCollector(publisher kafka.Publisher, breaker *resilience.CircuitBreaker, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		publisher:     publisher,
		breaker:       breaker,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop, which runs until ctx is
// cancelled and then performs a final flush.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.Flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// TrackQuery buffers a query event.
func (c *Collector) TrackQuery(e QueryEvent) {
	c.track(e.Mode, Event{Type: EventQuery, Query: &e})
}

// TrackMutation buffers a mutation event.
func (c *Collector) TrackMutation(e MutationEvent) {
	c.track(e.Op, Event{Type: EventMutation, Mutation: &e})
}

func (c *Collector) track(key string, event Event) {
	c.mu.Lock()
	c.buffer = append(c.buffer, kafka.Event{Key: key, Value: event})
	shouldFlush := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	// At most one size-triggered flush runs at a time; while the broker is
	// down the re-queued backlog keeps the buffer above batchSize.
	if shouldFlush && c.flushing.CompareAndSwap(false, true) {
		go func() {
			defer c.flushing.Store(false)
			c.Flush(context.Background())
		}()
	}
}

// Close waits for the background flush loop to finish.
func (c *Collector) Close() {
	<-c.done
}

// BufferLen returns the current number of buffered events.
func (c *Collector) BufferLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// PublisherState reports the breaker guarding the broker; ok is false when
// the collector publishes without one.
func (c *Collector) PublisherState() (counts resilience.Counts, ok bool) {
	if c.breaker == nil {
		return resilience.Counts{}, false
	}
	return c.breaker.Counts(), true
}

// Dropped returns how many events were discarded after failed flushes.
func (c *Collector) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Flush publishes everything buffered. Failed batches are re-queued up to
// three batches' worth; older events beyond that are dropped.
func (c *Collector) Flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]kafka.Event, 0, c.batchSize)
	c.mu.Unlock()

	publish := func() error { return c.publisher.PublishBatch(ctx, batch) }
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(publish)
	} else {
		err = publish()
	}
	if err != nil {
		c.logger.Error("batch flush failed",
			"batch_size", len(batch),
			"error", err,
		)
		c.mu.Lock()
		c.buffer = append(batch, c.buffer...)
		if limit := c.batchSize * 3; len(c.buffer) > limit {
			dropped := len(c.buffer) - limit
			c.buffer = c.buffer[dropped:]
			c.dropped += int64(dropped)
			c.logger.Warn("buffer overflow, events dropped", "dropped", dropped)
		}
		c.mu.Unlock()
		return
	}

	c.logger.Debug("batch flushed", "events", len(batch))
}
