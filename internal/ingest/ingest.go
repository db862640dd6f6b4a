// Package ingest applies the record change feed to a running engine and
// publishes change events for other producers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/geoquery/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/metrics"
)

type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// RecordEvent is one change on the record updates topic. Upserts carry
// Item; deletes carry ID.
type RecordEvent struct {
	Op   Op          `json:"op"`
	ID   string      `json:"id,omitempty"`
	Item *model.Item `json:"item,omitempty"`
}

// Applier is the write surface of the record store.
type Applier interface {
	Static() bool
	Upsert(ctx context.Context, items []*model.Item) error
	Delete(ctx context.Context, id string) error
}

// Handler returns the consumer callback for the record updates topic.
// Malformed events, invalid items, unknown IDs and events against a static
// engine are logged and committed; only unexpected store failures leave the
// message uncommitted. m may be nil.
func Handler(store Applier, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "ingest")
	count := func(op Op, status string) {
		if m != nil {
			m.IngestEventsTotal.WithLabelValues(string(op), status).Inc()
		}
	}

	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[RecordEvent](value)
		if err != nil {
			logger.Error("dropping malformed record event", "key", string(key), "error", err)
			count("unknown", "malformed")
			return nil
		}
		event.Op = Op(strings.ToLower(string(event.Op)))

		if store.Static() {
			logger.Warn("skipping record event on static index", "op", event.Op, "id", event.id())
			count(event.Op, "skipped")
			return nil
		}

		switch event.Op {
		case OpUpsert:
			if event.Item == nil {
				logger.Error("upsert event without item", "key", string(key))
				count(event.Op, "malformed")
				return nil
			}
			err = store.Upsert(ctx, []*model.Item{event.Item})
		case OpDelete:
			if event.id() == "" {
				logger.Error("delete event without id", "key", string(key))
				count(event.Op, "malformed")
				return nil
			}
			err = store.Delete(ctx, event.id())
		default:
			logger.Error("unknown record event op", "op", event.Op, "key", string(key))
			count(event.Op, "malformed")
			return nil
		}

		switch {
		case err == nil:
			count(event.Op, "applied")
			logger.Debug("record event applied", "op", event.Op, "id", event.id())
			return nil
		case errors.Is(err, apperrors.ErrInvalidInput), errors.Is(err, apperrors.ErrRecordNotFound):
			logger.Warn("record event rejected", "op", event.Op, "id", event.id(), "error", err)
			count(event.Op, "rejected")
			return nil
		default:
			count(event.Op, "failed")
			return fmt.Errorf("applying %s %s: %w", event.Op, event.id(), err)
		}
	}
}

func (e RecordEvent) id() string {
	if e.ID != "" {
		return e.ID
	}
	if e.Item != nil {
		return e.Item.ID
	}
	return ""
}

// Publisher writes record events keyed by record ID, so every change to one
// record lands on the same partition in order.
type Publisher struct {
	pub kafka.Publisher
}

func NewPublisher(pub kafka.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

func (p *Publisher) Upsert(ctx context.Context, items ...*model.Item) error {
	events := make([]kafka.Event, len(items))
	for i, it := range items {
		events[i] = kafka.Event{Key: it.ID, Value: RecordEvent{Op: OpUpsert, Item: it}}
	}
	return p.pub.PublishBatch(ctx, events)
}

func (p *Publisher) Delete(ctx context.Context, ids ...string) error {
	events := make([]kafka.Event, len(ids))
	for i, id := range ids {
		events[i] = kafka.Event{Key: id, Value: RecordEvent{Op: OpDelete, ID: id}}
	}
	return p.pub.PublishBatch(ctx, events)
}

func (p *Publisher) Close() error {
	return p.pub.Close()
}
