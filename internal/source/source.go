// Package source loads the initial record set for the engine from a file,
// a PostgreSQL table or a Redis hash.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/resilience"
)

// Loader produces a full snapshot of records.
type Loader interface {
	Name() string
	Load(ctx context.Context) ([]*model.Item, error)
}

// Sink receives record changes so that a later reload sees them.
type Sink interface {
	Put(ctx context.Context, item *model.Item) error
	Delete(ctx context.Context, id string) error
}

// Report summarises one load.
type Report struct {
	Source     string        `json:"source"`
	Loaded     int           `json:"loaded"`
	Skipped    int           `json:"skipped"`
	Duplicates int           `json:"duplicates"`
	Elapsed    time.Duration `json:"elapsed"`
}

// FromConfig builds the Loader selected by cfg.Kind. It returns nil for
// config.SourceNone.
func FromConfig(cfg config.SourceConfig, pg *postgres.Client, rdb *redis.Client) (Loader, error) {
	switch cfg.Kind {
	case config.SourceNone, "":
		return nil, nil
	case config.SourceFile:
		return NewFile(cfg.Path), nil
	case config.SourcePostgres:
		if pg == nil {
			return nil, fmt.Errorf("source %q requires a postgres connection", cfg.Kind)
		}
		return NewPostgres(pg.DB, cfg.Table)
	case config.SourceRedis:
		if rdb == nil {
			return nil, fmt.Errorf("source %q requires a redis connection", cfg.Kind)
		}
		return NewRedis(rdb, cfg.Key), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// Load runs l under the configured timeout and retry policy, then drops
// invalid and duplicate records. Only transient failures are retried; see
// resilience.Transient.
func Load(ctx context.Context, l Loader, cfg config.SourceConfig) ([]*model.Item, Report, error) {
	start := time.Now()
	logger := slog.Default().With("component", "source", "source", l.Name())

	var raw []*model.Item
	retry := resilience.RetryConfig{MaxAttempts: cfg.Retries}
	err := resilience.Retry(ctx, "load "+l.Name(), retry, func() error {
		return resilience.WithTimeout(ctx, cfg.Timeout, "load "+l.Name(), func(ctx context.Context) error {
			items, err := l.Load(ctx)
			if err != nil {
				return err
			}
			raw = items
			return nil
		})
	})
	if err != nil {
		return nil, Report{Source: l.Name()}, fmt.Errorf("loading records from %s: %w", l.Name(), err)
	}

	items, report := sanitize(raw)
	report.Source = l.Name()
	report.Elapsed = time.Since(start)

	logger.Info("records loaded",
		"loaded", report.Loaded,
		"skipped", report.Skipped,
		"duplicates", report.Duplicates,
		"elapsed", report.Elapsed,
	)
	return items, report, nil
}

// sanitize drops invalid items and keeps the last occurrence of each ID,
// preserving first-seen order.
func sanitize(raw []*model.Item) ([]*model.Item, Report) {
	var report Report
	pos := make(map[string]int, len(raw))
	items := make([]*model.Item, 0, len(raw))
	for _, it := range raw {
		if err := model.Validate(it); err != nil {
			report.Skipped++
			slog.Debug("skipping invalid record", "error", err)
			continue
		}
		if i, seen := pos[it.ID]; seen {
			items[i] = it
			report.Duplicates++
			continue
		}
		pos[it.ID] = len(items)
		items = append(items, it)
	}
	report.Loaded = len(items)
	return items, report
}
