package source

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
)

// HashStore is the subset of the Redis client the source needs.
type HashStore interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key, field string, value any) error
	HDel(ctx context.Context, key string, fields ...string) error
}

// Redis reads records from a hash of id -> JSON item. It also acts as a
// Sink so change-feed updates survive a reload.
type Redis struct {
	store HashStore
	key   string
}

var (
	_ Loader = (*Redis)(nil)
	_ Sink   = (*Redis)(nil)
)

func NewRedis(store HashStore, key string) *Redis {
	return &Redis{store: store, key: key}
}

func (r *Redis) Name() string { return "redis:" + r.key }

func (r *Redis) Load(ctx context.Context) ([]*model.Item, error) {
	fields, err := r.store.HGetAll(ctx, r.key)
	if err != nil {
		return nil, err
	}
	items := make([]*model.Item, 0, len(fields))
	for _, id := range slices.Sorted(maps.Keys(fields)) {
		value := fields[id]
		var it model.Item
		if err := json.Unmarshal([]byte(value), &it); err != nil {
			items = append(items, nil)
			continue
		}
		// The hash field is authoritative for the ID.
		it.ID = id
		items = append(items, &it)
	}
	return items, nil
}

func (r *Redis) Put(ctx context.Context, item *model.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encoding item %s: %w", item.ID, err)
	}
	return r.store.HSet(ctx, r.key, item.ID, string(data))
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	return r.store.HDel(ctx, r.key, id)
}
