package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/rentflow/store/cache"
)

// CacheSnapshot is a serialized cache store kept in the database.
type CacheSnapshot struct {
	Name      string
	Data      []byte
	UpdatedTs int64
}

func (s *Store) UpsertCacheSnapshot(ctx context.Context, upsert *CacheSnapshot) error {
	return s.driver.UpsertCacheSnapshot(ctx, upsert)
}

// GetCacheSnapshot returns nil when no snapshot is stored under name.
func (s *Store) GetCacheSnapshot(ctx context.Context, name string) (*CacheSnapshot, error) {
	return s.driver.GetCacheSnapshot(ctx, name)
}

// CacheSlot returns a durable cache slot backed by the cache_snapshot table.
func (s *Store) CacheSlot(name string) cache.Slot {
	return &cacheSlot{store: s, name: name}
}

type cacheSlot struct {
	store *Store
	name  string
}

func (c *cacheSlot) Save(ctx context.Context, data []byte) error {
	if err := c.store.UpsertCacheSnapshot(ctx, &CacheSnapshot{
		Name:      c.name,
		Data:      data,
		UpdatedTs: time.Now().Unix(),
	}); err != nil {
		return errors.Wrapf(err, "failed to save cache snapshot %s", c.name)
	}
	return nil
}

func (c *cacheSlot) Load(ctx context.Context) ([]byte, error) {
	snapshot, err := c.store.GetCacheSnapshot(ctx, c.name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load cache snapshot %s", c.name)
	}
	if snapshot == nil {
		return nil, nil
	}
	return snapshot.Data, nil
}
