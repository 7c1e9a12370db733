package cache

import (
	"context"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"
)

// memcacheKey is the item holding the snapshot.
const memcacheKey = "rentflow_cache_snapshot"

// MemcacheSlot keeps the snapshot as one memcached item. Items are capped at
// the server's max item size (1MB by default); a larger snapshot fails to save
// and the store keeps running uncached on restart.
type MemcacheSlot struct {
	client *memcache.Client
}

// NewMemcacheSlot creates a slot on the given servers.
func NewMemcacheSlot(servers ...string) *MemcacheSlot {
	return &MemcacheSlot{client: memcache.New(servers...)}
}

// Save overwrites the snapshot item.
func (m *MemcacheSlot) Save(_ context.Context, payload []byte) error {
	err := m.client.Set(&memcache.Item{
		Key:   memcacheKey,
		Value: payload,
	})
	if err != nil {
		return errors.Wrap(err, "memcache set snapshot")
	}
	return nil
}

// Load reads the snapshot item.
func (m *MemcacheSlot) Load(_ context.Context) ([]byte, error) {
	item, err := m.client.Get(memcacheKey)
	if err == memcache.ErrCacheMiss {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "memcache get snapshot")
	}
	return item.Value, nil
}
