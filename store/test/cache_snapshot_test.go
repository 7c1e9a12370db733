package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/rentflow/internal/clock"
	"github.com/hrygo/rentflow/store/cache"
)

func TestCacheSlot(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	slot := ts.CacheSlot("test")

	data, err := slot.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, data)

	require.NoError(t, slot.Save(ctx, []byte(`{"version":1}`)))
	require.NoError(t, slot.Save(ctx, []byte(`{"version":2}`)))

	data, err = slot.Load(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"version":2}`, string(data))

	other, err := ts.CacheSlot("other").Load(ctx)
	require.NoError(t, err)
	require.Nil(t, other)
}

func TestCacheSlot_WarmStart(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	clk := clock.Default()

	first := cache.New(cache.Config{Clock: clk, Slot: ts.CacheSlot("app")})
	require.NoError(t, first.Init(ctx))
	_, err := first.PutValue(cache.NewKey(cache.KindClients, nil), []string{"acme"}, 0)
	require.NoError(t, err)
	require.NoError(t, first.Dispose())

	second := cache.New(cache.Config{Clock: clk, Slot: ts.CacheSlot("app")})
	require.NoError(t, second.Init(ctx))
	defer second.Dispose()

	entry, ok := second.Get(cache.NewKey(cache.KindClients, nil))
	require.True(t, ok)
	require.JSONEq(t, `["acme"]`, string(entry.Data))
}
