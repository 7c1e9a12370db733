package cache

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/rentflow/internal/clock"
)

var epoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// memorySlot is an in-memory Slot recording saves.
type memorySlot struct {
	mu      sync.Mutex
	payload []byte
	saves   int
	loadErr error
	saveErr error
}

func (m *memorySlot) Save(_ context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.payload = append([]byte(nil), payload...)
	m.saves++
	return nil
}

func (m *memorySlot) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.payload, nil
}

func (m *memorySlot) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func newTestStore(t *testing.T, clk clock.Clock, slot Slot) *Store {
	t.Helper()
	s := New(Config{Clock: clk, Slot: slot})
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Dispose() })
	return s
}

func TestStore_PutGet(t *testing.T) {
	clk := clock.NewMock(epoch)
	s := newTestStore(t, clk, NopSlot{})
	key := NewKey(KindRentals, nil)

	_, ok := s.Get(key)
	assert.False(t, ok)
	assert.True(t, s.IsStale(key))

	entry, err := s.Put(key, json.RawMessage(`[{"id":1}]`), 0)
	require.NoError(t, err)
	assert.Equal(t, epoch, entry.FetchedAt)
	assert.Equal(t, DefaultTTL(KindRentals), entry.TTL)

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":1}]`, string(got.Data))
	assert.False(t, s.IsStale(key))
}

func TestStore_Freshness(t *testing.T) {
	clk := clock.NewMock(epoch)
	s := newTestStore(t, clk, NopSlot{})
	key := NewKey(KindClients, Limit(5))

	_, err := s.Put(key, json.RawMessage(`[]`), time.Minute)
	require.NoError(t, err)

	clk.Advance(59 * time.Second)
	_, ok := s.Get(key)
	assert.True(t, ok)

	// Exactly at the TTL the entry is stale, with no write in between.
	clk.Advance(time.Second)
	_, ok = s.Get(key)
	assert.False(t, ok)
	assert.True(t, s.IsStale(key))

	// Stale data remains available as a fallback.
	peeked, ok := s.Peek(key)
	require.True(t, ok)
	assert.JSONEq(t, `[]`, string(peeked.Data))
}

func TestStore_ConfiguredTTL(t *testing.T) {
	s := New(Config{
		Clock: clock.NewMock(epoch),
		TTLs:  map[Kind]time.Duration{KindRentals: 42 * time.Second},
	})
	assert.Equal(t, 42*time.Second, s.TTL(KindRentals))
	assert.Equal(t, DefaultTTL(KindClients), s.TTL(KindClients))
}

func TestStore_RejectedPutKeepsPreviousEntry(t *testing.T) {
	clk := clock.NewMock(epoch)
	s := newTestStore(t, clk, NopSlot{})
	key := NewKey(KindBudgets, nil)

	_, err := s.Put(key, json.RawMessage(`{"total":3}`), time.Hour)
	require.NoError(t, err)

	_, err = s.Put(key, json.RawMessage(`{"total":`), time.Hour)
	require.Error(t, err)

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.JSONEq(t, `{"total":3}`, string(got.Data))
}

func TestStore_ReturnedEntriesAreCopies(t *testing.T) {
	s := newTestStore(t, clock.NewMock(epoch), NopSlot{})
	key := NewKey(KindRentals, nil)
	_, err := s.Put(key, json.RawMessage(`"abc"`), time.Hour)
	require.NoError(t, err)

	got, _ := s.Get(key)
	got.Data[1] = 'z'

	again, _ := s.Get(key)
	assert.Equal(t, `"abc"`, string(again.Data))
}

func TestStore_Invalidate(t *testing.T) {
	s := newTestStore(t, clock.NewMock(epoch), NopSlot{})
	r1 := NewKey(KindRentals, Limit(10))
	r2 := NewKey(KindRentals, Limit(20))
	c := NewKey(KindClients, nil)
	for _, k := range []Key{r1, r2, c} {
		_, err := s.Put(k, json.RawMessage(`[]`), time.Hour)
		require.NoError(t, err)
	}

	t.Run("Single", func(t *testing.T) {
		assert.True(t, s.Invalidate(r1))
		assert.False(t, s.Invalidate(r1))
		assert.True(t, s.IsStale(r1))
		assert.False(t, s.IsStale(r2))
	})

	t.Run("Kind", func(t *testing.T) {
		assert.Equal(t, 1, s.InvalidateKind(KindRentals))
		assert.True(t, s.IsStale(r2))
		assert.False(t, s.IsStale(c))
	})

	t.Run("All", func(t *testing.T) {
		assert.Equal(t, 1, s.InvalidateAll())
		assert.Equal(t, 0, s.Len())
	})
}

func TestStore_Expire(t *testing.T) {
	s := newTestStore(t, clock.NewMock(epoch), NopSlot{})
	key := NewKey(KindRentals, nil)
	_, err := s.Put(key, json.RawMessage(`[1]`), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, s.Expire(KindRentals))
	assert.True(t, s.IsStale(key))
	_, ok := s.Peek(key)
	assert.True(t, ok)

	stats := s.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 1, stats.Stale)
	assert.Equal(t, 1, stats.ByKind[KindRentals])
}

func TestStore_Cleanup(t *testing.T) {
	clk := clock.NewMock(epoch)
	s := New(Config{Clock: clk, StaleRetention: 10 * time.Minute})
	key := NewKey(KindRentals, nil)
	_, err := s.Put(key, json.RawMessage(`[]`), time.Minute)
	require.NoError(t, err)

	clk.Advance(5 * time.Minute)
	assert.Equal(t, 0, s.Cleanup())

	clk.Advance(7 * time.Minute)
	assert.Equal(t, 1, s.Cleanup())
	_, ok := s.Peek(key)
	assert.False(t, ok)
}

func TestStore_WarmStart(t *testing.T) {
	clk := clock.NewMock(epoch)
	slot := &memorySlot{}

	first := New(Config{Clock: clk, Slot: slot})
	require.NoError(t, first.Init(context.Background()))
	_, err := first.Put(NewKey(KindEquipments, nil), json.RawMessage(`["drill"]`), time.Hour)
	require.NoError(t, err)
	_, err = first.Put(NewKey(KindRentals, nil), json.RawMessage(`["r1"]`), time.Minute)
	require.NoError(t, err)
	require.NoError(t, first.Dispose())
	assert.GreaterOrEqual(t, slot.saveCount(), 1)

	// Two minutes later the rentals entry is stale by wall clock and must be discarded.
	clk.Advance(2 * time.Minute)
	second := newTestStore(t, clk, slot)

	got, ok := second.Get(NewKey(KindEquipments, nil))
	require.True(t, ok)
	assert.JSONEq(t, `["drill"]`, string(got.Data))
	assert.True(t, got.FetchedAt.Equal(epoch))

	_, ok = second.Peek(NewKey(KindRentals, nil))
	assert.False(t, ok)
}

func TestStore_SlotFailuresDegrade(t *testing.T) {
	t.Run("LoadError", func(t *testing.T) {
		slot := &memorySlot{loadErr: errors.New("disk gone")}
		s := newTestStore(t, clock.NewMock(epoch), slot)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("CorruptSnapshot", func(t *testing.T) {
		slot := &memorySlot{payload: []byte("{not json")}
		s := newTestStore(t, clock.NewMock(epoch), slot)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("OldVersion", func(t *testing.T) {
		slot := &memorySlot{payload: []byte(`{"version":0,"entries":[]}`)}
		s := newTestStore(t, clock.NewMock(epoch), slot)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("SaveError", func(t *testing.T) {
		slot := &memorySlot{saveErr: errors.New("read-only")}
		s := New(Config{Clock: clock.NewMock(epoch), Slot: slot})
		require.NoError(t, s.Init(context.Background()))

		_, err := s.Put(NewKey(KindRentals, nil), json.RawMessage(`[]`), time.Hour)
		require.NoError(t, err)
		assert.False(t, s.IsStale(NewKey(KindRentals, nil)))
		assert.Error(t, s.Dispose())
	})
}

func TestStore_InitTwice(t *testing.T) {
	s := newTestStore(t, clock.NewMock(epoch), NopSlot{})
	assert.Error(t, s.Init(context.Background()))
}

func TestStore_BackgroundPersist(t *testing.T) {
	slot := &memorySlot{}
	s := newTestStore(t, clock.NewMock(epoch), slot)

	_, err := s.Put(NewKey(KindClients, nil), json.RawMessage(`[]`), time.Hour)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return slot.saveCount() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := newTestStore(t, clock.Default(), NopSlot{})
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_, _ = s.PutValue(NewKey(KindRentals, Limit(n%5)), []int{n}, time.Minute)
		}(i)
		go func(n int) {
			defer wg.Done()
			if e, ok := s.Get(NewKey(KindRentals, Limit(n%5))); ok {
				var v []int
				assert.NoError(t, e.Decode(&v))
				assert.Len(t, v, 1)
			}
		}(i)
	}
	wg.Wait()
}

func TestFileSlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	slot := NewFileSlot(path)
	ctx := context.Background()

	data, err := slot.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, slot.Save(ctx, []byte(`{"version":1}`)))
	require.NoError(t, slot.Save(ctx, []byte(`{"version":1,"entries":[]}`)))

	data, err = slot.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"version":1,"entries":[]}`, string(data))
	assert.Equal(t, path, slot.Path())
}

func TestFileSlot_MissingDirectory(t *testing.T) {
	slot := NewFileSlot(filepath.Join(t.TempDir(), "missing", "snapshot.json"))
	assert.Error(t, slot.Save(context.Background(), []byte(`{}`)))
}

func TestRedisSlot_Unreachable(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"
	_, err := NewRedisSlot(context.Background(), cfg)
	assert.Error(t, err)
}

func TestMemcacheSlot_UnreachableDegrades(t *testing.T) {
	slot := NewMemcacheSlot("127.0.0.1:1")
	s := newTestStore(t, clock.NewMock(epoch), slot)
	assert.Equal(t, 0, s.Len())
}
