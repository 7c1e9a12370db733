package fetch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/rentflow/internal/clock"
	apperrors "github.com/hrygo/rentflow/internal/errors"
	"github.com/hrygo/rentflow/server/internal/observability"
	"github.com/hrygo/rentflow/server/invalidation"
	"github.com/hrygo/rentflow/store/cache"
)

// backend is a scripted Fetcher counting its invocations.
type backend struct {
	mu    sync.Mutex
	calls int
	value []string
	err   error
}

func (b *backend) fetch(_ context.Context, _ cache.Params) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return append([]string(nil), b.value...), nil
}

func (b *backend) set(value []string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value, b.err = value, err
}

func (b *backend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func newStore(t *testing.T, clk clock.Clock) *cache.Store {
	t.Helper()
	s := cache.New(cache.Config{Clock: clk})
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Dispose() })
	return s
}

func newCoordinator(t *testing.T, store *cache.Store, fetch Fetcher[[]string], window time.Duration) *Coordinator[[]string] {
	t.Helper()
	c := New(cache.KindRentals, fetch, Config{Store: store, CoalesceWindow: window})
	t.Cleanup(c.Close)
	return c
}

const noWindow = -1

func TestCoordinator_FreshHitShortCircuits(t *testing.T) {
	be := &backend{value: []string{"r1"}}
	c := newCoordinator(t, newStore(t, clock.Default()), be.fetch, noWindow)
	ctx := context.Background()

	first, err := c.Load(ctx, nil, DefaultOptions())
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, []string{"r1"}, first.Value)

	second, err := c.Load(ctx, nil, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, []string{"r1"}, second.Value)
	assert.Equal(t, 1, be.count())
}

func TestCoordinator_BypassingTheCache(t *testing.T) {
	be := &backend{value: []string{"r1"}}
	c := newCoordinator(t, newStore(t, clock.Default()), be.fetch, noWindow)
	ctx := context.Background()

	_, err := c.Load(ctx, nil, DefaultOptions())
	require.NoError(t, err)

	t.Run("ForceRefresh", func(t *testing.T) {
		be.set([]string{"r2"}, nil)
		res, err := c.Refresh(ctx, nil, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"r2"}, res.Value)
		assert.Equal(t, 2, be.count())
	})

	t.Run("UseCacheDisabled", func(t *testing.T) {
		_, err := c.Load(ctx, nil, Options{})
		require.NoError(t, err)
		assert.Equal(t, 3, be.count())
	})

	t.Run("RefreshWithoutForceHitsCache", func(t *testing.T) {
		res, err := c.Refresh(ctx, nil, false)
		require.NoError(t, err)
		assert.True(t, res.FromCache)
		assert.Equal(t, 3, be.count())
	})
}

func TestCoordinator_DistinctParams(t *testing.T) {
	be := &backend{value: []string{"r1"}}
	c := newCoordinator(t, newStore(t, clock.Default()), be.fetch, noWindow)
	ctx := context.Background()

	_, err := c.Load(ctx, cache.Limit(10), DefaultOptions())
	require.NoError(t, err)
	_, err = c.Load(ctx, cache.Limit(20), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, be.count())
}

func TestCoordinator_SingleFlight(t *testing.T) {
	be := &backend{value: []string{"latest"}}
	c := newCoordinator(t, newStore(t, clock.Default()), be.fetch, 200*time.Millisecond)
	ctx := context.Background()

	earlier := make(chan Result[[]string], 1)
	go func() {
		res, err := c.Load(ctx, nil, DefaultOptions())
		assert.NoError(t, err)
		earlier <- res
	}()
	require.Eventually(t, func() bool { return c.InFlight() == 1 }, time.Second, time.Millisecond)

	later, err := c.Load(ctx, nil, DefaultOptions())
	require.NoError(t, err)
	assert.False(t, later.Cancelled)
	assert.Equal(t, []string{"latest"}, later.Value)

	first := <-earlier
	assert.True(t, first.Cancelled)
	assert.Nil(t, first.Value)

	assert.Equal(t, 1, be.count())
	assert.Equal(t, 0, c.InFlight())
}

func TestCoordinator_SettledDeliversWinnersCommit(t *testing.T) {
	be := &backend{value: []string{"latest"}}
	c := newCoordinator(t, newStore(t, clock.Default()), be.fetch, 200*time.Millisecond)
	ctx := context.Background()

	settled := make(chan Result[[]string], 1)
	go func() {
		res, err := c.Load(ctx, nil, DefaultOptions())
		assert.NoError(t, err)
		assert.True(t, res.Cancelled)
		res, err = c.Settled(ctx, nil)
		assert.NoError(t, err)
		settled <- res
	}()
	require.Eventually(t, func() bool { return c.InFlight() == 1 }, time.Second, time.Millisecond)

	_, err := c.Load(ctx, nil, DefaultOptions())
	require.NoError(t, err)

	res := <-settled
	assert.False(t, res.Cancelled)
	assert.Equal(t, []string{"latest"}, res.Value)
	assert.Equal(t, 1, be.count())

	// Nothing in flight and nothing committed for these params.
	res, err = c.Settled(ctx, cache.Limit(3))
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
}

func TestCoordinator_ReportCancelled(t *testing.T) {
	be := &backend{value: []string{"latest"}}
	c := newCoordinator(t, newStore(t, clock.Default()), be.fetch, 200*time.Millisecond)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Load(ctx, nil, Options{UseCache: true, ReportCancelled: true})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return c.InFlight() == 1 }, time.Second, time.Millisecond)

	_, err := c.Load(ctx, nil, DefaultOptions())
	require.NoError(t, err)

	cancelledErr := <-errCh
	require.Error(t, cancelledErr)
	assert.True(t, errors.Is(cancelledErr, apperrors.ErrCancelled))
}

func TestCoordinator_LateResultOfSupersededRequestIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	// The first call ignores the abort signal and resolves late; the second returns at once.
	fetch := func(ctx context.Context, _ cache.Params) ([]string, error) {
		if calls.Add(1) == 1 {
			<-release
			return []string{"old"}, nil
		}
		return []string{"new"}, nil
	}
	store := newStore(t, clock.Default())
	c := newCoordinator(t, store, fetch, noWindow)
	ctx := context.Background()

	earlier := make(chan Result[[]string], 1)
	go func() {
		res, err := c.Load(ctx, nil, DefaultOptions())
		assert.NoError(t, err)
		earlier <- res
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	later, err := c.Load(ctx, nil, Options{UseCache: true, ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, later.Value)

	close(release)
	first := <-earlier
	assert.True(t, first.Cancelled)

	entry, ok := store.Get(cache.NewKey(cache.KindRentals, nil))
	require.True(t, ok)
	assert.JSONEq(t, `["new"]`, string(entry.Data))
}

func TestCoordinator_SupersededFetchIsSignalled(t *testing.T) {
	aborted := make(chan error, 1)
	var calls atomic.Int32
	fetch := func(ctx context.Context, _ cache.Params) ([]string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			aborted <- context.Cause(ctx)
			return nil, ctx.Err()
		}
		return []string{"new"}, nil
	}
	c := newCoordinator(t, newStore(t, clock.Default()), fetch, noWindow)
	ctx := context.Background()

	done := make(chan Result[[]string], 1)
	go func() {
		res, err := c.Load(ctx, nil, DefaultOptions())
		assert.NoError(t, err)
		done <- res
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	_, err := c.Load(ctx, nil, DefaultOptions())
	require.NoError(t, err)

	assert.True(t, apperrors.IsCancelled(<-aborted))
	assert.True(t, (<-done).Cancelled)
}

func TestCoordinator_FailureLeavesCacheIntact(t *testing.T) {
	be := &backend{value: []string{"good"}}
	store := newStore(t, clock.Default())
	c := newCoordinator(t, store, be.fetch, noWindow)
	ctx := context.Background()

	_, err := c.Load(ctx, nil, DefaultOptions())
	require.NoError(t, err)

	backendErr := errors.New("connection reset")
	be.set(nil, backendErr)

	res, err := c.Refresh(ctx, nil, true)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeBackend, apperrors.CodeOf(err))
	assert.True(t, errors.Is(err, backendErr))
	assert.False(t, res.Cancelled)

	entry, ok := store.Get(cache.NewKey(cache.KindRentals, nil))
	require.True(t, ok)
	assert.JSONEq(t, `["good"]`, string(entry.Data))

	cached, err := c.Load(ctx, nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, cached.Value)
}

func TestCoordinator_FailureWithoutEntry(t *testing.T) {
	be := &backend{err: errors.New("timeout")}
	store := newStore(t, clock.Default())
	c := newCoordinator(t, store, be.fetch, noWindow)

	_, err := c.Load(context.Background(), nil, DefaultOptions())
	require.Error(t, err)
	assert.True(t, store.IsStale(cache.NewKey(cache.KindRentals, nil)))
	assert.Equal(t, 0, c.InFlight())
}

func TestCoordinator_CallerCancellation(t *testing.T) {
	be := &backend{value: []string{"r1"}}
	c := newCoordinator(t, newStore(t, clock.Default()), be.fetch, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Load(ctx, nil, DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, res.Cancelled)
	assert.Equal(t, 0, be.count())
	assert.Equal(t, 0, c.InFlight())
}

func TestCoordinator_StaleEntryAndPeek(t *testing.T) {
	clk := clock.NewMock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	be := &backend{value: []string{"v1"}}
	c := newCoordinator(t, newStore(t, clk), be.fetch, noWindow)
	ctx := context.Background()

	_, err := c.Load(ctx, nil, Options{UseCache: true, TTL: time.Minute})
	require.NoError(t, err)

	clk.Advance(time.Minute)
	last, ok := c.Peek(nil)
	require.True(t, ok)
	assert.Equal(t, []string{"v1"}, last.Value)

	be.set([]string{"v2"}, nil)
	res, err := c.Load(ctx, nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, res.Value)
	assert.Equal(t, 2, be.count())
}

func TestCoordinator_InvalidateCache(t *testing.T) {
	be := &backend{value: []string{"r1"}}
	store := newStore(t, clock.Default())
	bus := invalidation.NewBus()
	c := New(cache.KindRentals, be.fetch, Config{Store: store, Bus: bus, CoalesceWindow: noWindow})
	t.Cleanup(c.Close)

	var published atomic.Int32
	bus.Subscribe(cache.KindRentals, func(cache.Kind) { published.Add(1) })

	_, err := c.Load(context.Background(), cache.Limit(5), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 1, c.InvalidateCache())
	assert.Equal(t, int32(1), published.Load())
	assert.True(t, store.IsStale(cache.NewKey(cache.KindRentals, cache.Limit(5))))
}

func TestCoordinator_Metrics(t *testing.T) {
	be := &backend{value: []string{"r1"}}
	metrics := observability.NewMetrics()
	c := New(cache.KindRentals, be.fetch, Config{Store: newStore(t, clock.Default()), Metrics: metrics, CoalesceWindow: noWindow})
	t.Cleanup(c.Close)
	ctx := context.Background()

	_, _ = c.Load(ctx, nil, DefaultOptions())
	_, _ = c.Load(ctx, nil, DefaultOptions())
	be.set(nil, errors.New("down"))
	_, _ = c.Refresh(ctx, nil, true)

	snap := metrics.Snapshot()[string(cache.KindRentals)]
	assert.Equal(t, int64(1), snap.Hits)
	assert.Equal(t, int64(2), snap.Misses)
	assert.Equal(t, int64(1), snap.Fetches)
	assert.Equal(t, int64(1), snap.Failures)
}

func TestPrefetch(t *testing.T) {
	store := newStore(t, clock.Default())
	rentals := &backend{value: []string{"r1"}}
	clients := &backend{value: []string{"c1"}}
	cfg := Config{Store: store, CoalesceWindow: noWindow}
	rc := New(cache.KindRentals, rentals.fetch, cfg)
	cc := New(cache.KindClients, clients.fetch, cfg)
	t.Cleanup(rc.Close)
	t.Cleanup(cc.Close)

	require.NoError(t, Prefetch(context.Background(),
		Request{Loader: rc, Params: cache.Limit(10)},
		Request{Loader: cc},
	))
	assert.False(t, store.IsStale(cache.NewKey(cache.KindRentals, cache.Limit(10))))
	assert.False(t, store.IsStale(cache.NewKey(cache.KindClients, nil)))

	clients.set(nil, errors.New("down"))
	cc.InvalidateCache()
	err := Prefetch(context.Background(), Request{Loader: rc, Params: cache.Limit(10)}, Request{Loader: cc})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prefetch clients")
}
