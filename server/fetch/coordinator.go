// Package fetch loads collections through the shared cache store.
//
// A Coordinator wraps the backend accessor of one collection kind. It serves
// fresh cache hits without touching the backend, keeps at most one in-flight
// request per key (a newer request cancels and replaces the older one), and
// commits only the most recent caller's result to the store.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	apperrors "github.com/hrygo/rentflow/internal/errors"
	"github.com/hrygo/rentflow/internal/timeout"
	"github.com/hrygo/rentflow/server/internal/observability"
	"github.com/hrygo/rentflow/server/invalidation"
	"github.com/hrygo/rentflow/store/cache"
)

// Fetcher is the backend accessor of one collection kind. It must be idempotent and free of side effects.
type Fetcher[T any] func(ctx context.Context, params cache.Params) (T, error)

// Options controls a single Load.
type Options struct {
	// UseCache allows a fresh cache entry to short-circuit the backend call.
	UseCache bool
	// ForceRefresh bypasses the cache even when the entry is fresh.
	ForceRefresh bool
	// TTL overrides the kind's default TTL for the stored result.
	TTL time.Duration
	// ReportCancelled turns a superseded request into an ErrCancelled error instead of a cancelled Result.
	ReportCancelled bool
}

// DefaultOptions reads through the cache.
func DefaultOptions() Options {
	return Options{UseCache: true}
}

// Result is the outcome of a Load.
type Result[T any] struct {
	Value     T
	FetchedAt time.Time
	FromCache bool
	// Cancelled is set when a newer request for the same key superseded this one. Value is zero.
	Cancelled bool
}

// Config holds the collaborators shared by every coordinator of the process.
type Config struct {
	Store   *cache.Store
	Bus     *invalidation.Bus
	Metrics *observability.Metrics
	// Limiter throttles background refetches (invalidation and polling). Nil means unlimited.
	Limiter *rate.Limiter
	// CoalesceWindow is how long a miss waits for a newer request before calling the backend.
	// Zero selects timeout.CoalesceWindow, a negative value disables the wait.
	CoalesceWindow time.Duration
	// FetchTimeout bounds one backend call. Zero selects timeout.FetchTimeout.
	FetchTimeout time.Duration
	Logger       *slog.Logger
}

type call struct {
	id     string
	ctx    context.Context
	cancel context.CancelCauseFunc
	// done is closed once the call has resolved. err is the backend failure, if any, and is readable after done.
	done chan struct{}
	err  error
}

// Coordinator loads one collection kind. Create it with New.
type Coordinator[T any] struct {
	kind         cache.Kind
	fetch        Fetcher[T]
	store        *cache.Store
	bus          *invalidation.Bus
	metrics      *observability.Metrics
	limiter      *rate.Limiter
	window       time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger

	mu        sync.Mutex
	inflight  map[string]*call
	observers map[uint64]*observation[T]
	nextObs   uint64
}

// New creates a coordinator for kind backed by fetch.
func New[T any](kind cache.Kind, fetch Fetcher[T], cfg Config) *Coordinator[T] {
	if cfg.Store == nil {
		panic("fetch: coordinator requires a cache store")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics()
	}
	if cfg.CoalesceWindow == 0 {
		cfg.CoalesceWindow = timeout.CoalesceWindow
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = timeout.FetchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Coordinator[T]{
		kind:         kind,
		fetch:        fetch,
		store:        cfg.Store,
		bus:          cfg.Bus,
		metrics:      cfg.Metrics,
		limiter:      cfg.Limiter,
		window:       cfg.CoalesceWindow,
		fetchTimeout: cfg.FetchTimeout,
		logger:       cfg.Logger.With("component", "fetch", "kind", kind),
		inflight:     make(map[string]*call),
		observers:    make(map[uint64]*observation[T]),
	}
}

// Kind returns the collection kind served by the coordinator.
func (c *Coordinator[T]) Kind() cache.Kind {
	return c.kind
}

// Load returns the collection for params, from the cache when allowed and fresh, otherwise from the backend.
//
// Backend failures are returned as a BACKEND error wrapping the fetcher's error
// and leave the cache untouched. A request superseded by a newer one for the
// same key resolves with Result.Cancelled set and a nil error, unless
// opts.ReportCancelled asks for ErrCancelled.
func (c *Coordinator[T]) Load(ctx context.Context, params cache.Params, opts Options) (Result[T], error) {
	key := cache.NewKey(c.kind, params)

	if opts.UseCache && !opts.ForceRefresh {
		if res, ok := c.cached(key, false); ok {
			c.metrics.RecordHit(string(c.kind))
			return res, nil
		}
	}
	c.metrics.RecordMiss(string(c.kind))

	cl := c.begin(ctx, key)
	defer func() {
		cl.cancel(nil)
		close(cl.done)
	}()

	if c.window > 0 {
		timer := time.NewTimer(c.window)
		select {
		case <-timer.C:
		case <-cl.ctx.Done():
			timer.Stop()
			return c.abandon(key, cl, opts)
		}
	}
	if cl.ctx.Err() != nil {
		return c.abandon(key, cl, opts)
	}

	fetchCtx, cancel := context.WithTimeout(cl.ctx, c.fetchTimeout)
	start := time.Now()
	value, err := c.fetch(fetchCtx, params)
	cancel()
	elapsed := time.Since(start)

	c.mu.Lock()
	if c.inflight[key.String()] != cl {
		// Superseded while fetching: the late result is discarded, never applied.
		c.mu.Unlock()
		return c.cancelled(key, cl, opts)
	}
	delete(c.inflight, key.String())

	if err != nil {
		c.mu.Unlock()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result[T]{}, errors.Wrapf(ctxErr, "load %s", key)
		}
		c.metrics.RecordFailure(string(c.kind))
		c.logger.Warn("backend fetch failed", "key", key.String(), "request_id", cl.id, "error", err)
		cl.err = apperrors.Backend(fmt.Sprintf("fetch %s", key), err)
		return Result[T]{}, cl.err
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.mu.Unlock()
		return Result[T]{}, errors.Wrapf(err, "encode %s", key)
	}
	// Committing under c.mu keeps a newer request from slipping in between the check and the write.
	entry, err := c.store.Put(key, data, opts.TTL)
	c.mu.Unlock()
	if err != nil {
		return Result[T]{}, errors.Wrapf(err, "store %s", key)
	}

	c.metrics.RecordFetch(string(c.kind), elapsed)
	c.logger.Debug("collection fetched", "key", key.String(), "request_id", cl.id, "duration_ms", elapsed.Milliseconds())
	return Result[T]{Value: value, FetchedAt: entry.FetchedAt}, nil
}

// Refresh reloads params, bypassing fresh entries when force is set.
func (c *Coordinator[T]) Refresh(ctx context.Context, params cache.Params, force bool) (Result[T], error) {
	return c.Load(ctx, params, Options{UseCache: true, ForceRefresh: force})
}

// Settled waits until no request for params is in flight and returns what the last one left behind.
//
// It is how a superseded caller obtains the winner's committed result. When the
// winner failed on the backend, its error is returned together with the last
// known value. When nothing was committed (the winner was itself abandoned),
// the result is marked Cancelled.
func (c *Coordinator[T]) Settled(ctx context.Context, params cache.Params) (Result[T], error) {
	key := cache.NewKey(c.kind, params)

	var last *call
	for {
		c.mu.Lock()
		cl, ok := c.inflight[key.String()]
		c.mu.Unlock()
		if !ok {
			break
		}
		select {
		case <-cl.done:
			last = cl
		case <-ctx.Done():
			return Result[T]{}, errors.Wrapf(ctx.Err(), "settle %s", key)
		}
	}

	res, ok := c.cached(key, true)
	if last != nil && last.err != nil {
		return res, last.err
	}
	if !ok {
		return Result[T]{Cancelled: true}, nil
	}
	return res, nil
}

// Peek returns the last known value for params, fresh or stale, without calling the backend.
func (c *Coordinator[T]) Peek(params cache.Params) (Result[T], bool) {
	return c.cached(cache.NewKey(c.kind, params), true)
}

// InvalidateCache drops every cached entry of the kind and tells the other consumers to refetch.
func (c *Coordinator[T]) InvalidateCache() int {
	n := c.store.InvalidateKind(c.kind)
	if c.bus != nil {
		c.bus.Publish(c.kind)
	}
	return n
}

// InFlight returns the number of outstanding backend requests.
func (c *Coordinator[T]) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Warm loads params through the cache, discarding the value.
func (c *Coordinator[T]) Warm(ctx context.Context, params cache.Params) error {
	_, err := c.Load(ctx, params, DefaultOptions())
	return err
}

// Close stops every observation and cancels outstanding requests.
func (c *Coordinator[T]) Close() {
	c.mu.Lock()
	observers := make([]*observation[T], 0, len(c.observers))
	for _, o := range c.observers {
		observers = append(observers, o)
	}
	for _, cl := range c.inflight {
		cl.cancel(context.Canceled)
	}
	c.mu.Unlock()

	for _, o := range observers {
		o.stop()
	}
}

func (c *Coordinator[T]) cached(key cache.Key, allowStale bool) (Result[T], bool) {
	var (
		entry cache.Entry
		ok    bool
	)
	if allowStale {
		entry, ok = c.store.Peek(key)
	} else {
		entry, ok = c.store.Get(key)
	}
	if !ok {
		return Result[T]{}, false
	}

	var v T
	if err := entry.Decode(&v); err != nil {
		c.logger.Warn("ignoring undecodable cache entry", "key", key.String(), "error", err)
		return Result[T]{}, false
	}
	return Result[T]{Value: v, FetchedAt: entry.FetchedAt, FromCache: true}, true
}

// begin registers a new in-flight call for key, cancelling the one it replaces.
func (c *Coordinator[T]) begin(ctx context.Context, key cache.Key) *call {
	cctx, cancel := context.WithCancelCause(ctx)
	cl := &call{id: uuid.NewString(), ctx: cctx, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	if prev, ok := c.inflight[key.String()]; ok {
		prev.cancel(apperrors.Cancelled(key.String()))
		c.logger.Debug("request superseded", "key", key.String(), "request_id", prev.id, "superseded_by", cl.id)
	}
	c.inflight[key.String()] = cl
	c.mu.Unlock()
	return cl
}

// abandon resolves a call whose context ended before the backend was invoked.
func (c *Coordinator[T]) abandon(key cache.Key, cl *call, opts Options) (Result[T], error) {
	if apperrors.IsCancelled(context.Cause(cl.ctx)) {
		return c.cancelled(key, cl, opts)
	}

	c.mu.Lock()
	if c.inflight[key.String()] == cl {
		delete(c.inflight, key.String())
	}
	c.mu.Unlock()
	return Result[T]{}, errors.Wrapf(cl.ctx.Err(), "load %s", key)
}

func (c *Coordinator[T]) cancelled(key cache.Key, cl *call, opts Options) (Result[T], error) {
	c.metrics.RecordCancellation(string(c.kind))
	if opts.ReportCancelled {
		return Result[T]{Cancelled: true}, apperrors.Cancelled(key.String()).WithContext("request_id", cl.id)
	}
	return Result[T]{Cancelled: true}, nil
}
