package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/hrygo/rentflow/store/cache"
)

// Reason tells an observer why it received an update.
type Reason string

const (
	ReasonInitial      Reason = "initial"
	ReasonInvalidation Reason = "invalidation"
	ReasonPoll         Reason = "poll"
)

// Update is delivered to an observer after each completed load.
// Err is set on failure; Result then holds the last known good value when one exists.
type Update[T any] struct {
	Reason Reason
	Result Result[T]
	Err    error
}

type observation[T any] struct {
	id       uint64
	c        *Coordinator[T]
	params   cache.Params
	interval time.Duration
	onUpdate func(Update[T])

	ctx    context.Context
	cancel context.CancelFunc
	kick   chan struct{}
	done   chan struct{}

	unsubscribe func()
	stopOnce    sync.Once
}

// Observe keeps params loaded for a live consumer until the returned stop function is called.
//
// It performs one initial load, refetches once per invalidation published for
// the kind and, when interval > 0, polls with ForceRefresh at that interval.
// When a load is superseded by another consumer of the same key, the
// observation waits for that request and delivers its committed result.
// onUpdate runs on the observation's own goroutine and must not call stop.
func (c *Coordinator[T]) Observe(params cache.Params, interval time.Duration, onUpdate func(Update[T])) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	o := &observation[T]{
		c:        c,
		params:   params,
		interval: interval,
		onUpdate: onUpdate,
		ctx:      ctx,
		cancel:   cancel,
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	c.nextObs++
	o.id = c.nextObs
	c.observers[o.id] = o
	c.mu.Unlock()

	o.unsubscribe = func() {}
	if c.bus != nil {
		o.unsubscribe = c.bus.Subscribe(c.kind, o.invalidated)
	}

	go o.run()
	return o.stop
}

// Observers returns the number of live observations.
func (c *Coordinator[T]) Observers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.observers)
}

// invalidated is the bus handler: mark the kind stale and wake the observation without blocking the publisher.
func (o *observation[T]) invalidated(kind cache.Kind) {
	o.c.store.Expire(kind)
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

func (o *observation[T]) run() {
	defer close(o.done)

	o.refresh(ReasonInitial, DefaultOptions())

	var tick <-chan time.Time
	if o.interval > 0 {
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	force := Options{UseCache: true, ForceRefresh: true}
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.kick:
			o.refresh(ReasonInvalidation, force)
		case <-tick:
			o.refresh(ReasonPoll, force)
		}
	}
}

func (o *observation[T]) refresh(reason Reason, opts Options) {
	if reason != ReasonInitial && o.c.limiter != nil {
		if err := o.c.limiter.Wait(o.ctx); err != nil {
			return
		}
	}

	res, err := o.c.Load(o.ctx, o.params, opts)
	if err == nil && res.Cancelled {
		// Another consumer of the same key took over; deliver what it commits.
		res, err = o.c.Settled(o.ctx, o.params)
	}
	if o.ctx.Err() != nil || (err == nil && res.Cancelled) {
		return
	}
	if err != nil {
		if last, ok := o.c.Peek(o.params); ok {
			res = last
		}
	}
	if o.onUpdate != nil {
		o.onUpdate(Update[T]{Reason: reason, Result: res, Err: err})
	}
}

func (o *observation[T]) stop() {
	o.stopOnce.Do(func() {
		o.unsubscribe()
		o.cancel()
		<-o.done

		o.c.mu.Lock()
		delete(o.c.observers, o.id)
		o.c.mu.Unlock()
	})
}
