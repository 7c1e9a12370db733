package collection

import (
	"context"
	"time"

	"github.com/pkg/errors"

	apperrors "github.com/hrygo/rentflow/internal/errors"
	"github.com/hrygo/rentflow/server/fetch"
	"github.com/hrygo/rentflow/store"
	"github.com/hrygo/rentflow/store/cache"
)

// Loaders holds one fetch coordinator per collection kind, all sharing one cache store and bus.
type Loaders struct {
	Clients    *fetch.Coordinator[[]*store.Client]
	Equipments *fetch.Coordinator[[]*store.Equipment]
	Rentals    *fetch.Coordinator[[]*store.Contract]
	Budgets    *fetch.Coordinator[[]*store.Contract]
	Dashboard  *fetch.Coordinator[*DashboardMetrics]

	store       *cache.Store
	unsubscribe []func()
}

// NewLoaders wires the service's accessors to coordinators configured by cfg.
// Every kind published on cfg.Bus is expired in the cache, so a write is seen
// by the next read even when nothing observes the collection.
func NewLoaders(svc *Service, cfg fetch.Config) *Loaders {
	l := &Loaders{
		Clients:    fetch.New(cache.KindClients, svc.Clients, cfg),
		Equipments: fetch.New(cache.KindEquipments, svc.Equipments, cfg),
		Rentals:    fetch.New(cache.KindRentals, svc.Rentals, cfg),
		Budgets:    fetch.New(cache.KindBudgets, svc.Budgets, cfg),
		Dashboard:  fetch.New(cache.KindDashboard, svc.DashboardMetrics, cfg),
		store:      cfg.Store,
	}
	if cfg.Bus != nil {
		for _, kind := range cache.Kinds {
			l.unsubscribe = append(l.unsubscribe, cfg.Bus.Subscribe(kind, func(k cache.Kind) {
				cfg.Store.Expire(k)
			}))
		}
	}
	return l
}

// View is a loaded collection with its cache metadata.
type View struct {
	Kind      cache.Kind `json:"kind"`
	Data      any        `json:"data"`
	FetchedAt time.Time  `json:"fetchedAt"`
	FromCache bool       `json:"fromCache"`
	Stale     bool       `json:"stale,omitempty"`
	Cancelled bool       `json:"cancelled,omitempty"`
}

func view[T any](kind cache.Kind, res fetch.Result[T]) View {
	return View{
		Kind:      kind,
		Data:      res.Value,
		FetchedAt: res.FetchedAt,
		FromCache: res.FromCache,
		Cancelled: res.Cancelled,
	}
}

func load[T any](ctx context.Context, c *fetch.Coordinator[T], params cache.Params, opts fetch.Options) (View, error) {
	res, err := c.Load(ctx, params, opts)
	if err == nil && res.Cancelled && !opts.ReportCancelled {
		// A newer request for the same key won; answer with what it committed.
		res, err = c.Settled(ctx, params)
		if err == nil && res.Cancelled {
			res, err = c.Load(ctx, params, fetch.Options{UseCache: true, TTL: opts.TTL})
		}
	}
	if err != nil {
		return View{}, err
	}
	return view(c.Kind(), res), nil
}

// Load reads the collection of kind through its coordinator.
func (l *Loaders) Load(ctx context.Context, kind cache.Kind, params cache.Params, opts fetch.Options) (View, error) {
	switch kind {
	case cache.KindClients:
		return load(ctx, l.Clients, params, opts)
	case cache.KindEquipments:
		return load(ctx, l.Equipments, params, opts)
	case cache.KindRentals:
		return load(ctx, l.Rentals, params, opts)
	case cache.KindBudgets:
		return load(ctx, l.Budgets, params, opts)
	case cache.KindDashboard:
		return load(ctx, l.Dashboard, params, opts)
	}
	return View{}, apperrors.NotFound("unknown collection " + string(kind))
}

func peek[T any](c *fetch.Coordinator[T], params cache.Params) (View, bool) {
	res, ok := c.Peek(params)
	if !ok {
		return View{}, false
	}
	v := view(c.Kind(), res)
	v.Stale = true
	return v, true
}

// Peek returns the last known value of kind, fresh or stale, without calling the backend.
func (l *Loaders) Peek(kind cache.Kind, params cache.Params) (View, bool) {
	switch kind {
	case cache.KindClients:
		return peek(l.Clients, params)
	case cache.KindEquipments:
		return peek(l.Equipments, params)
	case cache.KindRentals:
		return peek(l.Rentals, params)
	case cache.KindBudgets:
		return peek(l.Budgets, params)
	case cache.KindDashboard:
		return peek(l.Dashboard, params)
	}
	return View{}, false
}

// Invalidate drops the cached entries of kind and notifies observers.
func (l *Loaders) Invalidate(kind cache.Kind) (int, error) {
	switch kind {
	case cache.KindClients:
		return l.Clients.InvalidateCache(), nil
	case cache.KindEquipments:
		return l.Equipments.InvalidateCache(), nil
	case cache.KindRentals:
		return l.Rentals.InvalidateCache(), nil
	case cache.KindBudgets:
		return l.Budgets.InvalidateCache(), nil
	case cache.KindDashboard:
		return l.Dashboard.InvalidateCache(), nil
	}
	return 0, apperrors.NotFound("unknown collection " + string(kind))
}

// InvalidateAll drops every cached entry and notifies observers of every kind.
func (l *Loaders) InvalidateAll() int {
	n := 0
	for _, kind := range cache.Kinds {
		m, _ := l.Invalidate(kind)
		n += m
	}
	return n
}

// Prefetch warms the default view of every collection in parallel.
func (l *Loaders) Prefetch(ctx context.Context) error {
	if err := fetch.Prefetch(ctx,
		fetch.Request{Loader: l.Clients},
		fetch.Request{Loader: l.Equipments},
		fetch.Request{Loader: l.Rentals},
		fetch.Request{Loader: l.Budgets},
		fetch.Request{Loader: l.Dashboard},
	); err != nil {
		return errors.Wrap(err, "failed to prefetch collections")
	}
	return nil
}

// Observe keeps every collection loaded and refreshed until the returned function is called.
func (l *Loaders) Observe(interval time.Duration) (stop func()) {
	stops := []func(){
		l.Clients.Observe(nil, interval, nil),
		l.Equipments.Observe(nil, interval, nil),
		l.Rentals.Observe(nil, interval, nil),
		l.Budgets.Observe(nil, interval, nil),
		l.Dashboard.Observe(nil, interval, nil),
	}
	return func() {
		for _, s := range stops {
			s()
		}
	}
}

// InFlight returns the number of outstanding backend requests across kinds.
func (l *Loaders) InFlight() int {
	return l.Clients.InFlight() + l.Equipments.InFlight() + l.Rentals.InFlight() + l.Budgets.InFlight() + l.Dashboard.InFlight()
}

// Close stops every observation and cancels outstanding requests.
func (l *Loaders) Close() {
	for _, unsubscribe := range l.unsubscribe {
		unsubscribe()
	}
	l.Clients.Close()
	l.Equipments.Close()
	l.Rentals.Close()
	l.Budgets.Close()
	l.Dashboard.Close()
}

// Stats reports the shared cache store.
func (l *Loaders) Stats() cache.Stats {
	return l.store.Stats()
}
