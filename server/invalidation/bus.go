// Package invalidation fans out "this collection changed" events to the
// consumers currently observing it.
//
// Delivery is synchronous and at-least-once to the handlers registered at
// publish time. Events are not retained: a handler subscribing after a publish
// never sees it and relies on its next natural fetch instead.
package invalidation

import (
	"log/slog"
	"sync"

	"github.com/hrygo/rentflow/store/cache"
)

// Handler reacts to an invalidated kind. Handlers run on the publisher's goroutine and must not block.
type Handler func(kind cache.Kind)

// Bus is an explicit observer registry keyed by collection kind.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[cache.Kind]map[uint64]Handler
	logger   *slog.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[cache.Kind]map[uint64]Handler),
		logger:   slog.Default().With("component", "invalidation"),
	}
}

// Subscribe registers handler for kind. The returned function removes it and is safe to call more than once.
func (b *Bus) Subscribe(kind cache.Kind, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[uint64]Handler)
	}
	b.handlers[kind][id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers[kind], id)
			if len(b.handlers[kind]) == 0 {
				delete(b.handlers, kind)
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers kind to every handler subscribed at call time and returns how many were notified.
func (b *Bus) Publish(kinds ...cache.Kind) int {
	delivered := 0
	for _, kind := range kinds {
		b.mu.RLock()
		handlers := make([]Handler, 0, len(b.handlers[kind]))
		for _, h := range b.handlers[kind] {
			handlers = append(handlers, h)
		}
		b.mu.RUnlock()

		for _, h := range handlers {
			b.deliver(kind, h)
			delivered++
		}
		b.logger.Debug("invalidation published", "kind", kind, "subscribers", len(handlers))
	}
	return delivered
}

// deliver isolates handler panics so one broken consumer cannot stop the fan-out.
func (b *Bus) deliver(kind cache.Kind, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("invalidation handler panicked", "kind", kind, "panic", r)
		}
	}()
	h(kind)
}

// Subscribers returns the number of handlers registered for kind.
func (b *Bus) Subscribers(kind cache.Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}
