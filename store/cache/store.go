// Package cache implements the shared, TTL-aware store of fetched collections.
//
// A Store keeps JSON-encoded collections keyed by kind and query params.
// Consumers receive decoded copies, so the Store stays the sole owner of its
// entries. Every mutation schedules a snapshot write to a durable Slot, and
// Init rehydrates the entries that are still fresh by wall clock.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/rentflow/internal/clock"
	"github.com/hrygo/rentflow/internal/timeout"
)

// snapshotVersion is bumped whenever the persisted layout changes.
const snapshotVersion = 1

// Entry is a cached collection.
type Entry struct {
	Key       string          `json:"key"`
	Kind      Kind            `json:"kind"`
	Data      json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetched_at"`
	TTL       time.Duration   `json:"ttl"`
}

// FreshAt reports whether now - FetchedAt < TTL.
func (e Entry) FreshAt(now time.Time) bool {
	return now.Sub(e.FetchedAt) < e.TTL
}

// ExpiresAt returns the instant the entry turns stale.
func (e Entry) ExpiresAt() time.Time {
	return e.FetchedAt.Add(e.TTL)
}

// Decode unmarshals the entry data into v.
func (e Entry) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

func (e Entry) clone() Entry {
	data := make(json.RawMessage, len(e.Data))
	copy(data, e.Data)
	e.Data = data
	return e
}

type snapshot struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Entries []Entry   `json:"entries"`
}

// Config configures a Store.
type Config struct {
	Clock clock.Clock
	Slot  Slot
	// TTLs overrides the per-kind default TTLs.
	TTLs map[Kind]time.Duration
	// StaleRetention is how long a stale entry is kept as a fallback before cleanup drops it.
	StaleRetention time.Duration
	// CleanupInterval is how often stale entries past retention are dropped.
	CleanupInterval time.Duration
	Logger          *slog.Logger
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Clock:           clock.Default(),
		Slot:            NopSlot{},
		StaleRetention:  time.Hour,
		CleanupInterval: time.Minute,
	}
}

// Stats summarizes the store content.
type Stats struct {
	Entries int          `json:"entries"`
	Fresh   int          `json:"fresh"`
	Stale   int          `json:"stale"`
	ByKind  map[Kind]int `json:"byKind"`
}

// Store is the process-wide cache. Create one with New, call Init before use and Dispose on shutdown.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry

	clock           clock.Clock
	slot            Slot
	ttls            map[Kind]time.Duration
	staleRetention  time.Duration
	cleanupInterval time.Duration
	logger          *slog.Logger

	lifecycle sync.Mutex
	running   bool
	dirty     chan struct{}
	stop      chan struct{}
	wg        sync.WaitGroup
	saveMu    sync.Mutex
}

// New creates a Store. It does not touch the slot until Init.
func New(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Slot == nil {
		cfg.Slot = def.Slot
	}
	if cfg.StaleRetention <= 0 {
		cfg.StaleRetention = def.StaleRetention
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ttls := make(map[Kind]time.Duration, len(defaultTTLs))
	for k, v := range defaultTTLs {
		ttls[k] = v
	}
	for k, v := range cfg.TTLs {
		if v > 0 {
			ttls[k] = v
		}
	}

	return &Store{
		entries:         make(map[string]Entry),
		clock:           cfg.Clock,
		slot:            cfg.Slot,
		ttls:            ttls,
		staleRetention:  cfg.StaleRetention,
		cleanupInterval: cfg.CleanupInterval,
		logger:          cfg.Logger.With("component", "cache"),
	}
}

// Init rehydrates the store from its slot and starts the background persister.
// Slot failures are logged and leave the store empty; Init only fails when called twice.
func (s *Store) Init(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.running {
		return errors.New("cache store already initialized")
	}

	s.rehydrate(ctx)

	s.dirty = make(chan struct{}, 1)
	s.stop = make(chan struct{})
	s.running = true
	s.wg.Add(1)
	go s.persistLoop()
	return nil
}

// Dispose stops the persister and writes a final snapshot.
func (s *Store) Dispose() error {
	s.lifecycle.Lock()
	if !s.running {
		s.lifecycle.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	s.lifecycle.Unlock()

	s.wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), timeout.PersistTimeout)
	defer cancel()
	return s.persist(ctx)
}

func (s *Store) rehydrate(ctx context.Context) {
	loadCtx, cancel := context.WithTimeout(ctx, timeout.PersistTimeout)
	defer cancel()

	payload, err := s.slot.Load(loadCtx)
	if err != nil {
		s.logger.Warn("failed to load cache snapshot, starting cold", "error", err)
		return
	}
	if len(payload) == 0 {
		return
	}

	var snap snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		s.logger.Warn("discarding unreadable cache snapshot", "error", err)
		return
	}
	if snap.Version != snapshotVersion {
		s.logger.Info("discarding cache snapshot with old layout", "version", snap.Version)
		return
	}

	now := s.clock.Now()
	restored, dropped := 0, 0
	s.mu.Lock()
	for _, e := range snap.Entries {
		if !e.FreshAt(now) || !json.Valid(e.Data) {
			dropped++
			continue
		}
		if _, exists := s.entries[e.Key]; exists {
			continue
		}
		s.entries[e.Key] = e
		restored++
	}
	s.mu.Unlock()

	s.logger.Info("cache snapshot restored", "restored", restored, "dropped", dropped)
}

// Get returns the entry for key when it is fresh. It never fetches.
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[key.String()]
	s.mu.RUnlock()
	if !ok || !e.FreshAt(s.clock.Now()) {
		return Entry{}, false
	}
	return e.clone(), true
}

// Peek returns the entry for key even when stale.
func (s *Store) Peek(key Key) (Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[key.String()]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// IsStale reports whether key is absent or expired.
func (s *Store) IsStale(key Key) bool {
	_, ok := s.Get(key)
	return !ok
}

// TTL returns the effective default TTL for kind.
func (s *Store) TTL(kind Kind) time.Duration {
	if ttl, ok := s.ttls[kind]; ok {
		return ttl
	}
	return fallbackTTL
}

// Put stores data for key, stamping FetchedAt with the current time.
// A ttl <= 0 selects the kind's default. Invalid data is rejected before the previous entry is touched.
func (s *Store) Put(key Key, data json.RawMessage, ttl time.Duration) (Entry, error) {
	if key.Kind == "" {
		return Entry{}, errors.New("cache key without kind")
	}
	if !json.Valid(data) {
		return Entry{}, errors.Errorf("refusing to cache invalid JSON for %s", key)
	}
	if ttl <= 0 {
		ttl = s.TTL(key.Kind)
	}

	e := Entry{
		Key:       key.String(),
		Kind:      key.Kind,
		Data:      append(json.RawMessage(nil), data...),
		FetchedAt: s.clock.Now(),
		TTL:       ttl,
	}

	s.mu.Lock()
	s.entries[e.Key] = e
	s.mu.Unlock()

	s.schedulePersist()
	return e.clone(), nil
}

// PutValue encodes v as JSON and stores it.
func (s *Store) PutValue(key Key, v any, ttl time.Duration) (Entry, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "failed to encode %s", key)
	}
	return s.Put(key, data, ttl)
}

// Invalidate removes the entry for key.
func (s *Store) Invalidate(key Key) bool {
	s.mu.Lock()
	_, ok := s.entries[key.String()]
	delete(s.entries, key.String())
	s.mu.Unlock()

	if ok {
		s.schedulePersist()
	}
	return ok
}

// InvalidateKind removes every entry of kind, whatever its params.
func (s *Store) InvalidateKind(kind Kind) int {
	s.mu.Lock()
	n := 0
	for k, e := range s.entries {
		if e.Kind == kind {
			delete(s.entries, k)
			n++
		}
	}
	s.mu.Unlock()

	if n > 0 {
		s.schedulePersist()
	}
	return n
}

// InvalidateAll removes every entry.
func (s *Store) InvalidateAll() int {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = make(map[string]Entry)
	s.mu.Unlock()

	s.schedulePersist()
	return n
}

// Expire marks every entry of kind stale while keeping its data as a fallback.
func (s *Store) Expire(kind Kind) int {
	s.mu.Lock()
	n := 0
	for k, e := range s.entries {
		if e.Kind == kind && e.TTL > 0 {
			e.TTL = 0
			s.entries[k] = e
			n++
		}
	}
	s.mu.Unlock()

	if n > 0 {
		s.schedulePersist()
	}
	return n
}

// Cleanup drops entries that have been stale for longer than the retention window.
func (s *Store) Cleanup() int {
	now := s.clock.Now()
	s.mu.Lock()
	n := 0
	for k, e := range s.entries {
		if now.Sub(e.ExpiresAt()) > s.staleRetention {
			delete(s.entries, k)
			n++
		}
	}
	s.mu.Unlock()

	if n > 0 {
		s.schedulePersist()
	}
	return n
}

// Len returns the number of entries, fresh or stale.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats returns a summary of the store content.
func (s *Store) Stats() Stats {
	now := s.clock.Now()
	stats := Stats{ByKind: make(map[Kind]int)}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		stats.Entries++
		stats.ByKind[e.Kind]++
		if e.FreshAt(now) {
			stats.Fresh++
		} else {
			stats.Stale++
		}
	}
	return stats
}

// Snapshot returns the serialized store content.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	snap := snapshot{
		Version: snapshotVersion,
		SavedAt: s.clock.Now(),
		Entries: make([]Entry, 0, len(s.entries)),
	}
	for _, e := range s.entries {
		snap.Entries = append(snap.Entries, e)
	}
	s.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode cache snapshot")
	}
	return data, nil
}

func (s *Store) schedulePersist() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if !s.running {
		return
	}
	select {
	case s.dirty <- struct{}{}:
	default:
		// A write is already pending and will pick up this change.
	}
}

func (s *Store) persist(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	data, err := s.Snapshot()
	if err != nil {
		return err
	}
	if err := s.slot.Save(ctx, data); err != nil {
		return errors.Wrap(err, "failed to save cache snapshot")
	}
	return nil
}

// persistLoop writes snapshots when the store changes and periodically drops expired fallbacks.
func (s *Store) persistLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.Cleanup(); n > 0 {
				s.logger.Debug("dropped expired cache entries", "count", n)
			}
		case <-s.dirty:
			ctx, cancel := context.WithTimeout(context.Background(), timeout.PersistTimeout)
			if err := s.persist(ctx); err != nil {
				s.logger.Warn("cache snapshot not persisted", "error", err)
			}
			cancel()
		}
	}
}
