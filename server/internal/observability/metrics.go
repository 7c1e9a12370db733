package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects cache and fetch counters per collection kind.
type Metrics struct {
	mu    sync.Mutex
	kinds map[string]*KindMetrics
}

// KindMetrics holds the counters for one collection kind.
type KindMetrics struct {
	hits          atomic.Int64
	misses        atomic.Int64
	fetches       atomic.Int64
	failures      atomic.Int64
	cancellations atomic.Int64
	totalDuration atomic.Int64 // milliseconds
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{kinds: make(map[string]*KindMetrics)}
}

// RecordHit records a fresh cache hit.
func (m *Metrics) RecordHit(kind string) {
	m.get(kind).hits.Add(1)
}

// RecordMiss records a lookup that had to go to the backend.
func (m *Metrics) RecordMiss(kind string) {
	m.get(kind).misses.Add(1)
}

// RecordFetch records a completed backend call and its duration.
func (m *Metrics) RecordFetch(kind string, d time.Duration) {
	km := m.get(kind)
	km.fetches.Add(1)
	km.totalDuration.Add(d.Milliseconds())
}

// RecordFailure records a failed backend call.
func (m *Metrics) RecordFailure(kind string) {
	m.get(kind).failures.Add(1)
}

// RecordCancellation records a superseded request.
func (m *Metrics) RecordCancellation(kind string) {
	m.get(kind).cancellations.Add(1)
}

func (m *Metrics) get(kind string) *KindMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	km, ok := m.kinds[kind]
	if !ok {
		km = &KindMetrics{}
		m.kinds[kind] = km
	}
	return km
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.mu.Lock()
	m.kinds = make(map[string]*KindMetrics)
	m.mu.Unlock()
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() map[string]KindSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]KindSnapshot, len(m.kinds))
	for kind, km := range m.kinds {
		s := KindSnapshot{
			Hits:          km.hits.Load(),
			Misses:        km.misses.Load(),
			Fetches:       km.fetches.Load(),
			Failures:      km.failures.Load(),
			Cancellations: km.cancellations.Load(),
		}
		if s.Fetches > 0 {
			s.AverageFetchMs = km.totalDuration.Load() / s.Fetches
		}
		out[kind] = s
	}
	return out
}

// KindSnapshot is a point-in-time copy of one kind's counters.
type KindSnapshot struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Fetches        int64 `json:"fetches"`
	Failures       int64 `json:"failures"`
	Cancellations  int64 `json:"cancellations"`
	AverageFetchMs int64 `json:"average_fetch_ms"`
}

// HitRate returns the hit rate as a percentage (0-100).
func (s KindSnapshot) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100.0
}
