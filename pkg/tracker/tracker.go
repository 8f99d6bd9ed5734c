package tracker

import (
	"sync"
	"sync/atomic"
)

// Tracker keeps live per-provider counters for lookups and upstream calls.
// Counters reset with the process; the persisted usage log is the durable record.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*ProviderStats
}

// ProviderStats holds counters for a specific provider.
// Fields are accessed atomically.
type ProviderStats struct {
	MemoryHits    int64 `json:"memory_hits"`
	PersistedHits int64 `json:"persisted_hits"`
	CacheMisses   int64 `json:"cache_misses"`
	StaleServed   int64 `json:"stale_served"`
	APISuccess    int64 `json:"api_success"`
	APIFailures   int64 `json:"api_failures"`
	APIZeroResult int64 `json:"api_zero_result"`
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*ProviderStats),
	}
}

// getStats returns the stats object for a provider, creating it if needed.
func (t *Tracker) getStats(provider string) *ProviderStats {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &ProviderStats{}
	t.stats[provider] = s
	return s
}

func (t *Tracker) TrackMemoryHit(provider string) {
	atomic.AddInt64(&t.getStats(provider).MemoryHits, 1)
}

func (t *Tracker) TrackPersistedHit(provider string) {
	atomic.AddInt64(&t.getStats(provider).PersistedHits, 1)
}

func (t *Tracker) TrackCacheMiss(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheMisses, 1)
}

// TrackStaleServed counts answers served from an expired record because the
// provider failed transiently.
func (t *Tracker) TrackStaleServed(provider string) {
	atomic.AddInt64(&t.getStats(provider).StaleServed, 1)
}

func (t *Tracker) TrackAPISuccess(provider string) {
	atomic.AddInt64(&t.getStats(provider).APISuccess, 1)
}

func (t *Tracker) TrackAPIFailure(provider string) {
	atomic.AddInt64(&t.getStats(provider).APIFailures, 1)
}

// TrackAPIZero counts successful upstream calls that returned no places.
func (t *Tracker) TrackAPIZero(provider string) {
	atomic.AddInt64(&t.getStats(provider).APIZeroResult, 1)
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ProviderStats, len(t.stats))
	for k, v := range t.stats {
		result[k] = ProviderStats{
			MemoryHits:    atomic.LoadInt64(&v.MemoryHits),
			PersistedHits: atomic.LoadInt64(&v.PersistedHits),
			CacheMisses:   atomic.LoadInt64(&v.CacheMisses),
			StaleServed:   atomic.LoadInt64(&v.StaleServed),
			APISuccess:    atomic.LoadInt64(&v.APISuccess),
			APIFailures:   atomic.LoadInt64(&v.APIFailures),
			APIZeroResult: atomic.LoadInt64(&v.APIZeroResult),
		}
	}
	return result
}

// Reset zeroes every counter but keeps the known providers.
func (t *Tracker) Reset() {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, v := range t.stats {
		atomic.StoreInt64(&v.MemoryHits, 0)
		atomic.StoreInt64(&v.PersistedHits, 0)
		atomic.StoreInt64(&v.CacheMisses, 0)
		atomic.StoreInt64(&v.StaleServed, 0)
		atomic.StoreInt64(&v.APISuccess, 0)
		atomic.StoreInt64(&v.APIFailures, 0)
		atomic.StoreInt64(&v.APIZeroResult, 0)
	}
}
