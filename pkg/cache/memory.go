package cache

import (
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired entries are removed when no interval
// is given.
const DefaultSweepInterval = 10 * time.Minute

type entry[V any] struct {
	value     V
	storedAt  time.Time
	expiresAt time.Time
}

// Memory is a process-local TTL cache. Expired entries are invisible to Get
// immediately and are removed by a background sweeper until Close is called.
type Memory[V any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[V]
	ttl     time.Duration
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMemory creates a cache with the given TTL and starts its sweeper.
// A non-positive sweep interval uses DefaultSweepInterval.
func NewMemory[V any](ttl, sweepInterval time.Duration) *Memory[V] {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	m := &Memory[V]{
		entries: make(map[string]*entry[V]),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	m.wg.Add(1)
	go m.sweepLoop(sweepInterval)
	return m
}

// SetClock replaces the time source. Intended for tests.
func (m *Memory[V]) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Get returns the value and the time it was stored, or false on miss or expiry.
func (m *Memory[V]) Get(key string) (value V, storedAt time.Time, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, found := m.entries[key]
	if !found || !m.now().Before(e.expiresAt) {
		return value, time.Time{}, false
	}
	return e.value, e.storedAt, true
}

// Set stores value under key, replacing any previous entry and resetting its TTL.
// A non-positive TTL disables caching.
func (m *Memory[V]) Set(key string, value V) {
	if m.ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.entries[key] = &entry[V]{
		value:     value,
		storedAt:  now,
		expiresAt: now.Add(m.ttl),
	}
}

// Delete removes key. Missing keys are ignored.
func (m *Memory[V]) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Clear drops every entry.
func (m *Memory[V]) Clear() {
	m.mu.Lock()
	m.entries = make(map[string]*entry[V])
	m.mu.Unlock()
}

// Len returns the number of entries, including expired ones not yet swept.
func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Sweep removes expired entries and returns how many were dropped.
func (m *Memory[V]) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Close stops the sweeper. It is safe to call more than once.
func (m *Memory[V]) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

func (m *Memory[V]) sweepLoop(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
