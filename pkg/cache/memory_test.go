package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemory_GetSet(t *testing.T) {
	m := NewMemory[[]string](time.Hour, time.Hour)
	defer m.Close()

	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	m.SetClock(clock.Now)

	_, _, ok := m.Get("k")
	assert.False(t, ok, "empty cache should miss")

	m.Set("k", []string{"a", "b"})
	v, storedAt, ok := m.Get("k")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, v)
	assert.Equal(t, clock.Now(), storedAt)

	// Overwrite resets the TTL.
	clock.Advance(50 * time.Minute)
	m.Set("k", []string{"c"})
	clock.Advance(50 * time.Minute)
	v, _, ok = m.Get("k")
	assert.True(t, ok, "overwritten entry should still be live")
	assert.Equal(t, []string{"c"}, v)
}

func TestMemory_Expiry(t *testing.T) {
	m := NewMemory[int](time.Hour, time.Hour)
	defer m.Close()

	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	m.SetClock(clock.Now)

	m.Set("a", 1)
	m.Set("b", 2)
	clock.Advance(30 * time.Minute)
	m.Set("c", 3)

	clock.Advance(30 * time.Minute)
	_, _, ok := m.Get("a")
	assert.False(t, ok, "entry at exactly TTL should be expired")
	assert.Equal(t, 3, m.Len(), "expired entries linger until swept")

	assert.Equal(t, 2, m.Sweep())
	assert.Equal(t, 1, m.Len())

	v, _, ok := m.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestMemory_ClearAndDelete(t *testing.T) {
	m := NewMemory[string](time.Minute, 0)
	defer m.Close()

	m.Set("a", "x")
	m.Set("b", "y")
	m.Delete("a")
	m.Delete("missing")
	assert.Equal(t, 1, m.Len())

	m.Clear()
	assert.Equal(t, 0, m.Len())
}

func TestMemory_DisabledTTL(t *testing.T) {
	m := NewMemory[string](0, time.Minute)
	defer m.Close()

	m.Set("a", "x")
	_, _, ok := m.Get("a")
	assert.False(t, ok, "zero TTL disables caching")
}

func TestMemory_BackgroundSweep(t *testing.T) {
	m := NewMemory[string](10*time.Millisecond, 5*time.Millisecond)
	defer m.Close()

	m.Set("a", "x")
	deadline := time.Now().Add(2 * time.Second)
	for m.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, m.Len(), "sweeper should remove expired entries")
}

func TestMemory_CloseIdempotent(t *testing.T) {
	m := NewMemory[string](time.Minute, time.Minute)
	m.Close()
	m.Close()
}

func TestMemory_Concurrent(t *testing.T) {
	m := NewMemory[int](time.Minute, time.Millisecond)
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := DeriveKey(float64(i), float64(j), 100)
				m.Set(key, j)
				m.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8*200, m.Len())
}
