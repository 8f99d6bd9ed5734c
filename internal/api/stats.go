package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"nearbygo/pkg/logging"
	"nearbygo/pkg/tracker"
)

// CacheSizer reports the size of both cache tiers.
type CacheSizer interface {
	MemoryLen() int
}

// RecordCounter counts persisted records.
type RecordCounter interface {
	CountPlaceCache(ctx context.Context) (int, error)
}

// StatsHandler reports live counters.
type StatsHandler struct {
	tracker *tracker.Tracker
	cache   CacheSizer
	records RecordCounter
	started time.Time
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(t *tracker.Tracker, c CacheSizer, rc RecordCounter) *StatsHandler {
	return &StatsHandler{
		tracker: t,
		cache:   c,
		records: rc,
		started: time.Now(),
	}
}

type ProviderStatsDTO struct {
	MemoryHits    int64 `json:"memory_hits"`
	PersistedHits int64 `json:"persisted_hits"`
	CacheMisses   int64 `json:"cache_misses"`
	StaleServed   int64 `json:"stale_served"`
	APISuccess    int64 `json:"api_success"`
	APIZeroResult int64 `json:"api_zero"`
	APIFailures   int64 `json:"api_errors"`
	HitRate       int64 `json:"hit_rate"`
}

type CacheStats struct {
	MemoryEntries    int `json:"memory_entries"`
	PersistedRecords int `json:"persisted_records"`
}

type RuntimeStats struct {
	UptimeSec  int64  `json:"uptime_sec"`
	Goroutines int    `json:"goroutines"`
	HeapMB     uint64 `json:"heap_mb"`
}

type StatsResponse struct {
	Runtime     RuntimeStats                `json:"runtime"`
	Cache       CacheStats                  `json:"cache"`
	Providers   map[string]ProviderStatsDTO `json:"providers"`
	LastWarning string                      `json:"last_warning,omitempty"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tracker.Snapshot()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := StatsResponse{
		Runtime: RuntimeStats{
			UptimeSec:  int64(time.Since(h.started).Seconds()),
			Goroutines: runtime.NumGoroutine(),
			HeapMB:     bToMb(mem.HeapAlloc),
		},
		Cache: CacheStats{
			MemoryEntries:    h.cache.MemoryLen(),
			PersistedRecords: -1, // Unknown
		},
		Providers:   make(map[string]ProviderStatsDTO),
		LastWarning: formatLogLine(logging.GlobalWarnCapture.GetLastLine()),
	}
	if h.records != nil {
		if n, err := h.records.CountPlaceCache(r.Context()); err == nil {
			resp.Cache.PersistedRecords = n
		}
	}

	for provider, stats := range snapshot {
		hits := stats.MemoryHits + stats.PersistedHits
		total := hits + stats.CacheMisses
		hitRate := int64(0)
		if total > 0 {
			hitRate = (hits * 100) / total
		}
		resp.Providers[provider] = ProviderStatsDTO{
			MemoryHits:    stats.MemoryHits,
			PersistedHits: stats.PersistedHits,
			CacheMisses:   stats.CacheMisses,
			StaleServed:   stats.StaleServed,
			APISuccess:    stats.APISuccess,
			APIZeroResult: stats.APIZeroResult,
			APIFailures:   stats.APIFailures,
			HitRate:       hitRate,
		}
	}

	writeJSON(w, resp)
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
