// Package places answers "what is near this point" from a two-tier cache in
// front of an external places provider.
package places

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"nearbygo/pkg/cache"
	"nearbygo/pkg/geo"
	"nearbygo/pkg/logging"
	"nearbygo/pkg/metrics"
	"nearbygo/pkg/model"
	"nearbygo/pkg/store"
	"nearbygo/pkg/tracker"
	"nearbygo/pkg/upstream"
)

// ErrInvalidInput marks a lookup rejected before any cache or provider was asked.
var ErrInvalidInput = errors.New("invalid input")

const (
	DefaultMemoryTTL     = time.Hour
	DefaultRadiusM       = 1000
	DefaultMaxRadiusM    = 50000
	DefaultPurgeAfter    = 30 * 24 * time.Hour
	persistWriteDeadline = 5 * time.Second
)

// Settings are the lookup knobs that may change while the service runs.
// config.Provider satisfies it.
type Settings interface {
	ServeStaleOnError(ctx context.Context) bool
	CoalesceInflight(ctx context.Context) bool
	PurgeAfter(ctx context.Context) time.Duration
	DefaultRadius(ctx context.Context) int
	MaxRadius(ctx context.Context) int
}

// StaticSettings is a fixed Settings value.
type StaticSettings struct {
	StaleOnError bool
	Coalesce     bool
	PurgeAge     time.Duration
	Radius       int
	MaxRadiusM   int
}

// DefaultSettings returns the settings used when none are injected.
func DefaultSettings() StaticSettings {
	return StaticSettings{
		StaleOnError: true,
		PurgeAge:     DefaultPurgeAfter,
		Radius:       DefaultRadiusM,
		MaxRadiusM:   DefaultMaxRadiusM,
	}
}

func (s StaticSettings) ServeStaleOnError(context.Context) bool   { return s.StaleOnError }
func (s StaticSettings) CoalesceInflight(context.Context) bool    { return s.Coalesce }
func (s StaticSettings) PurgeAfter(context.Context) time.Duration { return s.PurgeAge }
func (s StaticSettings) DefaultRadius(context.Context) int        { return s.Radius }
func (s StaticSettings) MaxRadius(context.Context) int            { return s.MaxRadiusM }

// UsageAggregator summarizes the upstream usage log.
type UsageAggregator interface {
	Aggregate(ctx context.Context, start, end *time.Time) (*model.UsageStatistics, error)
}

// Deps are the collaborators of a Service. Store and Provider are required.
type Deps struct {
	Store    store.PlaceCacheStore
	Provider upstream.Provider
	Usage    UsageAggregator
	Tracker  *tracker.Tracker
	Metrics  *metrics.Collector
	Settings Settings

	MemoryTTL     time.Duration
	SweepInterval time.Duration

	// Now replaces the clock of the service and its memory cache. Tests only.
	Now func() time.Time
}

// Entry is a memory cache value.
type Entry struct {
	Places []model.Place
	AsOf   time.Time
}

// Result is the answer to one nearby lookup.
type Result struct {
	Places     []model.Place    `json:"places"`
	ServedFrom model.ServedFrom `json:"served_from"`
	AsOf       time.Time        `json:"as_of"`
	Stale      bool             `json:"stale"`
	Key        string           `json:"key"`
	RadiusM    int              `json:"radius_m"`
}

// Empty reports a successful lookup that found nothing.
func (r *Result) Empty() bool { return len(r.Places) == 0 }

// Service orchestrates the memory cache, the persisted store and the provider.
// It holds no per-call state and is safe for concurrent use.
type Service struct {
	memory   *cache.Memory[Entry]
	store    store.PlaceCacheStore
	provider upstream.Provider
	usage    UsageAggregator
	tracker  *tracker.Tracker
	metrics  *metrics.Collector
	settings Settings
	now      func() time.Time
	inflight singleflight.Group
	logger   *slog.Logger
}

// New creates a Service and starts its memory cache sweeper. Call Close to stop it.
func New(d Deps) (*Service, error) {
	if d.Store == nil {
		return nil, errors.New("places: store is required")
	}
	if d.Provider == nil {
		return nil, errors.New("places: provider is required")
	}
	if d.Settings == nil {
		d.Settings = DefaultSettings()
	}
	if d.Tracker == nil {
		d.Tracker = tracker.New()
	}
	if d.MemoryTTL == 0 {
		d.MemoryTTL = DefaultMemoryTTL
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	mem := cache.NewMemory[Entry](d.MemoryTTL, d.SweepInterval)
	mem.SetClock(d.Now)

	return &Service{
		memory:   mem,
		store:    d.Store,
		provider: d.Provider,
		usage:    d.Usage,
		tracker:  d.Tracker,
		metrics:  d.Metrics,
		settings: d.Settings,
		now:      d.Now,
		logger:   slog.With("component", "places"),
	}, nil
}

// GetNearbyPlaces returns the places around (lat, lng). Unless forceRefresh is
// set it tries the memory cache, then a reusable persisted record, before
// calling the provider. A non-positive or non-finite radius uses the default.
func (s *Service) GetNearbyPlaces(ctx context.Context, lat, lng, radiusM float64, forceRefresh bool) (*Result, error) {
	start := time.Now()
	if err := geo.ValidateCoordinates(lat, lng); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	radius := s.radiusClass(ctx, radiusM)
	key := cache.DeriveKey(lat, lng, radius)
	name := s.provider.Name()

	if !forceRefresh {
		if res := s.lookupCached(ctx, key, lat, lng, radius); res != nil {
			s.metrics.ObserveLookup(string(res.ServedFrom), false, time.Since(start))
			return res, nil
		}
		s.tracker.TrackCacheMiss(name)
	}

	entry, err := s.fetch(ctx, key, lat, lng, radius)
	if err != nil {
		if res := s.staleFallback(ctx, err, key, lat, lng, radius); res != nil {
			s.metrics.ObserveLookup(string(res.ServedFrom), true, time.Since(start))
			return res, nil
		}
		return nil, err
	}

	s.metrics.ObserveLookup(string(model.ServedFromUpstream), false, time.Since(start))
	return &Result{
		Places:     slices.Clone(entry.Places),
		ServedFrom: model.ServedFromUpstream,
		AsOf:       entry.AsOf,
		Key:        key,
		RadiusM:    radius,
	}, nil
}

// RefreshCache forces a provider call and overwrites both cache tiers.
func (s *Service) RefreshCache(ctx context.Context, lat, lng, radiusM float64) ([]model.Place, time.Time, error) {
	res, err := s.GetNearbyPlaces(ctx, lat, lng, radiusM, true)
	if err != nil {
		return nil, time.Time{}, err
	}
	return res.Places, res.AsOf, nil
}

// PurgeStaleCache deletes persisted records not updated for maxAgeDays days.
// A non-positive maxAgeDays uses the configured purge age.
func (s *Service) PurgeStaleCache(ctx context.Context, maxAgeDays int) (int64, error) {
	age := time.Duration(maxAgeDays) * 24 * time.Hour
	if maxAgeDays <= 0 {
		age = s.settings.PurgeAfter(ctx)
	}
	cutoff := s.now().Add(-age)

	n, err := s.store.PurgePlaceCache(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge place cache: %w", err)
	}
	s.metrics.Purged(n)
	s.logger.Info("Purged stale place cache", "deleted", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	return n, nil
}

// GetUsageStatistics summarizes provider calls with start <= created_at < end.
func (s *Service) GetUsageStatistics(ctx context.Context, start, end *time.Time) (*model.UsageStatistics, error) {
	if s.usage == nil {
		return &model.UsageStatistics{PerProviderPerDay: []model.DailyUsage{}}, nil
	}
	return s.usage.Aggregate(ctx, start, end)
}

// ClearMemory drops the memory tier. Persisted records are untouched.
func (s *Service) ClearMemory() { s.memory.Clear() }

// MemoryLen returns the number of memory cache entries.
func (s *Service) MemoryLen() int { return s.memory.Len() }

// Tracker returns the live counters.
func (s *Service) Tracker() *tracker.Tracker { return s.tracker }

// Close stops the memory cache sweeper.
func (s *Service) Close() { s.memory.Close() }

func (s *Service) radiusClass(ctx context.Context, radiusM float64) int {
	if radiusM <= 0 || math.IsNaN(radiusM) || math.IsInf(radiusM, 0) {
		return s.settings.DefaultRadius(ctx)
	}
	r := int(math.Round(radiusM))
	if maxR := s.settings.MaxRadius(ctx); maxR > 0 && r > maxR {
		r = maxR
	}
	if r < 1 {
		r = 1
	}
	return r
}

func (s *Service) lookupCached(ctx context.Context, key string, lat, lng float64, radius int) *Result {
	name := s.provider.Name()

	if e, _, ok := s.memory.Get(key); ok {
		s.tracker.TrackMemoryHit(name)
		logging.Trace(s.logger, "Memory cache hit", "key", key)
		return &Result{
			Places:     slices.Clone(e.Places),
			ServedFrom: model.ServedFromMemory,
			AsOf:       e.AsOf,
			Key:        key,
			RadiusM:    radius,
		}
	}

	rec, err := s.store.FindReusable(ctx, lat, lng, radius)
	if err != nil {
		s.logger.Warn("Persisted cache lookup failed, treating as miss", "key", key, "error", err)
		s.metrics.PersistFailure()
		return nil
	}
	if rec == nil {
		return nil
	}

	places := nonNil(rec.Places)
	s.memory.Set(key, Entry{Places: places, AsOf: rec.UpdatedAt})
	s.tracker.TrackPersistedHit(name)
	logging.Trace(s.logger, "Persisted cache hit", "key", key, "record", rec.ID, "record_radius", rec.RadiusM)
	return &Result{
		Places:     slices.Clone(places),
		ServedFrom: model.ServedFromPersisted,
		AsOf:       rec.UpdatedAt,
		Key:        key,
		RadiusM:    radius,
	}
}

// fetch calls the provider and writes the answer through to both tiers. With
// coalescing on, concurrent fetches for one key share a single provider call.
func (s *Service) fetch(ctx context.Context, key string, lat, lng float64, radius int) (Entry, error) {
	if !s.settings.CoalesceInflight(ctx) {
		return s.fetchAndStore(ctx, key, lat, lng, radius)
	}

	// The shared call must not die with whichever caller started it.
	shared := context.WithoutCancel(ctx)
	executed := false
	v, err, _ := s.inflight.Do(key, func() (any, error) {
		executed = true
		return s.fetchAndStore(shared, key, lat, lng, radius)
	})
	if !executed {
		s.metrics.Coalesced()
	}
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

func (s *Service) fetchAndStore(ctx context.Context, key string, lat, lng float64, radius int) (Entry, error) {
	name := s.provider.Name()

	res, err := s.provider.Nearby(ctx, lat, lng, radius)
	if err != nil {
		kind, _ := upstream.KindOf(err)
		if errors.Is(err, upstream.ErrMissingAPIKey) {
			kind = "missing_key"
		}
		s.metrics.UpstreamError(string(kind))
		return Entry{}, err
	}

	places := nonNil(res.Places)
	if len(places) == 0 {
		s.tracker.TrackAPIZero(name)
	}
	now := s.now()
	entry := Entry{Places: places, AsOf: now}
	s.memory.Set(key, entry)

	rec := &model.CacheRecord{
		Lat:          lat,
		Lng:          lng,
		RadiusM:      radius,
		Places:       places,
		TotalResults: res.Total,
		Raw:          res.Raw,
		UpdatedAt:    now,
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistWriteDeadline)
	defer cancel()
	if err := s.store.UpsertPlaceCache(wctx, rec); err != nil {
		s.logger.Warn("Failed to persist places", "key", key, "error", err)
		s.metrics.PersistFailure()
	}

	s.logger.Debug("Fetched places from provider", "key", key, "count", len(places), "total", res.Total)
	return entry, nil
}

func (s *Service) staleFallback(ctx context.Context, cause error, key string, lat, lng float64, radius int) *Result {
	kind, ok := upstream.KindOf(cause)
	if !ok || !kind.Transient() || !s.settings.ServeStaleOnError(ctx) {
		return nil
	}

	rec, err := s.store.FindStale(ctx, lat, lng, radius)
	if err != nil {
		s.logger.Warn("Stale cache lookup failed", "key", key, "error", err)
		s.metrics.PersistFailure()
		return nil
	}
	if rec == nil {
		return nil
	}

	s.tracker.TrackStaleServed(s.provider.Name())
	s.logger.Warn("Serving stale places after provider failure",
		"key", key, "kind", kind, "record", rec.ID, "as_of", rec.UpdatedAt.UTC().Format(time.RFC3339))
	return &Result{
		Places:     slices.Clone(nonNil(rec.Places)),
		ServedFrom: model.ServedFromPersisted,
		AsOf:       rec.UpdatedAt,
		Stale:      true,
		Key:        key,
		RadiusM:    radius,
	}
}

func nonNil(p []model.Place) []model.Place {
	if p == nil {
		return []model.Place{}
	}
	return p
}
