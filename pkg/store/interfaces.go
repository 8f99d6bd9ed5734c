package store

import (
	"context"
	"time"

	"github.com/paulmach/orb"

	"nearbygo/pkg/model"
)

// PlaceCacheStore persists upstream results per neighborhood.
type PlaceCacheStore interface {
	// FindReusable returns the freshest record whose center is close enough to
	// (lat, lng), whose radius covers enough of radiusM and which is young enough
	// to serve. It returns nil, nil when nothing qualifies.
	FindReusable(ctx context.Context, lat, lng float64, radiusM int) (*model.CacheRecord, error)
	// FindStale is FindReusable without the age limit.
	FindStale(ctx context.Context, lat, lng float64, radiusM int) (*model.CacheRecord, error)
	UpsertPlaceCache(ctx context.Context, rec *model.CacheRecord) error
	PurgePlaceCache(ctx context.Context, cutoff time.Time) (int64, error)
	ListPlaceCacheInBounds(ctx context.Context, bound orb.Bound) ([]model.CacheSummary, error)
	CountPlaceCache(ctx context.Context) (int, error)
}

// UsageStore handles the append-only upstream usage log.
type UsageStore interface {
	AppendUsage(ctx context.Context, rec *model.UsageRecord) error
	// ListUsage returns records with start <= created_at < end. Zero bounds are open.
	ListUsage(ctx context.Context, start, end time.Time) ([]model.UsageRecord, error)
}

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}
