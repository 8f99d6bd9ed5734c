package config

import (
	"context"
	"strconv"
	"time"

	"nearbygo/pkg/store"
)

// Provider defines the interface for accessing unified configuration.
type Provider interface {
	// Cache behavior that can be changed at runtime
	ServeStaleOnError(ctx context.Context) bool
	CoalesceInflight(ctx context.Context) bool
	PurgeAfter(ctx context.Context) time.Duration
	DefaultRadius(ctx context.Context) int
	MaxRadius(ctx context.Context) int

	// Raw access (for components that need deep access)
	AppConfig() *Config
}

// UnifiedProvider implements Provider by bridging static Config and persistent Store.
type UnifiedProvider struct {
	base  *Config
	store store.StateStore
}

// NewProvider creates a new UnifiedProvider.
func NewProvider(base *Config, st store.StateStore) *UnifiedProvider {
	return &UnifiedProvider{
		base:  base,
		store: st,
	}
}

func (p *UnifiedProvider) AppConfig() *Config { return p.base }

// --- Implementations ---

func (p *UnifiedProvider) ServeStaleOnError(ctx context.Context) bool {
	return p.getBool(ctx, KeyServeStaleOnError, p.base.Cache.ServeStaleOnError)
}

func (p *UnifiedProvider) CoalesceInflight(ctx context.Context) bool {
	return p.getBool(ctx, KeyCoalesceInflight, p.base.Cache.CoalesceInflight)
}

func (p *UnifiedProvider) PurgeAfter(ctx context.Context) time.Duration {
	d := p.getDuration(ctx, KeyPurgeAfter, time.Duration(p.base.Cache.PurgeAfter))
	if d <= 0 {
		return time.Duration(p.base.Cache.PurgeAfter)
	}
	return d
}

func (p *UnifiedProvider) DefaultRadius(ctx context.Context) int {
	r := p.getInt(ctx, KeyDefaultRadius, p.base.Cache.DefaultRadius.Meters())
	if r <= 0 {
		return p.base.Cache.DefaultRadius.Meters()
	}
	return r
}

func (p *UnifiedProvider) MaxRadius(ctx context.Context) int {
	r := p.getInt(ctx, KeyMaxRadius, p.base.Cache.MaxRadius.Meters())
	if r <= 0 {
		return p.base.Cache.MaxRadius.Meters()
	}
	return r
}

// --- Helpers ---

func (p *UnifiedProvider) getInt(ctx context.Context, key string, fallback int) int {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if i, err := strconv.Atoi(val); err == nil {
				return i
			}
		}
	}
	return fallback
}

func (p *UnifiedProvider) getBool(ctx context.Context, key string, fallback bool) bool {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			return val == "true"
		}
	}
	return fallback
}

func (p *UnifiedProvider) getDuration(ctx context.Context, key string, fallback time.Duration) time.Duration {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if dur, err := ParseDuration(val); err == nil {
				return dur
			}
		}
	}
	return fallback
}
