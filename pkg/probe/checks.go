package probe

import (
	"context"
	"fmt"
	"time"

	"nearbygo/pkg/request"
	"nearbygo/pkg/upstream"
)

// Counter is the slice of the place cache store the database probe needs.
type Counter interface {
	CountPlaceCache(ctx context.Context) (int, error)
}

// Database checks that the persisted cache answers queries.
func Database(c Counter) Probe {
	return Probe{
		Name:     "Database",
		Critical: true,
		Check: func(ctx context.Context) error {
			if _, err := c.CountPlaceCache(ctx); err != nil {
				return fmt.Errorf("place cache unreadable: %w", err)
			}
			return nil
		},
	}
}

// APIKey checks that the places provider has credentials. Lookups still work
// from the caches without one, so the probe is not critical.
func APIKey(provider string, hasKey func() bool) Probe {
	return Probe{
		Name: "API Key (" + provider + ")",
		Check: func(context.Context) error {
			if !hasKey() {
				return upstream.ErrMissingAPIKey
			}
			return nil
		},
	}
}

// Backoff reports a provider that is currently held back after failures.
func Backoff(provider string, b *request.ProviderBackoff) Probe {
	return Probe{
		Name: "Backoff (" + provider + ")",
		Check: func(context.Context) error {
			n, next := b.State(provider)
			if wait := time.Until(next); wait > 0 {
				return fmt.Errorf("provider backing off for %v after %d failures", wait.Round(time.Second), n)
			}
			return nil
		},
	}
}
