// Package maintenance purges persisted place cache records that have outlived
// the purge age, at startup and on a schedule.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"nearbygo/pkg/config"
	"nearbygo/pkg/store"
)

// Purger deletes persisted records older than maxAgeDays. A non-positive
// value uses the configured purge age.
type Purger interface {
	PurgeStaleCache(ctx context.Context, maxAgeDays int) (int64, error)
}

// Run purges once and records when it happened. It blocks until completion.
func Run(ctx context.Context, p Purger, st store.StateStore, maxAgeDays int) (int64, error) {
	slog.Info("Starting database maintenance...")

	n, err := p.PurgeStaleCache(ctx, maxAgeDays)
	if err != nil {
		return 0, fmt.Errorf("cache purge failed: %w", err)
	}

	if err := st.SetState(ctx, config.KeyLastPurge, time.Now().UTC().Format(time.RFC3339)); err != nil {
		// The purge itself succeeded.
		slog.Warn("Failed to record purge time", "error", err)
	}
	slog.Info("Cache purge completed", "deleted", n)
	return n, nil
}

// LastPurge returns when Run last completed, if ever.
func LastPurge(ctx context.Context, st store.StateStore) (time.Time, bool) {
	val, ok := st.GetState(ctx, config.KeyLastPurge)
	if !ok || val == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Due reports whether a purge is due: never run, or last run at least interval ago.
func Due(ctx context.Context, st store.StateStore, interval time.Duration, now time.Time) bool {
	last, ok := LastPurge(ctx, st)
	if !ok {
		return true
	}
	return now.Sub(last) >= interval
}

// Schedule runs purges until ctx is cancelled. With onStartup set it purges
// immediately when one is due; after that every interval. A non-positive
// interval disables the periodic purge.
func Schedule(ctx context.Context, p Purger, st store.StateStore, cfg config.MaintenanceConfig) {
	interval := time.Duration(cfg.PurgeInterval)

	if cfg.PurgeOnStartup && (interval <= 0 || Due(ctx, st, interval, time.Now())) {
		if _, err := Run(ctx, p, st, 0); err != nil {
			slog.Error("Startup purge failed", "error", err)
		}
	}

	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := Run(ctx, p, st, 0); err != nil {
				slog.Error("Scheduled purge failed", "error", err)
			}
		}
	}
}
