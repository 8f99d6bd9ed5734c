// Package usage keeps the append-only log of upstream calls and summarizes it
// for quota monitoring.
package usage

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"nearbygo/pkg/model"
	"nearbygo/pkg/store"
)

// appendTimeout bounds a usage write. The write is detached from the caller's
// context so a cancelled lookup still leaves its record.
const appendTimeout = 5 * time.Second

// Recorder appends usage records and aggregates them.
type Recorder struct {
	store  store.UsageStore
	logger *slog.Logger
}

// NewRecorder creates a Recorder over s.
func NewRecorder(s store.UsageStore) *Recorder {
	return &Recorder{
		store:  s,
		logger: slog.With("component", "usage"),
	}
}

// Record appends one usage record. Failures are logged and swallowed: losing a
// usage row must never fail the lookup that caused it.
func (r *Recorder) Record(ctx context.Context, provider, endpoint string, success bool, errMsg string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	rec := &model.UsageRecord{
		Provider: provider,
		Endpoint: endpoint,
		Success:  success,
		Error:    errMsg,
	}
	if err := r.store.AppendUsage(ctx, rec); err != nil {
		r.logger.Error("Failed to record API usage", "provider", provider, "endpoint", endpoint, "error", err)
	}
}

// Aggregate summarizes records with start <= created_at < end, grouped by
// provider, endpoint and UTC day. Nil bounds are open.
func (r *Recorder) Aggregate(ctx context.Context, start, end *time.Time) (*model.UsageStatistics, error) {
	var from, to time.Time
	if start != nil {
		from = *start
	}
	if end != nil {
		to = *end
	}

	records, err := r.store.ListUsage(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return Summarize(records), nil
}

type dayKey struct {
	provider string
	endpoint string
	day      string
}

// Summarize groups records by provider, endpoint and UTC day.
func Summarize(records []model.UsageRecord) *model.UsageStatistics {
	groups := make(map[dayKey]*model.DailyUsage)
	stats := &model.UsageStatistics{PerProviderPerDay: []model.DailyUsage{}}

	for i := range records {
		rec := &records[i]
		k := dayKey{rec.Provider, rec.Endpoint, rec.CreatedAt.UTC().Format(time.DateOnly)}
		g, ok := groups[k]
		if !ok {
			g = &model.DailyUsage{Provider: k.provider, Endpoint: k.endpoint, Day: k.day}
			groups[k] = g
		}
		tally(&g.UsageTally, rec.Success)
		tally(&stats.Overall, rec.Success)
	}

	for _, g := range groups {
		stats.PerProviderPerDay = append(stats.PerProviderPerDay, *g)
	}
	sort.Slice(stats.PerProviderPerDay, func(i, j int) bool {
		a, b := stats.PerProviderPerDay[i], stats.PerProviderPerDay[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		return a.Endpoint < b.Endpoint
	})
	return stats
}

func tally(t *model.UsageTally, success bool) {
	t.Total++
	if success {
		t.Success++
	} else {
		t.Failed++
	}
}
