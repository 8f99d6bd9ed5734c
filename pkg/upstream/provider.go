// Package upstream defines the contract between the places lookup and the
// external "nearby places" providers it fronts.
package upstream

import (
	"context"

	"nearbygo/pkg/model"
)

// Result is a normalized provider answer.
type Result struct {
	Places []model.Place
	Total  int
	Raw    map[string]any // The provider response document
}

// Provider fetches and normalizes nearby places. Every call that reaches the
// network must be reported to the provider's UsageRecorder exactly once.
type Provider interface {
	Name() string
	Nearby(ctx context.Context, lat, lng float64, radiusM int) (*Result, error)
}

// UsageRecorder receives one record per upstream call attempt.
type UsageRecorder interface {
	Record(ctx context.Context, provider, endpoint string, success bool, errMsg string)
}
