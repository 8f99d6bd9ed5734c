package model

import (
	"time"
)

// Place is a single nearby place in the canonical, provider-neutral shape.
type Place struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Address    string   `json:"address"`
	Categories []string `json:"categories"` // Provider order is kept

	// Coordinates
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`

	Photos       []string `json:"photos"`
	Rating       *float64 `json:"rating,omitempty"`
	RatingCount  int      `json:"rating_count"`
	Website      string   `json:"website,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	OpeningHours any      `json:"opening_hours,omitempty"` // Opaque, provider format
	Distance     *float64 `json:"distance,omitempty"`      // Meters from the query center

	Raw map[string]any `json:"raw,omitempty"`
}

// CacheRecord is one persisted upstream result for a neighborhood.
type CacheRecord struct {
	ID           int64          `json:"id"`
	Lat          float64        `json:"lat"`
	Lng          float64        `json:"lng"`
	RadiusM      int            `json:"radius_m"`
	Places       []Place        `json:"places"`
	TotalResults int            `json:"total_results"`
	Raw          map[string]any `json:"raw,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CreatedAt    time.Time      `json:"created_at"`
}

// CacheSummary describes a persisted record without its payload.
type CacheSummary struct {
	ID           int64     `json:"id"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	RadiusM      int       `json:"radius_m"`
	TotalResults int       `json:"total_results"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UsageRecord is one upstream call attempt. Records are append-only.
type UsageRecord struct {
	ID        int64     `json:"id"`
	Provider  string    `json:"provider"`
	Endpoint  string    `json:"endpoint"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageTally counts calls by outcome.
type UsageTally struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// DailyUsage is the tally of one provider endpoint on one UTC day.
type DailyUsage struct {
	Provider string `json:"provider"`
	Endpoint string `json:"endpoint"`
	Day      string `json:"day"` // YYYY-MM-DD
	UsageTally
}

// UsageStatistics aggregates usage records over a time window.
type UsageStatistics struct {
	PerProviderPerDay []DailyUsage `json:"per_provider_per_day"`
	Overall           UsageTally   `json:"overall"`
}

// ServedFrom names the tier that answered a lookup.
type ServedFrom string

const (
	ServedFromMemory    ServedFrom = "memory"
	ServedFromPersisted ServedFrom = "persisted"
	ServedFromUpstream  ServedFrom = "upstream"
)

// CoverageCell counts persisted neighborhoods inside one H3 cell.
type CoverageCell struct {
	Cell       string    `json:"cell"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Records    int       `json:"records"`
	MaxRadiusM int       `json:"max_radius_m"`
	NewestAt   time.Time `json:"newest_at"`
	// Boundary is the closed cell outline as [lng, lat] pairs.
	Boundary [][2]float64 `json:"boundary"`
}
