package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	DB          DBConfig          `yaml:"db"`
	Server      ServerConfig      `yaml:"server"`
	Request     RequestConfig     `yaml:"request"`
	Places      PlacesConfig      `yaml:"places"`
	Cache       CacheConfig       `yaml:"cache"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// RequestConfig holds HTTP transport settings shared by upstream providers.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	MinGap  Duration      `yaml:"min_gap"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// PlacesConfig holds the nearby places provider settings.
type PlacesConfig struct {
	Provider   string   `yaml:"provider"`
	BaseURL    string   `yaml:"base_url"`
	Key        string   `yaml:"key"` // API Key
	Categories []string `yaml:"categories"`
	Limit      int      `yaml:"limit"`
	Timeout    Duration `yaml:"timeout"`
}

// CacheConfig holds the two-tier cache and proximity reuse settings.
type CacheConfig struct {
	MemoryTTL     Duration `yaml:"memory_ttl"`
	SweepInterval Duration `yaml:"sweep_interval"`

	// ReuseTolerance is the fraction of the radius a stored center may be off.
	ReuseTolerance float64 `yaml:"reuse_tolerance"`
	// CoverageRatio is the minimum stored radius as a fraction of the requested one.
	CoverageRatio      float64  `yaml:"coverage_ratio"`
	ReuseMaxAge        Duration `yaml:"reuse_max_age"`
	UpsertToleranceDeg float64  `yaml:"upsert_tolerance_deg"`
	PurgeAfter         Duration `yaml:"purge_after"`

	DefaultRadius Distance `yaml:"default_radius"`
	MaxRadius     Distance `yaml:"max_radius"`

	CoalesceInflight  bool `yaml:"coalesce_inflight"`
	ServeStaleOnError bool `yaml:"serve_stale_on_error"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MaintenanceConfig holds the background purge schedule.
type MaintenanceConfig struct {
	PurgeOnStartup bool     `yaml:"purge_on_startup"`
	PurgeInterval  Duration `yaml:"purge_interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Server: LogSettings{
				Path:  "logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "logs/requests.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path: "data/nearbygo.db",
		},
		Server: ServerConfig{
			Address: "localhost:8090",
		},
		Request: RequestConfig{
			Retries: 2,
			MinGap:  Duration(100 * time.Millisecond),
			Backoff: BackoffConfig{
				BaseDelay: Duration(1 * time.Second),
				MaxDelay:  Duration(60 * time.Second),
			},
		},
		Places: PlacesConfig{
			Provider:   "geoapify",
			BaseURL:    "https://api.geoapify.com",
			Categories: []string{"tourism", "entertainment", "catering", "accommodation", "leisure", "heritage"},
			Limit:      20,
			Timeout:    Duration(10 * time.Second),
		},
		Cache: CacheConfig{
			MemoryTTL:          Duration(1 * time.Hour),
			SweepInterval:      Duration(10 * time.Minute),
			ReuseTolerance:     0.1,
			CoverageRatio:      0.8,
			ReuseMaxAge:        Duration(7 * Day),
			UpsertToleranceDeg: 0.001,
			PurgeAfter:         Duration(30 * Day),
			DefaultRadius:      Distance(1000),
			MaxRadius:          Distance(50000),
			CoalesceInflight:   false,
			ServeStaleOnError:  true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Maintenance: MaintenanceConfig{
			PurgeOnStartup: true,
			PurgeInterval:  Duration(24 * time.Hour),
		},
	}
}

// envKeys are checked in order when no API key is configured.
var envKeys = []string{"GEOAPIFY_API_KEY", "PLACES_API_KEY"}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT save back to disk (to preserve user formatting and comments).
// A .env file in the working directory or next to the config is loaded first; it never overrides variables already set.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := loadDotEnv(".env", filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	// Env is a fallback only and is never written back to disk.
	if cfg.Places.Key == "" {
		for _, k := range envKeys {
			if key := os.Getenv(k); key != "" {
				cfg.Places.Key = key
				break
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(paths ...string) error {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if err := godotenv.Load(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Validate rejects settings the cache cannot operate with.
func (c *Config) Validate() error {
	var errs []error
	if c.Cache.ReuseTolerance <= 0 || c.Cache.ReuseTolerance >= 1 {
		errs = append(errs, fmt.Errorf("cache.reuse_tolerance must be in (0, 1), got %v", c.Cache.ReuseTolerance))
	}
	if c.Cache.CoverageRatio <= 0 || c.Cache.CoverageRatio > 1 {
		errs = append(errs, fmt.Errorf("cache.coverage_ratio must be in (0, 1], got %v", c.Cache.CoverageRatio))
	}
	if c.Cache.DefaultRadius <= 0 {
		errs = append(errs, fmt.Errorf("cache.default_radius must be positive"))
	}
	if c.Cache.MaxRadius < c.Cache.DefaultRadius {
		errs = append(errs, fmt.Errorf("cache.max_radius (%v) is below cache.default_radius (%v)", c.Cache.MaxRadius, c.Cache.DefaultRadius))
	}
	if c.Places.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("places.timeout must be positive"))
	}
	if p := strings.ToLower(c.Places.Provider); p != "geoapify" {
		errs = append(errs, fmt.Errorf("unsupported places.provider %q", c.Places.Provider))
	}
	return errors.Join(errs...)
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# nearbygo Configuration
# ---------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers), nm (nautical miles), ft (feet)
# The places API key may be left empty and provided via GEOAPIFY_API_KEY (or a .env file).

`)
	data = append(header, data...)

	reKey := regexp.MustCompile(`(?m)^(\s+)reuse_tolerance:`)
	data = reKey.ReplaceAll(data, []byte("${1}# Fraction of the radius a cached center may be away from the query\n${1}reuse_tolerance:"))

	reCoalesce := regexp.MustCompile(`(?m)^(\s+)coalesce_inflight:`)
	data = reCoalesce.ReplaceAll(data, []byte("${1}# Share one upstream call between concurrent identical lookups\n${1}coalesce_inflight:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
