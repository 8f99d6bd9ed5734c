package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nearbygo.yaml")
	t.Setenv("GEOAPIFY_API_KEY", "")
	t.Setenv("PLACES_API_KEY", "")

	tests := []struct {
		name          string
		setup         func()
		validate      func(*testing.T, *Config)
		checkFile     func(*testing.T)
		expectedError bool
	}{
		{
			name:  "NewFile_Defaults",
			setup: func() {}, // No file
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Places.Provider != "geoapify" {
					t.Errorf("expected default provider 'geoapify', got '%s'", cfg.Places.Provider)
				}
				if cfg.Cache.DefaultRadius.Meters() != 1000 {
					t.Errorf("expected default radius 1000, got %v", cfg.Cache.DefaultRadius)
				}
				if time.Duration(cfg.Cache.PurgeAfter) != 30*Day {
					t.Errorf("expected purge_after 30d, got %v", time.Duration(cfg.Cache.PurgeAfter))
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if !strings.Contains(string(content), "provider: geoapify") {
					t.Error("config file missing default values")
				}
				if !strings.Contains(string(content), "default_radius: 1000m") {
					t.Error("config file missing default_radius default")
				}
				if !strings.Contains(string(content), "# Share one upstream call") {
					t.Error("config file missing coalesce comment")
				}
			},
		},
		{
			name: "ExistingFile_Override",
			setup: func() {
				err := os.WriteFile(configPath, []byte("places:\n  key: from-file\n  timeout: 5s\ncache:\n  default_radius: 2km\n  coalesce_inflight: true\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Places.Key != "from-file" {
					t.Errorf("expected key 'from-file', got '%s'", cfg.Places.Key)
				}
				if time.Duration(cfg.Places.Timeout) != 5*time.Second {
					t.Errorf("expected timeout 5s, got %v", time.Duration(cfg.Places.Timeout))
				}
				if cfg.Cache.DefaultRadius.Meters() != 2000 {
					t.Errorf("expected default radius 2000, got %v", cfg.Cache.DefaultRadius)
				}
				if !cfg.Cache.CoalesceInflight {
					t.Error("expected coalesce_inflight true")
				}
				// Untouched sections keep their defaults
				if cfg.Cache.ReuseTolerance != 0.1 {
					t.Errorf("expected default reuse tolerance, got %v", cfg.Cache.ReuseTolerance)
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if strings.Contains(string(content), "reuse_tolerance") {
					t.Error("existing config file must not be rewritten")
				}
			},
		},
		{
			name: "Invalid_Values",
			setup: func() {
				err := os.WriteFile(configPath, []byte("cache:\n  reuse_tolerance: 2\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			expectedError: true,
		},
		{
			name: "Malformed_YAML",
			setup: func() {
				err := os.WriteFile(configPath, []byte("cache: [unclosed"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Remove(configPath)
			tt.setup()

			cfg, err := Load(configPath)
			if tt.expectedError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.validate(t, cfg)
			if tt.checkFile != nil {
				tt.checkFile(t)
			}
		})
	}
}

func TestLoad_EnvFallback(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nearbygo.yaml")

	t.Run("Environment", func(t *testing.T) {
		t.Setenv("GEOAPIFY_API_KEY", "env-key")
		cfg, err := Load(configPath)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Places.Key != "env-key" {
			t.Errorf("expected env key, got %q", cfg.Places.Key)
		}
		content, _ := os.ReadFile(configPath)
		if strings.Contains(string(content), "env-key") {
			t.Error("env key must not be written to the config file")
		}
	})

	t.Run("File wins over environment", func(t *testing.T) {
		t.Setenv("GEOAPIFY_API_KEY", "env-key")
		if err := os.WriteFile(configPath, []byte("places:\n  key: file-key\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(configPath)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Places.Key != "file-key" {
			t.Errorf("expected file key, got %q", cfg.Places.Key)
		}
	})
}

func TestLoad_DotEnv(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nearbygo.yaml")

	// godotenv sets the variable for the process; t.Setenv restores it afterwards.
	t.Setenv("GEOAPIFY_API_KEY", "")
	os.Unsetenv("GEOAPIFY_API_KEY")
	t.Setenv("PLACES_API_KEY", "")

	if err := os.WriteFile(filepath.Join(tempDir, ".env"), []byte("GEOAPIFY_API_KEY=dotenv-key\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Places.Key != "dotenv-key" {
		t.Errorf("expected key from .env, got %q", cfg.Places.Key)
	}
}

func TestGenerateDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "nearbygo.yaml")
	if err := GenerateDefault(path); err != nil {
		t.Fatalf("GenerateDefault failed: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if !strings.HasPrefix(string(content), "# nearbygo Configuration") {
		t.Error("missing header")
	}

	// Existing files are left alone.
	if err := os.WriteFile(path, []byte("db:\n  path: x.db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := GenerateDefault(path); err != nil {
		t.Fatalf("GenerateDefault failed: %v", err)
	}
	content, _ = os.ReadFile(path)
	if string(content) != "db:\n  path: x.db\n" {
		t.Error("GenerateDefault overwrote an existing file")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg.Cache.MaxRadius = 10
	cfg.Places.Provider = "osm"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "max_radius") || !strings.Contains(err.Error(), "osm") {
		t.Errorf("expected both problems reported, got %v", err)
	}
}
