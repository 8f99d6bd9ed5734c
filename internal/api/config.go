package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"nearbygo/pkg/config"
	"nearbygo/pkg/store"
)

// ConfigHandler exposes the cache settings that can change at runtime.
// Overrides live in the state store and survive restarts.
type ConfigHandler struct {
	store   store.StateStore
	cfgProv config.Provider
	appCfg  *config.Config
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(st store.StateStore, cfg config.Provider) *ConfigHandler {
	return &ConfigHandler{
		store:   st,
		cfgProv: cfg,
		appCfg:  cfg.AppConfig(),
	}
}

// ConfigResponse represents the config API response.
type ConfigResponse struct {
	Provider          string `json:"provider"`
	HasAPIKey         bool   `json:"has_api_key"`
	ServeStaleOnError bool   `json:"serve_stale_on_error"`
	CoalesceInflight  bool   `json:"coalesce_inflight"`
	PurgeAfter        string `json:"purge_after"`
	DefaultRadius     int    `json:"default_radius"`
	MaxRadius         int    `json:"max_radius"`
	MemoryTTL         string `json:"memory_ttl"`
	ReuseMaxAge       string `json:"reuse_max_age"`
}

// ConfigRequest represents the config API request for updates.
type ConfigRequest struct {
	ServeStaleOnError *bool  `json:"serve_stale_on_error,omitempty"` // Pointer to detect false vs missing
	CoalesceInflight  *bool  `json:"coalesce_inflight,omitempty"`
	PurgeAfter        string `json:"purge_after,omitempty"`
	DefaultRadius     *int   `json:"default_radius,omitempty"`
	MaxRadius         *int   `json:"max_radius,omitempty"`
}

// HandleConfig is a unified handler for all config-related methods, facilitating CORS/OPTIONS.
func (h *ConfigHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		h.HandleGetConfig(w, r)
	case http.MethodPut, http.MethodPost:
		h.HandleSetConfig(w, r)
	case http.MethodDelete:
		h.HandleResetConfig(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleGetConfig returns the effective configuration.
func (h *ConfigHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.getConfigResponse(r.Context()))
}

func (h *ConfigHandler) getConfigResponse(ctx context.Context) ConfigResponse {
	return ConfigResponse{
		Provider:          h.appCfg.Places.Provider,
		HasAPIKey:         h.appCfg.Places.Key != "",
		ServeStaleOnError: h.cfgProv.ServeStaleOnError(ctx),
		CoalesceInflight:  h.cfgProv.CoalesceInflight(ctx),
		PurgeAfter:        h.cfgProv.PurgeAfter(ctx).String(),
		DefaultRadius:     h.cfgProv.DefaultRadius(ctx),
		MaxRadius:         h.cfgProv.MaxRadius(ctx),
		MemoryTTL:         time.Duration(h.appCfg.Cache.MemoryTTL).String(),
		ReuseMaxAge:       time.Duration(h.appCfg.Cache.ReuseMaxAge).String(),
	}
}

// HandleSetConfig validates and stores overrides, then returns the effective configuration.
func (h *ConfigHandler) HandleSetConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, "Failed to read body")
		return
	}
	defer func() { _ = r.Body.Close() }()

	var req ConfigRequest
	if err := json.Unmarshal(body, &req); err != nil {
		badRequest(w, "Invalid JSON")
		return
	}

	updates, err := h.validate(r.Context(), &req)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	for key, val := range updates {
		if err := h.store.SetState(r.Context(), key, val); err != nil {
			slog.Error("Failed to save state", "key", key, "error", err)
			writeError(w, err)
			return
		}
		slog.Info("Config updated", key, val)
	}

	h.HandleGetConfig(w, r)
}

// HandleResetConfig drops every override.
func (h *ConfigHandler) HandleResetConfig(w http.ResponseWriter, r *http.Request) {
	for _, key := range []string{
		config.KeyServeStaleOnError,
		config.KeyCoalesceInflight,
		config.KeyPurgeAfter,
		config.KeyDefaultRadius,
		config.KeyMaxRadius,
	} {
		if err := h.store.DeleteState(r.Context(), key); err != nil {
			slog.Error("Failed to delete state", "key", key, "error", err)
		}
	}
	h.HandleGetConfig(w, r)
}

// validate checks the whole request before anything is stored.
func (h *ConfigHandler) validate(ctx context.Context, req *ConfigRequest) (map[string]string, error) {
	updates := make(map[string]string)

	if req.ServeStaleOnError != nil {
		updates[config.KeyServeStaleOnError] = strconv.FormatBool(*req.ServeStaleOnError)
	}
	if req.CoalesceInflight != nil {
		updates[config.KeyCoalesceInflight] = strconv.FormatBool(*req.CoalesceInflight)
	}
	if req.PurgeAfter != "" {
		d, err := config.ParseDuration(req.PurgeAfter)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid purge_after %q", req.PurgeAfter)
		}
		updates[config.KeyPurgeAfter] = req.PurgeAfter
	}

	defRadius := h.cfgProv.DefaultRadius(ctx)
	maxRadius := h.cfgProv.MaxRadius(ctx)
	if req.DefaultRadius != nil {
		if *req.DefaultRadius <= 0 {
			return nil, fmt.Errorf("default_radius must be positive")
		}
		defRadius = *req.DefaultRadius
		updates[config.KeyDefaultRadius] = strconv.Itoa(defRadius)
	}
	if req.MaxRadius != nil {
		if *req.MaxRadius <= 0 {
			return nil, fmt.Errorf("max_radius must be positive")
		}
		maxRadius = *req.MaxRadius
		updates[config.KeyMaxRadius] = strconv.Itoa(maxRadius)
	}
	if defRadius > maxRadius {
		return nil, fmt.Errorf("default_radius %d exceeds max_radius %d", defRadius, maxRadius)
	}

	return updates, nil
}
