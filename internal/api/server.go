package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nearbygo/pkg/probe"
	"nearbygo/pkg/version"
)

// Handlers groups the endpoint handlers. Nil handlers leave their routes unregistered.
type Handlers struct {
	Places   *PlacesHandler
	Coverage *CoverageHandler
	Stats    *StatsHandler
	Config   *ConfigHandler
	Health   *HealthHandler
	Metrics  http.Handler

	MetricsPath string
}

// NewServer creates and configures the HTTP server.
// shutdown is called after POST /api/shutdown has been answered.
func NewServer(addr string, h Handlers, shutdown func()) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      NewMux(h, shutdown),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second, // Upstream calls may take up to the provider timeout
		IdleTimeout:  60 * time.Second,
	}
}

// NewMux registers all routes.
func NewMux(h Handlers, shutdown func()) *http.ServeMux {
	mux := http.NewServeMux()

	// 1. Health Endpoint
	if h.Health != nil {
		mux.Handle("GET /health", h.Health)
	} else {
		mux.HandleFunc("GET /health", handleHealth)
	}

	// 2. Version Endpoint
	mux.HandleFunc("GET /api/version", handleVersion)

	// 3. Places Endpoints
	if h.Places != nil {
		mux.HandleFunc("GET /api/places/nearby", h.Places.HandleNearby)
		mux.HandleFunc("POST /api/places/refresh", h.Places.HandleRefresh)
		mux.HandleFunc("POST /api/places/purge", h.Places.HandlePurge)
		mux.HandleFunc("GET /api/places/usage", h.Places.HandleUsage)
		mux.HandleFunc("DELETE /api/places/memory", h.Places.HandleClearMemory)
	}
	if h.Coverage != nil {
		mux.Handle("GET /api/places/coverage", h.Coverage)
	}

	// 4. Config Endpoints
	if h.Config != nil {
		mux.HandleFunc("/api/config", h.Config.HandleConfig)
	}

	// 5. Stats and Logs
	if h.Stats != nil {
		mux.Handle("GET /api/stats", h.Stats)
	}
	mux.HandleFunc("GET /api/log/latest", handleLatestWarning)

	// 6. Metrics
	if h.Metrics != nil {
		path := h.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, h.Metrics)
	}

	// 7. Shutdown Endpoint
	if shutdown != nil {
		mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
			slog.Info("Graceful shutdown initiated via API")
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write([]byte("Shutting down...")); err != nil {
				slog.Error("Failed to write shutdown response", "error", err)
			}
			// Call shutdown in a goroutine to allow response to flush
			go func() {
				time.Sleep(100 * time.Millisecond)
				shutdown()
			}()
		})
	}

	return mux
}

// HealthHandler runs the health probes on every request.
type HealthHandler struct {
	probes []probe.Probe
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(probes ...probe.Probe) *HealthHandler {
	return &HealthHandler{probes: probes}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string         `json:"status"`
	Checks []probe.Report `json:"checks"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	results := probe.Run(r.Context(), h.probes)
	resp := HealthResponse{Status: "ok", Checks: make([]probe.Report, 0, len(results))}
	for _, res := range results {
		rep := res.Report()
		if !rep.OK && resp.Status == "ok" {
			resp.Status = "degraded"
		}
		resp.Checks = append(resp.Checks, rep)
	}

	status := http.StatusOK
	if !probe.Healthy(results) {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, status, resp)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
