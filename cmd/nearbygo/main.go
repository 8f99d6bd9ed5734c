package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"nearbygo/internal/api"
	"nearbygo/pkg/config"
	"nearbygo/pkg/db"
	"nearbygo/pkg/db/maintenance"
	"nearbygo/pkg/geoapify"
	"nearbygo/pkg/logging"
	"nearbygo/pkg/metrics"
	"nearbygo/pkg/places"
	"nearbygo/pkg/probe"
	"nearbygo/pkg/request"
	"nearbygo/pkg/store"
	"nearbygo/pkg/tracker"
	"nearbygo/pkg/usage"
	"nearbygo/pkg/version"
)

const defaultConfigPath = "configs/nearbygo.yaml"

var (
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	configPath = flag.String("config", defaultConfigPath, "Path to the config file")
	purgeDays  = flag.Int("purge-days", 0, "Purge persisted places older than N days and exit")
)

func main() {
	flag.Parse()

	// Handle --init-config flag
	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	if *purgeDays > 0 {
		n, err := purge(context.Background(), *configPath, *purgeDays)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Purge failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Purged %d cached place records older than %d days\n", n, *purgeDays)
		return
	}

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

// services is everything a running instance owns.
type services struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	tracker  *tracker.Tracker
	client   *request.Client
	provider *geoapify.Client
	settings *config.UnifiedProvider
	places   *places.Service
	metrics  *metrics.Collector
}

func (s *services) Close() {
	if s.places != nil {
		s.places.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("Failed to close database", "error", err)
		}
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svcs, closeLogs, err := bootstrap(configPath)
	if err != nil {
		return err
	}

	slog.Info("NearbyGo starting", "version", version.Version, "config", configPath)

	probes := startupProbes(svcs)
	if err := probe.AnalyzeResults(probe.Run(ctx, probes)); err != nil {
		svcs.Close()
		closeLogs()
		return fmt.Errorf("startup checks failed: %w", err)
	}

	stopMaintenance := background(ctx, func(ctx context.Context) {
		maintenance.Schedule(ctx, svcs.places, svcs.store, svcs.cfg.Maintenance)
	})
	// The purge loop writes to the store, so it stops before the store closes.
	defer func() {
		stopMaintenance()
		svcs.Close()
		closeLogs()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	h := api.Handlers{
		Places:   api.NewPlacesHandler(svcs.places),
		Coverage: api.NewCoverageHandler(svcs.places),
		Stats:    api.NewStatsHandler(svcs.tracker, svcs.places, svcs.store),
		Config:   api.NewConfigHandler(svcs.store, svcs.settings),
		Health:   api.NewHealthHandler(probes...),
	}
	if svcs.cfg.Metrics.Enabled {
		h.Metrics = svcs.metrics.Handler()
		h.MetricsPath = svcs.cfg.Metrics.Path
	}

	srv := api.NewServer(svcs.cfg.Server.Address, h, cancel)
	srv.Handler = loggingMiddleware(srv.Handler)

	return runServerLifecycle(ctx, srv, quit)
}

// background runs fn in its own goroutine. The returned func cancels fn's
// context and waits for fn to return.
func background(ctx context.Context, fn func(ctx context.Context)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// purge runs a one-off purge against the configured database.
func purge(ctx context.Context, configPath string, days int) (int64, error) {
	svcs, closeLogs, err := bootstrap(configPath)
	if err != nil {
		return 0, err
	}
	defer closeLogs()
	defer svcs.Close()

	return maintenance.Run(ctx, svcs.places, svcs.store, days)
}

// bootstrap loads the configuration, starts logging and wires the services.
// The returned func flushes and closes the log files.
func bootstrap(configPath string) (*services, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	closeLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	svcs, err := initServices(cfg)
	if err != nil {
		closeLogs()
		return nil, nil, err
	}
	return svcs, closeLogs, nil
}

func initServices(cfg *config.Config) (*services, error) {
	st, err := initDB(cfg)
	if err != nil {
		return nil, err
	}
	svcs := &services{cfg: cfg, store: st}
	recorder := usage.NewRecorder(st)

	svcs.tracker = tracker.New()
	svcs.client = request.New(svcs.tracker, request.Options{
		MaxAttempts: cfg.Request.Retries + 1,
		MinGap:      time.Duration(cfg.Request.MinGap),
		BackoffBase: time.Duration(cfg.Request.Backoff.BaseDelay),
		BackoffMax:  time.Duration(cfg.Request.Backoff.MaxDelay),
	})
	svcs.provider = geoapify.NewClient(geoapify.Config{
		BaseURL:    cfg.Places.BaseURL,
		APIKey:     cfg.Places.Key,
		Categories: cfg.Places.Categories,
		Limit:      cfg.Places.Limit,
		Timeout:    time.Duration(cfg.Places.Timeout),
	}, svcs.client, recorder)
	svcs.settings = config.NewProvider(cfg, st)

	// The gauge samples the service, which needs the collector first.
	svcs.metrics = metrics.New(func() int {
		if svcs.places == nil {
			return 0
		}
		return svcs.places.MemoryLen()
	})

	svc, err := places.New(places.Deps{
		Store:         st,
		Provider:      svcs.provider,
		Usage:         recorder,
		Tracker:       svcs.tracker,
		Metrics:       svcs.metrics,
		Settings:      svcs.settings,
		MemoryTTL:     time.Duration(cfg.Cache.MemoryTTL),
		SweepInterval: time.Duration(cfg.Cache.SweepInterval),
	})
	if err != nil {
		svcs.Close()
		return nil, fmt.Errorf("failed to initialize places service: %w", err)
	}
	svcs.places = svc

	if !svcs.provider.HasKey() {
		slog.Warn("No places API key configured, only cached results can be served")
	}
	return svcs, nil
}

func initDB(cfg *config.Config) (*store.SQLiteStore, error) {
	dbConn, err := db.Init(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	st := store.NewSQLiteStore(dbConn)
	st.SetReusePolicy(store.ReusePolicy{
		Tolerance:          cfg.Cache.ReuseTolerance,
		CoverageRatio:      cfg.Cache.CoverageRatio,
		MaxAge:             time.Duration(cfg.Cache.ReuseMaxAge),
		UpsertToleranceDeg: cfg.Cache.UpsertToleranceDeg,
	})
	return st, nil
}

func startupProbes(svcs *services) []probe.Probe {
	return []probe.Probe{
		probe.Database(svcs.store),
		probe.APIKey(geoapify.ProviderName, svcs.provider.HasKey),
		probe.Backoff(geoapify.ProviderName, svcs.client.Backoff()),
	}
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loggingMiddleware tags every request with an ID, echoed in X-Request-ID, and
// writes one line per request to the request log.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
		logging.RequestLogger.Info("Request Processed", "id", id, "method", r.Method, "path", r.URL.Path, "query", r.URL.RawQuery, "duration", time.Since(start))
	})
}
