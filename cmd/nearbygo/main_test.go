package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	logDir := filepath.ToSlash(filepath.Join(dir, "logs"))
	dbPath := filepath.ToSlash(filepath.Join(dir, "data", "test.db"))

	cfg := `
server:
    address: localhost:0  # 0 lets OS choose free port
log:
    server:
        path: "` + logDir + `/test_server.log"
        level: "debug"
    requests:
        path: "` + logDir + `/test_requests.log"
        level: "info"
db:
    path: "` + dbPath + `"
places:
    provider: geoapify
    key: test-key
maintenance:
    purge_on_startup: true
    purge_interval: 1h
`
	path := filepath.Join(dir, "nearbygo.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	return path
}

func TestRun(t *testing.T) {
	path := writeTestConfig(t)

	// Create a context that cancels quickly to verify startup sequence
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := run(ctx, path); err != nil {
		t.Fatalf("run() failed: %v", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("cache:\n    reuse_tolerance: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := run(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "failed to load config") {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestPurge(t *testing.T) {
	path := writeTestConfig(t)

	n, err := purge(context.Background(), path, 30)
	if err != nil {
		t.Fatalf("purge() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing to purge in a fresh database, got %d", n)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	called := false
	h := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/version", http.NoBody))

	if !called {
		t.Error("wrapped handler was not called")
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want caller's id", got)
	}
}

func TestBackground_StopWaitsForReturn(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	stop := background(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		// Simulates a purge finishing its last write after cancellation.
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	})

	<-started
	stop()
	if !finished.Load() {
		t.Fatal("stop returned before the background func finished")
	}
}

func TestBackground_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	stop := background(ctx, func(ctx context.Context) {
		<-ctx.Done()
		close(exited)
	})

	cancel()
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("background func ignored parent cancellation")
	}
	stop()
}
