package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"nearbygo/pkg/config"
)

type mockStore struct {
	state map[string]string
}

func (m *mockStore) GetState(ctx context.Context, key string) (string, bool) {
	val, ok := m.state[key]
	return val, ok
}

func (m *mockStore) SetState(ctx context.Context, key, val string) error {
	if m.state == nil {
		m.state = make(map[string]string)
	}
	m.state[key] = val
	return nil
}

func (m *mockStore) DeleteState(ctx context.Context, key string) error {
	delete(m.state, key)
	return nil
}

func newConfigHandler(state map[string]string) (*ConfigHandler, *mockStore) {
	st := &mockStore{state: state}
	cfg := config.DefaultConfig()
	cfg.Places.Key = "secret"
	return NewConfigHandler(st, config.NewProvider(cfg, st)), st
}

func TestHandleGetConfig(t *testing.T) {
	tests := []struct {
		name       string
		storeState map[string]string
		wantStale  bool
		wantRadius int
		wantPurge  string
	}{
		{
			name:       "Default Config",
			storeState: map[string]string{},
			wantStale:  true,
			wantRadius: 1000,
			wantPurge:  "720h0m0s",
		},
		{
			name: "Store Overrides",
			storeState: map[string]string{
				config.KeyServeStaleOnError: "false",
				config.KeyDefaultRadius:     "250",
				config.KeyPurgeAfter:        "1w",
			},
			wantStale:  false,
			wantRadius: 250,
			wantPurge:  "168h0m0s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newConfigHandler(tt.storeState)

			rr := httptest.NewRecorder()
			h.HandleConfig(rr, httptest.NewRequest(http.MethodGet, "/api/config", nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rr.Code)
			}

			var resp ConfigResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.ServeStaleOnError != tt.wantStale {
				t.Errorf("ServeStaleOnError = %v, want %v", resp.ServeStaleOnError, tt.wantStale)
			}
			if resp.DefaultRadius != tt.wantRadius {
				t.Errorf("DefaultRadius = %d, want %d", resp.DefaultRadius, tt.wantRadius)
			}
			if resp.PurgeAfter != tt.wantPurge {
				t.Errorf("PurgeAfter = %q, want %q", resp.PurgeAfter, tt.wantPurge)
			}
			if !resp.HasAPIKey || resp.Provider != "geoapify" {
				t.Errorf("unexpected provider info: %+v", resp)
			}
		})
	}
}

func TestHandleSetConfig(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantState map[string]string
	}{
		{
			name:     "Valid update",
			body:     `{"coalesce_inflight": true, "serve_stale_on_error": false, "default_radius": 500, "purge_after": "14d"}`,
			wantCode: http.StatusOK,
			wantState: map[string]string{
				config.KeyCoalesceInflight:  "true",
				config.KeyServeStaleOnError: "false",
				config.KeyDefaultRadius:     "500",
				config.KeyPurgeAfter:        "14d",
			},
		},
		{
			name:      "Default above max",
			body:      `{"default_radius": 60000}`,
			wantCode:  http.StatusBadRequest,
			wantState: map[string]string{},
		},
		{
			name:      "Invalid duration stores nothing",
			body:      `{"coalesce_inflight": true, "purge_after": "soon"}`,
			wantCode:  http.StatusBadRequest,
			wantState: map[string]string{},
		},
		{
			name:      "Invalid JSON",
			body:      `{`,
			wantCode:  http.StatusBadRequest,
			wantState: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, st := newConfigHandler(map[string]string{})

			rr := httptest.NewRecorder()
			h.HandleConfig(rr, httptest.NewRequest(http.MethodPut, "/api/config", bytes.NewBufferString(tt.body)))
			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rr.Code, rr.Body.String())
			}
			if len(st.state) != len(tt.wantState) {
				t.Fatalf("state = %v, want %v", st.state, tt.wantState)
			}
			for k, v := range tt.wantState {
				if st.state[k] != v {
					t.Errorf("state[%s] = %q, want %q", k, st.state[k], v)
				}
			}
		})
	}
}

func TestHandleResetConfig(t *testing.T) {
	h, st := newConfigHandler(map[string]string{
		config.KeyCoalesceInflight: "true",
		config.KeyLastPurge:        "2024-06-01T00:00:00Z",
	})

	rr := httptest.NewRecorder()
	h.HandleConfig(rr, httptest.NewRequest(http.MethodDelete, "/api/config", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if _, ok := st.state[config.KeyCoalesceInflight]; ok {
		t.Error("override not removed")
	}
	if _, ok := st.state[config.KeyLastPurge]; !ok {
		t.Error("non-config state must survive a reset")
	}
}

func TestHandleConfig_Options(t *testing.T) {
	h, _ := newConfigHandler(nil)
	rr := httptest.NewRecorder()
	h.HandleConfig(rr, httptest.NewRequest(http.MethodOptions, "/api/config", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
