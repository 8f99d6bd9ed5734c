package geoapify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearbygo/pkg/request"
	"nearbygo/pkg/tracker"
	"nearbygo/pkg/upstream"
)

type usageCall struct {
	provider string
	endpoint string
	success  bool
	errMsg   string
}

type recordingUsage struct {
	mu    sync.Mutex
	calls []usageCall
}

func (r *recordingUsage) Record(_ context.Context, provider, endpoint string, success bool, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, usageCall{provider, endpoint, success, errMsg})
}

func (r *recordingUsage) all() []usageCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]usageCall(nil), r.calls...)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, key string, timeout time.Duration) (*Client, *recordingUsage) {
	t.Helper()
	svr := httptest.NewServer(handler)
	t.Cleanup(svr.Close)

	rc := request.New(tracker.New(), request.Options{MaxAttempts: 1, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond})
	usage := &recordingUsage{}
	c := NewClient(Config{BaseURL: svr.URL, APIKey: key, Timeout: timeout, Limit: 5}, rc, usage)
	return c, usage
}

func TestClient_Nearby(t *testing.T) {
	fixture := loadFixture(t)
	var mu sync.Mutex
	var gotQuery url.Values
	var gotPath string

	c, usage := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(fixture)
	}, "secret", time.Second)

	res, err := c.Nearby(context.Background(), 1.5533, 110.3592, 1000)
	require.NoError(t, err)
	assert.Len(t, res.Places, 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/v2/places", gotPath)
	assert.Equal(t, "circle:110.3592,1.5533,1000", gotQuery.Get("filter"))
	assert.Equal(t, "proximity:110.3592,1.5533", gotQuery.Get("bias"))
	assert.Equal(t, "5", gotQuery.Get("limit"))
	assert.Equal(t, "secret", gotQuery.Get("apiKey"))
	assert.Equal(t, strings.Join(DefaultCategories, ","), gotQuery.Get("categories"))

	calls := usage.all()
	require.Len(t, calls, 1, "exactly one usage record per call")
	assert.Equal(t, usageCall{ProviderName, EndpointPlaces, true, ""}, calls[0])
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    error
		wantMsg string
	}{
		{"Unauthorized", http.StatusUnauthorized, `{"statusCode":401,"error":"Unauthorized","message":"Invalid apiKey"}`, upstream.ErrInvalidCredentials, "Invalid apiKey"},
		{"Forbidden", http.StatusForbidden, `{"message":"Key disabled"}`, upstream.ErrInvalidCredentials, "Key disabled"},
		{"Quota", http.StatusTooManyRequests, `{"message":"Too many requests"}`, upstream.ErrQuotaExceeded, "Too many requests"},
		{"Bad request", http.StatusBadRequest, `{"error":"Bad Request"}`, upstream.ErrBadRequest, "Bad Request"},
		{"Server error", http.StatusInternalServerError, `oops`, upstream.ErrUnavailable, "oops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, usage := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, "secret", time.Second)

			_, err := c.Nearby(context.Background(), 1.5533, 110.3592, 1000)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)

			var ue *upstream.Error
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, tt.status, ue.StatusCode)
			assert.Equal(t, tt.wantMsg, ue.Message)
			assert.Equal(t, ProviderName, ue.Provider)

			calls := usage.all()
			require.Len(t, calls, 1)
			assert.False(t, calls[0].success)
			assert.NotEmpty(t, calls[0].errMsg)
		})
	}
}

func TestClient_RecordsEveryAttempt(t *testing.T) {
	fixture := loadFixture(t)
	var hits int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"message":"busy"}`))
			return
		}
		_, _ = w.Write(fixture)
	}))
	t.Cleanup(svr.Close)

	rc := request.New(tracker.New(), request.Options{MaxAttempts: 3, BaseDelay: time.Millisecond, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond})
	usage := &recordingUsage{}
	c := NewClient(Config{BaseURL: svr.URL, APIKey: "secret", Timeout: time.Second}, rc, usage)

	_, err := c.Nearby(context.Background(), 1.5533, 110.3592, 1000)
	require.NoError(t, err)

	calls := usage.all()
	require.Len(t, calls, int(atomic.LoadInt32(&hits)))
	assert.False(t, calls[0].success)
	assert.Contains(t, calls[0].errMsg, "busy")
	assert.False(t, calls[1].success)
	assert.True(t, calls[2].success)
	for _, call := range calls {
		assert.NotContains(t, call.errMsg, "secret")
	}
}

func TestClient_Timeout(t *testing.T) {
	c, usage := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, "secret", 50*time.Millisecond)

	start := time.Now()
	_, err := c.Nearby(context.Background(), 1.5533, 110.3592, 1000)
	assert.ErrorIs(t, err, upstream.ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	calls := usage.all()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].success)
}

func TestClient_NetworkErrorHidesKey(t *testing.T) {
	rc := request.New(tracker.New(), request.Options{MaxAttempts: 1})
	usage := &recordingUsage{}
	// Port 1 on localhost refuses connections.
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", APIKey: "top-secret", Timeout: time.Second}, rc, usage)

	_, err := c.Nearby(context.Background(), 1.5533, 110.3592, 1000)
	require.ErrorIs(t, err, upstream.ErrUnavailable)
	assert.NotContains(t, err.Error(), "top-secret")

	calls := usage.all()
	require.Len(t, calls, 1)
	assert.NotContains(t, calls[0].errMsg, "top-secret")
}

func TestClient_MissingKey(t *testing.T) {
	var hits int32
	c, usage := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}, "", time.Second)

	_, err := c.Nearby(context.Background(), 1.5533, 110.3592, 1000)
	assert.ErrorIs(t, err, upstream.ErrMissingAPIKey)
	assert.False(t, errors.Is(err, upstream.ErrInvalidCredentials))
	assert.Zero(t, atomic.LoadInt32(&hits), "no call without a key")
	assert.Empty(t, usage.all(), "no usage record without a call")
	assert.False(t, c.HasKey())
}

func TestClient_MalformedBody(t *testing.T) {
	c, usage := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}, "secret", time.Second)

	_, err := c.Nearby(context.Background(), 1.5533, 110.3592, 1000)
	assert.ErrorIs(t, err, upstream.ErrUnavailable)
	assert.Len(t, usage.all(), 1)
}

func TestProviderMessage(t *testing.T) {
	assert.Equal(t, "", providerMessage(nil))
	assert.Equal(t, "m", providerMessage([]byte(`{"message":"m","error":"e"}`)))
	assert.Equal(t, "e", providerMessage([]byte(`{"error":"e"}`)))
	assert.Equal(t, "plain text", providerMessage([]byte(" plain text \n")))
	assert.Len(t, providerMessage([]byte(strings.Repeat("x", 500))), 200)
}
