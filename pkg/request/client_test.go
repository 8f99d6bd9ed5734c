package request

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearbygo/pkg/tracker"
)

func fastOptions() Options {
	return Options{MaxAttempts: 3, BaseDelay: time.Millisecond, BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond}
}

func TestGet_Sequential(t *testing.T) {
	var conc, peak int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&conc, 1)
		defer atomic.AddInt32(&conc, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if current <= p || atomic.CompareAndSwapInt32(&peak, p, current) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	}))
	defer svr.Close()

	tr := tracker.New()
	client := New(tr, fastOptions())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err := client.Get(context.Background(), svr.URL, nil)
			assert.NoError(t, err)
			assert.Equal(t, "ok", string(body))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&peak), "requests to one host should run sequentially")
	var total int64
	for _, s := range tr.Snapshot() {
		total += s.APISuccess
	}
	assert.Equal(t, int64(3), total)
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer svr.Close()

	client := New(tracker.New(), fastOptions())
	body, err := client.Get(context.Background(), svr.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGet_RetryHook(t *testing.T) {
	var calls int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer svr.Close()

	var mu sync.Mutex
	var retried []error
	ctx := WithRetryHook(context.Background(), func(err error) {
		mu.Lock()
		defer mu.Unlock()
		retried = append(retried, err)
	})

	client := New(tracker.New(), fastOptions())
	_, err := client.Get(ctx, svr.URL, nil)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	// Every attempt but the last is reported through the hook.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, retried, 2)
	for _, e := range retried {
		require.True(t, errors.As(e, &se))
		assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	}
}

func TestGet_RetryHookNotCalledOnSuccess(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer svr.Close()

	var hooked int32
	ctx := WithRetryHook(context.Background(), func(error) { atomic.AddInt32(&hooked, 1) })

	_, err := New(tracker.New(), fastOptions()).Get(ctx, svr.URL, nil)
	require.NoError(t, err)
	assert.Zero(t, atomic.LoadInt32(&hooked))
}

func TestGet_StatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{"Unauthorized not retried", http.StatusUnauthorized, 1},
		{"Quota not retried", http.StatusTooManyRequests, 1},
		{"Bad request not retried", http.StatusBadRequest, 1},
		{"Server error retried to exhaustion", http.StatusServiceUnavailable, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer svr.Close()

			client := New(tracker.New(), fastOptions())
			_, err := client.Get(context.Background(), svr.URL, nil)

			var se *StatusError
			require.True(t, errors.As(err, &se), "expected StatusError, got %v", err)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.JSONEq(t, `{"message":"nope"}`, string(se.Body))
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestGet_QuotaTriggersProviderBackoff(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer svr.Close()

	client := New(tracker.New(), fastOptions())
	_, _ = client.Get(context.Background(), svr.URL, nil)

	host := svr.Listener.Addr().String()
	fc, _ := client.Backoff().State(normalizeProvider(host))
	assert.Equal(t, 1, fc)
}

func TestGet_ContextTimeout(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer svr.Close()

	client := New(tracker.New(), fastOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, svr.URL, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGet_UserAgent(t *testing.T) {
	var got atomic.Value
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("User-Agent"))
	}))
	defer svr.Close()

	client := New(tracker.New(), fastOptions())
	_, err := client.Get(context.Background(), svr.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultUserAgent, got.Load())

	_, err = client.Get(context.Background(), svr.URL, map[string]string{"user-agent": "custom"})
	require.NoError(t, err)
	assert.Equal(t, "custom", got.Load())
}

func TestNormalizeProvider(t *testing.T) {
	tests := []struct {
		host     string
		expected string
	}{
		{"api.geoapify.com", "geoapify"},
		{"API.Geoapify.com:443", "geoapify"},
		{"geoapify.com", "geoapify"},
		{"127.0.0.1:8080", "127.0.0.1"},
		{"other.com", "other.com"},
	}

	for _, tt := range tests {
		if got := normalizeProvider(tt.host); got != tt.expected {
			t.Errorf("normalizeProvider(%q) = %q; want %q", tt.host, got, tt.expected)
		}
	}
}
