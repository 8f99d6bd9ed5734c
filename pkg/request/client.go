package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nearbygo/pkg/tracker"
	"nearbygo/pkg/version"
)

var defaultUserAgent = fmt.Sprintf("nearbygo/%s (places cache)", version.Version)

// maxBodyBytes bounds provider responses read into memory.
const maxBodyBytes = 16 << 20

// StatusError is returned for non-2xx responses. Body holds the (possibly
// truncated) response so callers can extract the provider's message.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: status %d", e.StatusCode)
}

// Options tunes the client. Zero values use defaults.
type Options struct {
	// MaxAttempts per request, counting the first. Only network errors and 5xx
	// responses are retried.
	MaxAttempts int
	// BaseDelay is the first retry delay; it doubles per attempt.
	BaseDelay time.Duration
	// MinGap is the pause a provider worker takes between requests.
	MinGap time.Duration
	// Backoff delays the next request to a provider after 429/5xx responses.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	UserAgent   string
}

func (o *Options) withDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 2
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.MinGap < 0 {
		o.MinGap = 0
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = time.Minute
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
}

// Client serializes HTTP requests per provider host, retries transient
// failures and tracks outcomes.
type Client struct {
	httpClient *http.Client
	tracker    *tracker.Tracker
	backoff    *ProviderBackoff
	opts       Options

	// Queues per provider (host)
	queues map[string]chan job
	mu     sync.Mutex // Protects queues map
}

type job struct {
	req      *http.Request
	headers  map[string]string
	respChan chan jobResult
}

type jobResult struct {
	body []byte
	err  error
}

// New creates a new Client. The per-request deadline comes from the caller's
// context.
func New(t *tracker.Tracker, opts Options) *Client {
	opts.withDefaults()
	if t == nil {
		t = tracker.New()
	}
	return &Client{
		httpClient: &http.Client{},
		tracker:    t,
		backoff:    NewProviderBackoff(opts.BackoffBase, opts.BackoffMax),
		opts:       opts,
		queues:     make(map[string]chan job),
	}
}

type retryHookKey struct{}

// WithRetryHook returns a context whose requests call fn, from the worker,
// with the failure of every attempt that is followed by another attempt. The
// final attempt's outcome is the one Get returns.
func WithRetryHook(ctx context.Context, fn func(err error)) context.Context {
	return context.WithValue(ctx, retryHookKey{}, fn)
}

func retryHookFrom(ctx context.Context) func(error) {
	fn, _ := ctx.Value(retryHookKey{}).(func(error))
	return fn
}

// Backoff exposes the provider backoff state.
func (c *Client) Backoff() *ProviderBackoff {
	return c.backoff
}

// Get performs a queued GET request and returns the body of a 2xx response.
func (c *Client) Get(ctx context.Context, u string, headers map[string]string) ([]byte, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	provider := normalizeProvider(parsedURL.Host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan jobResult, 1)
	c.dispatch(provider, job{req: req, headers: headers, respChan: respChan})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.body, res.err
	}
}

func normalizeProvider(host string) string {
	host = strings.ToLower(host)
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	if strings.HasSuffix(host, ".geoapify.com") || host == "geoapify.com" {
		return "geoapify"
	}
	return host
}

// dispatch sends the job to the provider's queue, creating the queue/worker if needed.
func (c *Client) dispatch(provider string, j job) {
	c.mu.Lock()
	q, ok := c.queues[provider]
	if !ok {
		q = make(chan job, 100)
		c.queues[provider] = q
		go c.worker(provider, q)
	}
	c.mu.Unlock()

	// Blocks if the queue is full, throttling the caller.
	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker processes requests for a specific provider sequentially.
func (c *Client) worker(provider string, q <-chan job) {
	for j := range q {
		ctx := j.req.Context()
		if ctx.Err() != nil {
			slog.Warn("Job dropped from queue (context expired)", "provider", provider, "error", ctx.Err())
			j.respChan <- jobResult{err: ctx.Err()}
			continue
		}

		if err := c.backoff.Wait(ctx, provider); err != nil {
			j.respChan <- jobResult{err: err}
			continue
		}

		uaSet := false
		for k, v := range j.headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				uaSet = true
			}
		}
		if !uaSet {
			j.req.Header.Set("User-Agent", c.opts.UserAgent)
		}

		body, err := c.executeWithBackoff(j.req)

		var se *StatusError
		switch {
		case err == nil:
			c.tracker.TrackAPISuccess(provider)
			c.backoff.RecordSuccess(provider)
		case errors.As(err, &se) && (se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500):
			c.tracker.TrackAPIFailure(provider)
			c.backoff.RecordFailure(provider)
		default:
			c.tracker.TrackAPIFailure(provider)
		}

		j.respChan <- jobResult{body: body, err: err}

		if c.opts.MinGap > 0 {
			time.Sleep(c.opts.MinGap)
		}
	}
}

// executeWithBackoff attempts the request, retrying network errors and 5xx
// responses with exponential delay. 429 is returned at once: retrying inside a
// quota window only burns more quota.
func (c *Client) executeWithBackoff(req *http.Request) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		if attempt > 0 {
			sleepDur := time.Duration(math.Pow(2, float64(attempt-1))) * c.opts.BaseDelay
			select {
			case <-time.After(sleepDur):
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
			if hook := retryHookFrom(req.Context()); hook != nil {
				hook(lastErr)
			}
		}

		slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			slog.Warn("Request failed", "host", req.URL.Host, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			slog.Warn("API Backoff", "status", resp.StatusCode, "host", req.URL.Host, "attempt", attempt+1)
			lastErr = &StatusError{StatusCode: resp.StatusCode, Body: body}
			continue
		}
		if resp.StatusCode >= 300 {
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
		}
		if readErr != nil {
			return nil, fmt.Errorf("read error: %w", readErr)
		}
		return body, nil
	}

	return nil, lastErr
}
