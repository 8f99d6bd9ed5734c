// Package geoapify implements the nearby places provider backed by the
// Geoapify Places API.
package geoapify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nearbygo/pkg/geo"
	"nearbygo/pkg/request"
	"nearbygo/pkg/upstream"
)

const (
	// ProviderName is the provider label used in usage records.
	ProviderName = "geoapify"
	// EndpointPlaces is the endpoint label used in usage records.
	EndpointPlaces = "places"

	DefaultBaseURL = "https://api.geoapify.com"
	DefaultTimeout = 10 * time.Second
	DefaultLimit   = 20
)

// DefaultCategories is the tourism-oriented category filter.
var DefaultCategories = []string{
	"tourism",
	"entertainment",
	"catering",
	"accommodation",
	"leisure",
	"heritage",
}

// Config holds the provider settings.
type Config struct {
	BaseURL    string
	APIKey     string
	Categories []string
	Limit      int
	Timeout    time.Duration
}

// Client fetches nearby places from Geoapify. It satisfies upstream.Provider.
type Client struct {
	cfg    Config
	http   *request.Client
	usage  upstream.UsageRecorder
	logger *slog.Logger
}

// NewClient creates a Client. usage may be nil when accounting is not wanted.
func NewClient(cfg Config, rc *request.Client, usage upstream.UsageRecorder) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories
	}
	return &Client{
		cfg:    cfg,
		http:   rc,
		usage:  usage,
		logger: slog.With("component", "geoapify"),
	}
}

func (c *Client) Name() string { return ProviderName }

// HasKey reports whether an API key is configured.
func (c *Client) HasKey() bool { return c.cfg.APIKey != "" }

// Nearby fetches and normalizes the places around (lat, lng).
func (c *Client) Nearby(ctx context.Context, lat, lng float64, radiusM int) (*upstream.Result, error) {
	body, err := c.Fetch(ctx, lat, lng, radiusM)
	if err != nil {
		return nil, err
	}
	res, err := NormalizeCollection(body, geo.Point{Lat: lat, Lon: lng})
	if err != nil {
		return nil, upstream.Unavailable(ProviderName, fmt.Errorf("invalid response: %w", err))
	}
	return res, nil
}

// Fetch performs one bounded upstream call and returns the raw response body.
// Every HTTP attempt leaves exactly one usage record: attempts the transport
// retries are recorded as they fail, the final one before Fetch returns. A
// missing API key fails before any call is made.
func (c *Client) Fetch(ctx context.Context, lat, lng float64, radiusM int) (body []byte, err error) {
	if c.cfg.APIKey == "" {
		return nil, upstream.ErrMissingAPIKey
	}

	defer func() {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		c.record(ctx, err == nil, msg)
	}()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	callCtx = request.WithRetryHook(callCtx, func(attemptErr error) {
		c.record(ctx, false, c.classify(attemptErr).Error())
	})

	start := time.Now()
	body, err = c.http.Get(callCtx, c.placesURL(lat, lng, radiusM), map[string]string{"Accept": "application/json"})
	if err != nil {
		err = c.classify(err)
		c.logFailure(err, lat, lng, radiusM)
		return nil, err
	}

	c.logger.Debug("Fetched nearby places", "lat", lat, "lng", lng, "radius", radiusM, "bytes", len(body), "took", time.Since(start))
	return body, nil
}

func (c *Client) record(ctx context.Context, success bool, msg string) {
	if c.usage == nil {
		return
	}
	c.usage.Record(ctx, ProviderName, EndpointPlaces, success, msg)
}

func (c *Client) placesURL(lat, lng float64, radiusM int) string {
	lonStr := strconv.FormatFloat(lng, 'f', -1, 64)
	latStr := strconv.FormatFloat(lat, 'f', -1, 64)

	q := url.Values{}
	q.Set("categories", strings.Join(c.cfg.Categories, ","))
	q.Set("filter", fmt.Sprintf("circle:%s,%s,%d", lonStr, latStr, radiusM))
	q.Set("bias", fmt.Sprintf("proximity:%s,%s", lonStr, latStr))
	q.Set("limit", strconv.Itoa(c.cfg.Limit))
	q.Set("apiKey", c.cfg.APIKey)
	return c.cfg.BaseURL + "/v2/places?" + q.Encode()
}

func (c *Client) classify(err error) error {
	var se *request.StatusError
	if errors.As(err, &se) {
		return upstream.FromStatus(ProviderName, se.StatusCode, providerMessage(se.Body))
	}
	// url.Error carries the request URL, which includes the API key.
	var ue *url.Error
	if errors.As(err, &ue) {
		err = ue.Err
	}
	return upstream.Unavailable(ProviderName, err)
}

func (c *Client) logFailure(err error, lat, lng float64, radiusM int) {
	kind, _ := upstream.KindOf(err)
	args := []any{"kind", kind, "lat", lat, "lng", lng, "radius", radiusM, "error", err}
	switch kind {
	case upstream.KindQuotaExceeded, upstream.KindInvalidCredentials:
		// Operator attention: the key is exhausted or wrong.
		c.logger.Error("Places provider rejected call", args...)
	default:
		c.logger.Warn("Places provider call failed", args...)
	}
}

// providerMessage extracts the human-readable message from an error body.
func providerMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
