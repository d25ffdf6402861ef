// Package geocode proxies address lookups to a Nominatim-compatible service.
//
// The browser can't call Nominatim directly: its usage policy requires an
// identifying User-Agent and asks clients to cache results. This package
// does both on the server, relaying the upstream JSON untouched.
//
// REQUEST PATH:
//
//	Search/Reverse → cache hit? → return
//	               → retry.Do(GET upstream) → cache → return
//
// Upstream 5xx, 429 and network errors are retried with backoff; other 4xx
// are not, since repeating the same bad query won't help.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sakif/cycleconnect/internal/metrics"
	"github.com/sakif/cycleconnect/internal/retry"
)

const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org"
	DefaultUserAgent = "cycleconnect/1.0 (group ride finder)"

	searchLimit      = 5
	maxResponseBytes = 1 << 20
)

// ErrUpstream wraps every failure to get a usable answer from the geocoder.
var ErrUpstream = errors.New("geocode: upstream failure")

// Config configures a Client. Zero values fall back to the defaults above.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	CacheTTL  time.Duration

	// OAuth, when non-nil, authenticates every upstream request with the
	// client-credentials grant (commercial Nominatim-compatible providers).
	OAuth *clientcredentials.Config

	// Retry defaults to retry.DefaultConfig().
	Retry *retry.Config
}

// Client is safe for concurrent use.
type Client struct {
	baseURL   string
	userAgent string
	ttl       time.Duration
	http      *http.Client
	cache     Cache
	retry     *retry.Config
	logger    *slog.Logger
}

// New builds a Client. cache may be nil to disable caching.
func New(cfg Config, cache Cache, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultConfig()
	}

	// Outgoing calls carry the incoming request's trace context.
	base := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	httpClient := base
	if cfg.OAuth != nil {
		// clientcredentials fetches and refreshes the token through base,
		// so token requests are traced and time-limited too.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = cfg.OAuth.Client(ctx)
		httpClient.Timeout = cfg.Timeout
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		ttl:       cfg.CacheTTL,
		http:      httpClient,
		cache:     cache,
		retry:     cfg.Retry,
		logger:    logger,
	}
}

// Search looks up free-text q and returns the upstream JSON array.
func (c *Client) Search(ctx context.Context, q string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", q)
	params.Set("limit", strconv.Itoa(searchLimit))
	return c.fetch(ctx, "search", "/search", params)
}

// Reverse returns the upstream JSON object describing the place at lat/lng.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	return c.fetch(ctx, "reverse", "/reverse", params)
}

func (c *Client) fetch(ctx context.Context, kind, path string, params url.Values) (json.RawMessage, error) {
	// url.Values.Encode sorts by key, so equal queries share a key.
	query := params.Encode()
	key := "geocode:" + path + "?" + query

	if c.cache != nil {
		b, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("geocode cache read failed", slog.String("error", err.Error()))
		} else if ok {
			metrics.ObserveGeocode(kind, "cache")
			return json.RawMessage(b), nil
		}
	}

	endpoint := c.baseURL + path + "?" + query
	body, err := retry.Do(ctx, c.retry, c.logger, "geocode "+kind, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, endpoint)
	})
	if err != nil {
		metrics.ObserveGeocode(kind, "error")
		c.logger.Error("geocoding failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	metrics.ObserveGeocode(kind, "upstream")

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, body, c.ttl); err != nil {
			c.logger.Warn("geocode cache write failed", slog.String("error", err.Error()))
		}
	}
	return json.RawMessage(body), nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, retry.Permanent(fmt.Errorf("upstream status %d", resp.StatusCode))
	}

	if !json.Valid(body) {
		return nil, retry.Permanent(errors.New("upstream returned invalid JSON"))
	}
	return body, nil
}
