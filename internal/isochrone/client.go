package isochrone

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"golang.org/x/time/rate"

	"github.com/warpaintvision/shopsite/internal/metrics"
	"github.com/warpaintvision/shopsite/internal/planar"
	"github.com/warpaintvision/shopsite/internal/resilience"
)

const (
	DefaultBaseURL    = "https://api.openrouteservice.org"
	DefaultProfile    = "foot-walking"
	DefaultRetryAfter = 60 * time.Second
)

// Option configures an ORSClient.
type Option func(*ORSClient)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *ORSClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithProfile sets the routing profile, e.g. foot-walking.
func WithProfile(p string) Option {
	return func(c *ORSClient) {
		if p != "" {
			c.profile = p
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *ORSClient) {
		c.httpClient = hc
	}
}

// WithRateLimit paces requests to perMinute. Zero or less disables pacing.
func WithRateLimit(perMinute int) Option {
	return func(c *ORSClient) {
		if perMinute <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
}

// WithRetry replaces the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *ORSClient) {
		c.retry = cfg
	}
}

// WithRetryAfter sets the wait used when a 429 carries no Retry-After.
func WithRetryAfter(d time.Duration) Option {
	return func(c *ORSClient) {
		if d > 0 {
			c.retryAfter = d
		}
	}
}

// ORSClient requests isochrones from the openrouteservice API.
type ORSClient struct {
	apiKey     string
	baseURL    string
	profile    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	retryAfter time.Duration
	now        func() time.Time
}

// NewORSClient creates a client. The default pace is the free tier's
// 20 isochrone requests per minute.
func NewORSClient(apiKey string, opts ...Option) *ORSClient {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 4
	retry.OnRetry = resilience.RetryLogger("openrouteservice", "isochrones")

	c := &ORSClient{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		profile:    DefaultProfile,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(3*time.Second), 1),
		retry:      retry,
		retryAfter: DefaultRetryAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Profile returns the routing profile requests are made with.
func (c *ORSClient) Profile() string { return c.profile }

type isochroneRequest struct {
	Locations [][2]float64 `json:"locations"`
	Range     []int        `json:"range"`
}

// Fetch implements Fetcher. Throttling and server errors are retried.
func (c *ORSClient) Fetch(ctx context.Context, anchors []Anchor, rangeSeconds int) ([]Isochrone, error) {
	if len(anchors) == 0 {
		return nil, nil
	}
	if rangeSeconds <= 0 {
		return nil, eris.Errorf("isochrone: invalid range %d", rangeSeconds)
	}

	body, err := json.Marshal(buildRequest(anchors, rangeSeconds))
	if err != nil {
		return nil, eris.Wrap(err, "isochrone: marshal request")
	}

	fc, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*geojson.FeatureCollection, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	return c.match(fc, anchors, rangeSeconds)
}

func buildRequest(anchors []Anchor, rangeSeconds int) isochroneRequest {
	req := isochroneRequest{Range: []int{rangeSeconds}}
	for _, a := range anchors {
		req.Locations = append(req.Locations, [2]float64{a.Lon, a.Lat})
	}
	return req
}

func (c *ORSClient) post(ctx context.Context, body []byte) (*geojson.FeatureCollection, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "isochrone: rate limit")
	}

	url := c.baseURL + "/v2/isochrones/" + c.profile
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "isochrone: build request")
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json, application/geo+json")

	start := c.now()
	resp, err := c.httpClient.Do(req)
	metrics.IsochroneDurationMs.Observe(float64(c.now().Sub(start).Milliseconds()))
	if err != nil {
		metrics.IsochroneRequestsTotal.WithLabelValues("error").Inc()
		return nil, eris.Wrap(err, "isochrone: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.IsochroneRequestsTotal.WithLabelValues("error").Inc()
		return nil, eris.Wrap(err, "isochrone: read body")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.IsochroneRequestsTotal.WithLabelValues("throttled").Inc()
		wait := resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now(), c.retryAfter)
		return nil, resilience.NewThrottledError(eris.New("isochrone: rate limited by upstream"), wait)
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		metrics.IsochroneRequestsTotal.WithLabelValues("transient").Inc()
		return nil, resilience.NewTransientError(
			eris.Errorf("isochrone: upstream returned status %d", resp.StatusCode), resp.StatusCode)
	default:
		metrics.IsochroneRequestsTotal.WithLabelValues("rejected").Inc()
		return nil, eris.Errorf("isochrone: upstream returned status %d: %s", resp.StatusCode, excerpt(data))
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		metrics.IsochroneRequestsTotal.WithLabelValues("error").Inc()
		return nil, eris.Wrap(err, "isochrone: parse response")
	}
	metrics.IsochroneRequestsTotal.WithLabelValues("ok").Inc()
	return &fc, nil
}

// match pairs response features with anchors by group_index, falling back
// to response order.
func (c *ORSClient) match(fc *geojson.FeatureCollection, anchors []Anchor, rangeSeconds int) ([]Isochrone, error) {
	now := c.now().UTC()
	seen := make(map[int]bool, len(anchors))
	var out []Isochrone
	for i, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		idx := i
		if gi, ok := f.Properties["group_index"].(float64); ok {
			idx = int(gi)
		}
		if idx < 0 || idx >= len(anchors) || seen[idx] {
			continue
		}

		var mp *geom.MultiPolygon
		switch g := f.Geometry.(type) {
		case *geom.Polygon:
			mp = planar.AsMultiPolygon(g)
		case *geom.MultiPolygon:
			mp = g
		default:
			return nil, eris.Errorf("isochrone: unexpected geometry %T", f.Geometry)
		}
		seen[idx] = true
		out = append(out, Isochrone{
			AnchorID:     anchors[idx].ID,
			RangeSeconds: rangeSeconds,
			Profile:      c.profile,
			Geom:         mp,
			FetchedAt:    now,
		})
	}
	return out, nil
}

func excerpt(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
