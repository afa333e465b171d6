// Package places looks up agricultural suppliers near a location through the
// Google Places nearby search API.
package places

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/httpclient"
	"github.com/cropscan/cropscan/internal/logger"
)

// NotConfiguredMessage is returned to callers when no API key is set.
const NotConfiguredMessage = "Set GOOGLE_MAPS_API_KEY environment variable"

const (
	// MaxRadius is the largest radius in meters the nearby search accepts.
	MaxRadius     = 50000
	defaultRadius = 5000
	defaultQuery  = "agro shop"
	defaultTTL    = 30 * time.Minute
	// fetchTimeout bounds a shared upstream call when no timeout is configured.
	fetchTimeout = 10 * time.Second
)

// Place is one search hit.
type Place struct {
	Name     string `json:"name"`
	Vicinity string `json:"vicinity"`
}

// Query describes a nearby search. Zero Radius and empty Keyword use the configured defaults.
type Query struct {
	Lat     float64
	Lon     float64
	Radius  int
	Keyword string
}

// Client performs cached, rate limited nearby searches.
type Client struct {
	apiKey        string
	baseURL       string
	defaultRadius int
	defaultQuery  string
	timeout       time.Duration

	http    *httpclient.Client
	cache   *cache.Cache
	limiter *rate.Limiter
	group   singleflight.Group
}

// NewClient builds a client. A nil httpClient creates one with the configured timeout.
func NewClient(settings *conf.PlacesSettings, httpClient *httpclient.Client) *Client {
	ttl := settings.CacheTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if httpClient == nil {
		httpClient = httpclient.New(&httpclient.Config{DefaultTimeout: settings.Timeout})
	}

	limit := rate.Inf
	if settings.RateLimit > 0 {
		limit = rate.Limit(settings.RateLimit)
	}

	c := &Client{
		apiKey:        settings.APIKey,
		baseURL:       strings.TrimRight(settings.BaseURL, "/"),
		defaultRadius: settings.DefaultRadius,
		defaultQuery:  settings.DefaultQuery,
		timeout:       settings.Timeout,
		http:          httpClient,
		cache:         cache.New(ttl, 2*ttl),
		limiter:       rate.NewLimiter(limit, 1),
	}
	if c.defaultRadius <= 0 {
		c.defaultRadius = defaultRadius
	}
	if c.defaultQuery == "" {
		c.defaultQuery = defaultQuery
	}
	if c.timeout <= 0 {
		c.timeout = fetchTimeout
	}
	return c
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Nearby returns places matching q. Identical concurrent queries share one
// upstream call and results are cached per rounded location. The shared call
// is detached from any single caller's cancellation and bounded by the client
// timeout; a cancelled caller stops waiting without failing the others.
func (c *Client) Nearby(ctx context.Context, q Query) ([]Place, error) {
	if !c.Configured() {
		return nil, errors.Newf("%s", NotConfiguredMessage).
			Component("places").
			Category(errors.CategoryUnavailable).
			Build()
	}

	q, err := c.normalize(q)
	if err != nil {
		return nil, err
	}

	key := cacheKey(q)
	if cached, found := c.cache.Get(key); found {
		if places, ok := cached.([]Place); ok {
			GetLogger().Debug("places cache hit", logger.String("cache_key", key))
			return places, nil
		}
	}

	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		places, err := c.fetch(fctx, q)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, places, cache.DefaultExpiration)
		return places, nil
	})

	select {
	case <-ctx.Done():
		return nil, contextError(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			GetLogger().Debug("places request shared", logger.String("cache_key", key))
		}
		return res.Val.([]Place), nil
	}
}

func contextError(err error) error {
	category := errors.CategoryCancellation
	if errors.Is(err, context.DeadlineExceeded) {
		category = errors.CategoryTimeout
	}
	return errors.New(err).
		Component("places").
		Category(category).
		Build()
}

func (c *Client) normalize(q Query) (Query, error) {
	if math.IsNaN(q.Lat) || q.Lat < -90 || q.Lat > 90 {
		return q, errors.ValidationError(fmt.Sprintf("latitude %v outside [-90,90]", q.Lat))
	}
	if math.IsNaN(q.Lon) || q.Lon < -180 || q.Lon > 180 {
		return q, errors.ValidationError(fmt.Sprintf("longitude %v outside [-180,180]", q.Lon))
	}
	if q.Radius == 0 {
		q.Radius = c.defaultRadius
	}
	if q.Radius < 0 || q.Radius > MaxRadius {
		return q, errors.ValidationError(fmt.Sprintf("radius %d outside (0,%d]", q.Radius, MaxRadius))
	}
	q.Keyword = strings.TrimSpace(q.Keyword)
	if q.Keyword == "" {
		q.Keyword = c.defaultQuery
	}
	return q, nil
}

// cacheKey rounds coordinates to roughly 10 m so nearby repeats hit the cache.
func cacheKey(q Query) string {
	return fmt.Sprintf("%.4f,%.4f:%d:%s", q.Lat, q.Lon, q.Radius, strings.ToLower(q.Keyword))
}

func (c *Client) searchURL(q Query) string {
	params := url.Values{}
	params.Set("location", strconv.FormatFloat(q.Lat, 'f', -1, 64)+","+strconv.FormatFloat(q.Lon, 'f', -1, 64))
	params.Set("radius", strconv.Itoa(q.Radius))
	params.Set("keyword", q.Keyword)
	params.Set("key", c.apiKey)
	return c.baseURL + "/nearbysearch/json?" + params.Encode()
}

func (c *Client) fetch(ctx context.Context, q Query) ([]Place, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.New(err).
			Component("places").
			Category(errors.CategoryCancellation).
			Build()
	}

	start := time.Now()
	resp, err := c.http.Get(ctx, c.searchURL(q))
	if err != nil {
		// url.Error repeats the request URL, which carries the API key
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = fmt.Errorf("%s nearby search: %w", urlErr.Op, urlErr.Err)
		}
		return nil, errors.New(err).
			Component("places").
			Category(errors.CategoryNetwork).
			Timing("nearby-search", time.Since(start)).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != 200 {
		return nil, errors.New(httpclient.StatusError(resp.StatusCode, nil)).
			Component("places").
			Category(errors.CategoryUpstream).
			Build()
	}

	body, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return nil, upstreamError(fmt.Errorf("decode places response: %w", err))
	}

	places, err := parseResults(body)
	if err != nil {
		return nil, err
	}

	GetLogger().Debug("places search completed",
		logger.Int("results", len(places)),
		logger.Int("radius", q.Radius),
		logger.Duration("duration", time.Since(start)))
	return places, nil
}

func parseResults(body *jason.Object) ([]Place, error) {
	status, _ := body.GetString("status")
	switch status {
	case "OK", "":
	case "ZERO_RESULTS":
		return []Place{}, nil
	default:
		msg, _ := body.GetString("error_message")
		return nil, upstreamError(fmt.Errorf("places API status %s: %s", status, msg))
	}

	results, err := body.GetObjectArray("results")
	if err != nil {
		return []Place{}, nil
	}

	places := make([]Place, 0, len(results))
	for _, r := range results {
		name, _ := r.GetString("name")
		vicinity, _ := r.GetString("vicinity")
		places = append(places, Place{Name: name, Vicinity: vicinity})
	}
	return places, nil
}

func upstreamError(err error) error {
	return errors.New(err).
		Component("places").
		Category(errors.CategoryUpstream).
		Build()
}
