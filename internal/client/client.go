// Package client talks to a running CropScan gateway. The CLI uses it for the
// client subcommands; it mirrors the calls the web front end makes.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/cropscan/cropscan/internal/api"
	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/httpclient"
	"github.com/cropscan/cropscan/internal/logger"
	"github.com/cropscan/cropscan/internal/prediction"
)

const (
	DefaultPredictTimeout = 30 * time.Second
	DefaultTimeout        = 10 * time.Second

	retryCount   = 2
	retryWait    = 500 * time.Millisecond
	retryMaxWait = 3 * time.Second
)

// Config selects the gateway and per-call deadlines.
type Config struct {
	BaseURL        string
	PredictTimeout time.Duration
	DefaultTimeout time.Duration
	AdminToken     string
	// Transport replaces the pooled transport, mainly for tests.
	Transport http.RoundTripper
}

// ConfigFromSettings builds a Config from application settings.
func ConfigFromSettings(settings *conf.Settings) Config {
	return Config{
		BaseURL:        settings.Server.BackendURL,
		PredictTimeout: settings.Client.PredictTimeout,
		DefaultTimeout: settings.Client.DefaultTimeout,
		AdminToken:     settings.Security.AdminToken,
	}
}

// Client is a typed gateway client. It is safe for concurrent use.
type Client struct {
	rc             *resty.Client
	hc             *httpclient.Client
	predictTimeout time.Duration
	defaultTimeout time.Duration
	token          string
}

// PredictParams are the inputs of one persisted prediction.
type PredictParams struct {
	Image    []byte
	FileName string
	Lat      *float64
	Lon      *float64
	Notes    string
}

// New validates cfg and returns a client.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Newf("invalid backend URL %q", cfg.BaseURL).
			Component("client").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.PredictTimeout <= 0 {
		cfg.PredictTimeout = DefaultPredictTimeout
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}

	hc := httpclient.New(&httpclient.Config{
		DefaultTimeout: cfg.PredictTimeout,
		UserAgent:      "cropscan-cli",
		Transport:      cfg.Transport,
	})

	rc := resty.NewWithClient(hc.HTTPClient()).
		SetBaseURL(u.String()).
		SetHeader("Accept", "application/json").
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryWait).
		SetRetryMaxWaitTime(retryMaxWait).
		AddRetryCondition(retryIdempotent)

	return &Client{
		rc:             rc,
		hc:             hc,
		predictTimeout: cfg.PredictTimeout,
		defaultTimeout: cfg.DefaultTimeout,
		token:          cfg.AdminToken,
	}, nil
}

// retryIdempotent retries GETs on transport errors and gateway failures.
// POST /predict is never retried because it would store a second scan.
func retryIdempotent(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	switch r.StatusCode() {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.hc.Close()
}

func (c *Client) request(ctx context.Context, apiErr *api.ErrorResponse) *resty.Request {
	return c.rc.R().SetContext(ctx).SetError(apiErr)
}

// Predict uploads an image for a persisted prediction.
func (c *Client) Predict(ctx context.Context, p PredictParams) (*api.PredictResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.predictTimeout)
	defer cancel()

	var out api.PredictResponse
	var apiErr api.ErrorResponse
	req := c.request(ctx, &apiErr).
		SetFileReader("file", fileName(p.FileName), bytes.NewReader(p.Image)).
		SetResult(&out)
	if p.Lat != nil && p.Lon != nil {
		req.SetQueryParam("lat", strconv.FormatFloat(*p.Lat, 'f', -1, 64))
		req.SetQueryParam("lon", strconv.FormatFloat(*p.Lon, 'f', -1, 64))
	}
	if p.Notes != "" {
		req.SetQueryParam("notes", p.Notes)
	}

	resp, err := req.Post("/predict")
	if err := check(resp, err, &apiErr, "predict", c.predictTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// PredictLive classifies an image without storing it.
func (c *Client) PredictLive(ctx context.Context, image []byte, name string) (*prediction.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.predictTimeout)
	defer cancel()

	var out prediction.Result
	var apiErr api.ErrorResponse
	resp, err := c.request(ctx, &apiErr).
		SetFileReader("file", fileName(name), bytes.NewReader(image)).
		SetResult(&out).
		Post("/predict_live")
	if err := check(resp, err, &apiErr, "predict_live", c.predictTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// History lists recent scans, newest first. limit <= 0 uses the server default.
func (c *Client) History(ctx context.Context, limit int) ([]api.ScanSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, c.defaultTimeout)
	defer cancel()

	var out []api.ScanSummary
	var apiErr api.ErrorResponse
	req := c.request(ctx, &apiErr).SetResult(&out)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/history")
	if err := check(resp, err, &apiErr, "history", c.defaultTimeout); err != nil {
		return nil, err
	}
	return out, nil
}

// Scan fetches one scan including its ranked labels.
func (c *Client) Scan(ctx context.Context, id uint) (*api.ScanSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, c.defaultTimeout)
	defer cancel()

	var out api.ScanSummary
	var apiErr api.ErrorResponse
	resp, err := c.request(ctx, &apiErr).
		SetResult(&out).
		SetPathParam("id", strconv.FormatUint(uint64(id), 10)).
		Get("/scan/{id}")
	if err := check(resp, err, &apiErr, "scan", c.defaultTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteScan removes a scan using the admin token.
func (c *Client) DeleteScan(ctx context.Context, id uint) error {
	ctx, cancel := context.WithTimeout(ctx, c.defaultTimeout)
	defer cancel()

	var apiErr api.ErrorResponse
	resp, err := c.request(ctx, &apiErr).
		SetQueryParam("token", c.token).
		SetPathParam("id", strconv.FormatUint(uint64(id), 10)).
		Delete("/scan/{id}")
	return check(resp, err, &apiErr, "delete_scan", c.defaultTimeout)
}

// AdminStats returns the label histogram over recent scans.
func (c *Client) AdminStats(ctx context.Context) (*api.StatsResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.defaultTimeout)
	defer cancel()

	var out api.StatsResponse
	var apiErr api.ErrorResponse
	resp, err := c.request(ctx, &apiErr).
		SetQueryParam("token", c.token).
		SetResult(&out).
		Get("/admin/stats")
	if err := check(resp, err, &apiErr, "admin_stats", c.defaultTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportHistory streams the XLSX history export into w.
func (c *Client) ExportHistory(ctx context.Context, limit int, w io.Writer) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.predictTimeout)
	defer cancel()

	var apiErr api.ErrorResponse
	req := c.request(ctx, &apiErr).SetQueryParam("token", c.token)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/export/history.xlsx")
	if err := check(resp, err, &apiErr, "export", c.predictTimeout); err != nil {
		return 0, err
	}
	n, err := io.Copy(w, bytes.NewReader(resp.Body()))
	if err != nil {
		return n, errors.New(err).
			Component("client").
			Category(errors.CategoryFileIO).
			Context("operation", "write_export").
			Build()
	}
	return n, nil
}

// Health returns the gateway health. A 503 still decodes the body and
// returns it alongside the error.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.defaultTimeout)
	defer cancel()

	var out api.HealthResponse
	resp, err := c.rc.R().SetContext(ctx).SetResult(&out).SetError(&out).Get("/health")
	if err != nil {
		return nil, transportError(err, "health", c.defaultTimeout)
	}
	if resp.IsError() {
		return &out, statusError(resp.StatusCode(), "health", out.Status)
	}
	return &out, nil
}

func check(resp *resty.Response, err error, apiErr *api.ErrorResponse, op string, timeout time.Duration) error {
	if err != nil {
		return transportError(err, op, timeout)
	}
	if !resp.IsError() {
		return nil
	}
	detail := apiErr.Detail
	if detail == "" {
		detail = apiErr.Error
	}
	if detail == "" {
		detail = resp.Status()
	}
	GetLogger().Debug("gateway call failed",
		logger.String("operation", op),
		logger.Int("status", resp.StatusCode()),
		logger.String("correlation_id", apiErr.CorrelationID))
	return statusError(resp.StatusCode(), op, detail)
}

func transportError(err error, op string, timeout time.Duration) error {
	category := errors.CategoryNetwork
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		category = errors.CategoryTimeout
	case errors.Is(err, context.Canceled):
		category = errors.CategoryCancellation
	}
	return errors.New(err).
		Component("client").
		Category(category).
		Context("operation", op).
		Context("timeout", timeout.String()).
		Build()
}

// statusError maps a gateway status back onto an error category.
func statusError(status int, op, detail string) error {
	var category errors.ErrorCategory
	switch status {
	case http.StatusBadRequest:
		category = errors.CategoryValidation
	case http.StatusUnauthorized:
		category = errors.CategoryUnauthorized
	case http.StatusNotFound:
		category = errors.CategoryNotFound
	case http.StatusServiceUnavailable:
		category = errors.CategoryUnavailable
	default:
		category = errors.CategoryUpstream
	}
	return errors.New(fmt.Errorf("%s: %d %s", op, status, detail)).
		Component("client").
		Category(category).
		Context("status_code", status).
		Build()
}

func fileName(name string) string {
	if name == "" {
		return "upload.jpg"
	}
	return name
}
