package client

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cropscan/cropscan/internal/api"
	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/prediction"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, AdminToken: "tok", DefaultTimeout: 2 * time.Second, PredictTimeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRejectsBadURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "ftp://host", "not a url", "http://"} {
		_, err := New(Config{BaseURL: raw})
		require.Error(t, err, raw)
		assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	}
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	s := &conf.Settings{}
	s.Server.BackendURL = "http://gateway:9000"
	s.Client.PredictTimeout = 30 * time.Second
	s.Client.DefaultTimeout = 10 * time.Second
	s.Security.AdminToken = "x"

	cfg := ConfigFromSettings(s)
	assert.Equal(t, "http://gateway:9000", cfg.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.PredictTimeout)
	assert.Equal(t, "x", cfg.AdminToken)
}

func TestPredictUploadsMultipart(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict", r.URL.Path)
		assert.Equal(t, "1.5", r.URL.Query().Get("lat"))
		assert.Equal(t, "-2", r.URL.Query().Get("lon"))
		assert.Equal(t, "plot 4", r.URL.Query().Get("notes"))

		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer func() { _ = f.Close() }()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "leaf.jpg", hdr.Filename)
		assert.Equal(t, []byte("imagebytes"), data)

		id := uint(7)
		writeJSON(w, http.StatusOK, api.PredictResponse{
			Crop:   "Tomato",
			TopK:   []prediction.Prediction{{Label: "Tomato_healthy", Confidence: 0.9}},
			ScanID: &id,
		})
	}))

	lat, lon := 1.5, -2.0
	resp, err := c.Predict(t.Context(), PredictParams{Image: []byte("imagebytes"), FileName: "leaf.jpg", Lat: &lat, Lon: &lon, Notes: "plot 4"})
	require.NoError(t, err)
	assert.Equal(t, "Tomato", resp.Crop)
	require.NotNil(t, resp.ScanID)
	assert.Equal(t, uint(7), *resp.ScanID)
}

func TestPredictIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, api.ErrorResponse{Error: "down", Code: 503})
	}))

	_, err := c.Predict(t.Context(), PredictParams{Image: []byte("x")})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHistoryRetriesGatewayErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, []api.ScanSummary{{ID: 2, Label: "Tomato_healthy"}, {ID: 1}})
	}))

	items, err := c.History(t.Context(), 5)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestScanNotFoundCarriesDetail(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/scan/99", r.URL.Path)
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "Scan not found", Detail: "Scan not found", Code: 404})
	}))

	_, err := c.Scan(t.Context(), 99)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Contains(t, err.Error(), "Scan not found")
}

func TestAdminCallsSendToken(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Detail: "Unauthorized", Code: 401})
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/admin/stats":
			writeJSON(w, http.StatusOK, api.StatsResponse{Counts: map[string]int{"a": 2}, TotalScans: 2})
		case r.Method == http.MethodDelete && r.URL.Path == "/scan/3":
			writeJSON(w, http.StatusOK, api.DeleteResponse{Deleted: true})
		case r.URL.Path == "/export/history.xlsx":
			_, _ = w.Write([]byte("PK-xlsx"))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))

	stats, err := c.AdminStats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalScans)

	require.NoError(t, c.DeleteScan(t.Context(), 3))

	var buf bytes.Buffer
	n, err := c.ExportHistory(t.Context(), 0, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, "PK-xlsx", buf.String())
}

func TestUnauthorizedCategory(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Detail: "Unauthorized", Code: 401})
	}))

	_, err := c.AdminStats(t.Context())
	assert.True(t, errors.IsCategory(err, errors.CategoryUnauthorized))
}

func TestHealthDegraded(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, api.HealthResponse{Status: "unavailable", Database: "unavailable"})
	}))

	h, err := c.Health(t.Context())
	require.Error(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "unavailable", h.Database)
}

func TestTransportErrorIsNetworkCategory(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url, DefaultTimeout: time.Second})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.PredictLive(t.Context(), []byte("x"), "")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork), "got %v", err)
}
