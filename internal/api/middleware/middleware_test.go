package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cropscan/cropscan/internal/logger"
)

type recordedRequest struct {
	method string
	path   string
	status int
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  int
	requests []recordedRequest
}

func (f *fakeRecorder) RequestStarted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakeRecorder) RecordRequest(method, path string, status int, _ int64, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{method, path, status})
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	e := echo.New()
	e.Use(NewMetrics(rec))
	e.GET("/scan/:id", func(c echo.Context) error {
		if c.Param("id") == "404" {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return c.String(http.StatusOK, "ok")
	})

	for _, path := range []string{"/scan/1", "/scan/2", "/scan/404"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	require.Len(t, rec.requests, 3)
	assert.Equal(t, 3, rec.started)
	assert.Equal(t, recordedRequest{"GET", "/scan/:id", 200}, rec.requests[0])
	assert.Equal(t, 404, rec.requests[2].status)
}

func TestRequestLoggerRedactsToken(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewWriterLogger(&buf, logger.LogLevelDebug).Module("api")

	e := echo.New()
	e.Use(NewRequestID())
	e.Use(NewRequestLogger(log))
	e.GET("/admin/stats", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/stats?token=supersecret", http.NoBody))

	out := buf.String()
	assert.NotContains(t, out, "supersecret")
	assert.Contains(t, out, "/admin/stats")
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestBodyLimitRejectsLargeBodies(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(NewBodyLimit("1K"))
	e.POST("/predict", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(strings.Repeat("x", 4096)))
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
