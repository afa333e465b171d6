package observability

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cropscan/cropscan/internal/conf"
)

// NewMetrics uses a private registry, so concurrent construction must not collide.
func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()

	const numGoroutines = 50

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if !assert.NoError(t, err) {
				return
			}
			assert.NotNil(t, m.registry)
			assert.NotNil(t, m.Prediction)
			assert.NotNil(t, m.Datastore)
			assert.NotNil(t, m.HTTP)
			assert.NotNil(t, m.Integrations)
			assert.NotNil(t, m.MQTT)
			assert.NotNil(t, m.Notification)
		})
	}
	wg.Wait()
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Prediction.RecordPrediction("success", "Tomato", "Tomato_healthy", 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `cropscan_predictions_total{crop="Tomato",status="success"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestEndpointRequiresListener(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	_, err = NewEndpoint(&conf.Settings{}, m)
	require.Error(t, err)

	s := &conf.Settings{}
	s.Metrics.Enabled = true
	_, err = NewEndpoint(s, m)
	require.Error(t, err)
}

func TestEndpointServesAndStops(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s := &conf.Settings{}
	s.Metrics.Enabled = true
	s.Metrics.Listen = addr
	e, err := NewEndpoint(s, m)
	require.NoError(t, err)
	assert.Same(t, m, e.GetMetrics())

	ctx, cancel := context.WithCancel(t.Context())
	require.NoError(t, e.Start(ctx))

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "http_requests_in_flight"))

	cancel()
	assert.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return true
		}
		_ = resp.Body.Close()
		return false
	}, 2*time.Second, 20*time.Millisecond)
}
