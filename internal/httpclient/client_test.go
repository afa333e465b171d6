package httpclient

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cropscan/cropscan/internal/errors"
)

func TestNew(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		client := New(nil)
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.Equal(t, defaultUserAgent, client.userAgent)
	})

	t.Run("custom config", func(t *testing.T) {
		client := New(&Config{DefaultTimeout: 5 * time.Second, UserAgent: "cropscan-test/1.0"})
		assert.Equal(t, 5*time.Second, client.defaultTimeout)
		assert.Equal(t, "cropscan-test/1.0", client.userAgent)
	})

	t.Run("zero values use defaults", func(t *testing.T) {
		cfg := Config{}
		client := New(&cfg)
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.Equal(t, Config{}, cfg, "caller config must not be mutated")
	})
}

func TestDoSetsUserAgent(t *testing.T) {
	var received atomic.Value
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		received.Store(r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClient(t, &Config{UserAgent: "cropscan/9"})
	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	closeResponseBody(t, resp)

	assert.Equal(t, "cropscan/9", received.Load())
}

func TestDoDefaultTimeout(t *testing.T) {
	release := make(chan struct{})
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	client := newTestClient(t, &Config{DefaultTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDoBodyReadableAfterReturn(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("leaf"))
	})

	client := newTestClient(t, &Config{DefaultTimeout: time.Second})
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "leaf", string(body))
}

func TestDoContextCancellation(t *testing.T) {
	server := newTestServer(t, func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	client := newTestClient(t, nil)
	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Get(ctx, server.URL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoHooks(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	client := newTestClient(t, nil)
	var before, after atomic.Int32
	var status atomic.Int32
	client.SetBeforeRequestHook(func(*http.Request) { before.Add(1) })
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error) {
		after.Add(1)
		if err == nil {
			status.Store(int32(resp.StatusCode))
		}
	})

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	closeResponseBody(t, resp)

	assert.Equal(t, int32(1), before.Load())
	assert.Equal(t, int32(1), after.Load())
	assert.Equal(t, int32(http.StatusTeapot), status.Load())
}

func TestAfterResponseHookSeesOutboundCalls(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	client := newTestClient(t, nil)
	var rec hookRecorder
	client.SetAfterResponseHook(rec.observe)

	resp, err := client.Get(t.Context(), server.URL+"/maps/api/place/nearbysearch/json")
	require.NoError(t, err)
	closeResponseBody(t, resp)

	_, err = client.Get(t.Context(), "http://127.0.0.1:1/")
	require.Error(t, err)

	calls := rec.snapshot()
	require.Len(t, calls, 2)

	assert.Equal(t, server.Listener.Addr().String(), calls[0].host)
	assert.Equal(t, testUserAgent, calls[0].userAgent)
	assert.Equal(t, http.StatusTooManyRequests, calls[0].status)
	require.NoError(t, calls[0].err)

	assert.Equal(t, "127.0.0.1:1", calls[1].host)
	assert.Zero(t, calls[1].status, "transport failures carry no status")
	assert.Error(t, calls[1].err)
}

func TestDoConcurrentRequests(t *testing.T) {
	var count atomic.Int32
	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClient(t, nil)
	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			resp, err := client.Get(t.Context(), server.URL)
			if assert.NoError(t, err) {
				closeResponseBody(t, resp)
			}
		})
	}
	wg.Wait()
	assert.Equal(t, int32(20), count.Load())
}

func TestPostBodies(t *testing.T) {
	type payload struct {
		Text string `json:"text"`
	}

	tests := []struct {
		name        string
		contentType string
		body        any
		wantType    string
		wantBody    string
	}{
		{"json value", "", payload{Text: "hi"}, "application/json", `{"text":"hi"}`},
		{"string", "text/plain", "hello", "text/plain", "hello"},
		{"bytes", "application/octet-stream", []byte{'a', 'b'}, "application/octet-stream", "ab"},
		{"nil", "", nil, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, tt.wantType, r.Header.Get("Content-Type"))
				body, _ := io.ReadAll(r.Body)
				assert.Equal(t, tt.wantBody, string(body))
				w.WriteHeader(http.StatusNoContent)
			})

			resp, err := newTestClient(t, nil).Post(t.Context(), server.URL, tt.contentType, tt.body)
			require.NoError(t, err)
			closeResponseBody(t, resp)
		})
	}
}

func TestGetJSON(t *testing.T) {
	t.Run("decodes success", func(t *testing.T) {
		server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"OK","results":[1,2]}`))
		})

		var out struct {
			Status  string `json:"status"`
			Results []int  `json:"results"`
		}
		require.NoError(t, newTestClient(t, nil).GetJSON(t.Context(), server.URL, &out))
		assert.Equal(t, "OK", out.Status)
		assert.Equal(t, []int{1, 2}, out.Results)
	})

	t.Run("non-2xx is upstream error", func(t *testing.T) {
		server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		})

		err := newTestClient(t, nil).GetJSON(t.Context(), server.URL, &struct{}{})
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryUpstream))
		assert.Contains(t, err.Error(), "429")
	})

	t.Run("bad json is upstream error", func(t *testing.T) {
		server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		})

		err := newTestClient(t, nil).GetJSON(t.Context(), server.URL, &struct{}{})
		assert.True(t, errors.IsCategory(err, errors.CategoryUpstream))
	})

	t.Run("unreachable host is network error", func(t *testing.T) {
		err := newTestClient(t, nil).GetJSON(t.Context(), "http://127.0.0.1:1/", &struct{}{})
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	})
}
