package httpclient

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

const testUserAgent = "cropscan-test/0.0"

// newTestClient builds a Client closed at cleanup. A nil cfg gets the
// test user agent and library defaults for everything else.
func newTestClient(t *testing.T, cfg *Config) *Client {
	t.Helper()
	if cfg == nil {
		cfg = &Config{UserAgent: testUserAgent}
	}
	client := New(cfg)
	t.Cleanup(client.Close)
	return client
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func closeResponseBody(t *testing.T, resp *http.Response) {
	t.Helper()
	if resp == nil || resp.Body == nil {
		return
	}
	if err := resp.Body.Close(); err != nil {
		t.Logf("close response body: %v", err)
	}
}

// outboundCall is what an after-response hook sees for one request, reduced
// to the fields the integration metrics label on.
type outboundCall struct {
	host      string
	userAgent string
	status    int
	err       error
}

// hookRecorder collects after-response hook invocations.
type hookRecorder struct {
	mu    sync.Mutex
	calls []outboundCall
}

func (h *hookRecorder) observe(req *http.Request, resp *http.Response, err error) {
	call := outboundCall{host: req.URL.Host, userAgent: req.Header.Get("User-Agent"), err: err}
	if resp != nil {
		call.status = resp.StatusCode
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
}

func (h *hookRecorder) snapshot() []outboundCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]outboundCall(nil), h.calls...)
}
