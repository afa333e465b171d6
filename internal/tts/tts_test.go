package tts

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/errors"
)

var fakeMP3 = []byte("ID3\x03\x00fake-mp3-frames")

func newFakeAPI(t *testing.T, status int) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var requests []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text:synthesize", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			requests = append(requests, body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"audioContent": base64.StdEncoding.EncodeToString(fakeMP3),
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func newSynth(t *testing.T, endpoint string) *Synthesizer {
	t.Helper()
	s, err := New(t.Context(), &conf.TTSSettings{
		APIKey:   "test-key",
		Endpoint: endpoint + "/",
		Dir:      t.TempDir(),
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func TestSynthesizeWritesMP3(t *testing.T) {
	t.Parallel()

	srv, requests := newFakeAPI(t, http.StatusOK)
	s := newSynth(t, srv.URL)

	path, err := s.Synthesize(t.Context(), "Apply copper fungicide", "en")
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "tts_1700000000_"))
	assert.Equal(t, ".mp3", filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fakeMP3, data)

	require.Len(t, *requests, 1)
	voice, _ := (*requests)[0]["voice"].(map[string]any)
	assert.Equal(t, "en-US", voice["languageCode"])
	audio, _ := (*requests)[0]["audioConfig"].(map[string]any)
	assert.Equal(t, "MP3", audio["audioEncoding"])
}

func TestSynthesizeFilesDoNotCollide(t *testing.T) {
	t.Parallel()

	srv, _ := newFakeAPI(t, http.StatusOK)
	s := newSynth(t, srv.URL)

	first, err := s.Synthesize(t.Context(), "one", "")
	require.NoError(t, err)
	second, err := s.Synthesize(t.Context(), "two", "")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestSynthesizeUpstreamError(t *testing.T) {
	t.Parallel()

	srv, _ := newFakeAPI(t, http.StatusForbidden)
	s := newSynth(t, srv.URL)

	_, err := s.Synthesize(t.Context(), "hello", "en")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryUpstream))
}

func TestSynthesizeValidation(t *testing.T) {
	t.Parallel()

	s, err := New(t.Context(), &conf.TTSSettings{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.False(t, s.Configured())

	_, err = s.Synthesize(t.Context(), "   ", "en")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Equal(t, "Missing text", err.Error())

	_, err = s.Synthesize(t.Context(), strings.Repeat("a", MaxTextLength+1), "en")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = s.Synthesize(t.Context(), "hello", "not a language!")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = s.Synthesize(t.Context(), "hello", "en")
	assert.True(t, errors.IsCategory(err, errors.CategoryUnavailable))
}

func TestLanguageCode(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":      "en-US",
		"en":    "en-US",
		"en-GB": "en-GB",
		"hi":    "hi-IN",
		"pt":    "pt-BR",
	}
	for in, want := range tests {
		got, err := LanguageCode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
