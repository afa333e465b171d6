package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestModuleLoggerWritesStructuredFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewWriterLogger(buf, LogLevelDebug).Module("prediction")

	log.Info("prediction complete",
		String("label", "Tomato_Early_blight"),
		Float64("confidence", 0.912345),
		Uint64("scan_id", 42),
		Duration("elapsed", 1500*time.Microsecond))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "prediction complete", lines[0]["msg"])
	assert.Equal(t, "prediction", lines[0]["module"])
	assert.Equal(t, "Tomato_Early_blight", lines[0]["label"])
	assert.InDelta(t, 0.912, lines[0]["confidence"], 1e-9)
	assert.Equal(t, "2ms", lines[0]["elapsed"])
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewWriterLogger(buf, LogLevelWarn).Module("api")

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	log.Log(LogLevelError, "shown too")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "shown", lines[0]["msg"])
	assert.Equal(t, "ERROR", lines[1]["level"])
}

func TestWithAndSubModule(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	base := NewWriterLogger(buf, LogLevelInfo).Module("api")
	reqLog := base.With(String("request_id", "abc")).Module("predict")

	ctx := WithTraceID(context.Background(), "trace-1")
	reqLog.WithContext(ctx).Info("handled")
	base.Info("untouched")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "api.predict", lines[0]["module"])
	assert.Equal(t, "abc", lines[0]["request_id"])
	assert.Equal(t, "trace-1", lines[0]["trace_id"])
	assert.NotContains(t, lines[1], "request_id")
}

func TestSensitiveFieldKeysAreRedacted(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	NewWriterLogger(buf, LogLevelInfo).Module("conf").Info("loaded", String("admin_token", "change_me"))

	assert.NotContains(t, buf.String(), "change_me")
	assert.Contains(t, buf.String(), redactedValue)
}

func TestCentralLoggerWritesRotatedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "cropscan.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "info", MaxSize: 1},
	})
	require.NoError(t, err)

	cl.Module("datastore").Info("opened", String("driver", "sqlite"))
	require.NoError(t, cl.Rotate())
	require.NoError(t, cl.Close())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2, "rotation should leave a backup file next to the active log")
}

func TestNewCentralLoggerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)

	_, err = NewCentralLogger(nil)
	assert.Error(t, err)
}

func TestRedactSensitiveData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		secret string
	}{
		{"bearer", "Authorization: Bearer abc.def.ghi", "abc.def.ghi"},
		{"api key", "api_key=AIzaSyExample123", "AIzaSyExample123"},
		{"openai", "using sk-proj1234567890", "proj1234567890"},
		{"token", "token: change_me", "change_me"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := RedactSensitiveData(tt.input)
			assert.NotContains(t, got, tt.secret)
			assert.Contains(t, got, redactedValue)
		})
	}
}

func TestRedactQuery(t *testing.T) {
	t.Parallel()

	got := RedactQuery("token=change_me&limit=20")
	assert.Contains(t, got, "limit=20")
	assert.NotContains(t, got, "change_me")
	assert.Empty(t, RedactQuery(""))
}
