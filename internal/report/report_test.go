package report

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cropscan/cropscan/internal/datastore"
	"github.com/cropscan/cropscan/internal/errors"
)

func testScan(t *testing.T) *datastore.Scan {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := range 48 {
		for x := range 64 {
			img.Set(x, y, color.RGBA{R: 120, G: 180, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return &datastore.Scan{
		ID:          7,
		Crop:        "Tomato",
		Label:       "Tomato_Early_blight",
		Confidence:  0.87654,
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		Geo:         "12.97,77.59",
		Treatment:   "Apply copper-based fungicide.",
		Notes:       "café garden",
	}
}

func TestLines(t *testing.T) {
	t.Parallel()

	scan := testScan(t)
	scan.Notes = ""
	assert.Equal(t, []string{
		"Scan ID: 7",
		"Crop: Tomato",
		"Disease: Tomato_Early_blight",
		"Confidence: 87.65%",
		"Treatment: Apply copper-based fungicide.",
		"Notes: -",
		"Location: 12.97,77.59",
	}, Lines(scan))
}

func TestRenderBytesProducesPDF(t *testing.T) {
	t.Parallel()

	data, err := RenderBytes(testScan(t))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	assert.Contains(t, string(data), "/Subtype /Image")
}

func TestGenerateWritesReportFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "reports")
	path, err := NewRenderer(dir).Generate(testScan(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report_7.pdf"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no side files are left behind")
}

func TestRenderRejectsUndecodableImage(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"not base64":   "***",
		"not an image": base64.StdEncoding.EncodeToString([]byte("plain text")),
		"empty":        "",
	}
	for name, encoded := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			scan := testScan(t)
			scan.ImageBase64 = encoded
			_, err := RenderBytes(scan)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryRender))
		})
	}
}

func TestGenerateDoesNotWriteOnRenderError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	scan := testScan(t)
	scan.ImageBase64 = "***"

	_, err := NewRenderer(dir).Generate(scan)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, FileName(scan.ID)))
	assert.True(t, os.IsNotExist(statErr))
}

func TestGenerateConcurrentSameScan(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := NewRenderer(dir)
	scan := testScan(t)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Go(func() {
			_, err := r.Generate(scan)
			errs <- err
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, FileName(scan.ID)))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	assert.True(t, bytes.HasSuffix(bytes.TrimSpace(data), []byte("%%EOF")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
	assert.Len(t, entries, 1)
}
