// Package report renders a stored scan as a one-page PDF.
package report

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/cropscan/cropscan/internal/datastore"
	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/imaging"
	"github.com/cropscan/cropscan/internal/logger"
)

// Title is printed at the top of every report.
const Title = "Crop Disease Detection Report"

// Page geometry in points on a US Letter page, origin top-left.
const (
	marginLeft     = 50.0
	titleBaseline  = 42.0
	firstLine      = 72.0
	lineSpacing    = 20.0
	thumbnailTop   = 212.0
	thumbnailSize  = 250.0
	thumbnailPixel = 250
	jpegQuality    = 90
)

// Renderer writes report files into Dir.
type Renderer struct {
	Dir string
}

// NewRenderer returns a renderer that writes into dir.
func NewRenderer(dir string) *Renderer {
	return &Renderer{Dir: dir}
}

// FileName returns the report file name for a scan id.
func FileName(id uint) string {
	return "report_" + strconv.FormatUint(uint64(id), 10) + ".pdf"
}

// Generate renders scan to Dir/report_<id>.pdf and returns the path. An
// existing report for the same id is replaced.
func (r *Renderer) Generate(scan *datastore.Scan) (string, error) {
	start := time.Now()

	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return "", fileError(err, "create_reports_dir")
	}

	data, err := RenderBytes(scan)
	if err != nil {
		return "", err
	}

	path := filepath.Join(r.Dir, FileName(scan.ID))
	if err := writeAtomic(r.Dir, path, data); err != nil {
		return "", err
	}

	GetLogger().Info("report generated",
		logger.Uint64("scan_id", uint64(scan.ID)),
		logger.String("path", path),
		logger.Int("bytes", len(data)),
		logger.Duration("duration", time.Since(start)))
	return path, nil
}

// writeAtomic writes data to a unique temp file in dir and renames it over
// path. Concurrent generations for one id each get their own temp file.
func writeAtomic(dir, path string, data []byte) error {
	f, err := os.CreateTemp(dir, "report_*.pdf.tmp")
	if err != nil {
		return fileError(err, "create_temp_report")
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fileError(err, "write_report")
	}
	if err := f.Chmod(0o644); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fileError(err, "write_report")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fileError(err, "write_report")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fileError(err, "rename_report")
	}
	return nil
}

// RenderBytes renders scan into memory.
func RenderBytes(scan *datastore.Scan) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(scan, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Render writes the PDF for scan to w. It fails with a render error when the
// stored image cannot be decoded.
func Render(scan *datastore.Scan, w io.Writer) error {
	thumb, err := thumbnailJPEG(scan.ImageBase64)
	if err != nil {
		return renderError(err, scan.ID, "decode_image")
	}

	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetTitle(Title, true)
	pdf.SetCreator("cropscan", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Text(marginLeft, titleBaseline, Title)

	pdf.SetFont("Helvetica", "", 12)
	for i, line := range Lines(scan) {
		pdf.Text(marginLeft, firstLine+float64(i)*lineSpacing, tr(line))
	}

	name := fmt.Sprintf("scan-%d", scan.ID)
	opts := fpdf.ImageOptions{ImageType: "JPG", ReadDpi: false}
	pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(thumb))
	pdf.ImageOptions(name, marginLeft, thumbnailTop, thumbnailSize, thumbnailSize, false, opts, 0, "")

	if err := pdf.Output(w); err != nil {
		return renderError(err, scan.ID, "write_pdf")
	}
	return nil
}

// Lines returns the labeled text lines of a report in print order.
func Lines(scan *datastore.Scan) []string {
	return []string{
		fmt.Sprintf("Scan ID: %d", scan.ID),
		"Crop: " + scan.Crop,
		"Disease: " + scan.Label,
		fmt.Sprintf("Confidence: %.2f%%", scan.Confidence*100),
		"Treatment: " + scan.Treatment,
		"Notes: " + orDash(scan.Notes),
		"Location: " + orDash(scan.Geo),
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func thumbnailJPEG(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode stored image: %w", err)
	}
	img, err := imaging.Thumbnail(raw, thumbnailPixel, thumbnailPixel)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func renderError(err error, id uint, operation string) error {
	return errors.New(err).
		Component("report").
		Category(errors.CategoryRender).
		Context("scan_id", id).
		Context("operation", operation).
		Build()
}

func fileError(err error, operation string) error {
	return errors.New(err).
		Component("report").
		Category(errors.CategoryFileIO).
		Context("operation", operation).
		Build()
}
