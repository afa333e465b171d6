package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cropscan/cropscan/internal/datastore"
	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/events"
	"github.com/cropscan/cropscan/internal/logger"
	"github.com/cropscan/cropscan/internal/prediction"
)

// readUpload returns the bytes of the multipart "file" field.
func readUpload(c echo.Context) ([]byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, errors.ValidationError("Missing file")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, errors.ValidationError("Unreadable file")
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.ValidationError("Unreadable file")
	}
	if len(data) == 0 {
		return nil, errors.ValidationError("Empty file")
	}
	return data, nil
}

// optionalFloat parses a query parameter that may be absent.
func optionalFloat(c echo.Context, name string) (*float64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("%s must be a number", name))
	}
	return &v, nil
}

// geoString formats "lat,lon" when both coordinates are present.
func geoString(lat, lon *float64) string {
	if lat == nil || lon == nil {
		return ""
	}
	return strconv.FormatFloat(*lat, 'f', -1, 64) + "," + strconv.FormatFloat(*lon, 'f', -1, 64)
}

// predictionError answers 400 for undecodable images and 500 otherwise,
// including when the model is unavailable.
func (s *Server) predictionError(c echo.Context, err error, failure string) error {
	if errors.IsCategory(err, errors.CategoryInvalidImage) {
		return s.HandleError(c, err, "Invalid image", http.StatusBadRequest)
	}
	return s.HandleError(c, err, failure, http.StatusInternalServerError)
}

// predict handles POST /predict. Persistence failures never fail the request.
func (s *Server) predict(c echo.Context) error {
	lat, err := optionalFloat(c, "lat")
	if err != nil {
		return s.handleDomainError(c, err, "")
	}
	lon, err := optionalFloat(c, "lon")
	if err != nil {
		return s.handleDomainError(c, err, "")
	}

	data, err := readUpload(c)
	if err != nil {
		return s.HandleError(c, err, err.Error(), http.StatusBadRequest)
	}

	result, err := s.predictor.Predict(c.Request().Context(), data, s.config.TopK)
	if err != nil {
		return s.predictionError(c, err, "Prediction failed")
	}

	resp := PredictResponse{TopK: result.TopK, Crop: result.Crop}
	if scan := s.persist(c, data, result, geoString(lat, lon), c.QueryParam("notes")); scan != nil {
		resp.ScanID = &scan.ID
	}
	return c.JSON(http.StatusOK, resp)
}

// predictLive handles POST /predict_live.
func (s *Server) predictLive(c echo.Context) error {
	data, err := readUpload(c)
	if err != nil {
		return s.HandleError(c, err, err.Error(), http.StatusBadRequest)
	}
	result, err := s.predictor.Predict(c.Request().Context(), data, s.config.TopK)
	if err != nil {
		return s.predictionError(c, err, "Live prediction failed")
	}
	return c.JSON(http.StatusOK, result)
}

// persist stores the scan and publishes it. It returns nil on failure.
func (s *Server) persist(c echo.Context, data []byte, result *prediction.Result, geo, notes string) *datastore.Scan {
	top := result.Top()
	topK := make([]datastore.RankedLabel, len(result.TopK))
	for i, p := range result.TopK {
		topK[i] = datastore.RankedLabel{Label: p.Label, Confidence: p.Confidence, Treatment: p.Treatment}
	}

	in := &datastore.NewScan{
		Image:      data,
		ImagePath:  s.saveUpload(data),
		Crop:       result.Crop,
		Label:      top.Label,
		Confidence: top.Confidence,
		Geo:        geo,
		Notes:      notes,
		Treatment:  top.Treatment,
		TopK:       topK,
	}

	scan, err := s.store.CreateScan(c.Request().Context(), in)
	if err != nil {
		GetLogger().Warn("scan not persisted, returning prediction without scan id",
			logger.String("label", top.Label),
			logger.Error(err))
		if in.ImagePath != "" {
			_ = os.Remove(in.ImagePath)
		}
		return nil
	}

	if s.publisher != nil {
		s.publisher.TryPublish(events.ScanEvent{
			ScanID:     scan.ID,
			CreatedAt:  scan.CreatedAt,
			Crop:       scan.Crop,
			Label:      scan.Label,
			Confidence: scan.Confidence,
			Treatment:  scan.Treatment,
			Geo:        scan.Geo,
			Notes:      scan.Notes,
		})
	}
	return scan
}

var uploadExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/bmp":  ".bmp",
	"image/webp": ".webp",
}

// saveUpload keeps a copy of the upload under UploadsDir and returns its path,
// or "" when copies are disabled or the write failed.
func (s *Server) saveUpload(data []byte) string {
	if s.config.UploadsDir == "" {
		return ""
	}
	if err := os.MkdirAll(s.config.UploadsDir, 0o755); err != nil {
		GetLogger().Warn("cannot create uploads directory", logger.String("dir", s.config.UploadsDir), logger.Error(err))
		return ""
	}

	ext, ok := uploadExtensions[http.DetectContentType(data)]
	if !ok {
		ext = ".bin"
	}
	name := fmt.Sprintf("scan_%s_%s%s", time.Now().UTC().Format("20060102T150405"), strings.SplitN(uuid.NewString(), "-", 2)[0], ext)
	path, err := filepath.Abs(filepath.Join(s.config.UploadsDir, name))
	if err != nil {
		path = filepath.Join(s.config.UploadsDir, name)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		GetLogger().Warn("cannot store upload copy", logger.String("path", path), logger.Error(err))
		return ""
	}
	return path
}
