package api

import (
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/cropscan/cropscan/internal/datastore"
	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/logger"
	"github.com/cropscan/cropscan/internal/report"
)

func parseScanID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, errors.ValidationError("scan id must be a positive integer")
	}
	return uint(id), nil
}

// history handles GET /history?limit.
func (s *Server) history(c echo.Context) error {
	limit := datastore.DefaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return s.handleDomainError(c, errors.ValidationError("limit must be an integer"), "")
		}
		limit = v
	}

	scans, err := s.store.ListRecentScans(c.Request().Context(), limit)
	if err != nil {
		return s.HandleError(c, err, "Failed to load history", http.StatusInternalServerError)
	}

	out := make([]ScanSummary, len(scans))
	for i := range scans {
		out[i] = summarize(&scans[i], false)
	}
	return c.JSON(http.StatusOK, out)
}

// getScan handles GET /scan/{id}.
func (s *Server) getScan(c echo.Context) error {
	scan, err := s.lookupScan(c)
	if scan == nil {
		return err
	}
	return c.JSON(http.StatusOK, summarize(scan, true))
}

// lookupScan resolves the :id parameter. On failure it writes the error
// response and returns a nil scan.
func (s *Server) lookupScan(c echo.Context) (*datastore.Scan, error) {
	id, err := parseScanID(c)
	if err != nil {
		return nil, s.handleDomainError(c, err, "")
	}
	scan, err := s.store.GetScan(c.Request().Context(), id)
	switch {
	case errors.IsNotFound(err):
		return nil, s.HandleError(c, nil, "Scan not found", http.StatusNotFound)
	case err != nil:
		return nil, s.HandleError(c, err, "Failed to load scan", http.StatusInternalServerError)
	}
	return scan, nil
}

// deleteScan handles DELETE /scan/{id}?token. The token is checked before
// the id so an unauthorized caller learns nothing about existing rows.
func (s *Server) deleteScan(c echo.Context) error {
	if !s.authorized(c) {
		return s.unauthorized(c)
	}
	id, err := parseScanID(c)
	if err != nil {
		return s.handleDomainError(c, err, "")
	}

	ctx := c.Request().Context()
	scan, err := s.store.GetScan(ctx, id)
	switch {
	case errors.IsNotFound(err):
		return s.HandleError(c, nil, "Not found", http.StatusNotFound)
	case err != nil:
		return s.HandleError(c, err, "Failed to delete scan", http.StatusInternalServerError)
	}

	deleted, err := s.store.DeleteScan(ctx, id)
	if err != nil {
		return s.HandleError(c, err, "Failed to delete scan", http.StatusInternalServerError)
	}
	if !deleted {
		return s.HandleError(c, nil, "Not found", http.StatusNotFound)
	}
	if scan.ImagePath != nil {
		removeUpload(*scan.ImagePath)
	}

	GetLogger().Info("scan deleted", logger.Uint64("scan_id", uint64(id)), logger.String("ip", c.RealIP()))
	return c.JSON(http.StatusOK, DeleteResponse{Deleted: true})
}

// removeUpload deletes the kept upload copy of a deleted scan. A copy that is
// already gone is not an error.
func removeUpload(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		GetLogger().Warn("cannot remove upload copy", logger.String("path", path), logger.Error(err))
	}
}

// report handles GET /report/{id}. With ?download=1 the PDF itself is returned.
func (s *Server) report(c echo.Context) error {
	scan, err := s.lookupScan(c)
	if scan == nil {
		return err
	}

	path, err := s.renderer.Generate(scan)
	if err != nil {
		return s.HandleError(c, err, "Report generation failed", http.StatusInternalServerError)
	}

	if download, _ := strconv.ParseBool(c.QueryParam("download")); download {
		return c.Attachment(path, report.FileName(scan.ID))
	}
	return c.JSON(http.StatusOK, ReportResponse{ReportPath: path})
}
