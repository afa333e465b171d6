package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cropscan/cropscan/internal/datastore"
	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/export"
	"github.com/cropscan/cropscan/internal/logger"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// adminStats handles GET /admin/stats?token. Counts cover the most recent
// StatsWindow scans.
func (s *Server) adminStats(c echo.Context) error {
	if !s.authorized(c) {
		return s.unauthorized(c)
	}

	counts, total, err := s.store.LabelHistogram(c.Request().Context(), StatsWindow)
	if err != nil {
		return s.HandleError(c, err, "Failed to compute stats", http.StatusInternalServerError)
	}
	if counts == nil {
		counts = map[string]int{}
	}
	return c.JSON(http.StatusOK, StatsResponse{Counts: counts, TotalScans: total})
}

// exportHistory handles GET /export/history.xlsx?token[&limit].
func (s *Server) exportHistory(c echo.Context) error {
	if !s.authorized(c) {
		return s.unauthorized(c)
	}

	limit := datastore.MaxHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return s.handleDomainError(c, errors.ValidationError("limit must be an integer"), "")
		}
		limit = v
	}

	var buf bytes.Buffer
	rows, err := export.Workbook(c.Request().Context(), s.store, limit, &buf)
	if err != nil {
		return s.HandleError(c, err, "Export failed", http.StatusInternalServerError)
	}

	name := fmt.Sprintf("cropscan_history_%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	GetLogger().Info("history exported", logger.Int("rows", rows), logger.Int("bytes", buf.Len()))
	return c.Blob(http.StatusOK, xlsxContentType, buf.Bytes())
}
