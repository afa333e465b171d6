package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/cropscan/cropscan/internal/classifier"
	"github.com/cropscan/cropscan/internal/logger"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	BuildDate string            `json:"build_date,omitempty"`
	Uptime    string            `json:"uptime"`
	Database  string            `json:"database"`
	Model     classifier.Status `json:"model"`
	System    *SystemHealth     `json:"system,omitempty"`
}

// SystemHealth is a cheap host snapshot. Fields that cannot be read are zero.
type SystemHealth struct {
	OS           string  `json:"os"`
	Architecture string  `json:"architecture"`
	Platform     string  `json:"platform,omitempty"`
	CPUCount     int     `json:"cpu_count"`
	MemoryUsed   float64 `json:"memory_used_percent"`
	DiskUsed     float64 `json:"disk_used_percent"`
	Goroutines   int     `json:"goroutines"`
}

// health handles GET /health. A failed database ping is 503; a missing model
// only degrades the status because history and reports still work.
func (s *Server) health(c echo.Context) error {
	ctx := c.Request().Context()

	resp := HealthResponse{
		Status:    "ok",
		Version:   s.config.Version,
		BuildDate: s.config.BuildDate,
		Uptime:    time.Since(s.startTime).Truncate(time.Second).String(),
		Database:  "ok",
		System:    s.systemHealth(c),
	}
	code := http.StatusOK

	if s.model != nil {
		resp.Model = s.model.Status()
		if !s.model.Ready() {
			resp.Status = "degraded"
		}
	} else {
		resp.Model = classifier.Status{State: classifier.StateUnavailable}
		resp.Status = "degraded"
	}

	if err := s.store.Ping(ctx); err != nil {
		GetLogger().Warn("health check database ping failed", logger.Error(err))
		resp.Database = "unavailable"
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, resp)
}

func (s *Server) systemHealth(c echo.Context) *SystemHealth {
	ctx := c.Request().Context()
	sys := &SystemHealth{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		Goroutines:   runtime.NumGoroutine(),
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		sys.Platform = info.Platform
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		sys.CPUCount = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sys.MemoryUsed = vm.UsedPercent
	}
	dir := s.config.UploadsDir
	if dir == "" {
		dir = "."
	}
	if usage, err := disk.UsageWithContext(ctx, dir); err == nil {
		sys.DiskUsed = usage.UsedPercent
	} else {
		GetLogger().Debug("disk usage unavailable", logger.String("path", dir), logger.Error(err))
	}
	return sys
}
