package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
)

// HTTPRecorder receives one observation per request.
type HTTPRecorder interface {
	RequestStarted()
	RecordRequest(method, path string, status int, size int64, d time.Duration)
}

// NewMetrics records request counts and latency by route template, so
// /scan/1 and /scan/2 share one series.
func NewMetrics(recorder HTTPRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if recorder == nil {
				return next(c)
			}

			recorder.RequestStarted()
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if !c.Response().Committed {
					status = 500
				}
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			recorder.RecordRequest(c.Request().Method, path, status, c.Response().Size, time.Since(start))
			return err
		}
	}
}
