// Package middleware provides HTTP middleware components for the CropScan gateway.
package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/cropscan/cropscan/internal/logger"
)

// NewRequestLogger creates a request logging middleware. Query strings are
// logged with secret parameters such as the admin token redacted.
func NewRequestLogger(log logger.Logger) echo.MiddlewareFunc {
	return NewRequestLoggerWithSkipper(log, nil)
}

// NewRequestLoggerWithSkipper creates a request logging middleware with a custom skipper.
func NewRequestLoggerWithSkipper(log logger.Logger, skipper middleware.Skipper) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper:      skipper,
		LogStatus:    true,
		LogURIPath:   true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if log == nil {
				return nil
			}

			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("path", v.URIPath),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}
			if q := c.Request().URL.RawQuery; q != "" {
				fields = append(fields, logger.String("query", logger.RedactQuery(q)))
			}
			if v.RequestID != "" {
				fields = append(fields, logger.String("request_id", v.RequestID))
			}

			ctxLog := log.WithContext(c.Request().Context())
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
				ctxLog.Warn("request failed", fields...)
				return nil
			}
			ctxLog.Info("request", fields...)
			return nil
		},
	})
}
