package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/logger"
)

// ErrorResponse is the body of every failed request. Detail carries the
// human readable explanation clients display.
type ErrorResponse struct {
	Error         string `json:"error"`
	Detail        string `json:"detail"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// statusFor maps an error category to an HTTP status.
func statusFor(err error) int {
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation, errors.CategoryInvalidImage:
		return http.StatusBadRequest
	case errors.CategoryUnauthorized:
		return http.StatusUnauthorized
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryUnavailable:
		return http.StatusServiceUnavailable
	case errors.CategoryUpstream, errors.CategoryNetwork:
		return http.StatusBadGateway
	case errors.CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes an ErrorResponse. message is the short public error;
// client errors carry err's text as detail, server errors prefix it with message.
func (s *Server) HandleError(c echo.Context, err error, message string, code int) error {
	correlationID, _ := c.Get(correlationKey).(string)
	if correlationID == "" {
		correlationID = c.Response().Header().Get(echo.HeaderXRequestID)
	}

	detail := message
	if err != nil {
		if code < http.StatusInternalServerError {
			detail = err.Error()
		} else {
			detail = fmt.Sprintf("%s: %v", message, err)
		}
	}

	fields := []logger.Field{
		logger.String("correlation_id", correlationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", c.Request().URL.Path),
		logger.String("method", c.Request().Method),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		GetLogger().Error("api error", fields...)
	} else {
		GetLogger().Debug("api client error", fields...)
	}

	return c.JSON(code, &ErrorResponse{
		Error:         message,
		Detail:        errors.ScrubMessage(detail),
		Code:          code,
		CorrelationID: correlationID,
	})
}

// handleDomainError derives the status from err's category.
func (s *Server) handleDomainError(c echo.Context, err error, message string) error {
	code := statusFor(err)
	if code < http.StatusInternalServerError {
		return s.HandleError(c, err, http.StatusText(code), code)
	}
	return s.HandleError(c, err, message, code)
}

// httpErrorHandler renders framework errors (unknown route, body too large)
// in the same shape as handler errors.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(code)
		}
		err = nil
	}

	if err := s.HandleError(c, err, message, code); err != nil {
		GetLogger().Warn("failed to write error response", logger.Error(err))
	}
}
