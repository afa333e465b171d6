package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// requestToken returns the admin token from ?token= or a bearer header.
func requestToken(c echo.Context) string {
	if t := c.QueryParam("token"); t != "" {
		return t
	}
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// authorized compares in constant time. An empty configured token rejects everything.
func (s *Server) authorized(c echo.Context) bool {
	expected := s.config.AdminToken
	got := requestToken(c)
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

func (s *Server) unauthorized(c echo.Context) error {
	if s.metrics != nil {
		s.metrics.HTTP.RecordAuthFailure(c.Path())
	}
	return s.HandleError(c, nil, "Unauthorized", http.StatusUnauthorized)
}
