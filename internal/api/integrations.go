package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/cropscan/cropscan/internal/catalog"
	"github.com/cropscan/cropscan/internal/chat"
	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/logger"
	"github.com/cropscan/cropscan/internal/places"
)

// tts handles POST /tts.
func (s *Server) tts(c echo.Context) error {
	var req TTSRequest
	if err := c.Bind(&req); err != nil {
		return s.HandleError(c, err, "Invalid request body", http.StatusBadRequest)
	}
	if strings.TrimSpace(req.Text) == "" {
		return s.HandleError(c, nil, "Missing text", http.StatusBadRequest)
	}
	if s.speaker == nil || !s.speaker.Configured() {
		return s.HandleError(c, nil, "Text-to-speech is not configured", http.StatusServiceUnavailable)
	}

	path, err := s.speaker.Synthesize(c.Request().Context(), req.Text, req.Lang)
	if err != nil {
		return s.handleDomainError(c, err, "Speech synthesis failed")
	}
	return c.JSON(http.StatusOK, TTSResponse{Path: path})
}

// stores handles GET /stores?lat&lon[&radius][&query]. Upstream failures are
// reported in the body with status 200 so the UI can show them inline.
func (s *Server) stores(c echo.Context) error {
	latRaw, lonRaw := c.QueryParam("lat"), c.QueryParam("lon")
	if latRaw == "" || lonRaw == "" {
		return s.HandleError(c, nil, "lat and lon are required", http.StatusBadRequest)
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return s.handleDomainError(c, errors.ValidationError("lat must be a number"), "")
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil {
		return s.handleDomainError(c, errors.ValidationError("lon must be a number"), "")
	}

	q := places.Query{Lat: lat, Lon: lon, Keyword: c.QueryParam("query")}
	if raw := c.QueryParam("radius"); raw != "" {
		if q.Radius, err = strconv.Atoi(raw); err != nil {
			return s.handleDomainError(c, errors.ValidationError("radius must be an integer"), "")
		}
	}

	if s.places == nil || !s.places.Configured() {
		return c.JSON(http.StatusOK, StoresResponse{Error: places.NotConfiguredMessage})
	}

	found, err := s.places.Nearby(c.Request().Context(), q)
	switch {
	case errors.IsCategory(err, errors.CategoryValidation):
		return s.handleDomainError(c, err, "")
	case err != nil:
		GetLogger().Warn("places lookup failed", logger.Error(err))
		return c.JSON(http.StatusOK, StoresResponse{Error: errors.ScrubMessage(err.Error())})
	}
	if found == nil {
		found = []places.Place{}
	}
	return c.JSON(http.StatusOK, StoresResponse{Places: found})
}

// yieldEstimate handles POST /yield_estimate. A missing confidence counts as 0.
func (s *Server) yieldEstimate(c echo.Context) error {
	var req YieldRequest
	if err := c.Bind(&req); err != nil {
		return s.HandleError(c, err, "Invalid request body", http.StatusBadRequest)
	}
	confidence := 0.0
	if req.Confidence != nil {
		confidence = *req.Confidence
	}

	est, err := s.yield.Estimate(req.Disease, confidence)
	if err != nil {
		return s.handleDomainError(c, err, "Yield estimate failed")
	}
	return c.JSON(http.StatusOK, YieldResponse{EstimatedYieldLossPct: est.LossPct})
}

// chatReply handles POST /chat.
func (s *Server) chatReply(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return s.HandleError(c, err, "Invalid request body", http.StatusBadRequest)
	}
	if strings.TrimSpace(req.Message) == "" {
		return s.HandleError(c, nil, "Missing message", http.StatusBadRequest)
	}

	responder := s.chat
	if responder == nil {
		responder = chat.NewResponder(catalog.Default().Chat, nil)
	}
	return c.JSON(http.StatusOK, ChatResponse{Reply: responder.Reply(c.Request().Context(), req.Message)})
}
