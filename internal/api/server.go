package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/cropscan/cropscan/internal/api/middleware"
	"github.com/cropscan/cropscan/internal/chat"
	"github.com/cropscan/cropscan/internal/classifier"
	"github.com/cropscan/cropscan/internal/datastore"
	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/events"
	"github.com/cropscan/cropscan/internal/logger"
	"github.com/cropscan/cropscan/internal/observability"
	"github.com/cropscan/cropscan/internal/places"
	"github.com/cropscan/cropscan/internal/prediction"
	"github.com/cropscan/cropscan/internal/report"
	"github.com/cropscan/cropscan/internal/yield"
)

const correlationKey = "correlation_id"

// Predictor runs the prediction pipeline.
type Predictor interface {
	Predict(ctx context.Context, image []byte, k int) (*prediction.Result, error)
}

// ModelStatus reports classifier readiness for /health.
type ModelStatus interface {
	Ready() bool
	Status() classifier.Status
}

// ScanPublisher hands persisted scans to asynchronous consumers.
type ScanPublisher interface {
	TryPublish(event events.ScanEvent) bool
}

// PlacesFinder searches nearby agro stores.
type PlacesFinder interface {
	Configured() bool
	Nearby(ctx context.Context, q places.Query) ([]places.Place, error)
}

// Speaker synthesizes speech and returns the audio file path.
type Speaker interface {
	Configured() bool
	Synthesize(ctx context.Context, text, lang string) (string, error)
}

// Server is the CropScan HTTP gateway.
type Server struct {
	echo   *echo.Echo
	config *Config

	store     datastore.Interface
	predictor Predictor
	model     ModelStatus
	publisher ScanPublisher
	renderer  *report.Renderer
	places    PlacesFinder
	speaker   Speaker
	chat      *chat.Responder
	yield     *yield.Estimator
	metrics   *observability.Metrics

	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithDataStore sets the scan store.
func WithDataStore(ds datastore.Interface) ServerOption {
	return func(s *Server) { s.store = ds }
}

// WithPredictor sets the prediction pipeline.
func WithPredictor(p Predictor) ServerOption {
	return func(s *Server) { s.predictor = p }
}

// WithModelStatus sets the classifier used for health reporting.
func WithModelStatus(m ModelStatus) ServerOption {
	return func(s *Server) { s.model = m }
}

// WithScanPublisher sets the scan event sink.
func WithScanPublisher(p ScanPublisher) ServerOption {
	return func(s *Server) { s.publisher = p }
}

// WithRenderer sets the PDF report renderer.
func WithRenderer(r *report.Renderer) ServerOption {
	return func(s *Server) { s.renderer = r }
}

// WithPlaces sets the nearby store lookup.
func WithPlaces(p PlacesFinder) ServerOption {
	return func(s *Server) { s.places = p }
}

// WithSpeaker sets the text-to-speech synthesizer.
func WithSpeaker(sp Speaker) ServerOption {
	return func(s *Server) { s.speaker = sp }
}

// WithChat sets the chat responder.
func WithChat(r *chat.Responder) ServerOption {
	return func(s *Server) { s.chat = r }
}

// WithYieldEstimator sets the yield-loss estimator.
func WithYieldEstimator(e *yield.Estimator) ServerOption {
	return func(s *Server) { s.yield = e }
}

// WithMetrics sets the observability metrics for the server.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// New creates the gateway. A store and a predictor are required.
func New(config *Config, opts ...ServerOption) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.New(fmt.Errorf("invalid server configuration: %w", err)).
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	s := &Server{
		config:    config,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil || s.predictor == nil {
		return nil, errors.Newf("api server requires a data store and a predictor").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.renderer == nil {
		s.renderer = report.NewRenderer("reports")
	}
	if s.yield == nil {
		s.yield = yield.NewEstimator(nil)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout
	s.echo.HTTPErrorHandler = s.httpErrorHandler

	s.setupMiddleware()
	s.setupRoutes()

	GetLogger().Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.String("body_limit", config.BodyLimit),
		logger.Bool("metrics", s.metrics != nil))

	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestID())
	s.echo.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			c.Set(correlationKey, id)
			ctx := logger.WithTraceID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}
	s.echo.Use(mw.NewRequestLogger(GetLogger()))
	s.echo.Use(mw.NewCORS(mw.SecurityConfig{AllowedOrigins: s.config.AllowedOrigins}))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders())
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	e := s.echo

	e.GET("/", s.root)
	e.GET("/health", s.health)

	e.POST("/predict", s.predict)
	e.POST("/predict_live", s.predictLive)

	e.GET("/history", s.history)
	e.GET("/scan/:id", s.getScan)
	e.DELETE("/scan/:id", s.deleteScan)
	e.GET("/report/:id", s.report)

	e.POST("/tts", s.tts)
	e.GET("/stores", s.stores)
	e.POST("/yield_estimate", s.yieldEstimate)
	e.POST("/chat", s.chatReply)

	e.GET("/admin/stats", s.adminStats)
	e.GET("/export/history.xlsx", s.exportHistory)

	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

func (s *Server) root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "Crop Disease Detection API is running!"})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Address()
	errCh := make(chan error, 1)
	go func() {
		GetLogger().Info("starting HTTP server", logger.String("address", addr))
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.New(fmt.Errorf("server error: %w", err)).
				Component("api").
				Category(errors.CategoryNetwork).
				Context("address", addr).
				Build()
		}
		return nil
	case <-ctx.Done():
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		GetLogger().Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	GetLogger().Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
