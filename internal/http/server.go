// Package http serves the conversation API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/leadflow/internal/conversation"
	"github.com/fyrsmithlabs/leadflow/internal/logging"
	"github.com/fyrsmithlabs/leadflow/internal/notify"
	"github.com/fyrsmithlabs/leadflow/internal/session"
)

const (
	bodyLimit     = "64K"
	healthTimeout = 2 * time.Second
)

// Conversations is the engine surface the server needs.
type Conversations interface {
	Process(ctx context.Context, req conversation.Request) conversation.Response
	Start(ctx context.Context, sessionID string) (conversation.Response, error)
	Status(ctx context.Context, sessionID string) (conversation.Snapshot, error)
	Reset(ctx context.Context, sessionID string) error
	SystemError(sessionID string) conversation.Response
}

// Notifications exposes dispatcher state.
type Notifications interface {
	Status(correlationID string) (notify.Delivery, bool)
	BreakerState() notify.BreakerState
	QueueLen() int
	SinkName() string
}

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides HTTP endpoints for leadflow.
type Server struct {
	echo          *echo.Echo
	engine        Conversations
	notifications Notifications
	checks        map[string]Pinger
	gatherer      prometheus.Gatherer
	metrics       *HTTPMetrics
	logger        *zap.Logger
	config        *Config
	version       string
}

// Config holds HTTP server configuration.
type Config struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithNotifications enables the notification route and breaker health.
func WithNotifications(n Notifications) Option {
	return func(s *Server) { s.notifications = n }
}

// WithHealthCheck adds a named dependency to /health.
func WithHealthCheck(name string, p Pinger) Option {
	return func(s *Server) { s.checks[name] = p }
}

// WithGatherer serves /metrics from g.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithHTTPMetrics records OTEL request metrics.
func WithHTTPMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion reports version on /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a new HTTP server.
func NewServer(engine Conversations, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8000,
		}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		engine: engine,
		checks: make(map[string]Pinger),
		logger: logger,
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{Timeout: cfg.RequestTimeout}))
	if s.metrics != nil {
		e.Use(s.metrics.MetricsMiddleware())
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	conv := v1.Group("/conversation")
	conv.POST("/start", s.handleStart)
	conv.POST("/respond", s.handleRespond)
	conv.GET("/status/:session_id", s.handleStatus)
	conv.POST("/reset/:session_id", s.handleReset)
	v1.GET("/notifications/:correlation_id", s.handleNotification)
}

// handleStart creates or resumes a session. Chat routes always answer 200.
func (s *Server) handleStart(c echo.Context) error {
	var req StartRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			s.logger.Warn("invalid start request", zap.Error(err))
			return chat(c, s.engine.SystemError(""))
		}
	}

	resp, err := s.engine.Start(c.Request().Context(), req.SessionID)
	if err != nil {
		s.logger.Warn("start failed", zap.Error(err))
		return chat(c, s.engine.SystemError(req.SessionID))
	}
	return chat(c, resp)
}

// handleRespond processes one chat message.
func (s *Server) handleRespond(c echo.Context) error {
	var req RespondRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid respond request", zap.Error(err))
		return chat(c, s.engine.SystemError(""))
	}

	resp := s.engine.Process(c.Request().Context(), conversation.Request{
		Message:   req.Message,
		SessionID: req.SessionID,
	})
	return chat(c, resp)
}

// handleStatus returns a session snapshot.
func (s *Server) handleStatus(c echo.Context) error {
	id := c.Param("session_id")
	snap, err := s.engine.Status(c.Request().Context(), id)
	switch {
	case errors.Is(err, session.ErrInvalidID):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid session id"})
	case errors.Is(err, session.ErrNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
	case err != nil:
		s.logger.Error("status failed", zap.String("session.id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "status unavailable"})
	}
	return c.JSON(http.StatusOK, snap)
}

// handleReset deletes a session so the next message starts over.
func (s *Server) handleReset(c echo.Context) error {
	id := c.Param("session_id")
	err := s.engine.Reset(c.Request().Context(), id)
	switch {
	case errors.Is(err, session.ErrInvalidID):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid session id"})
	case errors.Is(err, session.ErrLockTimeout):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "session busy"})
	case err != nil:
		s.logger.Error("reset failed", zap.String("session.id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "reset failed"})
	}
	return c.JSON(http.StatusOK, ResetResponse{Status: "reset", SessionID: id})
}

// handleNotification returns the delivery record for a completion.
func (s *Server) handleNotification(c echo.Context) error {
	if s.notifications == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "notifications disabled"})
	}
	d, ok := s.notifications.Status(c.Param("correlation_id"))
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "notification not found"})
	}
	return c.JSON(http.StatusOK, d)
}

// handleHealth pings every registered dependency. An open breaker degrades
// the status without failing it.
func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Version: s.version, Services: make(map[string]string, len(s.checks))}
	code := http.StatusOK
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", zap.String("service", name), zap.Error(err))
			resp.Services[name] = "unavailable"
			resp.Status = "unavailable"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Services[name] = "ok"
	}

	if s.notifications != nil {
		resp.Notify = &NotifyStatus{
			Sink:       s.notifications.SinkName(),
			Breaker:    s.notifications.BreakerState(),
			QueueDepth: s.notifications.QueueLen(),
		}
		if resp.Notify.Breaker != notify.BreakerClosed && resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}
	return c.JSON(code, resp)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
