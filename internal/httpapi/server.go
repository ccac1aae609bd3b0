// Package httpapi exposes the change-request API over HTTP: submission,
// result polling, the GitHub webhook trigger, health, and metrics.
package httpapi

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

	"github.com/fyrsmithlabs/patchd/internal/config"
	"github.com/fyrsmithlabs/patchd/internal/faults"
	"github.com/fyrsmithlabs/patchd/internal/logging"
	"github.com/fyrsmithlabs/patchd/internal/orchestrator"
	"github.com/fyrsmithlabs/patchd/internal/session"
)

// defaultWait bounds how long GET /changes/:id blocks when the caller
// asks to wait without giving a duration.
const defaultWait = 30 * time.Second

// Orchestrator is the engine surface the API depends on.
type Orchestrator interface {
	Submit(ctx context.Context, req session.Request) (string, error)
	AwaitResult(ctx context.Context, sessionID string) (*orchestrator.Result, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host          string
	Port          int
	WebhookSecret config.Secret
}

// Server provides the patchd HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	engine   Orchestrator
	logger   *logging.Logger
	cfg      Config
	limiters *ipLimiters
	gatherer prometheus.Gatherer
}

// NewServer creates the HTTP server. gatherer may be nil to disable the
// metrics endpoint.
func NewServer(engine Orchestrator, cfg Config, logger *logging.Logger, gatherer prometheus.Gatherer) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		engine:   engine,
		logger:   logger.Named("httpapi"),
		cfg:      cfg,
		limiters: newIPLimiters(),
		gatherer: gatherer,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	s.echo.POST("/webhook", s.handleWebhook)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/changes", s.handleSubmit)
	v1.GET("/changes/:id", s.handleGetChange)
}

// SubmitResponse is the response body for POST /api/v1/changes.
type SubmitResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// PendingResponse is returned while a session is still running.
type PendingResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSubmit accepts a change request and returns 202 with the session
// ID. The session runs asynchronously; poll GET /changes/:id for the
// outcome.
func (s *Server) handleSubmit(c echo.Context) error {
	var req session.Request
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid submit request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, err := s.engine.Submit(c.Request().Context(), req)
	if err != nil {
		return s.submitError(c, err)
	}

	return c.JSON(http.StatusAccepted, SubmitResponse{SessionID: id, Status: "accepted"})
}

// submitError maps classified submission failures to HTTP statuses.
func (s *Server) submitError(c echo.Context, err error) error {
	switch faults.CodeOf(err) {
	case faults.CodeValidation:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case faults.CodeAdmissionRejected:
		c.Response().Header().Set("Retry-After", "30")
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	default:
		s.logger.Error(c.Request().Context(), "submission failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "submission failed")
	}
}

// handleGetChange returns a session's terminal result. With ?wait=<dur>
// it blocks up to that long (capped at defaultWait); otherwise it
// answers immediately, reporting in-progress sessions as 202.
func (s *Server) handleGetChange(c echo.Context) error {
	id := c.Param("id")

	wait := time.Duration(0)
	if raw := c.QueryParam("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid wait duration")
		}
		if d > defaultWait {
			d = defaultWait
		}
		wait = d
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), wait)
	defer cancel()

	result, err := s.engine.AwaitResult(ctx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return c.JSON(http.StatusAccepted, PendingResponse{SessionID: id, Status: "in_progress"})
		}
		if faults.CodeOf(err) == faults.CodeValidation {
			return echo.NewHTTPError(http.StatusNotFound, "unknown session")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
	}
	return c.JSON(http.StatusOK, result)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
