// Package http serves the assistd run API.
//
// Runs can be submitted for background execution and queried later, or
// driven inline with each snapshot streamed back as a server-sent event.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assistd/internal/logging"
	"github.com/fyrsmithlabs/assistd/internal/runs"
	"github.com/fyrsmithlabs/assistd/internal/secrets"
	"github.com/fyrsmithlabs/assistd/internal/tools"
)

// DefaultHeartbeat is how often idle SSE streams get a comment line.
const DefaultHeartbeat = 15 * time.Second

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Heartbeat is the SSE keep-alive interval. Zero means DefaultHeartbeat.
	Heartbeat time.Duration
}

// Deps are the collaborators the server routes requests to.
type Deps struct {
	// Runs owns background runs. Required.
	Runs *runs.Manager
	// Runner drives inline streamed runs. Required.
	Runner runs.Runner
	Tools  *tools.Registry
	// Scrubber redacts inline streamed snapshots. Nil disables it.
	Scrubber secrets.Scrubber
	// NATS, when set, feeds live events to /runs/:id/events.
	NATS   *nats.Conn
	Logger *logging.Logger
	// Meter records otel HTTP metrics. Nil uses the global provider.
	Meter metric.Meter
}

// Server provides the HTTP endpoints for assistd.
type Server struct {
	echo     *echo.Echo
	runs     *runs.Manager
	runner   runs.Runner
	tools    *tools.Registry
	scrubber secrets.Scrubber
	nc       *nats.Conn
	logger   *logging.Logger
	metrics  *HTTPMetrics
	config   *Config
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, cfg *Config) (*Server, error) {
	if deps.Runs == nil {
		return nil, errors.New("run manager cannot be nil")
	}
	if deps.Runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	if deps.Logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if deps.Tools == nil {
		deps.Tools = tools.NewRegistry()
	}
	if deps.Scrubber == nil {
		deps.Scrubber = secrets.NoopScrubber{}
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}

	logger := deps.Logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		runs:     deps.Runs,
		runner:   deps.Runner,
		tools:    deps.Tools,
		scrubber: deps.Scrubber,
		nc:       deps.NATS,
		logger:   logger,
		metrics:  NewHTTPMetrics(deps.Meter, logger),
		config:   cfg,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger())
	e.Use(s.metrics.MetricsMiddleware())

	s.registerRoutes()

	return s, nil
}

var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]{1,128}$`)

// requestLogger logs every request and puts the request ID on the context
// so handler logs carry it.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := req.Context()
			// The ID may come from the client.
			if requestIDPattern.MatchString(rid) {
				ctx = logging.WithRequestID(ctx, rid)
				c.SetRequest(req.WithContext(ctx))
			}

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			s.logger.Info(ctx, "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/tools", s.handleTools)
	v1.POST("/runs", s.handleSubmit)
	v1.GET("/runs", s.handleList)
	v1.POST("/runs/stream", s.handleStream)
	v1.GET("/runs/:id", s.handleGet)
	v1.DELETE("/runs/:id", s.handleCancel)
	v1.GET("/runs/:id/events", s.handleEvents)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
