// Package httpapi provides the HTTP API for recalld.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/recallbank/recalld/internal/ensemble"
	"github.com/recallbank/recalld/internal/knowledge"
)

// Searcher runs ensemble searches. Satisfied by *ensemble.Coordinator.
type Searcher interface {
	Search(ctx context.Context, q ensemble.Query) (*ensemble.Result, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides HTTP endpoints for recalld.
type Server struct {
	echo     *echo.Echo
	svc      *knowledge.Service
	searcher Searcher
	logger   *zap.Logger
	config   *Config
}

// NewServer creates a new HTTP server. searcher may be nil when ensemble
// search is not wired; the search endpoint then answers 503.
func NewServer(svc *knowledge.Service, searcher Searcher, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("knowledge service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 7437,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		svc:      svc,
		searcher: searcher,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.POST("/decisions", s.handleSaveDecision)
	v1.GET("/decisions", s.handleListDecisions)
	v1.GET("/decisions/:id", s.handleGetDecision)
	v1.PUT("/decisions/:id/outcome", s.handleDecisionOutcome)

	v1.POST("/learnings", s.handleSaveLearning)
	v1.GET("/learnings", s.handleListLearnings)
	v1.GET("/learnings/:id", s.handleGetLearning)
	v1.GET("/learnings/solution", s.handleFindSolution)

	v1.POST("/memories", s.handleSaveMemory)
	v1.GET("/memories", s.handleSearchMemories)
	v1.GET("/memories/:id", s.handleGetMemory)
	v1.DELETE("/memories/:id", s.handleDeleteMemory)

	v1.POST("/knowledge/:table/:id/usage", s.handleRecordUsage)
	v1.POST("/knowledge/:table/:id/confirm", s.handleConfirm)
	v1.POST("/knowledge/:table/:id/contradict", s.handleContradict)
	v1.POST("/knowledge/:table/:id/supersede", s.handleSupersede)
	v1.GET("/knowledge/:table/maturity", s.handleGetByMaturity)
	v1.GET("/knowledge/hypotheses", s.handleListHypotheses)
	v1.GET("/knowledge/contradicted", s.handleListContradicted)

	v1.GET("/search", s.handleSearch)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// httpError maps store errors to HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, knowledge.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, knowledge.ErrInvalidTable),
		errors.Is(err, knowledge.ErrNoMaturity),
		errors.Is(err, knowledge.ErrEmptyContent):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
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
