// Package server exposes the gateway over HTTP: the Messages surface, a
// token-counting helper, the model catalog and health.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/isaacmorgado/clauded/internal/codec"
	"github.com/isaacmorgado/clauded/internal/config"
	"github.com/isaacmorgado/clauded/internal/pipeline"
)

const (
	maxBodyBytes        = "20M"
	shutdownGracePeriod = 10 * time.Second
	// requestDeadline bounds one full pipeline pass including admission
	// waiting and upstream retries.
	requestDeadline = 6 * time.Minute
)

// Server wires the pipeline behind an echo application.
type Server struct {
	cfg  *config.Config
	pipe *pipeline.Pipeline
	app  *echo.Echo
}

// New constructs the HTTP server with routing and middleware.
func New(cfg *config.Config, pipe *pipeline.Pipeline) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(maxBodyBytes))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			)
			return nil
		},
	}))

	s := &Server{cfg: cfg, pipe: pipe, app: e}

	e.POST("/v1/messages", s.handleMessages)
	e.POST("/v1/messages/count_tokens", s.handleCountTokens)
	e.GET("/v1/models", s.handleModels)
	e.GET("/health", s.handleHealth)

	return s
}

// Handler exposes the routed application, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Start runs the listener until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	return s.app.Shutdown(shutdownCtx)
}

// errorHandler renders every unhandled failure in the uniform envelope.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	msg := "internal error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if s, ok := he.Message.(string); ok {
			msg = s
		}
	}
	errType := codec.TypeAPI
	if status < 500 {
		errType = codec.TypeInvalidRequest
	}
	c.JSON(status, (&codec.GatewayError{Type: errType, Message: msg, Status: status}).Envelope())
}

func writeGatewayError(c echo.Context, gerr *codec.GatewayError) error {
	return c.JSON(gerr.Status, gerr.Envelope())
}
