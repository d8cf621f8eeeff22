package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/awfultie/chatpoll/internal/broadcast"
	"github.com/awfultie/chatpoll/internal/config"
	"github.com/awfultie/chatpoll/internal/dispatch"
	"github.com/awfultie/chatpoll/internal/domain"
	apperrors "github.com/awfultie/chatpoll/internal/errors"
)

type Server struct {
	echo        *echo.Echo
	config      *config.Config
	engine      domain.PollEngine
	dispatcher  *dispatch.Dispatcher
	broadcaster *broadcast.Broadcaster
	validate    *validator.Validate
	startTime   time.Time
}

func NewServer(cfg *config.Config, engine domain.PollEngine, dispatcher *dispatch.Dispatcher, broadcaster *broadcast.Broadcaster) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:        e,
		config:      cfg,
		engine:      engine,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		validate:    validator.New(),
		startTime:   time.Now(),
	}

	e.HTTPErrorHandler = srv.handleError
	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleError maps structured errors onto JSON responses with the status
// code their kind implies. Echo's own HTTPErrors pass through unchanged.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	if httpErr, ok := err.(*echo.HTTPError); ok {
		_ = c.JSON(httpErr.Code, map[string]any{"error": fmt.Sprintf("%v", httpErr.Message)})
		return
	}

	structured := apperrors.AsStructuredError(err)
	if structured.HTTPStatus() >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", c.Request().URL.Path, "error", err)
	}
	_ = c.JSON(structured.HTTPStatus(), structured.ToResponse())
}
