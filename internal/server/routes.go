package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Engine API
	s.echo.POST("/api/messages", s.handleIngestMessage)
	s.echo.GET("/api/state", s.handleState)
	s.echo.POST("/api/poll/end", s.handleEndPoll)
	s.echo.POST("/api/reset", s.handleReset)

	// Overlay push feed
	s.echo.GET("/ws/overlay", s.handleOverlaySocket)
}
