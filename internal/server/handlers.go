package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apperrors "github.com/awfultie/chatpoll/internal/errors"
)

type ingestRequest struct {
	Text     string   `json:"text" validate:"required"`
	Username string   `json:"username" validate:"required"`
	Images   []string `json:"images"`
	Badges   []string `json:"badges"`
}

func (s *Server) handleIngestMessage(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return apperrors.ValidationError("text and username are required")
	}

	s.engine.IngestMessage(req.Text, req.Username, req.Images, req.Badges)
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleState(c echo.Context) error {
	snapshot := s.engine.Snapshot()
	if err := c.JSON(http.StatusOK, snapshot); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type endPollResponse struct {
	Success   bool   `json:"success"`
	ErrorKind string `json:"errorKind,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleEndPoll(c echo.Context) error {
	if err := s.engine.EndPoll(); err != nil {
		structured := apperrors.AsStructuredError(err)
		return c.JSON(structured.HTTPStatus(), endPollResponse{
			Success:   false,
			ErrorKind: string(structured.Kind),
			Error:     structured.Message,
		})
	}
	return c.JSON(http.StatusOK, endPollResponse{Success: true})
}

func (s *Server) handleReset(c echo.Context) error {
	s.engine.Reset()
	slog.Info("Engine reset requested via API")
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := time.Since(s.startTime).Seconds()
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": uptime,
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	// The engine actor answers snapshot queries or it is not ready.
	done := make(chan struct{})
	go func() {
		s.engine.Snapshot()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":       "unhealthy",
			"failed_check": "engine",
			"error":        errors.New("snapshot query timed out").Error(),
		})
	}

	stats := s.dispatcher.Stats()
	return c.JSON(http.StatusOK, map[string]any{
		"status":           "ready",
		"dispatch_pending": stats.Pending,
		"overlay_clients":  s.broadcaster.ClientCount(),
	})
}
