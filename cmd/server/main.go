package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/awfultie/chatpoll/internal/broadcast"
	"github.com/awfultie/chatpoll/internal/chat"
	"github.com/awfultie/chatpoll/internal/config"
	"github.com/awfultie/chatpoll/internal/dispatch"
	"github.com/awfultie/chatpoll/internal/logging"
	"github.com/awfultie/chatpoll/internal/poll"
	"github.com/awfultie/chatpoll/internal/server"
)

const overlayTickInterval = 250 * time.Millisecond

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func buildDispatcher(cfg *config.Config, clock clockwork.Clock) *dispatch.Dispatcher {
	var endpoints []dispatch.Endpoint
	if cfg.DispatchOverrideURL != "" {
		endpoints = append(endpoints, dispatch.Endpoint{Name: "override", URL: cfg.DispatchOverrideURL})
	}
	if cfg.DispatchPrimaryURL != "" {
		endpoints = append(endpoints, dispatch.Endpoint{Name: "primary", URL: cfg.DispatchPrimaryURL})
	}
	if cfg.DispatchLegacyURL != "" {
		endpoints = append(endpoints, dispatch.Endpoint{
			Name:       "legacy",
			URL:        cfg.DispatchLegacyURL,
			EventTypes: cfg.LegacyEventTypes(),
		})
	}
	if len(endpoints) == 0 {
		slog.Warn("No dispatch endpoints configured, events will be discarded")
	}

	return dispatch.NewDispatcher(dispatch.Options{
		Endpoints:      endpoints,
		Platform:       cfg.Platform,
		Channel:        cfg.Channel,
		BatchInterval:  cfg.DispatchBatchInterval,
		RequestTimeout: cfg.DispatchRequestTimeout,
		RetryAttempts:  cfg.DispatchRetryAttempts,
	}, clock)
}

func runGracefulShutdown(srv *server.Server, engine *poll.Engine, dispatcher *dispatch.Dispatcher, broadcaster *broadcast.Broadcaster, cancelChat context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		cancelChat()
		broadcaster.Stop()
		engine.Stop()
		dispatcher.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	dispatcher := buildDispatcher(cfg, clock)
	dispatcher.Start()

	engine, err := poll.NewEngine(poll.DefaultConfig(), dispatcher, clock)
	if err != nil {
		slog.Error("Failed to create poll engine", "error", err)
		os.Exit(1)
	}
	engine.Start()

	broadcaster := broadcast.NewBroadcaster(engine, clock, cfg.MaxOverlayClients, overlayTickInterval)

	chatCtx, cancelChat := context.WithCancel(context.Background())
	if cfg.TwitchChannel != "" {
		reader := chat.NewTwitchReader(cfg.TwitchChannel, cfg.TwitchBotUsername, cfg.TwitchOAuthToken, engine)
		go func() {
			if err := reader.Run(chatCtx); err != nil {
				slog.Error("Twitch chat reader stopped", "error", err)
			}
		}()
	}

	srv := server.NewServer(cfg, engine, dispatcher, broadcaster)

	done := runGracefulShutdown(srv, engine, dispatcher, broadcaster, cancelChat)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
