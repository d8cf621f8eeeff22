package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Chat source identity stamped on every outbound dispatch payload.
	Platform string `env:"PLATFORM" default:"twitch"`
	Channel  string `env:"CHANNEL"`

	// Twitch IRC ingest (optional; HTTP ingest works without it).
	// All three must be set together.
	TwitchChannel     string `env:"TWITCH_CHANNEL"`
	TwitchBotUsername string `env:"TWITCH_BOT_USERNAME"`
	TwitchOAuthToken  string `env:"TWITCH_OAUTH_TOKEN"`

	// Dispatch endpoints, in selection priority order.
	DispatchOverrideURL     string `env:"DISPATCH_OVERRIDE_URL"`
	DispatchPrimaryURL      string `env:"DISPATCH_PRIMARY_URL"`
	DispatchLegacyURL       string `env:"DISPATCH_LEGACY_URL"`
	DispatchLegacyEventList string `env:"DISPATCH_LEGACY_EVENT_TYPES"`

	DispatchBatchInterval  time.Duration `env:"DISPATCH_BATCH_INTERVAL" default:"300ms"`
	DispatchRequestTimeout time.Duration `env:"DISPATCH_REQUEST_TIMEOUT" default:"5s"`
	DispatchRetryAttempts  int           `env:"DISPATCH_RETRY_ATTEMPTS" default:"3"`

	MaxOverlayClients int `env:"MAX_OVERLAY_CLIENTS" default:"64"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DispatchBatchInterval <= 0 {
		return fmt.Errorf("DISPATCH_BATCH_INTERVAL must be positive")
	}
	if cfg.DispatchRequestTimeout <= 0 {
		return fmt.Errorf("DISPATCH_REQUEST_TIMEOUT must be positive")
	}
	if cfg.DispatchRetryAttempts < 1 {
		return fmt.Errorf("DISPATCH_RETRY_ATTEMPTS must be at least 1")
	}
	if cfg.MaxOverlayClients < 1 {
		return fmt.Errorf("MAX_OVERLAY_CLIENTS must be at least 1")
	}

	// Twitch ingest config: all three must be set together
	twitchSet := cfg.TwitchChannel != "" || cfg.TwitchBotUsername != "" || cfg.TwitchOAuthToken != ""
	if twitchSet {
		if cfg.TwitchChannel == "" {
			return fmt.Errorf("TWITCH_CHANNEL is required when Twitch ingest is configured")
		}
		if cfg.TwitchBotUsername == "" {
			return fmt.Errorf("TWITCH_BOT_USERNAME is required when Twitch ingest is configured")
		}
		if cfg.TwitchOAuthToken == "" {
			return fmt.Errorf("TWITCH_OAUTH_TOKEN is required when Twitch ingest is configured")
		}
	}

	return nil
}

// LegacyEventTypes returns the parsed comma-separated legacy endpoint filter.
// An empty list means the legacy endpoint receives no events unless types are
// explicitly enabled.
func (c *Config) LegacyEventTypes() []string {
	if c.DispatchLegacyEventList == "" {
		return nil
	}
	parts := strings.Split(c.DispatchLegacyEventList, ",")
	types := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			types = append(types, t)
		}
	}
	return types
}
