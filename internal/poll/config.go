package poll

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/awfultie/chatpoll/internal/errors"
)

// Thresholds is the pair of count minimums a category must reach to become
// the active poll.
type Thresholds struct {
	Total      int `validate:"gte=1"`
	Individual int `validate:"gte=1"`
}

// SentimentConfig tunes the always-on sentiment aggregation.
type SentimentConfig struct {
	ActivationThreshold int `validate:"gte=1"`
	MaxDisplayItems     int `validate:"gte=1"`
	BlockList           []string
}

// DedupConfig tunes the ingest deduplication set.
type DedupConfig struct {
	Window     time.Duration `validate:"gt=0"`
	Expiry     time.Duration `validate:"gt=0"`
	MaxEntries int           `validate:"gte=1"`
}

// Config is the engine tuning surface. All durations must be positive and
// all thresholds at least one; violations are ConfigError at construction.
type Config struct {
	YesNoActivation   Thresholds
	NumbersActivation Thresholds
	LettersActivation Thresholds

	YesTokens []string `validate:"min=1"`
	NoTokens  []string `validate:"min=1"`
	NumberMin int
	NumberMax int

	DecayInterval       time.Duration `validate:"gt=0"`
	DecayAmount         int           `validate:"gte=1"`
	RecentMaxResetDelay time.Duration `validate:"gt=0"`

	MinPollDuration           time.Duration `validate:"gte=0"`
	PollActivityThreshold     int           `validate:"gte=1"`
	PollActivityCheckInterval time.Duration `validate:"gt=0"`
	PollClearTime             time.Duration `validate:"gte=0"`
	PollCooldownDuration      time.Duration `validate:"gte=0"`

	MaxDisplayItems      int `validate:"gte=1"`
	MaxBins              int `validate:"gte=1"`
	PollDisplayThreshold int `validate:"gte=1"`

	Dedup     DedupConfig
	Sentiment SentimentConfig

	// IngestRatePerSecond limits accepted ingest calls across all users.
	// Zero disables the limiter.
	IngestRatePerSecond float64 `validate:"gte=0"`
	IngestBurst         int     `validate:"gte=0"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		YesNoActivation:   Thresholds{Total: 3, Individual: 2},
		NumbersActivation: Thresholds{Total: 5, Individual: 1},
		LettersActivation: Thresholds{Total: 5, Individual: 2},

		YesTokens: []string{"yes", "y"},
		NoTokens:  []string{"no", "n"},
		NumberMin: 0,
		NumberMax: 10000,

		DecayInterval:       500 * time.Millisecond,
		DecayAmount:         1,
		RecentMaxResetDelay: 2 * time.Second,

		MinPollDuration:           10 * time.Second,
		PollActivityThreshold:     2,
		PollActivityCheckInterval: 5 * time.Second,
		PollClearTime:             10 * time.Second,
		PollCooldownDuration:      30 * time.Second,

		MaxDisplayItems:      10,
		MaxBins:              15,
		PollDisplayThreshold: 1,

		Dedup: DedupConfig{
			Window:     5 * time.Second,
			Expiry:     30 * time.Second,
			MaxEntries: 1000,
		},
		Sentiment: SentimentConfig{
			ActivationThreshold: 10,
			MaxDisplayItems:     5,
		},

		IngestRatePerSecond: 0,
		IngestBurst:         0,
	}
}

var validate = validator.New()

// Validate checks every tuning field, returning a ConfigError on the first
// violation.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return apperrors.ConfigError("invalid engine configuration", err)
	}
	if c.NumberMin > c.NumberMax {
		return apperrors.ConfigError(
			fmt.Sprintf("number bounds inverted: min %d > max %d", c.NumberMin, c.NumberMax), nil)
	}
	if c.IngestRatePerSecond > 0 && c.IngestBurst < 1 {
		return apperrors.ConfigError("ingest burst must be at least 1 when rate limiting is enabled", nil)
	}
	return nil
}
