package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted on observable engine transitions.
const (
	EventPollStarted     = "poll_started"
	EventPollUpdate      = "poll_update"
	EventPollConcluded   = "poll_concluded"
	EventPollCleared     = "poll_cleared"
	EventSentimentUpdate = "sentiment_update"
)

// Event is a single state-change notification bound for external rendering
// consumers. Immutable once created; ownership passes to the dispatcher on
// Enqueue.
type Event struct {
	ID        uuid.UUID
	Type      string
	Data      any
	CreatedAt time.Time
}

// PollEventData is the payload for poll_started, poll_update, and
// poll_concluded events.
type PollEventData struct {
	PollType string         `json:"pollType"`
	Counts   map[string]int `json:"counts"`
	Total    int            `json:"total"`
}

// SentimentEventData is the payload for sentiment_update events.
type SentimentEventData struct {
	Items         []SentimentEntry `json:"items"`
	ShouldDisplay bool             `json:"shouldDisplay"`
	Total         int              `json:"total"`
}
