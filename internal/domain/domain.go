package domain

import (
	"time"
)

// --- Classification ---

// Category is the closed set of classification buckets a chat message can
// fall into. YesNo, Numbers, and Letters compete for the active poll in that
// priority order; Sentiment is aggregated independently and never becomes
// the active poll.
type Category int

const (
	CategoryDiscarded Category = iota
	CategoryYesNo
	CategoryNumbers
	CategoryLetters
	CategorySentiment
)

func (c Category) String() string {
	switch c {
	case CategoryYesNo:
		return "yesno"
	case CategoryNumbers:
		return "numbers"
	case CategoryLetters:
		return "letters"
	case CategorySentiment:
		return "sentiment"
	default:
		return "discarded"
	}
}

// PollCategories lists the categories eligible to become the active poll,
// in activation priority order.
var PollCategories = []Category{CategoryYesNo, CategoryNumbers, CategoryLetters}

// --- Poll lifecycle ---

type PollStatus int

const (
	StatusIdle PollStatus = iota
	StatusActive
	StatusConcluding
	StatusConcluded
	StatusCooldown
)

func (s PollStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusConcluding:
		return "concluding"
	case StatusConcluded:
		return "concluded"
	case StatusCooldown:
		return "cooldown"
	default:
		return "idle"
	}
}

// --- Model types ---

// MessageRecord is one inbound chat message. Records are ephemeral: created
// per ingest call and discarded after classification.
type MessageRecord struct {
	Text      string
	Username  string
	Timestamp time.Time
	Images    []string
	Badges    []string
}

// CountEntry is one key's tally inside a category counter map.
type CountEntry struct {
	Key         string
	Count       int
	LastUpdated time.Time
}

// --- Snapshots (the pull-style rendering contract) ---

// SentimentEntry is one displayed sentiment term.
type SentimentEntry struct {
	Term       string  `json:"term"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// SentimentSnapshot is the sentiment subsystem's view inside a StateSnapshot.
type SentimentSnapshot struct {
	AllItems      map[string]int   `json:"allItems"`
	ShouldDisplay bool             `json:"shouldDisplay"`
	Items         []SentimentEntry `json:"items"`
}

// StateSnapshot is the full engine state handed to rendering consumers.
type StateSnapshot struct {
	PollType      string            `json:"pollType"`
	IsActive      bool              `json:"isActive"`
	IsConcluded   bool              `json:"isConcluded"`
	ShouldDisplay bool              `json:"shouldDisplay"`
	Counts        map[string]int    `json:"counts"`
	RecentMax     int               `json:"recentMax"`
	Sentiment     SentimentSnapshot `json:"sentimentData"`
}

// --- Interfaces ---

// PollEngine is the inbound operation surface of the engine. Handlers and
// the broadcaster route everything through here.
type PollEngine interface {
	IngestMessage(text, username string, images, badges []string)
	Snapshot() StateSnapshot
	EndPoll() error
	Reset()
}

// EventSink receives dispatch events from the engine. Reset clears any
// pending batches and retry scheduling without cancelling in-flight requests.
type EventSink interface {
	Enqueue(Event)
	Reset()
}
