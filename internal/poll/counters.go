package poll

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/awfultie/chatpoll/internal/domain"
)

// counterSet holds one frequency map per poll-eligible category. Decay never
// drives a count below zero; entries that reach zero are removed, not
// retained. All methods are called from the engine actor goroutine.
type counterSet struct {
	clock      clockwork.Clock
	resetDelay time.Duration

	entries map[domain.Category]map[string]*domain.CountEntry

	// recentMax tracks the highest individual count seen lately per category,
	// used only for display intensity. It resets to the current max after
	// resetDelay without a new max being exceeded.
	recentMax   map[domain.Category]int
	lastMaxBump map[domain.Category]time.Time
}

func newCounterSet(clock clockwork.Clock, resetDelay time.Duration) *counterSet {
	s := &counterSet{
		clock:       clock,
		resetDelay:  resetDelay,
		entries:     make(map[domain.Category]map[string]*domain.CountEntry),
		recentMax:   make(map[domain.Category]int),
		lastMaxBump: make(map[domain.Category]time.Time),
	}
	for _, cat := range domain.PollCategories {
		s.entries[cat] = make(map[string]*domain.CountEntry)
	}
	return s
}

// record increments the key's count and returns the new value.
func (s *counterSet) record(cat domain.Category, key string) int {
	now := s.clock.Now()
	entry, ok := s.entries[cat][key]
	if !ok {
		entry = &domain.CountEntry{Key: key}
		s.entries[cat][key] = entry
	}
	entry.Count++
	entry.LastUpdated = now

	if entry.Count > s.recentMax[cat] {
		s.recentMax[cat] = entry.Count
		s.lastMaxBump[cat] = now
	}
	return entry.Count
}

// decayAll subtracts amount from every entry in every category, flooring at
// zero and dropping zeroed entries.
func (s *counterSet) decayAll(amount int) {
	for _, m := range s.entries {
		for key, entry := range m {
			entry.Count -= amount
			if entry.Count <= 0 {
				delete(m, key)
			}
		}
	}
}

// refreshRecentMax resets each category's recent max to its current max once
// the reset delay has elapsed without the max being exceeded.
func (s *counterSet) refreshRecentMax() {
	now := s.clock.Now()
	for _, cat := range domain.PollCategories {
		if s.recentMax[cat] == 0 {
			continue
		}
		if now.Sub(s.lastMaxBump[cat]) >= s.resetDelay {
			s.recentMax[cat] = s.maxCount(cat)
			s.lastMaxBump[cat] = now
		}
	}
}

func (s *counterSet) recentMaxFor(cat domain.Category) int {
	return s.recentMax[cat]
}

func (s *counterSet) total(cat domain.Category) int {
	sum := 0
	for _, entry := range s.entries[cat] {
		sum += entry.Count
	}
	return sum
}

func (s *counterSet) maxCount(cat domain.Category) int {
	maxVal := 0
	for _, entry := range s.entries[cat] {
		if entry.Count > maxVal {
			maxVal = entry.Count
		}
	}
	return maxVal
}

// counts returns a copy of the category's key→count map.
func (s *counterSet) counts(cat domain.Category) map[string]int {
	out := make(map[string]int, len(s.entries[cat]))
	for key, entry := range s.entries[cat] {
		out[key] = entry.Count
	}
	return out
}

func (s *counterSet) clearAll() {
	for _, cat := range domain.PollCategories {
		s.entries[cat] = make(map[string]*domain.CountEntry)
		s.recentMax[cat] = 0
		s.lastMaxBump[cat] = time.Time{}
	}
}
