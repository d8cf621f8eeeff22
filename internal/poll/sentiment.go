package poll

import (
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"

	"github.com/awfultie/chatpoll/internal/domain"
	"github.com/awfultie/chatpoll/internal/metrics"
)

// sentimentItem is one tracked free-text term. rawCount only grows;
// decayedCount follows the shared decay model and drives display.
type sentimentItem struct {
	term         string
	rawCount     int
	decayedCount int
	lastSeen     time.Time
}

// sentimentTracker aggregates multi-character chat terms independently of
// the poll lifecycle. Blocked terms are filtered by the classifier and never
// reach this map.
type sentimentTracker struct {
	clock      clockwork.Clock
	activation int
	maxDisplay int

	items map[string]*sentimentItem
}

func newSentimentTracker(clock clockwork.Clock, cfg SentimentConfig) *sentimentTracker {
	return &sentimentTracker{
		clock:      clock,
		activation: cfg.ActivationThreshold,
		maxDisplay: cfg.MaxDisplayItems,
		items:      make(map[string]*sentimentItem),
	}
}

func (t *sentimentTracker) record(term string) {
	item, ok := t.items[term]
	if !ok {
		item = &sentimentItem{term: term}
		t.items[term] = item
	}
	item.rawCount++
	item.decayedCount++
	item.lastSeen = t.clock.Now()
	metrics.SentimentTermsTracked.Set(float64(len(t.items)))
}

func (t *sentimentTracker) decay(amount int) {
	for term, item := range t.items {
		item.decayedCount -= amount
		if item.decayedCount <= 0 {
			delete(t.items, term)
		}
	}
	metrics.SentimentTermsTracked.Set(float64(len(t.items)))
}

func (t *sentimentTracker) total() int {
	sum := 0
	for _, item := range t.items {
		sum += item.decayedCount
	}
	return sum
}

// snapshot builds the display-gated sentiment view: shouldDisplay once the
// decayed total reaches the activation threshold, items as the top-N terms
// by count with their share of the total.
func (t *sentimentTracker) snapshot() domain.SentimentSnapshot {
	total := t.total()

	all := make(map[string]int, len(t.items))
	for term, item := range t.items {
		all[term] = item.decayedCount
	}

	snap := domain.SentimentSnapshot{
		AllItems:      all,
		ShouldDisplay: total >= t.activation,
		Items:         []domain.SentimentEntry{},
	}
	if total == 0 {
		return snap
	}

	entries := lo.MapToSlice(t.items, func(term string, item *sentimentItem) domain.SentimentEntry {
		return domain.SentimentEntry{
			Term:       term,
			Count:      item.decayedCount,
			Percentage: 100 * float64(item.decayedCount) / float64(total),
		}
	})
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Term < entries[j].Term
	})
	if len(entries) > t.maxDisplay {
		entries = entries[:t.maxDisplay]
	}
	snap.Items = entries
	return snap
}

func (t *sentimentTracker) clear() {
	t.items = make(map[string]*sentimentItem)
	metrics.SentimentTermsTracked.Set(0)
}
