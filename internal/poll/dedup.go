package poll

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/awfultie/chatpoll/internal/metrics"
)

// dedupSet rejects repeated text+username pairs within a time-bucketed
// window. Bounded: when the set is full, the oldest ~20% of entries are
// evicted before new ones are admitted. All methods are called from the
// engine actor goroutine (no concurrent access).
type dedupSet struct {
	clock      clockwork.Clock
	window     time.Duration
	expiry     time.Duration
	maxEntries int

	seen  map[string]time.Time
	order []dedupEntry // insertion order, oldest first
}

type dedupEntry struct {
	key    string
	seenAt time.Time
}

func newDedupSet(clock clockwork.Clock, cfg DedupConfig) *dedupSet {
	return &dedupSet{
		clock:      clock,
		window:     cfg.Window,
		expiry:     cfg.Expiry,
		maxEntries: cfg.MaxEntries,
		seen:       make(map[string]time.Time),
	}
}

// Seen reports whether the message is a duplicate, recording it otherwise.
func (d *dedupSet) Seen(text, username string) bool {
	now := d.clock.Now()
	d.pruneExpired(now)

	bucket := now.UnixMilli() / d.window.Milliseconds()
	key := fmt.Sprintf("%s|%s|%d", text, username, bucket)

	if _, dup := d.seen[key]; dup {
		return true
	}

	if len(d.seen) >= d.maxEntries {
		d.evictOldest()
	}

	d.seen[key] = now
	d.order = append(d.order, dedupEntry{key: key, seenAt: now})
	metrics.DedupSetSize.Set(float64(len(d.seen)))
	return false
}

func (d *dedupSet) pruneExpired(now time.Time) {
	cut := 0
	for cut < len(d.order) && now.Sub(d.order[cut].seenAt) >= d.expiry {
		delete(d.seen, d.order[cut].key)
		cut++
	}
	if cut > 0 {
		d.order = d.order[cut:]
		metrics.DedupSetSize.Set(float64(len(d.seen)))
	}
}

func (d *dedupSet) evictOldest() {
	n := d.maxEntries / 5
	if n < 1 {
		n = 1
	}
	if n > len(d.order) {
		n = len(d.order)
	}
	for _, e := range d.order[:n] {
		delete(d.seen, e.key)
	}
	d.order = d.order[n:]
}

func (d *dedupSet) clear() {
	d.seen = make(map[string]time.Time)
	d.order = nil
	metrics.DedupSetSize.Set(0)
}

func (d *dedupSet) size() int {
	return len(d.seen)
}
