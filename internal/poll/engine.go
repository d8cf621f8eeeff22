package poll

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/awfultie/chatpoll/internal/domain"
	"github.com/awfultie/chatpoll/internal/metrics"
)

// --- Command types ---

type engineCmd interface{ engineCmd() }

type cmdIngest struct {
	record domain.MessageRecord
}

func (cmdIngest) engineCmd() {}

type cmdDecayTick struct{}

func (cmdDecayTick) engineCmd() {}

type cmdActivityTick struct{}

func (cmdActivityTick) engineCmd() {}

type cmdSnapshot struct {
	replyCh chan domain.StateSnapshot
}

func (cmdSnapshot) engineCmd() {}

type cmdEndPoll struct {
	replyCh chan error
}

func (cmdEndPoll) engineCmd() {}

type cmdReset struct {
	doneCh chan struct{}
}

func (cmdReset) engineCmd() {}

type cmdStop struct {
	doneCh chan struct{}
}

func (cmdStop) engineCmd() {}

// --- Engine ---

// Engine is the poll engine actor. All state (dedup set, counters, state
// machine, sentiment map) is owned by the single run goroutine; callers
// interact only through commands, so no locks are needed. Timers go through
// the injected clock so tests can advance logical time deterministically.
type Engine struct {
	cmdCh chan engineCmd
	clock clockwork.Clock
	cfg   Config

	rules     *Ruleset
	dedup     *dedupSet
	counters  *counterSet
	sentiment *sentimentTracker
	machine   *stateMachine
	sink      domain.EventSink
	limiter   *rate.Limiter

	sentimentDirty   bool
	sentimentDisplay bool
	stopCh           chan struct{}
}

// NewEngine validates cfg and builds an engine. The sink receives an event
// for every observable transition; it may be nil, in which case events are
// discarded.
func NewEngine(cfg Config, sink domain.EventSink, clock clockwork.Clock) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cmdCh:     make(chan engineCmd, 512),
		clock:     clock,
		cfg:       cfg,
		rules:     newRuleset(&cfg),
		dedup:     newDedupSet(clock, cfg.Dedup),
		counters:  newCounterSet(clock, cfg.RecentMaxResetDelay),
		sentiment: newSentimentTracker(clock, cfg.Sentiment),
		sink:      sink,
		stopCh:    make(chan struct{}),
	}
	e.machine = newStateMachine(clock, &e.cfg)

	if cfg.IngestRatePerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.IngestRatePerSecond), cfg.IngestBurst)
	}

	return e, nil
}

// Start begins the engine's background goroutines (actor plus the decay and
// activity-check ticker loops).
func (e *Engine) Start() {
	go e.run()
	go e.decayLoop()
	go e.activityLoop()
}

// Stop shuts the engine down, waiting for the actor goroutine to exit.
func (e *Engine) Stop() {
	doneCh := make(chan struct{})
	e.cmdCh <- cmdStop{doneCh: doneCh}
	<-doneCh
}

func (e *Engine) run() {
	for cmd := range e.cmdCh {
		switch c := cmd.(type) {
		case cmdIngest:
			e.handleIngest(c.record)
		case cmdDecayTick:
			e.handleDecayTick()
		case cmdActivityTick:
			e.applyTransitions(e.machine.activityTick(e.counters))
		case cmdSnapshot:
			c.replyCh <- e.buildSnapshot()
		case cmdEndPoll:
			trs, err := e.machine.conclude(e.counters, true)
			e.applyTransitions(trs)
			c.replyCh <- err
		case cmdReset:
			e.handleReset()
			close(c.doneCh)
		case cmdStop:
			close(e.stopCh)
			close(c.doneCh)
			return
		}
	}
}

func (e *Engine) decayLoop() {
	ticker := e.clock.NewTicker(e.cfg.DecayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			e.cmdCh <- cmdDecayTick{}
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) activityLoop() {
	ticker := e.clock.NewTicker(e.cfg.PollActivityCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			e.cmdCh <- cmdActivityTick{}
		case <-e.stopCh:
			return
		}
	}
}

// --- Command handlers ---

func (e *Engine) handleIngest(rec domain.MessageRecord) {
	if rec.Text == "" || rec.Username == "" {
		metrics.MessagesIngestedTotal.WithLabelValues("invalid").Inc()
		slog.Debug("Rejecting malformed ingest record", "has_text", rec.Text != "", "has_username", rec.Username != "")
		return
	}

	if e.limiter != nil && !e.limiter.Allow() {
		metrics.MessagesIngestedTotal.WithLabelValues("rate_limited").Inc()
		return
	}

	if e.dedup.Seen(rec.Text, rec.Username) {
		metrics.MessagesIngestedTotal.WithLabelValues("duplicate").Inc()
		return
	}

	cat, key := e.rules.Classify(rec.Text)
	metrics.MessagesIngestedTotal.WithLabelValues("accepted").Inc()
	metrics.ClassificationsTotal.WithLabelValues(cat.String()).Inc()

	switch cat {
	case domain.CategoryDiscarded:
		return

	case domain.CategorySentiment:
		e.sentiment.record(key)
		e.sentimentDirty = true

	default:
		e.counters.record(cat, key)
		if e.machine.status == domain.StatusActive && cat == e.machine.activeCategory {
			e.emit(domain.EventPollUpdate, domain.PollEventData{
				PollType: cat.String(),
				Counts:   e.counters.counts(cat),
				Total:    e.counters.total(cat),
			})
			return
		}
		if e.machine.status == domain.StatusIdle {
			e.applyTransitions(e.machine.evaluate(e.counters))
		}
	}
}

func (e *Engine) handleDecayTick() {
	e.counters.decayAll(e.cfg.DecayAmount)
	e.sentiment.decay(e.cfg.DecayAmount)
	e.counters.refreshRecentMax()

	e.applyTransitions(e.machine.evaluate(e.counters))

	display := e.sentiment.total() >= e.cfg.Sentiment.ActivationThreshold
	if e.sentimentDirty || display != e.sentimentDisplay {
		snap := e.sentiment.snapshot()
		e.emit(domain.EventSentimentUpdate, domain.SentimentEventData{
			Items:         snap.Items,
			ShouldDisplay: snap.ShouldDisplay,
			Total:         e.sentiment.total(),
		})
		e.sentimentDirty = false
		e.sentimentDisplay = display
	}
}

func (e *Engine) handleReset() {
	e.machine.reset()
	e.counters.clearAll()
	e.sentiment.clear()
	e.dedup.clear()
	e.sentimentDirty = false
	e.sentimentDisplay = false
	metrics.PollActive.Set(0)
	if e.sink != nil {
		e.sink.Reset()
	}
	slog.Info("Engine reset")
}

func (e *Engine) applyTransitions(trs []transition) {
	for _, tr := range trs {
		metrics.PollTransitionsTotal.WithLabelValues(tr.from.String(), tr.to.String()).Inc()

		switch tr.to {
		case domain.StatusActive:
			metrics.PollActive.Set(1)
			cat := e.machine.activeCategory
			slog.Info("Poll activated", "poll_type", cat.String())
			e.emit(domain.EventPollStarted, domain.PollEventData{
				PollType: cat.String(),
				Counts:   e.counters.counts(cat),
				Total:    e.counters.total(cat),
			})

		case domain.StatusConcluded:
			metrics.PollActive.Set(0)
			slog.Info("Poll concluded", "poll_type", e.machine.activeCategory.String(), "total", e.machine.displayTotal)
			e.emit(domain.EventPollConcluded, domain.PollEventData{
				PollType: e.machine.activeCategory.String(),
				Counts:   e.machine.display,
				Total:    e.machine.displayTotal,
			})

		case domain.StatusCooldown:
			slog.Info("Poll display cleared", "cooldown_until", e.machine.cooldownUntil)
			e.emit(domain.EventPollCleared, domain.PollEventData{
				PollType: e.machine.activeCategory.String(),
			})

		case domain.StatusIdle:
			e.counters.clearAll()
			slog.Info("Cooldown elapsed, poll engine idle")
		}
	}
}

func (e *Engine) emit(eventType string, data any) {
	if e.sink == nil {
		return
	}
	e.sink.Enqueue(domain.Event{
		ID:        uuid.New(),
		Type:      eventType,
		Data:      data,
		CreatedAt: e.clock.Now(),
	})
}

func (e *Engine) buildSnapshot() domain.StateSnapshot {
	snap := domain.StateSnapshot{
		IsActive:      e.machine.status == domain.StatusActive,
		IsConcluded:   e.machine.status == domain.StatusConcluded,
		ShouldDisplay: e.machine.shouldDisplay(),
		Counts:        map[string]int{},
		Sentiment:     e.sentiment.snapshot(),
	}

	switch e.machine.status {
	case domain.StatusActive:
		cat := e.machine.activeCategory
		snap.PollType = cat.String()
		snap.Counts = e.counters.counts(cat)
		snap.RecentMax = e.counters.recentMaxFor(cat)
	case domain.StatusConcluded:
		snap.PollType = e.machine.activeCategory.String()
		for key, n := range e.machine.display {
			snap.Counts[key] = n
		}
	}

	return snap
}

// --- Public API ---

// IngestMessage feeds one chat message into the engine. Fire-and-forget:
// malformed, duplicate, and rate-limited records are counted and dropped
// without surfacing an error.
func (e *Engine) IngestMessage(text, username string, images, badges []string) {
	e.cmdCh <- cmdIngest{record: domain.MessageRecord{
		Text:      text,
		Username:  username,
		Timestamp: e.clock.Now(),
		Images:    images,
		Badges:    badges,
	}}
}

// Snapshot returns the current engine state for rendering consumers.
func (e *Engine) Snapshot() domain.StateSnapshot {
	replyCh := make(chan domain.StateSnapshot, 1)
	e.cmdCh <- cmdSnapshot{replyCh: replyCh}
	return <-replyCh
}

// EndPoll requests a manual conclusion of the active poll. Returns a
// structured NotActiveError or NotYetEligibleError failure when the request
// is not permitted.
func (e *Engine) EndPoll() error {
	replyCh := make(chan error, 1)
	e.cmdCh <- cmdEndPoll{replyCh: replyCh}
	return <-replyCh
}

// Reset forces the engine back to Idle from any state, clearing every
// counter, the dedup set, the sentiment map, and the dispatcher's pending
// retry state. Idempotent.
func (e *Engine) Reset() {
	doneCh := make(chan struct{})
	e.cmdCh <- cmdReset{doneCh: doneCh}
	<-doneCh
}
