package poll

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/awfultie/chatpoll/internal/domain"
	apperrors "github.com/awfultie/chatpoll/internal/errors"
)

// A poll concludes on inactivity only after this many consecutive
// under-threshold activity ticks.
const lowActivityTicksToConclude = 2

type transition struct {
	from domain.PollStatus
	to   domain.PollStatus
}

// stateMachine owns the poll lifecycle:
// Idle → Active → Concluding → Concluded → Cooldown → Idle.
// Concluding is a same-evaluation phase: the conclude trigger freezes the
// display snapshot and lands in Concluded within one pass. An Active poll is
// never preempted by a higher-priority category qualifying later.
type stateMachine struct {
	clock clockwork.Clock
	cfg   *Config

	status         domain.PollStatus
	activeCategory domain.Category
	startedAt      time.Time
	concludedAt    time.Time
	cooldownUntil  time.Time

	lowActivityTicks int

	// display is the frozen snapshot of the concluded poll's counts after
	// display limits; displayTotal keeps the pre-limit total.
	display      map[string]int
	displayTotal int
}

func newStateMachine(clock clockwork.Clock, cfg *Config) *stateMachine {
	return &stateMachine{
		clock:  clock,
		cfg:    cfg,
		status: domain.StatusIdle,
	}
}

func (m *stateMachine) activationFor(cat domain.Category) Thresholds {
	switch cat {
	case domain.CategoryYesNo:
		return m.cfg.YesNoActivation
	case domain.CategoryNumbers:
		return m.cfg.NumbersActivation
	default:
		return m.cfg.LettersActivation
	}
}

// evaluate advances time-driven transitions: activation from Idle, display
// clearing after the clear time, and cooldown release. Conclusion is driven
// separately by conclude and activityTick.
func (m *stateMachine) evaluate(c *counterSet) []transition {
	now := m.clock.Now()

	switch m.status {
	case domain.StatusIdle:
		for _, cat := range domain.PollCategories {
			th := m.activationFor(cat)
			if c.total(cat) >= th.Total && c.maxCount(cat) >= th.Individual {
				m.status = domain.StatusActive
				m.activeCategory = cat
				m.startedAt = now
				m.lowActivityTicks = 0
				m.display = nil
				m.displayTotal = 0
				return []transition{{domain.StatusIdle, domain.StatusActive}}
			}
		}

	case domain.StatusConcluded:
		if now.Sub(m.concludedAt) >= m.cfg.PollClearTime {
			m.status = domain.StatusCooldown
			m.cooldownUntil = now.Add(m.cfg.PollCooldownDuration)
			return []transition{{domain.StatusConcluded, domain.StatusCooldown}}
		}

	case domain.StatusCooldown:
		if !now.Before(m.cooldownUntil) {
			m.status = domain.StatusIdle
			m.activeCategory = domain.CategoryDiscarded
			m.display = nil
			m.displayTotal = 0
			return []transition{{domain.StatusCooldown, domain.StatusIdle}}
		}
	}

	return nil
}

// conclude ends the active poll, freezing the display snapshot. Manual
// requests fail with NotActiveError when no poll is active and with
// NotYetEligibleError before the minimum poll duration.
func (m *stateMachine) conclude(c *counterSet, manual bool) ([]transition, error) {
	now := m.clock.Now()

	if m.status != domain.StatusActive {
		return nil, apperrors.NotActiveError("no poll is currently active")
	}
	if now.Sub(m.startedAt) < m.cfg.MinPollDuration {
		if manual {
			return nil, apperrors.NotYetEligibleError("poll has not met its minimum duration").
				WithField("elapsed", now.Sub(m.startedAt).String()).
				WithField("min_duration", m.cfg.MinPollDuration.String())
		}
		return nil, nil
	}

	counts := c.counts(m.activeCategory)
	m.status = domain.StatusConcluding
	m.display, m.displayTotal = buildDisplay(counts, m.activeCategory, m.cfg)
	m.status = domain.StatusConcluded
	m.concludedAt = now
	m.lowActivityTicks = 0

	return []transition{
		{domain.StatusActive, domain.StatusConcluding},
		{domain.StatusConcluding, domain.StatusConcluded},
	}, nil
}

// activityTick records one activity check. The poll concludes once activity
// for the active category stays below the threshold for enough consecutive
// ticks, gated by the minimum poll duration.
func (m *stateMachine) activityTick(c *counterSet) []transition {
	if m.status != domain.StatusActive {
		return nil
	}

	if c.total(m.activeCategory) < m.cfg.PollActivityThreshold {
		m.lowActivityTicks++
	} else {
		m.lowActivityTicks = 0
	}

	if m.lowActivityTicks < lowActivityTicksToConclude {
		return nil
	}

	trs, err := m.conclude(c, false)
	if err != nil {
		return nil
	}
	return trs
}

func (m *stateMachine) reset() {
	m.status = domain.StatusIdle
	m.activeCategory = domain.CategoryDiscarded
	m.startedAt = time.Time{}
	m.concludedAt = time.Time{}
	m.cooldownUntil = time.Time{}
	m.lowActivityTicks = 0
	m.display = nil
	m.displayTotal = 0
}

func (m *stateMachine) shouldDisplay() bool {
	return m.status == domain.StatusActive || m.status == domain.StatusConcluded
}

// buildDisplay applies the display limits to a concluded poll's counts:
// numeric bucketing into at most maxBins ranges, omission of entries below
// the display threshold, and the top maxDisplayItems entries. Omitted
// entries still count toward the returned total.
func buildDisplay(counts map[string]int, cat domain.Category, cfg *Config) (map[string]int, int) {
	total := 0
	for _, n := range counts {
		total += n
	}

	if cat == domain.CategoryNumbers && len(counts) > cfg.MaxBins {
		counts = binNumericCounts(counts, cfg.MaxBins)
	}

	type kv struct {
		key   string
		count int
	}
	kept := make([]kv, 0, len(counts))
	for key, n := range counts {
		if n < cfg.PollDisplayThreshold {
			continue
		}
		kept = append(kept, kv{key, n})
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].count != kept[j].count {
			return kept[i].count > kept[j].count
		}
		return kept[i].key < kept[j].key
	})
	if len(kept) > cfg.MaxDisplayItems {
		kept = kept[:cfg.MaxDisplayItems]
	}

	display := make(map[string]int, len(kept))
	for _, e := range kept {
		display[e.key] = e.count
	}
	return display, total
}

// binNumericCounts groups numeric keys into equal-width ranges labeled
// "lo-hi" so the display never exceeds maxBins bars.
func binNumericCounts(counts map[string]int, maxBins int) map[string]int {
	minVal, maxVal := 0, 0
	first := true
	parsed := make(map[int]int, len(counts))
	for key, n := range counts {
		v, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		parsed[v] += n
		if first || v < minVal {
			minVal = v
		}
		if first || v > maxVal {
			maxVal = v
		}
		first = false
	}
	if first {
		return counts
	}

	width := (maxVal - minVal + maxBins) / maxBins
	if width < 1 {
		width = 1
	}

	binned := make(map[string]int)
	for v, n := range parsed {
		lo := minVal + ((v-minVal)/width)*width
		hi := lo + width - 1
		label := strconv.Itoa(lo)
		if width > 1 {
			label = fmt.Sprintf("%d-%d", lo, hi)
		}
		binned[label] += n
	}
	return binned
}
