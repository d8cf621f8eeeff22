package poll

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/awfultie/chatpoll/internal/domain"
)

// Ruleset is the compiled classification rule table. Built once at engine
// construction; read-only afterwards.
type Ruleset struct {
	yes       map[string]struct{}
	no        map[string]struct{}
	block     map[string]struct{}
	numberMin int
	numberMax int
}

func newRuleset(cfg *Config) *Ruleset {
	return &Ruleset{
		yes:       tokenSet(cfg.YesTokens),
		no:        tokenSet(cfg.NoTokens),
		block:     tokenSet(cfg.Sentiment.BlockList),
		numberMin: cfg.NumberMin,
		numberMax: cfg.NumberMax,
	}
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return set
}

// Classify maps a raw message to its category and normalized key. The rules
// are mutually exclusive and applied in order: yes/no tokens, bounded
// integers, single letters, multi-character sentiment terms, discarded.
func (r *Ruleset) Classify(text string) (domain.Category, string) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return domain.CategoryDiscarded, ""
	}

	if _, ok := r.yes[normalized]; ok {
		return domain.CategoryYesNo, "yes"
	}
	if _, ok := r.no[normalized]; ok {
		return domain.CategoryYesNo, "no"
	}

	if n, err := strconv.Atoi(normalized); err == nil {
		if n < r.numberMin || n > r.numberMax {
			return domain.CategoryDiscarded, ""
		}
		return domain.CategoryNumbers, strconv.Itoa(n)
	}

	if utf8.RuneCountInString(normalized) == 1 {
		ch, _ := utf8.DecodeRuneInString(normalized)
		if unicode.IsLetter(ch) {
			return domain.CategoryLetters, normalized
		}
		return domain.CategoryDiscarded, ""
	}

	if _, blocked := r.block[normalized]; blocked {
		return domain.CategoryDiscarded, ""
	}
	return domain.CategorySentiment, normalized
}
