package affect

import (
	"fmt"
	"regexp"
	"strings"
)

// IntensifierWindow is how many characters around a marker are searched for
// an intensifier.
const IntensifierWindow = 20

// LexiconEntry lists the marker words of one category and their weight.
type LexiconEntry[C comparable] struct {
	Category C
	Words    []string
	Weight   float64
}

type compiledMarkers struct {
	patterns []*regexp.Regexp
	weight   float64
}

// Lexicon counts word-boundary marker matches per category. A match with an
// intensifier nearby scores an extra half weight.
type Lexicon[C comparable] struct {
	entries      map[C]compiledMarkers
	intensifiers *regexp.Regexp
	window       int
}

// NewLexicon compiles entries. Words may contain spaces ("not sure").
func NewLexicon[C comparable](entries []LexiconEntry[C], intensifiers []string) (*Lexicon[C], error) {
	l := &Lexicon[C]{
		entries: make(map[C]compiledMarkers, len(entries)),
		window:  IntensifierWindow,
	}
	for _, e := range entries {
		cm := l.entries[e.Category]
		cm.weight = e.Weight
		for _, w := range e.Words {
			w = strings.TrimSpace(strings.ToLower(w))
			if w == "" {
				continue
			}
			re, err := regexp.Compile(`\b` + regexp.QuoteMeta(w) + `\b`)
			if err != nil {
				return nil, fmt.Errorf("lexicon marker %q: %w", w, err)
			}
			cm.patterns = append(cm.patterns, re)
		}
		l.entries[e.Category] = cm
	}
	if len(intensifiers) > 0 {
		quoted := make([]string, 0, len(intensifiers))
		for _, w := range intensifiers {
			if w = strings.TrimSpace(strings.ToLower(w)); w != "" {
				quoted = append(quoted, regexp.QuoteMeta(w))
			}
		}
		if len(quoted) > 0 {
			re, err := regexp.Compile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
			if err != nil {
				return nil, fmt.Errorf("lexicon intensifiers: %w", err)
			}
			l.intensifiers = re
		}
	}
	return l, nil
}

// Score returns the marker score of category c in lower-cased text.
func (l *Lexicon[C]) Score(text string, c C) float64 {
	cm, ok := l.entries[c]
	if !ok || text == "" {
		return 0
	}
	var boosts [][]int
	if l.intensifiers != nil {
		boosts = l.intensifiers.FindAllStringIndex(text, -1)
	}
	score := 0.0
	for _, re := range cm.patterns {
		for _, m := range re.FindAllStringIndex(text, -1) {
			score += cm.weight
			if l.intensified(m, boosts) {
				score += 0.5 * cm.weight
			}
		}
	}
	return score
}

func (l *Lexicon[C]) intensified(match []int, boosts [][]int) bool {
	lo, hi := match[0]-l.window, match[1]+l.window
	for _, b := range boosts {
		if b[0] == match[0] && b[1] == match[1] {
			continue
		}
		if b[0] < hi && b[1] > lo {
			return true
		}
	}
	return false
}

// Categories returns the categories that have markers.
func (l *Lexicon[C]) Categories() []C {
	out := make([]C, 0, len(l.entries))
	for c := range l.entries {
		out = append(out, c)
	}
	return out
}

// LexiconRules turns a lexicon into one rule per category in vocabulary.
// text extracts the lower-cased utterance from the feature vector.
func LexiconRules[F any, C comparable](l *Lexicon[C], vocabulary []C, text func(F) string, decay float64) []Rule[F, C] {
	rules := make([]Rule[F, C], 0, len(vocabulary))
	for _, c := range vocabulary {
		if _, ok := l.entries[c]; !ok {
			continue
		}
		c := c
		rules = append(rules, Rule[F, C]{
			Name:         fmt.Sprintf("lexicon:%v", c),
			Category:     c,
			Score:        func(f F) float64 { return l.Score(text(f), c) },
			NeutralDecay: decay,
		})
	}
	return rules
}
