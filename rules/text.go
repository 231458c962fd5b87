package rules

import (
	"sync/atomic"

	"github.com/maastricht-university/affect-pipeline/affect"
	"github.com/maastricht-university/affect-pipeline/features"
)

// TextBaseline is the neutral prior of the text table.
const TextBaseline = 0.5

// Neutral decay applied by the lexical and the structural text rules.
const (
	lexiconDecay   = 0.7
	structureDecay = 0.9
)

// TextStructureRules score punctuation, capitals, repetition and sentence
// shape. The lexicon rules are added per lexicon by NewTextScorer.
var TextStructureRules = []affect.Rule[features.Text, affect.Tone]{
	{
		Name:     "exclamations-excited",
		Category: affect.ToneExcited,
		Score: func(t features.Text) float64 {
			return float64(t.ExclamationCount) * 0.3
		},
		NeutralDecay: structureDecay,
	},
	{
		Name:     "exclamations-angry",
		Category: affect.ToneAngry,
		Score: func(t features.Text) float64 {
			return float64(t.ExclamationCount) * 0.1
		},
		NeutralDecay: structureDecay,
	},
	{
		Name:     "questions",
		Category: affect.ToneUncertain,
		Score: func(t features.Text) float64 {
			return float64(t.QuestionCount) * 0.3
		},
		NeutralDecay: structureDecay,
	},
	{
		Name:     "capitals-excited",
		Category: affect.ToneExcited,
		Score: func(t features.Text) float64 {
			if shouting(t) {
				return t.CapitalsRatio * 1.5
			}
			return 0
		},
		NeutralDecay: structureDecay,
	},
	{
		Name:     "capitals-angry",
		Category: affect.ToneAngry,
		Score: func(t features.Text) float64 {
			if shouting(t) {
				return t.CapitalsRatio * 2
			}
			return 0
		},
		NeutralDecay: structureDecay,
	},
	{
		Name:     "repetition-anxious",
		Category: affect.ToneAnxious,
		Score: func(t features.Text) float64 {
			if t.Repetition < 0.7 {
				return (1 - t.Repetition) * 1.5
			}
			return 0
		},
		NeutralDecay: structureDecay,
	},
	{
		Name:     "repetition-uncertain",
		Category: affect.ToneUncertain,
		Score: func(t features.Text) float64 {
			if t.Repetition < 0.7 {
				return 1 - t.Repetition
			}
			return 0
		},
		NeutralDecay: structureDecay,
	},
	{
		Name:     "abrupt-sentences-angry",
		Category: affect.ToneAngry,
		Score: func(t features.Text) float64 {
			if abrupt(t) {
				return 0.5
			}
			return 0
		},
		NeutralDecay: structureDecay,
	},
	{
		Name:     "abrupt-sentences-anxious",
		Category: affect.ToneAnxious,
		Score: func(t features.Text) float64 {
			if abrupt(t) {
				return 0.3
			}
			return 0
		},
		NeutralDecay: structureDecay,
	},
	{
		Name:     "flowing-sentences",
		Category: affect.ToneCalm,
		Score: func(t features.Text) float64 {
			if t.AvgSentenceLength > 40 {
				return 0.5
			}
			return 0
		},
		NeutralDecay: structureDecay,
	},
}

// shouting requires at least one all-caps word so that ordinary
// capitalisation of short sentences does not read as raised voice.
func shouting(t features.Text) bool {
	return t.CapitalsRatio > 0.25 && t.ShoutRatio > 0
}

func abrupt(t features.Text) bool {
	return t.SentenceCount >= 2 && t.AvgSentenceLength < 15
}

func normalizedText(t features.Text) string { return t.Normalized }

// TextScorer scores utterances with the structural rules plus a lexicon
// that can be swapped while scoring is in progress.
type TextScorer struct {
	bounds affect.Bounds
	cur    atomic.Pointer[affect.Scorer[features.Text, affect.Tone]]
}

// NewTextScorer returns a TextScorer using lex.
func NewTextScorer(lex *affect.Lexicon[affect.Tone], b affect.Bounds) *TextScorer {
	ts := &TextScorer{bounds: b}
	ts.SetLexicon(lex)
	return ts
}

// SetLexicon replaces the lexicon used by subsequent Score calls.
func (ts *TextScorer) SetLexicon(lex *affect.Lexicon[affect.Tone]) {
	table := make([]affect.Rule[features.Text, affect.Tone], 0, len(TextStructureRules)+len(affect.Tones))
	table = append(table, TextStructureRules...)
	table = append(table, affect.LexiconRules(lex, affect.Tones, normalizedText, lexiconDecay)...)
	ts.cur.Store(&affect.Scorer[features.Text, affect.Tone]{
		Vocabulary: affect.Tones,
		Neutral:    affect.ToneNeutral,
		Baseline:   TextBaseline,
		Rules:      table,
		Bounds:     ts.bounds,
	})
}

// Score evaluates t against the current table.
func (ts *TextScorer) Score(t features.Text) affect.Result[affect.Tone] {
	return ts.cur.Load().Score(t)
}
