package affect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLexicon(t *testing.T) *Lexicon[Tone] {
	t.Helper()
	l, err := NewLexicon([]LexiconEntry[Tone]{
		{Category: ToneAngry, Words: []string{"angry", "unfair"}, Weight: 1.5},
		{Category: ToneUncertain, Words: []string{"not sure", "maybe"}, Weight: 1.2},
	}, []string{"so", "very", "really"})
	require.NoError(t, err)
	return l
}

func TestLexicon_Score(t *testing.T) {
	l := testLexicon(t)

	tests := []struct {
		name string
		text string
		cat  Tone
		want float64
	}{
		{name: "plain match", text: "that was unfair", cat: ToneAngry, want: 1.5},
		{name: "word boundary", text: "angrybird", cat: ToneAngry, want: 0},
		{name: "intensifier nearby", text: "i am so angry", cat: ToneAngry, want: 2.25},
		{name: "intensifier too far", text: "so, as i was saying to everyone else, angry", cat: ToneAngry, want: 1.5},
		{name: "every occurrence counts", text: "angry angry", cat: ToneAngry, want: 3},
		{name: "phrase marker", text: "i am not sure", cat: ToneUncertain, want: 1.2},
		{name: "no markers for category", text: "angry", cat: ToneCalm, want: 0},
		{name: "empty text", text: "", cat: ToneAngry, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, l.Score(tt.text, tt.cat), 1e-9)
		})
	}
}

func TestLexiconRules(t *testing.T) {
	l := testLexicon(t)
	rules := LexiconRules(l, Tones, func(s string) string { return s }, 0.8)
	require.Len(t, rules, 2)
	assert.Equal(t, ToneAngry, rules[0].Category, "rules follow vocabulary order")
	assert.InDelta(t, 1.5, rules[0].Score("unfair"), 1e-9)
}
