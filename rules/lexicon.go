package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/maastricht-university/affect-pipeline/affect"
)

// DefaultIntensifiers boost a marker found near them.
var DefaultIntensifiers = []string{
	"very", "really", "so", "extremely", "absolutely", "totally",
	"completely", "deeply", "highly", "terribly", "incredibly",
}

// DefaultLexicon is the built-in marker table.
var DefaultLexicon = []affect.LexiconEntry[affect.Tone]{
	{
		Category: affect.ToneNeutral,
		Words:    []string{"normal", "fine", "okay", "ok", "alright", "good", "well", "sure", "yes", "no"},
		Weight:   1.0,
	},
	{
		Category: affect.ToneExcited,
		Words: []string{"excited", "happy", "great", "amazing", "wonderful", "fantastic", "awesome",
			"excellent", "love", "wow", "cool", "best", "fun", "delighted", "thrilled", "perfect", "brilliant"},
		Weight: 1.2,
	},
	{
		Category: affect.ToneSad,
		Words: []string{"sad", "depressed", "unhappy", "disappointed", "sorry", "miss", "lost", "hurt",
			"alone", "painful", "grief", "crying", "regret", "unfortunate", "hopeless", "heartbroken", "miserable"},
		Weight: 1.5,
	},
	{
		Category: affect.ToneAngry,
		Words: []string{"angry", "upset", "mad", "furious", "hate", "terrible", "worst", "annoying",
			"frustrated", "irritated", "outraged", "unfair", "ridiculous", "wrong", "awful", "stupid", "bad"},
		Weight: 1.5,
	},
	{
		Category: affect.ToneAnxious,
		Words: []string{"worried", "anxious", "nervous", "scared", "afraid", "stress", "panic", "concerned",
			"uncertain", "fear", "frightened", "terrified", "uneasy", "tense", "overwhelmed", "doubt"},
		Weight: 1.3,
	},
	{
		Category: affect.ToneCalm,
		Words: []string{"calm", "relaxed", "peaceful", "balanced", "quiet", "comfortable", "content",
			"steady", "composed", "tranquil", "serene", "patient", "gentle", "stable"},
		Weight: 1.1,
	},
	{
		Category: affect.ToneUncertain,
		Words: []string{"maybe", "perhaps", "not sure", "might", "guess", "possibly", "uncertain", "confused",
			"unclear", "wonder", "unsure", "doubt", "confusing", "complicated", "hard to say", "thinking"},
		Weight: 1.2,
	},
}

// NewDefaultLexicon compiles the built-in table.
func NewDefaultLexicon() *affect.Lexicon[affect.Tone] {
	lex, err := affect.NewLexicon(DefaultLexicon, DefaultIntensifiers)
	if err != nil {
		panic(fmt.Sprintf("default lexicon: %v", err))
	}
	return lex
}

// LexiconFile is the on-disk lexicon override.
//
//	intensifiers: [very, really]
//	categories:
//	  angry: {weight: 1.5, words: [angry, furious]}
type LexiconFile struct {
	Intensifiers []string                `yaml:"intensifiers"`
	Categories   map[string]LexiconGroup `yaml:"categories"`
}

// LexiconGroup is the marker list of one tone.
type LexiconGroup struct {
	Weight float64  `yaml:"weight"`
	Words  []string `yaml:"words"`
}

// ParseLexicon decodes and compiles a lexicon file. Omitted intensifiers
// fall back to DefaultIntensifiers.
func ParseLexicon(data []byte) (*affect.Lexicon[affect.Tone], error) {
	var lf LexiconFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("decode lexicon: %w", err)
	}
	if len(lf.Categories) == 0 {
		return nil, fmt.Errorf("lexicon has no categories")
	}

	entries := make([]affect.LexiconEntry[affect.Tone], 0, len(lf.Categories))
	for name, g := range lf.Categories {
		tone, ok := affect.ParseTone(name)
		if !ok {
			return nil, fmt.Errorf("lexicon: unknown tone %q", name)
		}
		if g.Weight <= 0 {
			return nil, fmt.Errorf("lexicon: tone %q: weight must be positive", name)
		}
		entries = append(entries, affect.LexiconEntry[affect.Tone]{Category: tone, Words: g.Words, Weight: g.Weight})
	}

	intensifiers := lf.Intensifiers
	if intensifiers == nil {
		intensifiers = DefaultIntensifiers
	}
	return affect.NewLexicon(entries, intensifiers)
}

// LoadLexicon reads a lexicon file from path.
func LoadLexicon(path string) (*affect.Lexicon[affect.Tone], error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	return ParseLexicon(data)
}
