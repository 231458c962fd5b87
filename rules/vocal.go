package rules

import (
	"github.com/maastricht-university/affect-pipeline/affect"
	"github.com/maastricht-university/affect-pipeline/features"
)

// VocalBaseline is the neutral prior of the vocal table.
const VocalBaseline = 0.5

// VocalRules score normalized audio features. Every rule requires voiced
// speech, so silence and unvoiced noise stay neutral.
var VocalRules = []affect.Rule[features.Audio, affect.Tone]{
	{
		Name:     "loud-lively-fast",
		Category: affect.ToneExcited,
		Score: voiced(func(n features.NormalizedAudio) float64 {
			if n.Energy > 0.7 && n.PitchVariability > 0.4 && n.SpeechRate > 0.7 {
				return 0.6 + n.Energy*0.3
			}
			return 0
		}),
		NeutralDecay: 0.5,
	},
	{
		Name:     "quiet-low-slow",
		Category: affect.ToneSad,
		Score: voiced(func(n features.NormalizedAudio) float64 {
			if n.Energy < 0.4 && n.MeanPitch < 0.3 && n.SpeechRate < 0.4 {
				return 0.6 + (0.4-n.Energy)*0.5
			}
			return 0
		}),
		NeutralDecay: 0.5,
	},
	{
		Name:     "loud-bright-variable",
		Category: affect.ToneAngry,
		Score: voiced(func(n features.NormalizedAudio) float64 {
			if n.Energy > 0.6 && n.SpectralCentroid > 0.7 && n.PitchVariability > 0.5 {
				return 0.6 + n.Energy*0.3
			}
			return 0
		}),
		NeutralDecay: 0.4,
	},
	{
		Name:     "fast-halting",
		Category: affect.ToneAnxious,
		Score: voiced(func(n features.NormalizedAudio) float64 {
			if n.Energy > 0.5 && n.SpeechRate > 0.6 && n.PauseRatio > 0.7 {
				return 0.6 + n.PauseRatio*0.3
			}
			return 0
		}),
		NeutralDecay: 0.5,
	},
	{
		Name:     "even-moderate",
		Category: affect.ToneCalm,
		Score: voiced(func(n features.NormalizedAudio) float64 {
			if n.Energy > 0.2 && n.Energy < 0.5 &&
				n.PitchVariability < 0.3 &&
				n.SpeechRate > 0.3 && n.SpeechRate < 0.6 {
				return 0.7
			}
			return 0
		}),
		NeutralDecay: 0.4,
	},
	{
		Name:     "hesitant",
		Category: affect.ToneUncertain,
		Score: voiced(func(n features.NormalizedAudio) float64 {
			if n.PauseRatio > 0.6 && n.PitchVariability > 0.4 {
				return 0.5 + n.PauseRatio*0.3
			}
			return 0
		}),
		NeutralDecay: 0.6,
	},
}

func voiced(fn func(features.NormalizedAudio) float64) func(features.Audio) float64 {
	return func(a features.Audio) float64 {
		if !a.Voiced() {
			return 0
		}
		return fn(a.Normalized)
	}
}

// NewVocalScorer returns the vocal-channel scorer.
func NewVocalScorer(b affect.Bounds) *affect.Scorer[features.Audio, affect.Tone] {
	return &affect.Scorer[features.Audio, affect.Tone]{
		Vocabulary: affect.Tones,
		Neutral:    affect.ToneNeutral,
		Baseline:   VocalBaseline,
		Rules:      VocalRules,
		Bounds:     b,
	}
}
