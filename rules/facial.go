// Package rules holds the per-channel rule tables. The tables are data: each
// is a slice of affect.Rule evaluated by the shared affect.Scorer.
package rules

import (
	"math"

	"github.com/maastricht-university/affect-pipeline/affect"
	"github.com/maastricht-university/affect-pipeline/features"
)

// FacialBaseline is the neutral prior of the geometric facial table.
const FacialBaseline = 0.5

// measured reports whether the detector found both eyes and a mouth.
func measured(g features.Geometry) bool {
	return g.EyeSizeNorm > 0 && g.MouthWidthNorm > 0
}

// FacialRules scores face geometry. Thresholds are in face-relative units.
var FacialRules = []affect.Rule[features.Facial, affect.Emotion]{
	{
		Name:     "wide-smile",
		Category: affect.EmotionHappy,
		Score: func(f features.Facial) float64 {
			g := f.Geometry
			if g.MouthWidthNorm > 0.5 && g.MouthAspectRatio > 2.0 {
				return 0.7 + (g.MouthWidthNorm-0.5)*0.6
			}
			return 0
		},
		NeutralDecay: 0.5,
	},
	{
		Name:     "narrow-mouth-small-eyes",
		Category: affect.EmotionSad,
		Score: func(f features.Facial) float64 {
			g := f.Geometry
			if measured(g) && g.MouthWidthNorm < 0.4 && g.EyeSizeNorm < 0.15 {
				return 0.6 + (0.15-g.EyeSizeNorm)*2.0
			}
			return 0
		},
		NeutralDecay: 0.5,
	},
	{
		Name:     "wide-eyes-open-mouth",
		Category: affect.EmotionSurprised,
		Score: func(f features.Facial) float64 {
			g := f.Geometry
			if g.EyeSizeNorm > 0.18 && g.MouthHeightNorm > 0.2 {
				return 0.7 + (g.EyeSizeNorm-0.18)*3.0
			}
			return 0
		},
		NeutralDecay: 0.3,
	},
	{
		Name:     "narrowed-eyes-tight-mouth",
		Category: affect.EmotionAngry,
		Score: func(f features.Facial) float64 {
			g := f.Geometry
			if measured(g) && g.EyeSizeNorm < 0.12 && g.MouthWidthNorm < 0.35 {
				return 0.6 + (0.12-g.EyeSizeNorm)*4.0
			}
			return 0
		},
		NeutralDecay: 0.4,
	},
	{
		Name:     "wide-eyes-stretched-mouth",
		Category: affect.EmotionFearful,
		Score: func(f features.Facial) float64 {
			g := f.Geometry
			if g.EyeSizeNorm > 0.16 && g.MouthWidthNorm > 0.4 && g.MouthHeightNorm < 0.15 {
				return 0.6 + (g.EyeSizeNorm-0.16)*2.5
			}
			return 0
		},
		NeutralDecay: 0.4,
	},
	{
		Name:     "squint-closed-mouth",
		Category: affect.EmotionDisgusted,
		Score: func(f features.Facial) float64 {
			g := f.Geometry
			if measured(g) && g.EyeSizeNorm < 0.13 && g.MouthHeightNorm < 0.1 {
				return 0.6 + (0.13-g.EyeSizeNorm)*3.0
			}
			return 0
		},
		NeutralDecay: 0.4,
	},
	{
		Name:     "relaxed-proportions",
		Category: affect.EmotionCalm,
		Score: func(f features.Facial) float64 {
			g := f.Geometry
			if math.Abs(g.FaceAspectRatio-0.7) < 0.1 &&
				g.EyeSizeNorm > 0.13 && g.EyeSizeNorm < 0.17 &&
				g.MouthWidthNorm > 0.3 && g.MouthWidthNorm < 0.45 {
				return 0.7
			}
			return 0
		},
		NeutralDecay: 0.5,
	},
	{
		Name:     "pressed-lips",
		Category: affect.EmotionTense,
		Score: func(f features.Facial) float64 {
			g := f.Geometry
			if measured(g) && g.EyeSizeNorm < 0.14 && g.MouthWidthNorm < 0.4 && g.MouthHeightNorm < 0.1 {
				return 0.65
			}
			return 0
		},
		NeutralDecay: 0.6,
	},
}

// facialExpressions passes classifier probabilities straight through.
func facialExpressions(f features.Facial) (map[affect.Emotion]float64, bool) {
	if len(f.Expressions) == 0 {
		return nil, false
	}
	return f.Expressions, true
}

// NewFacialScorer returns the facial-channel scorer.
func NewFacialScorer(b affect.Bounds) *affect.Scorer[features.Facial, affect.Emotion] {
	return &affect.Scorer[features.Facial, affect.Emotion]{
		Vocabulary: affect.Emotions,
		Neutral:    affect.EmotionNeutral,
		Baseline:   FacialBaseline,
		Rules:      FacialRules,
		Bounds:     b,
		Direct:     facialExpressions,
	}
}
