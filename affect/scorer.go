package affect

import "math"

// Rule is one hand-tuned predicate of a rule table. Score returns the
// increment for Category, or zero when the predicate does not hold. A firing
// rule multiplies the neutral prior by NeutralDecay; zero means no decay.
type Rule[F any, C comparable] struct {
	Name         string
	Category     C
	Score        func(F) float64
	NeutralDecay float64
}

// Result is the raw verdict of a Scorer, before smoothing.
type Result[C comparable] struct {
	Category   C
	Confidence float64
	MaxScore   float64
	Total      float64
	Scores     map[C]float64
}

// Scorer maps a feature vector to a category using a rule table. The zero
// value is not usable; fill every field except Direct.
type Scorer[F any, C comparable] struct {
	// Vocabulary is the closed category set in declaration order.
	Vocabulary []C
	Neutral    C
	// Baseline is the neutral prior. It is not evidence: a neutral verdict
	// that rests on the prior alone is reported at the floor.
	Baseline float64
	Rules    []Rule[F, C]
	Bounds   Bounds
	// Direct, when it reports ok, supplies the scores directly (e.g. the
	// probabilities of an external classifier) and the rule table is skipped.
	Direct func(F) (map[C]float64, bool)
}

// Score evaluates f. It is pure and safe for concurrent use.
func (s *Scorer[F, C]) Score(f F) Result[C] {
	evidence := make(map[C]float64, len(s.Vocabulary))

	if s.Direct != nil {
		if direct, ok := s.Direct(f); ok {
			for c, v := range direct {
				if v > 0 && !math.IsNaN(v) {
					evidence[c] += v
				}
			}
			return s.decide(evidence, 0)
		}
	}

	prior := s.Baseline
	for _, r := range s.Rules {
		v := r.Score(f)
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		evidence[r.Category] += v
		if r.NeutralDecay > 0 && r.Category != s.Neutral {
			prior *= r.NeutralDecay
		}
	}
	return s.decide(evidence, prior)
}

func (s *Scorer[F, C]) decide(evidence map[C]float64, prior float64) Result[C] {
	scores := make(map[C]float64, len(s.Vocabulary))
	total := 0.0
	for _, c := range s.Vocabulary {
		v := evidence[c]
		if c == s.Neutral {
			v += prior
		}
		scores[c] = v
		total += v
	}

	winner := s.Neutral
	maxScore := math.Inf(-1)
	for _, c := range s.Vocabulary {
		if scores[c] > maxScore {
			maxScore = scores[c]
			winner = c
		}
	}

	res := Result[C]{
		Category:   s.Neutral,
		Confidence: s.Bounds.Clamp(0.5),
		MaxScore:   maxScore,
		Total:      total,
		Scores:     scores,
	}
	if maxScore < 0.5 {
		return res
	}
	if winner == s.Neutral && evidence[s.Neutral] == 0 {
		return res
	}

	conf := 0.5
	if total > 0 {
		conf = 0.5 + math.Min(0.5, (maxScore/total)*0.7)
	}
	res.Category = winner
	res.Confidence = s.Bounds.Clamp(conf)
	return res
}
