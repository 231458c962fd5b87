package affect

import "math"

// SmootherConfig tunes a Smoother for one channel.
type SmootherConfig struct {
	// Capacity bounds the backing history.
	Capacity int `yaml:"capacity"`
	// Window is how many recent entries vote on the smoothed category.
	Window int `yaml:"window"`
	// MinHistory is the cold-start length below which raw observations pass
	// through unchanged.
	MinHistory int `yaml:"min_history"`
	// FastPath is the raw confidence above which smoothing is bypassed.
	FastPath float64 `yaml:"fast_path"`
	// CurrentBoost multiplies the raw observation's vote.
	CurrentBoost float64 `yaml:"current_boost"`
	Bounds       Bounds  `yaml:"bounds"`
}

// Smoother blends each raw observation with its channel's recent history and
// records the blended result. It owns its History; a Smoother is not safe for
// concurrent Smooth calls, but its read methods may run alongside one.
type Smoother[C comparable] struct {
	cfg        SmootherConfig
	vocabulary []C
	history    *History[C]
}

// NewSmoother returns a Smoother with an empty history.
func NewSmoother[C comparable](vocabulary []C, cfg SmootherConfig) *Smoother[C] {
	if cfg.Window < 1 {
		cfg.Window = 1
	}
	if cfg.CurrentBoost <= 0 {
		cfg.CurrentBoost = 1
	}
	return &Smoother[C]{
		cfg:        cfg,
		vocabulary: vocabulary,
		history:    NewHistory[C](cfg.Capacity),
	}
}

// Config returns the smoother's configuration.
func (s *Smoother[C]) Config() SmootherConfig {
	return s.cfg
}

// Smooth returns the stabilized observation for raw and appends it to the
// history.
func (s *Smoother[C]) Smooth(raw Observation[C]) Observation[C] {
	raw.Confidence = s.cfg.Bounds.Clamp(raw.Confidence)
	if s.history.Len() < s.cfg.MinHistory || raw.Confidence > s.cfg.FastPath {
		s.history.Append(raw)
		return raw
	}

	recent := s.history.Recent(s.cfg.Window)
	tally := make(map[C]float64, len(s.vocabulary))
	n := float64(len(recent))
	for i, o := range recent {
		recency := 0.5 + 0.5*float64(i+1)/n
		tally[o.Category] += o.Confidence * recency
	}
	tally[raw.Category] += raw.Confidence * s.cfg.CurrentBoost

	// Ties keep the raw category.
	winner := raw.Category
	best := tally[winner]
	total := 0.0
	for _, w := range tally {
		total += w
	}
	for _, c := range s.vocabulary {
		if tally[c] > best {
			best = tally[c]
			winner = c
		}
	}

	consistency := 0.0
	if total > 0 {
		consistency = best / total
	}
	hi := math.Max(raw.Confidence, consistency)
	lo := math.Min(raw.Confidence, consistency)

	out := Observation[C]{
		Category:   winner,
		Confidence: s.cfg.Bounds.Clamp(0.7*hi + 0.3*lo),
		Timestamp:  raw.Timestamp,
	}
	s.history.Append(out)
	return out
}

// Seed appends already smoothed observations, e.g. a persisted history,
// without re-smoothing them.
func (s *Smoother[C]) Seed(obs []Observation[C]) {
	for _, o := range obs {
		s.history.Append(o)
	}
}

// Len returns the history length.
func (s *Smoother[C]) Len() int { return s.history.Len() }

// Snapshot returns a copy of the history, oldest first.
func (s *Smoother[C]) Snapshot() []Observation[C] { return s.history.All() }

// Recent returns the last k smoothed observations, oldest first.
func (s *Smoother[C]) Recent(k int) []Observation[C] { return s.history.Recent(k) }

// Last returns the most recent smoothed observation.
func (s *Smoother[C]) Last() (Observation[C], bool) { return s.history.Last() }

// Distribution returns the category shares of the history.
func (s *Smoother[C]) Distribution() map[C]float64 { return s.history.Distribution() }
