package affect

import (
	"math"
	"time"
)

// Observation is one (category, confidence) verdict for a channel.
type Observation[C comparable] struct {
	Category   C         `json:"category"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Bounds is the confidence range a channel may report.
type Bounds struct {
	Floor   float64 `yaml:"floor"`
	Ceiling float64 `yaml:"ceiling"`
}

// Clamp returns v limited to [Floor, Ceiling].
func (b Bounds) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return b.Floor
	}
	return math.Max(b.Floor, math.Min(b.Ceiling, v))
}

// Contains reports whether v lies in [Floor, Ceiling].
func (b Bounds) Contains(v float64) bool {
	return v >= b.Floor && v <= b.Ceiling
}
