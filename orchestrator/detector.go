package orchestrator

import (
	"context"
	"time"

	"github.com/maastricht-university/affect-pipeline/affect"
	"github.com/maastricht-university/affect-pipeline/features"
	"github.com/maastricht-university/affect-pipeline/rules"
)

// stage is the Detector of one channel: extract features from In, score
// them into C and smooth against the channel's history.
type stage[In, F any, C ~string] struct {
	extract  func(ctx context.Context, in In) (F, error)
	score    func(F) affect.Result[C]
	smoother *affect.Smoother[C]
	now      func() time.Time
}

func (s *stage[In, F, C]) Score(ctx context.Context, in In) (Raw, error) {
	f, err := s.extract(ctx, in)
	if err != nil {
		return Raw{}, err
	}
	res := s.score(f)
	return Raw{Category: string(res.Category), Confidence: res.Confidence, Timestamp: s.now()}, nil
}

func (s *stage[In, F, C]) Smooth(raw Raw) Reading {
	o := s.smoother.Smooth(affect.Observation[C]{
		Category:   C(raw.Category),
		Confidence: raw.Confidence,
		Timestamp:  raw.Timestamp,
	})
	return toReading(o)
}

// History returns the smoothed history, oldest first.
func (s *stage[In, F, C]) History() []Reading {
	obs := s.smoother.Snapshot()
	out := make([]Reading, len(obs))
	for i, o := range obs {
		out[i] = toReading(o)
	}
	return out
}

func (s *stage[In, F, C]) Last() (Reading, bool) {
	o, ok := s.smoother.Last()
	if !ok {
		return Reading{}, false
	}
	return toReading(o), true
}

func (s *stage[In, F, C]) Distribution() map[string]float64 {
	d := s.smoother.Distribution()
	out := make(map[string]float64, len(d))
	for c, v := range d {
		out[string(c)] = v
	}
	return out
}

// restore loads a persisted history into an empty smoother.
func (s *stage[In, F, C]) restore(rs []Reading) {
	if s.smoother.Len() > 0 {
		return
	}
	obs := make([]affect.Observation[C], len(rs))
	for i, r := range rs {
		obs[i] = affect.Observation[C]{Category: C(r.Category), Confidence: r.Confidence, Timestamp: r.Timestamp}
	}
	s.smoother.Seed(obs)
}

func toReading[C ~string](o affect.Observation[C]) Reading {
	return Reading{Category: string(o.Category), Confidence: o.Confidence, Timestamp: o.Timestamp}
}

// recorder is the read side of a stage, independent of its input type.
type recorder interface {
	History() []Reading
	Last() (Reading, bool)
	Distribution() map[string]float64
	restore([]Reading)
}

func newFacialStage(det features.FaceDetector, sc *affect.Scorer[features.Facial, affect.Emotion], cfg affect.SmootherConfig, now func() time.Time) *stage[features.Frame, features.Facial, affect.Emotion] {
	return &stage[features.Frame, features.Facial, affect.Emotion]{
		extract: func(ctx context.Context, f features.Frame) (features.Facial, error) {
			return features.ExtractFacial(ctx, det, f)
		},
		score:    sc.Score,
		smoother: affect.NewSmoother(affect.Emotions, cfg),
		now:      now,
	}
}

func newVocalStage(sc *affect.Scorer[features.Audio, affect.Tone], cfg affect.SmootherConfig, now func() time.Time) *stage[AudioChunk, features.Audio, affect.Tone] {
	return &stage[AudioChunk, features.Audio, affect.Tone]{
		extract: func(_ context.Context, c AudioChunk) (features.Audio, error) {
			return features.ExtractAudio(c.Samples, c.SampleRate)
		},
		score:    sc.Score,
		smoother: affect.NewSmoother(affect.Tones, cfg),
		now:      now,
	}
}

func newTextStage(ts *rules.TextScorer, cfg affect.SmootherConfig, now func() time.Time) *stage[string, features.Text, affect.Tone] {
	return &stage[string, features.Text, affect.Tone]{
		extract: func(_ context.Context, s string) (features.Text, error) {
			return features.ExtractText(s)
		},
		score:    ts.Score,
		smoother: affect.NewSmoother(affect.Tones, cfg),
		now:      now,
	}
}
