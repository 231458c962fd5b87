package orchestrator

import (
	"math"

	"github.com/maastricht-university/affect-pipeline/affect"
)

// window cuts the utterances into overlapping windows of
// features.time_window seconds advancing by time_window - overlap.
func (p *Pipeline) window(utts []Utterance) []Window {
	if len(utts) == 0 {
		return nil
	}
	// session bounds
	start, end := utts[0].Start, utts[0].End
	for _, u := range utts[1:] {
		start = math.Min(start, u.Start)
		end = math.Max(end, u.End)
	}
	w := float64(p.cfg.Features.TimeWindow)
	o := float64(p.cfg.Features.Overlap)
	step := w - o

	var out []Window
	for t0 := start; t0 < end || len(out) == 0; t0 += step {
		t1 := math.Min(t0+w, end)
		var slice []Utterance
		for _, u := range utts {
			if t1 > t0 && (u.End <= t0 || u.Start >= t1) {
				continue
			}
			slice = append(slice, u)
		}
		out = append(out, Window{T0: t0, T1: t1, Utts: slice})
	}
	return out
}

// readings returns the tone readings of u.
func (u Utterance) readings() []*Reading {
	var rs []*Reading
	for _, r := range []*Reading{u.Tone, u.Vocal} {
		if r != nil {
			rs = append(rs, r)
		}
	}
	return rs
}

// aggregate fills the emotion shares, the dominant emotion, the mean
// confidence and the speaking share of w. Tones are reported as emotions.
func (p *Pipeline) aggregate(w *Window) {
	w.Emotions = map[string]float64{}
	w.Dominant = string(affect.EmotionNeutral)
	if len(w.Utts) == 0 {
		return
	}

	speech, conf, n := 0.0, 0.0, 0
	for _, u := range w.Utts {
		speech += math.Max(0, math.Min(u.End, w.T1)-math.Max(u.Start, w.T0))
		for _, r := range u.readings() {
			tone, _ := affect.ParseTone(r.Category)
			w.Emotions[string(affect.ToneToEmotion(tone))]++
			conf += r.Confidence
			n++
		}
	}
	if dur := w.T1 - w.T0; dur > 0 {
		w.SpeakingShare = math.Min(1, speech/dur)
	}
	if n == 0 {
		return
	}
	for k := range w.Emotions {
		w.Emotions[k] /= float64(n)
	}
	w.MeanConfidence = conf / float64(n)

	// Ties go to the earlier emotion.
	best := -1.0
	for _, e := range affect.Emotions {
		if s := w.Emotions[string(e)]; s > best {
			best, w.Dominant = s, string(e)
		}
	}
}

// toVector flattens w for plotting: speaking share, mean utterance length,
// mean confidence, then one share per emotion in vocabulary order.
func (p *Pipeline) toVector(w Window) []float64 {
	meanLen := 0.0
	for _, u := range w.Utts {
		meanLen += (u.End - u.Start)
	}
	if n := float64(len(w.Utts)); n > 0 {
		meanLen /= n
	}
	vec := []float64{w.SpeakingShare, meanLen, w.MeanConfidence}
	for _, e := range affect.Emotions {
		vec = append(vec, w.Emotions[string(e)])
	}
	return vec
}
