package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/affect-pipeline/affect"
	"github.com/maastricht-university/affect-pipeline/clients"
	"github.com/maastricht-university/affect-pipeline/features"
	"github.com/maastricht-university/affect-pipeline/rules"
)

// Run analyses a recording offline: transcribe it, score every segment's
// text and voice, window the readings and persist the result. The live
// channels and their histories are not touched.
func (p *Pipeline) Run(ctx context.Context, wavPath string) (*Summary, error) {
	audio, err := decodeWAV(wavPath)
	if err != nil {
		return nil, err
	}
	asr, err := p.http.Transcribe(ctx, p.cfg.Services.ASR.URL, wavPath)
	if err != nil {
		return nil, err
	}

	began := p.now()
	var at time.Time
	clock := func() time.Time { return at }
	text := newTextStage(p.text, p.cfg.Channels.Text.Smoother(), clock)
	vocal := newVocalStage(rules.NewVocalScorer(p.cfg.Channels.Vocal.Bounds()), p.cfg.Channels.Vocal.Smoother(), clock)

	utts := make([]Utterance, 0, len(asr.Segments))
	for _, s := range asr.Segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		at = began.Add(time.Duration(s.Start * float64(time.Second)))
		u := Utterance{Start: s.Start, End: s.End, Text: preprocess(s.Text)}

		if raw, err := text.Score(ctx, u.Text); err == nil {
			r := text.Smooth(raw)
			r.Channel = Text
			u.Tone = &r
		} else if !errors.Is(err, features.ErrNoSignal) {
			return nil, fmt.Errorf("segment %.2f-%.2f: %w", s.Start, s.End, err)
		}

		chunk := AudioChunk{Samples: audio.span(s.Start, s.End), SampleRate: audio.rate}
		if raw, err := vocal.Score(ctx, chunk); err == nil {
			r := vocal.Smooth(raw)
			r.Channel = Vocal
			u.Vocal = &r
		} else if !errors.Is(err, features.ErrNoSignal) {
			return nil, fmt.Errorf("segment %.2f-%.2f: %w", s.Start, s.End, err)
		}
		utts = append(utts, u)
	}

	windows := p.window(utts)
	for wi := range windows {
		p.aggregate(&windows[wi])
		windows[wi].Vector = p.toVector(windows[wi])
	}

	// The whole recording as one window gives the overall distribution.
	all := Window{Utts: utts}
	p.aggregate(&all)
	sum := &Summary{
		AudioPath:    wavPath,
		GeneratedAt:  began,
		Duration:     audio.duration(),
		Utterances:   len(utts),
		Windows:      len(windows),
		Distribution: all.Emotions,
		Dominant:     all.Dominant,
	}
	if err := persist(p.cfg.Paths.Outputs, sum, windows); err != nil {
		return nil, fmt.Errorf("persist: %w", err)
	}
	p.log.WithFields(logrus.Fields{
		"session":    sum.SessionID,
		"utterances": sum.Utterances,
		"windows":    sum.Windows,
		"dominant":   sum.Dominant,
	}).Info("analysis written to " + sum.Dir)

	if url := p.cfg.Services.Visualization.URL; url != "" {
		p.visualize(ctx, url, sum, windows)
	}
	return sum, nil
}

// visualize asks the visualization service for a radar of the overall
// distribution and a timeline of the dominant emotion per window. Failures
// are logged; the analysis is already persisted.
func (p *Pipeline) visualize(ctx context.Context, url string, sum *Summary, windows []Window) {
	radar := clients.RadarReq{Title: "Emotion distribution", OutputDir: sum.Dir}
	for _, e := range affect.Emotions {
		radar.Categories = append(radar.Categories, string(e))
		radar.Values = append(radar.Values, sum.Distribution[string(e)])
	}
	if _, err := p.http.GenerateRadar(ctx, url, radar); err != nil {
		p.log.WithError(err).Warn("radar chart")
	}

	var tl clients.TimelineReq
	tl.OutputDir = sum.Dir
	for _, w := range windows {
		tl.Timestamps = append(tl.Timestamps, w.T0)
		tl.Categories = append(tl.Categories, w.Dominant)
		tl.Confidences = append(tl.Confidences, w.MeanConfidence)
	}
	if _, err := p.http.GenerateTimeline(ctx, url, tl); err != nil {
		p.log.WithError(err).Warn("timeline chart")
	}
}
