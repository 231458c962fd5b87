package orchestrator

import (
	"context"
	"sync"

	"github.com/maastricht-university/affect-pipeline/features"
)

// FrameBuffer is the facial channel's camera: frames are pushed by the
// transport and the ticker consumes the newest one.
type FrameBuffer struct {
	ping func(ctx context.Context) error

	mu       sync.Mutex
	open     bool
	frame    features.Frame
	seq      uint64
	consumed uint64
}

// NewFrameBuffer returns a closed buffer. ping, when set, checks the face
// detector on Acquire.
func NewFrameBuffer(ping func(ctx context.Context) error) *FrameBuffer {
	return &FrameBuffer{ping: ping}
}

func (b *FrameBuffer) Acquire(ctx context.Context) error {
	if b.ping != nil {
		if err := b.ping(ctx); err != nil {
			return err
		}
	}
	b.mu.Lock()
	b.open = true
	b.mu.Unlock()
	return nil
}

func (b *FrameBuffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.frame = features.Frame{}
	b.consumed = b.seq
	return nil
}

// Push replaces the pending frame. It reports false while the buffer is
// released.
func (b *FrameBuffer) Push(f features.Frame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return false
	}
	b.frame = f
	b.seq++
	return true
}

// Next returns the newest frame not yet consumed, or features.ErrNoSignal.
func (b *FrameBuffer) Next(context.Context) (features.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open || b.seq == b.consumed {
		return features.Frame{}, features.ErrNoSignal
	}
	b.consumed = b.seq
	return b.frame, nil
}

// streamResource gates a pushed stream (audio or transcripts) on the
// channel being enabled. drop discards input still pending for the
// session being released.
type streamResource struct {
	ping func(ctx context.Context) error
	drop func()

	mu   sync.Mutex
	open bool
}

func (s *streamResource) Acquire(ctx context.Context) error {
	if s.ping != nil {
		if err := s.ping(ctx); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	return nil
}

func (s *streamResource) Release() error {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	if s.drop != nil {
		s.drop()
	}
	return nil
}

// audioBuffer accumulates PCM between utterance boundaries, keeping at most
// the last seconds of audio at the incoming sample rate.
type audioBuffer struct {
	seconds int

	mu      sync.Mutex
	rate    int
	samples []float32
}

func (a *audioBuffer) push(c AudioChunk) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rate != 0 && c.SampleRate != a.rate {
		a.samples = a.samples[:0]
	}
	a.rate = c.SampleRate
	a.samples = append(a.samples, c.Samples...)
	if limit := a.seconds * c.SampleRate; limit > 0 && len(a.samples) > limit {
		a.samples = append(a.samples[:0], a.samples[len(a.samples)-limit:]...)
	}
}

// flush returns and clears the buffered audio.
func (a *audioBuffer) flush() (AudioChunk, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.samples) == 0 {
		return AudioChunk{}, false
	}
	c := AudioChunk{Samples: a.samples, SampleRate: a.rate}
	a.samples = nil
	return c, true
}

// buffered reports the number of buffered samples.
func (a *audioBuffer) buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}
