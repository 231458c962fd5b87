package orchestrator

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// pcm is a decoded mono recording in [-1,1].
type pcm struct {
	samples []float32
	rate    int
}

// decodeWAV reads an integer PCM WAV file and downmixes it to mono.
func decodeWAV(path string) (pcm, error) {
	f, err := os.Open(path)
	if err != nil {
		return pcm{}, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return pcm{}, fmt.Errorf("%s: not a valid wav file", path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return pcm{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return pcm{}, fmt.Errorf("%s: missing sample rate", path)
	}

	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(d.BitDepth)
	}
	if depth == 0 {
		return pcm{}, errors.New(path + ": unknown bit depth")
	}
	scale := float32(int64(1) << (depth - 1))

	ch := max(buf.Format.NumChannels, 1)
	n := len(buf.Data) / ch
	out := make([]float32, n)
	for i := range out {
		var sum float32
		for c := 0; c < ch; c++ {
			sum += float32(buf.Data[i*ch+c])
		}
		out[i] = sum / float32(ch) / scale
	}
	return pcm{samples: out, rate: buf.Format.SampleRate}, nil
}

// span returns the samples between start and end seconds.
func (p pcm) span(start, end float64) []float32 {
	lo := max(int(start*float64(p.rate)), 0)
	hi := min(int(end*float64(p.rate)), len(p.samples))
	if lo >= hi {
		return nil
	}
	return p.samples[lo:hi]
}

func (p pcm) duration() float64 {
	if p.rate == 0 {
		return 0
	}
	return float64(len(p.samples)) / float64(p.rate)
}
