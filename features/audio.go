package features

import (
	"math"
	"math/cmplx"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Analysis parameters for ExtractAudio.
const (
	FrameDuration = 30 * time.Millisecond
	HopDuration   = 10 * time.Millisecond

	// MinPitchHz and MaxPitchHz bound the pitch search to the speaking range.
	MinPitchHz = 70.0
	MaxPitchHz = 400.0

	// SilenceRMS is the frame energy gate below which a frame is unvoiced.
	SilenceRMS = 0.01
	// yinThreshold is the CMNDF dip that counts as a period candidate;
	// voicingThreshold is the largest minimum still treated as periodic.
	yinThreshold     = 0.15
	voicingThreshold = 0.35
	// minVoicedRun is the shortest run of voiced frames counted as a segment.
	minVoicedRun = 3
)

// Audio is the spectral feature vector of one buffer.
type Audio struct {
	// Energy is the mean squared amplitude.
	Energy float64 `json:"energy"`
	RMS    float64 `json:"rms"`
	// MeanPitch is the mean fundamental frequency of voiced frames in Hz.
	MeanPitch float64 `json:"mean_pitch"`
	// PitchVariability is the coefficient of variation of the pitch track.
	PitchVariability float64 `json:"pitch_variability"`
	// SpeechRate is voiced-segment onsets per second.
	SpeechRate float64 `json:"speech_rate"`
	// SpectralCentroid is the mean magnitude-weighted frequency of voiced
	// frames in Hz.
	SpectralCentroid float64 `json:"spectral_centroid"`
	// PauseRatio is the share of unvoiced frames.
	PauseRatio float64 `json:"pause_ratio"`
	// VoiceQuality is the mean periodicity of voiced frames in [0,1].
	VoiceQuality float64       `json:"voice_quality"`
	Duration     time.Duration `json:"duration"`
	Frames       int           `json:"frames"`
	VoicedFrames int           `json:"voiced_frames"`

	Normalized NormalizedAudio `json:"normalized"`
}

// NormalizedAudio rescales Audio into the roughly unit ranges the vocal
// rule table is tuned on.
type NormalizedAudio struct {
	Energy           float64 `json:"energy"`
	MeanPitch        float64 `json:"mean_pitch"`
	PitchVariability float64 `json:"pitch_variability"`
	SpeechRate       float64 `json:"speech_rate"`
	PauseRatio       float64 `json:"pause_ratio"`
	SpectralCentroid float64 `json:"spectral_centroid"`
	VoiceQuality     float64 `json:"voice_quality"`
}

// Voiced reports whether any frame of the buffer carried periodic speech.
func (a Audio) Voiced() bool { return a.VoicedFrames > 0 }

// ExtractAudio analyses a mono PCM buffer in [-1,1]. Digital silence is a
// valid observation with zero energy and no voiced frames.
func ExtractAudio(samples []float32, sampleRate int) (Audio, error) {
	if sampleRate <= 0 {
		return Audio{}, ErrInvalidSampleRate
	}
	if len(samples) == 0 {
		return Audio{}, ErrNoSignal
	}

	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = float64(s)
	}

	var a Audio
	a.Energy = floats.Dot(x, x) / float64(len(x))
	a.RMS = math.Sqrt(a.Energy)
	a.Duration = time.Duration(float64(len(x)) / float64(sampleRate) * float64(time.Second))

	an := newAnalyzer(sampleRate, len(x))
	var pitches, periodicity, centroids []float64
	run, segments := 0, 0
	for start := 0; start+an.frameLen <= len(x); start += an.hop {
		frame := x[start : start+an.frameLen]
		a.Frames++

		f0, periodic, voiced := an.frame(frame)
		if !voiced {
			run = 0
			continue
		}
		a.VoicedFrames++
		run++
		if run == minVoicedRun {
			segments++
		}
		pitches = append(pitches, f0)
		periodicity = append(periodicity, periodic)
		centroids = append(centroids, an.centroid(frame))
	}

	if a.Frames > 0 {
		a.PauseRatio = 1 - float64(a.VoicedFrames)/float64(a.Frames)
	}
	if secs := a.Duration.Seconds(); secs > 0 {
		a.SpeechRate = float64(segments) / secs
	}
	if len(pitches) > 0 {
		mean, std := stat.MeanStdDev(pitches, nil)
		if len(pitches) == 1 {
			std = 0
		}
		a.MeanPitch = mean
		if mean > 0 {
			a.PitchVariability = std / mean
		}
		a.VoiceQuality = stat.Mean(periodicity, nil)
		a.SpectralCentroid = stat.Mean(centroids, nil)
	}

	a.Normalized = normalize(a)
	return a, nil
}

func normalize(a Audio) NormalizedAudio {
	n := NormalizedAudio{
		Energy:           math.Min(1, a.Energy*10),
		PitchVariability: a.PitchVariability,
		SpeechRate:       a.SpeechRate / 6,
		PauseRatio:       a.PauseRatio,
		SpectralCentroid: a.SpectralCentroid / 3000,
		VoiceQuality:     a.VoiceQuality,
	}
	if a.MeanPitch > 0 {
		n.MeanPitch = (a.MeanPitch - 100) / 100
	}
	return n
}

// analyzer holds the per-buffer scratch space of the frame loop.
type analyzer struct {
	sampleRate     int
	frameLen, hop  int
	tauMin, tauMax int
	cmndf          []float64
	window         []float64
	windowed       []float64
	fft            *fourier.FFT
	coeffs         []complex128
}

func newAnalyzer(sampleRate, n int) *analyzer {
	frameLen := int(float64(sampleRate) * FrameDuration.Seconds())
	hop := int(float64(sampleRate) * HopDuration.Seconds())
	if frameLen < 2 {
		frameLen = 2
	}
	if frameLen > n {
		frameLen = n
	}
	if hop < 1 {
		hop = 1
	}

	tauMin := int(float64(sampleRate) / MaxPitchHz)
	tauMax := int(float64(sampleRate) / MinPitchHz)
	if tauMin < 2 {
		tauMin = 2
	}
	if tauMax > frameLen/2 {
		tauMax = frameLen / 2
	}

	an := &analyzer{
		sampleRate: sampleRate,
		frameLen:   frameLen,
		hop:        hop,
		tauMin:     tauMin,
		tauMax:     tauMax,
		cmndf:      make([]float64, tauMax+1),
		window:     hann(frameLen),
		windowed:   make([]float64, frameLen),
		fft:        fourier.NewFFT(frameLen),
	}
	return an
}

// frame classifies one frame and estimates its pitch with YIN.
func (an *analyzer) frame(frame []float64) (f0, periodicity float64, voiced bool) {
	rms := math.Sqrt(floats.Dot(frame, frame) / float64(len(frame)))
	if rms < SilenceRMS || an.tauMax <= an.tauMin {
		return 0, 0, false
	}

	// Cumulative mean normalized difference over a fixed integration window.
	w := len(frame) - an.tauMax
	d := an.cmndf
	d[0] = 1
	running := 0.0
	for tau := 1; tau <= an.tauMax; tau++ {
		sum := 0.0
		for j := 0; j < w; j++ {
			diff := frame[j] - frame[j+tau]
			sum += diff * diff
		}
		running += sum
		if running == 0 {
			d[tau] = 1
			continue
		}
		d[tau] = sum * float64(tau) / running
	}

	best := -1
	for tau := an.tauMin; tau <= an.tauMax; tau++ {
		if d[tau] < yinThreshold {
			for tau+1 <= an.tauMax && d[tau+1] < d[tau] {
				tau++
			}
			best = tau
			break
		}
	}
	if best < 0 {
		best = an.tauMin
		for tau := an.tauMin + 1; tau <= an.tauMax; tau++ {
			if d[tau] < d[best] {
				best = tau
			}
		}
	}
	if d[best] > voicingThreshold {
		return 0, 0, false
	}

	period := float64(best)
	if best > 1 && best < an.tauMax {
		// Parabolic interpolation around the dip.
		s0, s1, s2 := d[best-1], d[best], d[best+1]
		if den := s0 + s2 - 2*s1; den != 0 {
			period += (s0 - s2) / (2 * den)
		}
	}
	return float64(an.sampleRate) / period, 1 - d[best], true
}

// centroid returns the spectral centroid of a Hann-windowed frame in Hz.
func (an *analyzer) centroid(frame []float64) float64 {
	floats.MulTo(an.windowed, frame, an.window)
	an.coeffs = an.fft.Coefficients(an.coeffs, an.windowed)

	var num, den float64
	for k, c := range an.coeffs {
		mag := cmplx.Abs(c)
		num += an.fft.Freq(k) * float64(an.sampleRate) * mag
		den += mag
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func hann(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}
