package orchestrator

import "time"

// Name identifies a detection channel.
type Name string

const (
	Facial Name = "facial"
	Vocal  Name = "vocal"
	Text   Name = "text"
)

// Names lists the channels in a stable order.
var Names = []Name{Facial, Vocal, Text}

// Reading is one emitted, smoothed observation.
type Reading struct {
	Channel    Name      `json:"channel"`
	Category   string    `json:"category"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Session    string    `json:"session,omitempty"`
}

// Raw is a scored but not yet smoothed verdict.
type Raw struct {
	Category   string
	Confidence float64
	Timestamp  time.Time
}

// Session is the state of one enable..release cycle of a channel.
type Session struct {
	ID    string `json:"id"`
	Token uint64 `json:"token"`
	// Ready is set once the resource is acquired, Active while ticks run.
	Ready  bool `json:"ready"`
	Active bool `json:"active"`
	// Seen is set by the first emitted reading of the session.
	Seen      bool  `json:"seen"`
	LastError error `json:"-"`
}

// StateChange is reported on every channel transition.
type StateChange struct {
	Channel Name      `json:"channel"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Err     error     `json:"-"`
}

// Warning is raised once per streak of consecutive failed ticks.
type Warning struct {
	Channel  Name  `json:"channel"`
	Failures int   `json:"failures"`
	Err      error `json:"-"`
}

// Mood is the latest facial emotion and voice tone. A channel without a
// recent reading reports NoReading.
type Mood struct {
	Emotion           string  `json:"emotion"`
	EmotionConfidence float64 `json:"emotion_confidence"`
	Tone              string  `json:"tone"`
	ToneConfidence    float64 `json:"tone_confidence"`
}

// NoReading marks a channel without an observation.
const NoReading = "none"

// TranscriptEvent is an interim or final speech-recognition result.
type TranscriptEvent struct {
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence"`
}

// AudioChunk is mono PCM in [-1,1].
type AudioChunk struct {
	Samples    []float32
	SampleRate int
}

// Utterance is a recognized span of a recording, in seconds.
type Utterance struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	// Tone and Vocal are the smoothed text and voice verdicts of the span.
	Tone  *Reading `json:"tone,omitempty"`
	Vocal *Reading `json:"vocal,omitempty"`
}

type Window struct {
	T0   float64     `json:"t0"`
	T1   float64     `json:"t1"`
	Utts []Utterance `json:"utterances"`
	// Aggregates
	Emotions       map[string]float64 `json:"emotions"` // emotion -> share of readings
	Dominant       string             `json:"dominant"`
	MeanConfidence float64            `json:"mean_confidence"`
	SpeakingShare  float64            `json:"speaking_share"` // speech seconds / window seconds
	// Vector features for plotting
	Vector []float64 `json:"vector"`
}
