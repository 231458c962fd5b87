// Package features turns raw sensor input (utterances, audio buffers,
// camera frames) into the feature vectors the rule tables score.
//
// Extractors never substitute a default category: when the input carries no
// usable signal they return ErrNoSignal and the caller skips the tick.
package features

import "errors"

var (
	// ErrNoSignal reports input with nothing to score: an empty utterance,
	// an empty audio buffer or a frame without a face.
	ErrNoSignal = errors.New("no usable signal")
	// ErrInvalidSampleRate reports an audio buffer with a non-positive rate.
	ErrInvalidSampleRate = errors.New("invalid sample rate")
)
