// Package affect holds the channel-independent parts of the affect pipeline:
// category vocabularies, observations, the bounded history, the rule-based
// scorer and the temporal smoother.
package affect

// Emotion is a facial-channel category.
type Emotion string

const (
	EmotionNeutral   Emotion = "neutral"
	EmotionHappy     Emotion = "happy"
	EmotionSad       Emotion = "sad"
	EmotionAngry     Emotion = "angry"
	EmotionSurprised Emotion = "surprised"
	EmotionFearful   Emotion = "fearful"
	EmotionDisgusted Emotion = "disgusted"
	EmotionCalm      Emotion = "calm"
	EmotionTense     Emotion = "tense"
)

// Emotions lists every Emotion in declaration order. Ties in scoring are
// broken by this order.
var Emotions = []Emotion{
	EmotionNeutral,
	EmotionHappy,
	EmotionSad,
	EmotionAngry,
	EmotionSurprised,
	EmotionFearful,
	EmotionDisgusted,
	EmotionCalm,
	EmotionTense,
}

// Tone is a vocal or text-channel category.
type Tone string

const (
	ToneNeutral   Tone = "neutral"
	ToneExcited   Tone = "excited"
	ToneSad       Tone = "sad"
	ToneAngry     Tone = "angry"
	ToneAnxious   Tone = "anxious"
	ToneCalm      Tone = "calm"
	ToneUncertain Tone = "uncertain"
)

// Tones lists every Tone in declaration order.
var Tones = []Tone{
	ToneNeutral,
	ToneExcited,
	ToneSad,
	ToneAngry,
	ToneAnxious,
	ToneCalm,
	ToneUncertain,
}

var toneToEmotion = map[Tone]Emotion{
	ToneNeutral:   EmotionNeutral,
	ToneExcited:   EmotionHappy,
	ToneSad:       EmotionSad,
	ToneAngry:     EmotionAngry,
	ToneAnxious:   EmotionFearful,
	ToneCalm:      EmotionCalm,
	ToneUncertain: EmotionTense,
}

// ToneToEmotion reconciles a tone with the facial vocabulary. Unknown tones
// map to neutral.
func ToneToEmotion(t Tone) Emotion {
	if e, ok := toneToEmotion[t]; ok {
		return e
	}
	return EmotionNeutral
}

// ParseEmotion reports whether s names an Emotion.
func ParseEmotion(s string) (Emotion, bool) {
	for _, e := range Emotions {
		if string(e) == s {
			return e, true
		}
	}
	return "", false
}

// ParseTone reports whether s names a Tone.
func ParseTone(s string) (Tone, bool) {
	for _, t := range Tones {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}
