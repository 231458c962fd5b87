package features

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxMarkCount caps the exclamation and question counts. A run of marks
// reads as one strong signal, not an unbounded one.
const MaxMarkCount = 3

// Text is the lexical feature vector of one utterance.
type Text struct {
	ExclamationCount int `json:"exclamation_count"`
	QuestionCount    int `json:"question_count"`
	// CapitalsRatio is the share of words that carry an uppercase letter.
	CapitalsRatio float64 `json:"capitals_ratio"`
	// ShoutRatio is the share of fully uppercase words of two letters or more.
	ShoutRatio    float64 `json:"shout_ratio"`
	WordCount     int     `json:"word_count"`
	AvgWordLength float64 `json:"avg_word_length"`
	SentenceCount int     `json:"sentence_count"`
	// AvgSentenceLength is measured in characters.
	AvgSentenceLength float64 `json:"avg_sentence_length"`
	// Repetition is unique/total words; lower means more repeated words.
	// It is 1 for utterances under four words.
	Repetition         float64 `json:"repetition"`
	StopWords          int     `json:"stop_words"`
	PunctuationDensity float64 `json:"punctuation_density"`
	// Normalized is the trimmed, lower-cased utterance the lexicon runs on.
	Normalized string `json:"normalized"`
}

var sentenceBreak = regexp.MustCompile(`[.!?]+`)

const punctuation = `.,!?;:'"()[]{}`

var stopWords = toSet(
	"i", "me", "my", "myself", "we", "our", "ours", "ourselves", "you", "your",
	"yours", "yourself", "yourselves", "he", "him", "his", "himself", "she", "her", "hers",
	"herself", "it", "its", "itself", "they", "them", "their", "theirs", "themselves",
	"what", "which", "who", "whom", "this", "that", "these", "those", "am", "is", "are",
	"was", "were", "be", "been", "being", "have", "has", "had", "having", "do", "does",
	"did", "doing", "a", "an", "the", "and", "but", "if", "or", "because", "as", "until",
	"while", "of", "at", "by", "for", "with", "about", "against", "between", "into",
	"through", "during", "before", "after", "above", "below", "to", "from", "up", "down",
	"in", "out", "on", "off", "over", "under", "again", "further", "then", "once", "here",
	"there", "when", "where", "why", "how", "all", "any", "both", "each", "few", "more",
	"most", "other", "some", "such", "no", "nor", "not", "only", "own", "same", "so",
	"than", "too", "very", "s", "t", "can", "will", "just", "don", "should", "now",
)

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// ExtractText computes the lexical features of s. It is a pure function of
// its input.
func ExtractText(s string) (Text, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Text{}, ErrNoSignal
	}

	t := Text{
		ExclamationCount: min(strings.Count(s, "!"), MaxMarkCount),
		QuestionCount:    min(strings.Count(s, "?"), MaxMarkCount),
		Normalized:       strings.ToLower(s),
	}

	words := strings.Fields(s)
	t.WordCount = len(words)

	var letters, capped, shouted int
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		letters += utf8.RuneCountInString(w)
		if hasUpper(w) {
			capped++
		}
		if isShout(w) {
			shouted++
		}
		bare := strings.ToLower(strings.TrimFunc(w, unicode.IsPunct))
		seen[bare] = struct{}{}
		if _, ok := stopWords[bare]; ok {
			t.StopWords++
		}
	}
	t.AvgWordLength = float64(letters) / float64(len(words))
	t.CapitalsRatio = float64(capped) / float64(len(words))
	t.ShoutRatio = float64(shouted) / float64(len(words))

	t.Repetition = 1
	if len(words) >= 4 {
		t.Repetition = float64(len(seen)) / float64(len(words))
	}

	for _, seg := range sentenceBreak.Split(s, -1) {
		if strings.TrimSpace(seg) != "" {
			t.SentenceCount++
		}
	}
	length := utf8.RuneCountInString(s)
	if t.SentenceCount > 0 {
		t.AvgSentenceLength = float64(length) / float64(t.SentenceCount)
	}

	marks := 0
	for _, r := range s {
		if strings.ContainsRune(punctuation, r) {
			marks++
		}
	}
	t.PunctuationDensity = float64(marks) / float64(length)

	return t, nil
}

func hasUpper(w string) bool {
	for _, r := range w {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

func isShout(w string) bool {
	n := 0
	for _, r := range w {
		if !unicode.IsLetter(r) {
			continue
		}
		if !unicode.IsUpper(r) {
			return false
		}
		n++
	}
	return n >= 2
}
