package recognizer

import (
	"strings"
	"time"
)

// Word is one recognized word with its confidence in [0, 1] and its position
// within the utterance.
type Word struct {
	Word       string
	Confidence float64
	Start      time.Duration
	End        time.Duration
}

// Utterance is a finalized recognition result. It is immutable once returned.
type Utterance struct {
	// Text is the recognized text. It may be empty when the boundary held only
	// silence or noise.
	Text string

	// Words holds per-word details when the engine provides them.
	Words []Word
}

// Empty reports whether the utterance has no text after trimming whitespace.
func (u Utterance) Empty() bool {
	return strings.TrimSpace(u.Text) == ""
}

// MinConfidence returns the lowest word confidence, or 0 when no words were
// reported.
func (u Utterance) MinConfidence() float64 {
	if len(u.Words) == 0 {
		return 0
	}
	m := u.Words[0].Confidence
	for _, w := range u.Words[1:] {
		m = min(m, w.Confidence)
	}
	return m
}

// MeanConfidence returns the arithmetic mean of word confidences, or 0 when
// no words were reported.
func (u Utterance) MeanConfidence() float64 {
	if len(u.Words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range u.Words {
		sum += w.Confidence
	}
	return sum / float64(len(u.Words))
}

// Duration returns the span from the first word's start to the last word's
// end, or 0 when no words were reported.
func (u Utterance) Duration() time.Duration {
	if len(u.Words) == 0 {
		return 0
	}
	return u.Words[len(u.Words)-1].End - u.Words[0].Start
}
