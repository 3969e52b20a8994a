// Package phrase holds the wake-phrase matching policy.
//
// A [Set] decides whether a recognized utterance is one of the configured
// wake phrases. Matching is exact after trimming surrounding whitespace, with
// optional case folding. Nothing else is normalized: a grammar-constrained
// recognizer either produces a phrase verbatim or it did not hear one.
//
// For rejected candidates, [Set.Closest] reports the nearest configured
// phrase as a diagnostic. It combines Double Metaphone phonetic codes with
// Jaro-Winkler similarity:
//
//  1. Phonetic candidates: a phrase whose words share a Double Metaphone code
//     with the utterance's words is ranked by its best Jaro-Winkler score.
//
//  2. Fuzzy fallback: without a phonetic candidate, pure Jaro-Winkler
//     similarity is used.
//
// The near-miss result never changes the accept/reject decision.
package phrase

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultNearMissThreshold is the minimum similarity for [Set.Closest] to
// report a phrase.
const DefaultNearMissThreshold = 0.80

// Option is a functional option for configuring a [Set].
type Option func(*Set)

// WithCaseInsensitive makes [Set.Match] compare with Unicode case folding.
func WithCaseInsensitive(on bool) Option {
	return func(s *Set) { s.caseInsensitive = on }
}

// WithNearMissThreshold sets the minimum similarity reported by
// [Set.Closest]. Default: 0.80.
func WithNearMissThreshold(threshold float64) Option {
	return func(s *Set) { s.nearMissThreshold = threshold }
}

// Set is an immutable wake-phrase list. It is safe for concurrent use.
type Set struct {
	phrases           []string
	codes             []map[string]struct{}
	caseInsensitive   bool
	nearMissThreshold float64
}

// NearMiss describes the configured phrase closest to a rejected utterance.
type NearMiss struct {
	Phrase   string
	Score    float64
	Phonetic bool
}

// New returns a Set of the non-empty trimmed phrases.
func New(phrases []string, opts ...Option) *Set {
	s := &Set{nearMissThreshold: DefaultNearMissThreshold}
	for _, o := range opts {
		o(s)
	}
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		s.phrases = append(s.phrases, p)
		s.codes = append(s.codes, codesForTokens(strings.Fields(strings.ToLower(p))))
	}
	return s
}

// Phrases returns a copy of the phrase list.
func (s *Set) Phrases() []string {
	return append([]string(nil), s.phrases...)
}

// Len returns the number of phrases.
func (s *Set) Len() int { return len(s.phrases) }

// Match reports whether text is one of the phrases and returns the matched
// phrase as configured.
func (s *Set) Match(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	for _, p := range s.phrases {
		if p == text || (s.caseInsensitive && strings.EqualFold(p, text)) {
			return p, true
		}
	}
	return "", false
}

// Closest returns the phrase most similar to text, if its score reaches the
// near-miss threshold.
func (s *Set) Closest(text string) (NearMiss, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" || len(s.phrases) == 0 {
		return NearMiss{}, false
	}
	tokens := strings.Fields(lower)
	inputCodes := codesForTokens(tokens)

	var best NearMiss
	for i, p := range s.phrases {
		pLower := strings.ToLower(p)
		score := similarity(tokens, strings.Fields(pLower), lower, pLower)
		phonetic := codesOverlap(inputCodes, s.codes[i])

		switch {
		case phonetic && (!best.Phonetic || score > best.Score):
			best = NearMiss{Phrase: p, Score: score, Phonetic: true}
		case !phonetic && !best.Phonetic && score > best.Score:
			best = NearMiss{Phrase: p, Score: score}
		}
	}
	if best.Phrase == "" || best.Score < s.nearMissThreshold {
		return NearMiss{}, false
	}
	return best, true
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, alt := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if alt != "" {
			codes[alt] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the Jaro-Winkler score of the full strings, or of the
// space-stripped strings for multi-word input, whichever is higher. Per-word
// scores are not used, so a single shared word does not make a near miss.
func similarity(inputTokens, phraseTokens []string, input, phrase string) float64 {
	score := matchr.JaroWinkler(input, phrase, false)
	if len(inputTokens) > 1 || len(phraseTokens) > 1 {
		a := strings.Join(inputTokens, "")
		b := strings.Join(phraseTokens, "")
		score = max(score, matchr.JaroWinkler(a, b, false))
	}
	return score
}
