package whisper

import (
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/wakegate/pkg/recognizer"
)

// token is the subset of a whisper.cpp token needed to build words.
type token struct {
	Text  string
	P     float32
	Start time.Duration
	End   time.Duration
}

// isSpecial reports whether t is a control token such as [_BEG_] or
// <|endoftext|>.
func isSpecial(text string) bool {
	return strings.HasPrefix(text, "[_") || strings.HasPrefix(text, "<|")
}

// wordsFromTokens merges sub-word tokens into words. A token that starts with
// a space begins a new word. A word's confidence is the lowest probability of
// its tokens. Punctuation-only tokens are dropped.
func wordsFromTokens(tokens []token) []recognizer.Word {
	var (
		words []recognizer.Word
		cur   *recognizer.Word
	)
	for _, t := range tokens {
		if isSpecial(t.Text) {
			continue
		}
		text := normalize(t.Text)
		if text == "" {
			continue
		}
		if cur == nil || strings.HasPrefix(t.Text, " ") {
			words = append(words, recognizer.Word{
				Word:       text,
				Confidence: float64(t.P),
				Start:      t.Start,
				End:        t.End,
			})
			cur = &words[len(words)-1]
			continue
		}
		cur.Word += text
		cur.Confidence = min(cur.Confidence, float64(t.P))
		cur.End = t.End
	}
	return words
}

// normalize lower-cases s and strips everything but letters, digits,
// apostrophes and single spaces, matching the output style of
// grammar-constrained recognizers.
func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}

// joinWords builds utterance text from words.
func joinWords(words []recognizer.Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Word
	}
	return strings.Join(parts, " ")
}

// restrictToPhrases maps text onto the phrase list: when text equals a
// normalized phrase, that phrase is returned verbatim; otherwise text is
// returned unchanged.
func restrictToPhrases(text string, phrases []string) string {
	for _, p := range phrases {
		if normalize(p) == text {
			return p
		}
	}
	return text
}
