// Package vosk implements recognizer.Engine on top of the Vosk (Kaldi)
// offline speech recognition toolkit.
//
// The cgo binding is only compiled with the "vosk" build tag, because it
// needs libvosk at link time:
//
//	go build -tags vosk ./cmd/wakegate
//
// Without the tag, [Open] returns [recognizer.ErrNotSupported]. Result
// decoding is tag-independent and always available.
package vosk

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/wakegate/pkg/recognizer"
)

// EngineName is the registry name of the Vosk engine.
const EngineName = "vosk"

// wordJSON is one entry of the "result" array emitted when word output is
// enabled on the recognizer.
type wordJSON struct {
	Word  string  `json:"word"`
	Conf  float64 `json:"conf"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type resultJSON struct {
	Text   string     `json:"text"`
	Result []wordJSON `json:"result"`
}

// ParseResult decodes a Vosk final-result JSON document into an utterance.
// Word timings are given in seconds by Vosk.
func ParseResult(raw string) (recognizer.Utterance, error) {
	var r resultJSON
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return recognizer.Utterance{}, fmt.Errorf("vosk: decode result: %w", err)
	}
	u := recognizer.Utterance{Text: strings.TrimSpace(r.Text)}
	if len(r.Result) > 0 {
		u.Words = make([]recognizer.Word, len(r.Result))
		for i, w := range r.Result {
			u.Words[i] = recognizer.Word{
				Word:       w.Word,
				Confidence: w.Conf,
				Start:      seconds(w.Start),
				End:        seconds(w.End),
			}
		}
	}
	return u, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
