// Package recognizer defines the Recognizer interface for grammar-constrained
// speech recognizers used by the wake-phrase pipeline.
//
// A Recognizer consumes mono S16LE PCM at the rate given in [Config] and
// reports when it has finalized an utterance boundary. The finalized
// [Utterance] carries the recognized text plus per-word confidences, which the
// decision gate uses to accept or reject a wake phrase.
//
// Recognizers are created by an [Engine], which owns the loaded acoustic model
// and may be shared across many sequential recognizer instances. A single
// Recognizer is not safe for concurrent use; the detector confines it to its
// recognition goroutine.
package recognizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotSupported is returned when an engine does not support a requested
// capability (for example, a grammar on an engine without grammar support).
var ErrNotSupported = errors.New("recognizer: not supported")

// ErrClosed is returned by methods called after Close.
var ErrClosed = errors.New("recognizer: closed")

// Config describes a recognizer instance.
type Config struct {
	// SampleRate is the rate of the PCM passed to AcceptWaveform, in Hz.
	SampleRate int

	// Phrases constrains recognition to this phrase list. An empty list means
	// free-form recognition where the engine supports it.
	Phrases []string

	// Language is a BCP-47 language hint for engines that need one.
	Language string
}

// Grammar returns the phrase list encoded as a JSON array of strings, the
// grammar format understood by Kaldi-style recognizers.
func (c Config) Grammar() (string, error) {
	phrases := make([]string, 0, len(c.Phrases))
	for _, p := range c.Phrases {
		if p = strings.TrimSpace(p); p != "" {
			phrases = append(phrases, p)
		}
	}
	b, err := json.Marshal(phrases)
	if err != nil {
		return "", fmt.Errorf("recognizer: encode grammar: %w", err)
	}
	return string(b), nil
}

// Recognizer is a streaming, grammar-constrained speech recognizer.
type Recognizer interface {
	// AcceptWaveform feeds mono S16LE PCM. It returns true when an utterance
	// boundary was finalized and [Recognizer.Result] has a new value.
	AcceptWaveform(pcm []byte) (bool, error)

	// Result returns the most recently finalized utterance.
	Result() (Utterance, error)

	// Reset discards all decoder state so the next utterance starts clean.
	Reset()

	// Close releases the recognizer. Calling Close more than once is safe.
	Close() error
}

// Engine creates recognizers from a loaded model.
type Engine interface {
	// Name identifies the engine (for example "vosk").
	Name() string

	// NewRecognizer creates a recognizer for cfg.
	NewRecognizer(cfg Config) (Recognizer, error)

	// Close releases the model. Recognizers created by the engine must be
	// closed first.
	Close() error
}
