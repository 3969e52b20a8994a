// Package whisper implements recognizer.Engine using the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
//
// whisper.cpp has no grammar support. The phrase list is passed as the
// initial prompt to bias decoding, and an utterance whose normalized text
// equals a normalized phrase is reported with the phrase's exact spelling.
// Utterance boundaries come from an energy segmenter instead of the decoder.
package whisper

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/wakegate/pkg/recognizer"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// EngineName is the registry name of the whisper engine.
const EngineName = "whisper"

// modelSampleRate is the only input rate whisper models accept.
const modelSampleRate = 16000

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLanguage sets the language code for transcription (e.g. "en", "de").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithSilenceThresholdMs sets the consecutive-silence duration (ms) that
// closes an utterance. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(e *Engine) { e.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs sets the longest utterance (ms) before a forced
// boundary. Defaults to 5 000 ms.
func WithMaxBufferDurationMs(ms int) Option {
	return func(e *Engine) { e.maxBufferDurationMs = ms }
}

// WithRMSThreshold sets the int16 RMS level separating speech from silence.
func WithRMSThreshold(rms float64) Option {
	return func(e *Engine) { e.rmsThreshold = rms }
}

// Engine owns a loaded whisper.cpp model shared by all its recognizers.
type Engine struct {
	model               whisperlib.Model
	language            string
	rmsThreshold        float64
	silenceThresholdMs  int
	maxBufferDurationMs int

	mu     sync.Mutex
	closed bool
}

// Open loads the whisper.cpp model file at modelPath.
func Open(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	e := &Engine{
		model:               model,
		language:            defaultLanguage,
		rmsThreshold:        defaultRMSThreshold,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Name implements recognizer.Engine.
func (e *Engine) Name() string { return EngineName }

// NewRecognizer implements recognizer.Engine. cfg.Language overrides the
// engine language when set.
func (e *Engine) NewRecognizer(cfg recognizer.Config) (recognizer.Recognizer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, recognizer.ErrClosed
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("whisper: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.SampleRate != modelSampleRate {
		return nil, fmt.Errorf("whisper: sample rate %d: model requires %d: %w",
			cfg.SampleRate, modelSampleRate, recognizer.ErrNotSupported)
	}
	lang := cfg.Language
	if lang == "" {
		lang = e.language
	}
	return &whisperRecognizer{
		model:    e.model,
		language: lang,
		phrases:  append([]string(nil), cfg.Phrases...),
		seg:      newSegmenter(cfg.SampleRate, e.rmsThreshold, e.silenceThresholdMs, e.maxBufferDurationMs),
	}, nil
}

// Close releases the model.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.model.Close()
}

var _ recognizer.Engine = (*Engine)(nil)

// whisperRecognizer runs one inference per energy-delimited utterance.
// It is confined to the caller's goroutine.
type whisperRecognizer struct {
	model    whisperlib.Model
	language string
	phrases  []string
	seg      *segmenter

	last   recognizer.Utterance
	closed bool
}

func (r *whisperRecognizer) AcceptWaveform(pcm []byte) (bool, error) {
	if r.closed {
		return false, recognizer.ErrClosed
	}
	speech, ok := r.seg.feed(pcm)
	if !ok {
		return false, nil
	}
	u, err := r.infer(speech)
	if err != nil {
		return false, err
	}
	r.last = u
	return true, nil
}

func (r *whisperRecognizer) Result() (recognizer.Utterance, error) {
	if r.closed {
		return recognizer.Utterance{}, recognizer.ErrClosed
	}
	return r.last, nil
}

func (r *whisperRecognizer) Reset() {
	r.seg.reset()
	r.last = recognizer.Utterance{}
}

func (r *whisperRecognizer) Close() error {
	r.closed = true
	return nil
}

// infer runs whisper.cpp on one utterance using a fresh context. Contexts are
// not thread-safe but the model may be shared.
func (r *whisperRecognizer) infer(pcm []byte) (recognizer.Utterance, error) {
	wctx, err := r.model.NewContext()
	if err != nil {
		return recognizer.Utterance{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(r.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", r.language, "error", err)
	}
	wctx.SetTokenTimestamps(true)
	if len(r.phrases) > 0 {
		wctx.SetInitialPrompt(strings.Join(r.phrases, ", "))
	}

	if err := wctx.Process(pcmToFloat32(pcm), nil, nil, nil); err != nil {
		return recognizer.Utterance{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var tokens []token
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return recognizer.Utterance{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		for _, t := range segment.Tokens {
			tokens = append(tokens, token{Text: t.Text, P: t.P, Start: t.Start, End: t.End})
		}
	}

	words := wordsFromTokens(tokens)
	return recognizer.Utterance{
		Text:  restrictToPhrases(joinWords(words), r.phrases),
		Words: words,
	}, nil
}

var _ recognizer.Recognizer = (*whisperRecognizer)(nil)
