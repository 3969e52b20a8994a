//go:build vosk

package vosk

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/wakegate/pkg/recognizer"
	voskapi "github.com/alphacep/vosk-api/go"
)

// Engine owns a loaded Vosk model. It is safe to create recognizers from
// multiple goroutines; each recognizer itself is single-goroutine.
type Engine struct {
	path  string
	model *voskapi.VoskModel

	mu     sync.Mutex
	closed bool
}

// Open loads the Vosk model directory at modelPath.
func Open(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("vosk: model path must not be empty")
	}
	voskapi.SetLogLevel(-1)
	model, err := voskapi.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("vosk: load model %q: %w", modelPath, err)
	}
	slog.Debug("vosk: model loaded", "path", modelPath)
	return &Engine{path: modelPath, model: model}, nil
}

// Name implements recognizer.Engine.
func (e *Engine) Name() string { return EngineName }

// NewRecognizer implements recognizer.Engine. A non-empty phrase list is
// installed as the recognizer grammar. Word-level output is always enabled.
func (e *Engine) NewRecognizer(cfg recognizer.Config) (recognizer.Recognizer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, recognizer.ErrClosed
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("vosk: invalid sample rate %d", cfg.SampleRate)
	}

	var (
		rec *voskapi.VoskRecognizer
		err error
	)
	if len(cfg.Phrases) > 0 {
		grammar, gerr := cfg.Grammar()
		if gerr != nil {
			return nil, gerr
		}
		rec, err = voskapi.NewRecognizerGrm(e.model, float64(cfg.SampleRate), grammar)
	} else {
		rec, err = voskapi.NewRecognizer(e.model, float64(cfg.SampleRate))
	}
	if err != nil {
		return nil, fmt.Errorf("vosk: create recognizer: %w", err)
	}
	rec.SetWords(1)
	return &voskRecognizer{rec: rec}, nil
}

// Close frees the model.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.model.Free()
	return nil
}

var _ recognizer.Engine = (*Engine)(nil)

type voskRecognizer struct {
	rec    *voskapi.VoskRecognizer
	closed bool
}

func (r *voskRecognizer) AcceptWaveform(pcm []byte) (bool, error) {
	if r.closed {
		return false, recognizer.ErrClosed
	}
	switch res := r.rec.AcceptWaveform(pcm); {
	case res < 0:
		return false, errors.New("vosk: accept waveform failed")
	default:
		return res > 0, nil
	}
}

func (r *voskRecognizer) Result() (recognizer.Utterance, error) {
	if r.closed {
		return recognizer.Utterance{}, recognizer.ErrClosed
	}
	return ParseResult(r.rec.Result())
}

func (r *voskRecognizer) Reset() {
	if !r.closed {
		r.rec.Reset()
	}
}

func (r *voskRecognizer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.rec.Free()
	return nil
}

var _ recognizer.Recognizer = (*voskRecognizer)(nil)
