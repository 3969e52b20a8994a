// Package mock provides test doubles for the recognizer package interfaces.
//
// Recognizer replays a scripted list of utterances: every FinalizeEvery-th
// AcceptWaveform call finalizes the next queued utterance. When the script is
// exhausted AcceptWaveform never finalizes again. Engine hands out a
// pre-configured Recognizer and records the configs it was asked for.
//
// Example:
//
//	rec := &mock.Recognizer{
//	    Utterances: []recognizer.Utterance{{Text: "hello door", Words: words}},
//	    FinalizeEvery: 5,
//	}
//	eng := &mock.Engine{Recognizer: rec}
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/wakegate/pkg/recognizer"
)

// Recognizer is a mock implementation of recognizer.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Utterances are finalized in order.
	Utterances []recognizer.Utterance

	// FinalizeEvery is the number of AcceptWaveform calls per finalized
	// utterance. Values below one are treated as one.
	FinalizeEvery int

	// AcceptErr, if non-nil, is returned by every AcceptWaveform call.
	AcceptErr error

	// ResultErr, if non-nil, is returned by every Result call.
	ResultErr error

	// AcceptDelay, if positive, is slept inside every AcceptWaveform call
	// without holding the mock's lock, like a slow decoder.
	AcceptDelay time.Duration

	// --- Call records ---

	// AcceptCallCount is the number of AcceptWaveform calls.
	AcceptCallCount int

	// AcceptedBytes is the total PCM length passed to AcceptWaveform.
	AcceptedBytes int

	// ResultCallCount is the number of Result calls.
	ResultCallCount int

	// ResetCallCount is the number of Reset calls.
	ResetCallCount int

	// CloseCallCount is the number of Close calls.
	CloseCallCount int

	// ClosedDuringAccept is set when Close ran while an AcceptWaveform call
	// was still in progress.
	ClosedDuringAccept bool

	inAccept int
	pending  int
	next     int
	current  recognizer.Utterance
}

// AcceptWaveform records the call and finalizes the next scripted utterance
// every FinalizeEvery calls.
func (r *Recognizer) AcceptWaveform(pcm []byte) (bool, error) {
	if r.AcceptDelay > 0 {
		r.mu.Lock()
		r.inAccept++
		r.mu.Unlock()
		time.Sleep(r.AcceptDelay)
		defer func() {
			r.mu.Lock()
			r.inAccept--
			r.mu.Unlock()
		}()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AcceptCallCount++
	r.AcceptedBytes += len(pcm)
	if r.AcceptErr != nil {
		return false, r.AcceptErr
	}
	if r.next >= len(r.Utterances) {
		return false, nil
	}
	r.pending++
	if r.pending < max(r.FinalizeEvery, 1) {
		return false, nil
	}
	r.pending = 0
	r.current = r.Utterances[r.next]
	r.next++
	return true, nil
}

// Result records the call and returns the last finalized utterance.
func (r *Recognizer) Result() (recognizer.Utterance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResultCallCount++
	if r.ResultErr != nil {
		return recognizer.Utterance{}, r.ResultErr
	}
	return r.current, nil
}

// Reset records the call and clears partial progress toward the next
// boundary.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResetCallCount++
	r.pending = 0
}

// Close records the call.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloseCallCount++
	if r.inAccept > 0 {
		r.ClosedDuringAccept = true
	}
	return nil
}

// Resets returns ResetCallCount. Thread-safe.
func (r *Recognizer) Resets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResetCallCount
}

// Closes returns CloseCallCount. Thread-safe.
func (r *Recognizer) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CloseCallCount
}

// ClosedEarly returns ClosedDuringAccept. Thread-safe.
func (r *Recognizer) ClosedEarly() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ClosedDuringAccept
}

// Ensure Recognizer implements recognizer.Recognizer at compile time.
var _ recognizer.Recognizer = (*Recognizer)(nil)

// Engine is a mock implementation of recognizer.Engine.
type Engine struct {
	mu sync.Mutex

	// EngineName is returned by Name. Defaults to "mock".
	EngineName string

	// Recognizer is returned by NewRecognizer. If nil, a fresh empty
	// Recognizer is returned.
	Recognizer *Recognizer

	// NewRecognizerErr, if non-nil, is returned by NewRecognizer.
	NewRecognizerErr error

	// NewRecognizerCalls records every config passed to NewRecognizer.
	NewRecognizerCalls []recognizer.Config

	// CloseCallCount is the number of Close calls.
	CloseCallCount int
}

// Name returns EngineName or "mock".
func (e *Engine) Name() string {
	if e.EngineName == "" {
		return "mock"
	}
	return e.EngineName
}

// NewRecognizer records the call and returns Recognizer, NewRecognizerErr.
func (e *Engine) NewRecognizer(cfg recognizer.Config) (recognizer.Recognizer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg.Phrases = append([]string(nil), cfg.Phrases...)
	e.NewRecognizerCalls = append(e.NewRecognizerCalls, cfg)
	if e.NewRecognizerErr != nil {
		return nil, e.NewRecognizerErr
	}
	if e.Recognizer != nil {
		return e.Recognizer, nil
	}
	return &Recognizer{}, nil
}

// Close records the call.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCallCount++
	return nil
}

// Calls returns a copy of NewRecognizerCalls. Thread-safe.
func (e *Engine) Calls() []recognizer.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]recognizer.Config(nil), e.NewRecognizerCalls...)
}

// Ensure Engine implements recognizer.Engine at compile time.
var _ recognizer.Engine = (*Engine)(nil)
