// Package mock provides a test double for capture.Source.
//
// Source replays a fixed list of chunks and then either returns a configured
// error or blocks until its context is cancelled, mimicking a live
// microphone. It tracks whether Run is currently active so tests can assert
// that the capture side was released.
//
// Example:
//
//	src := &mock.Source{
//	    Fmt:    audio.Format{SampleRate: 16000, Channels: 1},
//	    Chunks: []audio.Chunk{{Data: pcm}},
//	}
//	err := src.Run(ctx, queue)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/wakegate/pkg/audio"
	"github.com/MrWong99/wakegate/pkg/capture"
)

// Source is a mock implementation of capture.Source.
type Source struct {
	mu sync.Mutex

	// Fmt is returned by Format.
	Fmt audio.Format

	// Chunks are pushed to the sink in order on every Run.
	Chunks []audio.Chunk

	// Interval, if positive, is slept between pushes.
	Interval time.Duration

	// Loop replays Chunks until the context is cancelled.
	Loop bool

	// RunErr, if non-nil, is returned after all chunks were pushed instead of
	// blocking until cancellation.
	RunErr error

	// StartErr, if non-nil, is returned immediately by Run.
	StartErr error

	// --- Call records ---

	// RunCallCount is the number of times Run was called.
	RunCallCount int

	// ActiveRuns is the number of Run calls that have not yet returned.
	ActiveRuns int

	// PushedCount is the number of chunks handed to the sink.
	PushedCount int

	// DroppedCount is the number of chunks the sink refused.
	DroppedCount int
}

// Format returns Fmt.
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Fmt
}

// Run records the call, pushes Chunks and then returns RunErr or blocks until
// ctx is done.
func (s *Source) Run(ctx context.Context, sink capture.Sink) error {
	s.mu.Lock()
	s.RunCallCount++
	if s.StartErr != nil {
		err := s.StartErr
		s.mu.Unlock()
		return err
	}
	s.ActiveRuns++
	chunks := append([]audio.Chunk(nil), s.Chunks...)
	interval, loop, runErr := s.Interval, s.Loop, s.RunErr
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.ActiveRuns--
		s.mu.Unlock()
	}()

	for {
		for _, c := range chunks {
			if ctx.Err() != nil {
				return nil
			}
			if c.Captured.IsZero() {
				c.Captured = time.Now()
			}
			ok := sink.Push(c)
			s.mu.Lock()
			if ok {
				s.PushedCount++
			} else {
				s.DroppedCount++
			}
			s.mu.Unlock()
			if interval > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(interval):
				}
			}
		}
		if !loop || len(chunks) == 0 {
			break
		}
	}

	if runErr != nil {
		return runErr
	}
	<-ctx.Done()
	return nil
}

// Active reports whether any Run call is still in progress. Thread-safe.
func (s *Source) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ActiveRuns > 0
}

// Pushed returns PushedCount. Thread-safe.
func (s *Source) Pushed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PushedCount
}

// Calls returns RunCallCount. Thread-safe.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RunCallCount
}

// Ensure Source implements capture.Source at compile time.
var _ capture.Source = (*Source)(nil)
