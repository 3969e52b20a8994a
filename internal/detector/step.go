package detector

import (
	"context"
	"sync"
)

// StepName is the name a [Step] reports to pipeline runners.
const StepName = "word_detection"

// Step adapts a [Detector] to a pipeline step that reports success as a
// boolean. The full result of the most recent run stays available through
// [Step.Last].
type Step struct {
	d *Detector

	mu   sync.Mutex
	last Result
}

// NewStep wraps d.
func NewStep(d *Detector) *Step {
	return &Step{d: d}
}

// Name returns [StepName].
func (s *Step) Name() string { return StepName }

// Run runs the detector once and reports whether a wake phrase was accepted.
// Failures are logged and reported as false.
func (s *Step) Run(ctx context.Context) bool {
	res, err := s.d.Run(ctx)
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
	if err != nil && res.Outcome != OutcomeCancelled {
		s.d.log.Error("word detection step failed", "outcome", res.Outcome.String(), "err", err)
	} else if err != nil {
		s.d.log.Debug("word detection step cancelled")
	}
	return res.Outcome == OutcomeTriggered
}

// Last returns the result of the most recent Run.
func (s *Step) Last() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
