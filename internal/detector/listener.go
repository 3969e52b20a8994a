package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/wakegate/internal/resilience"
)

// Factory builds the detector for the next run. The listener calls it before
// every run so configuration changes apply without a restart.
type Factory func(ctx context.Context) (*Detector, error)

// ListenerConfig configures a [Listener].
type ListenerConfig struct {
	// Factory builds a detector per run. Required.
	Factory Factory

	// OnTrigger is called after every accepted wake phrase. May be nil.
	OnTrigger func(ctx context.Context, ev TriggerEvent)

	// Breaker configures the capture failure breaker. Consecutive capture
	// failures open it and the listener waits out the reset timeout before
	// starting the next run.
	Breaker resilience.CircuitBreakerConfig

	// MaxRuns stops the listener after this many runs. Zero runs until ctx
	// is cancelled.
	MaxRuns int

	Logger *slog.Logger
}

// Listener runs detectors back to back, carrying the trigger cooldown from
// one run to the next.
type Listener struct {
	cfg     ListenerConfig
	breaker *resilience.CircuitBreaker
	log     *slog.Logger
}

// NewListener validates cfg and returns a Listener.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	if cfg.Factory == nil {
		return nil, errors.New("detector: listener factory is required")
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "capture"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker(cfg.Breaker),
		log:     log,
	}, nil
}

// Breaker returns the capture failure breaker.
func (l *Listener) Breaker() *resilience.CircuitBreaker { return l.breaker }

// Run loops detector runs until ctx is cancelled, MaxRuns is reached or a
// run fails in a way a retry cannot fix. Timeouts and capture failures start
// the next run; recognizer failures and factory errors are returned.
func (l *Listener) Run(ctx context.Context) error {
	var cooldown time.Time
	for runs := 0; l.cfg.MaxRuns == 0 || runs < l.cfg.MaxRuns; runs++ {
		if ctx.Err() != nil {
			return nil
		}
		if wait := l.breaker.RetryAfter(); wait > 0 {
			l.log.Warn("listener: capture keeps failing, backing off", "wait", wait)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}

		d, err := l.cfg.Factory(ctx)
		if err != nil {
			return fmt.Errorf("detector: build detector: %w", err)
		}
		d.SetCooldownUntil(cooldown)

		var res Result
		var runErr error
		err = l.breaker.Execute(func() error {
			res, runErr = d.Run(ctx)
			if res.Outcome == OutcomeCaptureFailed {
				return runErr
			}
			return nil
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			continue
		}
		if !res.CooldownUntil.IsZero() {
			cooldown = res.CooldownUntil
		}

		switch res.Outcome {
		case OutcomeTriggered:
			if l.cfg.OnTrigger != nil && res.Event != nil {
				l.cfg.OnTrigger(ctx, *res.Event)
			}
		case OutcomeCancelled:
			return nil
		case OutcomeRecognizerFailed:
			return runErr
		case OutcomeCaptureFailed:
			l.log.Warn("listener: capture failed, restarting",
				"err", runErr,
				"consecutive_failures", l.breaker.Failures())
		}
	}
	return nil
}
