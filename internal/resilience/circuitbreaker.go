// Package resilience provides circuit breaker and engine failover primitives.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open). The
// continuous listener uses one to back off while the capture device keeps
// failing. [FallbackGroup] guards several values of one type with a breaker
// each, and [EngineFallback] applies it to recognizer engines so a failing
// primary model is skipped in favour of a healthy fallback.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the last failure.
	StateOpen

	// StateHalfOpen admits up to HalfOpenMax probes. One failed probe opens
	// the breaker again; HalfOpenMax successful probes close it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker defaults.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// CircuitBreakerConfig holds the tuning knobs for a [CircuitBreaker]. Zero
// values select the package defaults.
type CircuitBreakerConfig struct {
	// Name labels the breaker in log records.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget of the half-open state.
	HalfOpenMax int

	// Now replaces time.Now. Tests use it to step through reset timeouts.
	Now func() time.Time

	// Logger receives state transitions. Default: slog.Default().
	Logger *slog.Logger
}

// CircuitBreaker counts consecutive failures of the calls it wraps and
// short-circuits them while the guarded resource looks broken.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	log *slog.Logger

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures while closed
	openedAt time.Time // time of the failure that opened the breaker
	probes   int       // probes admitted in the current half-open phase
	passed   int       // successful probes in the current half-open phase
}

// NewCircuitBreaker creates a closed [CircuitBreaker].
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = DefaultHalfOpenMax
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &CircuitBreaker{cfg: cfg, log: log.With("breaker", cfg.Name)}
}

// Execute calls fn unless the breaker is open or the half-open probe budget
// is spent, in which case it returns [ErrCircuitOpen] without calling fn.
// fn runs without the breaker's lock held.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may proceed and reports whether it is a
// half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.expired() {
		cb.transition(StateHalfOpen)
	}
	switch cb.state {
	case StateOpen:
		return false, ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	default:
		return false, nil
	}
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err != nil && probe:
		cb.openedAt = cb.cfg.Now()
		cb.failures = cb.cfg.MaxFailures
		cb.transition(StateOpen)
	case err != nil:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures && cb.state == StateClosed {
			cb.openedAt = cb.cfg.Now()
			cb.transition(StateOpen)
		}
	case probe:
		cb.passed++
		if cb.passed >= cb.cfg.HalfOpenMax && cb.state == StateHalfOpen {
			cb.failures = 0
			cb.transition(StateClosed)
		}
	default:
		cb.failures = 0
	}
}

// transition moves to next and clears the probe counters. Must be called
// with cb.mu held.
func (cb *CircuitBreaker) transition(next State) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.probes, cb.passed = 0, 0

	level := slog.LevelInfo
	if next == StateOpen {
		level = slog.LevelWarn
	}
	cb.log.Log(context.Background(), level, "circuit breaker state change",
		"from", prev.String(),
		"to", next.String(),
		"consecutive_failures", cb.failures)
}

// expired reports whether an open breaker may probe again. Must be called
// with cb.mu held.
func (cb *CircuitBreaker) expired() bool {
	return cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.expired() {
		return StateHalfOpen
	}
	return cb.state
}

// RetryAfter returns how long the breaker stays open before it admits a
// probe. It is zero unless the breaker is open.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return 0
	}
	return max(cb.cfg.ResetTimeout-cb.cfg.Now().Sub(cb.openedAt), 0)
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
