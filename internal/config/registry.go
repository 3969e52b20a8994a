package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/wakegate/internal/resilience"
	"github.com/MrWong99/wakegate/pkg/recognizer"
)

// ErrEngineNotRegistered is returned by [Registry.Create] when no factory has
// been registered under the requested engine name.
var ErrEngineNotRegistered = errors.New("config: engine not registered")

// EngineFactory opens a recognizer engine from its config entry.
type EngineFactory func(EngineEntry) (recognizer.Engine, error)

// Registry maps engine names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]EngineFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]EngineFactory)}
}

// Register registers an engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory EngineFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = factory
}

// Names returns the registered engine names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for n := range r.engines {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Create opens the engine registered under entry.Engine.
// Returns [ErrEngineNotRegistered] if no factory has been registered for that name.
func (r *Registry) Create(entry EngineEntry) (recognizer.Engine, error) {
	r.mu.RLock()
	factory, ok := r.engines[entry.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEngineNotRegistered, entry.Engine)
	}
	e, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: open engine %q: %w", entry.Engine, err)
	}
	return e, nil
}

// Open opens the primary engine and every fallback of rc. Engines that fail
// to open are skipped with a warning as long as at least one opens. With more
// than one engine the result is a [resilience.EngineFallback] using breaker
// for each entry.
func (r *Registry) Open(rc RecognizerConfig, breaker resilience.CircuitBreakerConfig) (recognizer.Engine, error) {
	entries := append([]EngineEntry{rc.EngineEntry}, rc.Fallbacks...)

	var (
		opened []recognizer.Engine
		errs   []error
	)
	for _, entry := range entries {
		e, err := r.Create(entry)
		if err != nil {
			slog.Warn("recognizer engine unavailable", "engine", entry.Engine, "model", entry.ModelPath, "err", err)
			errs = append(errs, err)
			continue
		}
		opened = append(opened, e)
	}

	switch len(opened) {
	case 0:
		return nil, errors.Join(errs...)
	case 1:
		return opened[0], nil
	}
	fb := resilience.NewEngineFallback(opened[0], resilience.FallbackConfig{CircuitBreaker: breaker})
	for _, e := range opened[1:] {
		fb.AddFallback(e)
	}
	return fb, nil
}
