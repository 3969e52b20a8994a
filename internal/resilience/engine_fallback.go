package resilience

import (
	"errors"
	"strings"
	"sync"

	"github.com/MrWong99/wakegate/pkg/recognizer"
)

// EngineFallback implements [recognizer.Engine] over several engines. Each
// recognition run asks the first healthy engine for a recognizer; an engine
// whose NewRecognizer keeps failing has its breaker opened and is skipped
// until the reset timeout elapses.
type EngineFallback struct {
	group *FallbackGroup[recognizer.Engine]

	mu   sync.Mutex
	last string
}

var _ recognizer.Engine = (*EngineFallback)(nil)

// NewEngineFallback creates an [EngineFallback] with primary as the preferred
// engine. The entry is named after primary.Name().
func NewEngineFallback(primary recognizer.Engine, cfg FallbackConfig) *EngineFallback {
	return &EngineFallback{group: NewFallbackGroup(primary, primary.Name(), cfg)}
}

// AddFallback registers e after all previously added engines.
func (f *EngineFallback) AddFallback(e recognizer.Engine) {
	f.group.AddFallback(e.Name(), e)
}

// Name returns the name of the engine that served the most recent
// NewRecognizer call, or the primary's name before the first call.
func (f *EngineFallback) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last != "" {
		return f.last
	}
	return f.group.entries[0].name
}

// Engines returns the registered engine names joined in failover order, for
// logging.
func (f *EngineFallback) Engines() string {
	return strings.Join(f.group.Names(), ",")
}

// NewRecognizer returns a recognizer from the first engine that can build
// one for cfg. An engine that reports [recognizer.ErrNotSupported] is
// skipped; when every engine does, their errors are returned joined so
// callers can still match [recognizer.ErrNotSupported].
func (f *EngineFallback) NewRecognizer(cfg recognizer.Config) (recognizer.Recognizer, error) {
	var unsupported []error
	r, name, err := ExecuteNamed(f.group, func(e recognizer.Engine) (recognizer.Recognizer, error) {
		rec, err := e.NewRecognizer(cfg)
		if errors.Is(err, recognizer.ErrNotSupported) {
			unsupported = append(unsupported, err)
			return nil, errSkip
		}
		return rec, err
	})
	if err != nil {
		if len(unsupported) == len(f.group.entries) {
			return nil, errors.Join(unsupported...)
		}
		return nil, err
	}
	f.mu.Lock()
	f.last = name
	f.mu.Unlock()
	return r, nil
}

// Close closes every engine and joins their errors.
func (f *EngineFallback) Close() error {
	var errs []error
	for _, e := range f.group.Values() {
		errs = append(errs, e.Close())
	}
	return errors.Join(errs...)
}

// errSkip marks an entry that cannot serve the request at all.
var errSkip = errors.New("resilience: engine does not support request")
