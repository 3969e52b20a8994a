// Package app wires the wakegate subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the recognizer engine,
// the decision journal and the status server, DetectOnce and Listen run the
// detector, and Shutdown tears everything down in reverse order.
//
// For testing, inject doubles via functional options (WithEngine,
// WithSource). When an option is not provided, New builds the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/wakegate/internal/config"
	"github.com/MrWong99/wakegate/internal/detector"
	"github.com/MrWong99/wakegate/internal/gate"
	"github.com/MrWong99/wakegate/internal/journal"
	"github.com/MrWong99/wakegate/internal/observe"
	"github.com/MrWong99/wakegate/internal/resilience"
	"github.com/MrWong99/wakegate/internal/status"
	"github.com/MrWong99/wakegate/pkg/recognizer"
)

// App owns all subsystem lifetimes.
type App struct {
	mu  sync.RWMutex
	cfg *config.Config

	registry       *config.Registry
	engine         recognizer.Engine
	source         SourceFactory
	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	log            *slog.Logger

	journal *journal.Journal
	hub     *status.Hub
	server  *status.Server

	// workers tracks recognition goroutines that may outlive a detector run.
	workers sync.WaitGroup

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithRegistry sets the engine registry used to open cfg.Recognizer.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithEngine injects a recognizer engine instead of opening one from config.
// The app closes it on Shutdown.
func WithEngine(e recognizer.Engine) Option {
	return func(a *App) { a.engine = e }
}

// WithSource replaces the capture source built from cfg.Audio.
func WithSource(f SourceFactory) Option {
	return func(a *App) { a.source = f }
}

// WithMetrics sets the instruments shared by detectors and the status server.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler served on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevel lets config reloads change the log level.
func WithLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. It opens the recognizer engine (through the
// registry unless one was injected), the journal when cfg.Journal.Path is
// set and the status server when cfg.Status.ListenAddr is set.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.source == nil {
		a.source = ConfigSource(a.log)
	}

	if err := a.initEngine(); err != nil {
		return nil, fmt.Errorf("app: init engine: %w", err)
	}
	if err := a.initJournal(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init journal: %w", err)
	}
	a.hub = status.NewHub(0, a.log)
	a.initStatus()

	a.log.Info("wakegate ready",
		"engine", a.engine.Name(),
		"phrases", cfg.Gate.Phrases,
		"journal", cfg.Journal.Path != "",
		"status_addr", cfg.Status.ListenAddr,
	)
	return a, nil
}

func (a *App) initEngine() error {
	if a.engine != nil {
		a.closers = append(a.closers, a.engine.Close)
		return nil
	}
	if a.registry == nil {
		return errors.New("no engine registry configured")
	}
	e, err := a.registry.Open(a.cfg.Recognizer, a.breakerConfig("engine"))
	if err != nil {
		return err
	}
	a.engine = e
	a.closers = append(a.closers, e.Close)
	return nil
}

func (a *App) initJournal(ctx context.Context) error {
	if a.cfg.Journal.Path == "" {
		return nil
	}
	j, err := journal.Open(ctx, a.cfg.Journal.Path)
	if err != nil {
		return err
	}
	a.journal = j
	a.closers = append(a.closers, j.Close)

	if keep := a.cfg.Journal.Retention; keep > 0 {
		n, err := j.Prune(ctx, time.Now().Add(-keep))
		if err != nil {
			return err
		}
		if n > 0 {
			a.log.Info("journal pruned", "removed", n, "retention", keep)
		}
	}
	return nil
}

func (a *App) initStatus() {
	if a.cfg.Status.ListenAddr == "" {
		return
	}
	var checkers []status.Checker
	if a.cfg.Audio.Input == "" {
		checkers = append(checkers, status.CommandCheck(a.cfg.Audio.Command))
	} else if a.cfg.Audio.Input != "-" {
		checkers = append(checkers, status.PathCheck("capture_input", a.cfg.Audio.Input))
	}
	if a.cfg.Recognizer.ModelPath != "" {
		checkers = append(checkers, status.PathCheck("model", a.cfg.Recognizer.ModelPath))
	}
	if a.journal != nil {
		checkers = append(checkers, status.PingCheck("journal", a.journal.Ping))
	}
	sc := status.Config{
		Addr:        a.cfg.Status.ListenAddr,
		Health:      status.NewHealth(checkers...),
		Metrics:     a.metricsHandler,
		Hub:         a.hub,
		Instruments: a.metrics,
		Logger:      a.log,
	}
	if a.journal != nil {
		sc.Store = a.journal
	}
	a.server = status.New(sc)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Config returns the config the next detector run will use.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Engine returns the recognizer engine.
func (a *App) Engine() recognizer.Engine { return a.engine }

// Hub returns the live event hub.
func (a *App) Hub() *status.Hub { return a.hub }

// Journal returns the decision journal, nil when disabled.
func (a *App) Journal() *journal.Journal { return a.journal }

// Status returns the status server, nil when disabled.
func (a *App) Status() *status.Server { return a.server }

// ApplyConfig adopts the sections of next that take effect on the next run
// (log level, gate, detector). Other changes are logged and ignored until
// restart.
func (a *App) ApplyConfig(next *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()

	diff := config.Diff(a.cfg, next)
	if !diff.Changed() {
		return
	}
	merged := *a.cfg
	merged.LogLevel = next.LogLevel
	merged.Gate = next.Gate
	merged.Detector = next.Detector
	a.cfg = &merged

	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(diff.NewLogLevel.Slog())
	}
	if len(diff.RestartRequired) > 0 {
		a.log.Warn("config sections changed that need a restart", "sections", diff.RestartRequired)
	}
	a.log.Info("config reloaded",
		"gate_changed", diff.GateChanged,
		"detector_changed", diff.DetectorChanged,
		"log_level", merged.LogLevel,
	)
}

// ─── Detection ───────────────────────────────────────────────────────────────

// NewDetector builds a detector from the current config. It satisfies
// [detector.Factory].
func (a *App) NewDetector(_ context.Context) (*detector.Detector, error) {
	cfg := a.Config()
	src, err := a.source(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("app: capture source: %w", err)
	}
	recorders := []detector.Recorder{a.hub}
	if a.journal != nil {
		recorders = append(recorders, a.journal)
	}
	return detector.New(DetectorConfig(cfg), src, a.engine,
		detector.WithMetrics(a.metrics),
		detector.WithRecorder(recorders...),
		detector.WithLogger(a.log),
		detector.WithWorkers(&a.workers),
	)
}

// DetectOnce runs a single detector run with the configured timeout.
func (a *App) DetectOnce(ctx context.Context) (detector.Result, error) {
	stop := a.serve(ctx)
	defer stop()

	d, err := a.NewDetector(ctx)
	if err != nil {
		return detector.Result{}, err
	}
	res, err := d.Run(ctx)
	if res.Event != nil {
		a.hub.Publish("trigger", res.Event)
	}
	return res, err
}

// Listen runs detectors back to back until ctx is cancelled or a run fails
// in a way a retry cannot fix. onTrigger may be nil.
func (a *App) Listen(ctx context.Context, onTrigger func(context.Context, detector.TriggerEvent)) error {
	stop := a.serve(ctx)
	defer stop()

	l, err := detector.NewListener(detector.ListenerConfig{
		Factory: a.NewDetector,
		OnTrigger: func(ctx context.Context, ev detector.TriggerEvent) {
			a.hub.Publish("trigger", ev)
			if onTrigger != nil {
				onTrigger(ctx, ev)
			}
		},
		Breaker: a.breakerConfig("capture"),
		Logger:  a.log,
	})
	if err != nil {
		return err
	}
	return l.Run(ctx)
}

// serve runs the status server in the background until the returned stop
// function is called.
func (a *App) serve(ctx context.Context) (stop func()) {
	if a.server == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.server.ListenAndServe(ctx); err != nil {
			a.log.Error("status server stopped", "err", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (a *App) breakerConfig(name string) resilience.CircuitBreakerConfig {
	cfg := a.Config()
	return resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  cfg.Detector.CaptureMaxFailures,
		ResetTimeout: cfg.Detector.CaptureBackoff,
		Logger:       a.log,
	}
}

// DetectorConfig maps the file config onto a detector run config.
func DetectorConfig(cfg *config.Config) detector.Config {
	return detector.Config{
		Gate: gate.Config{
			Phrases:           cfg.Gate.Phrases,
			CaseInsensitive:   cfg.Gate.CaseInsensitive,
			Cooldown:          cfg.Gate.Cooldown,
			MinWordConfidence: cfg.Gate.MinWordConfidence,
			MinAvgConfidence:  cfg.Gate.MinAvgConfidence,
			MinUtteranceRMS:   cfg.Gate.MinUtteranceRMS,
			NearMissThreshold: cfg.Detector.NearMissThreshold,
		},
		TargetRate:    cfg.Recognizer.SampleRate,
		Language:      cfg.Recognizer.Language,
		QueueCapacity: cfg.Audio.QueueCapacity,
		Timeout:       cfg.Detector.Timeout,
		PollTimeout:   cfg.Detector.PollTimeout,
		JoinTimeout:   cfg.Detector.JoinTimeout,
		DebugRejects:  cfg.Detector.DebugRejects,
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown waits for straggling recognition goroutines, then closes all
// subsystems in reverse-init order. If ctx expires first, the remaining steps
// are skipped and the context error is returned; the engine is never closed
// under a running recognizer.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		idle := make(chan struct{})
		go func() {
			a.workers.Wait()
			close(idle)
		}()
		select {
		case <-idle:
		case <-ctx.Done():
			a.log.Warn("shutdown deadline exceeded waiting for recognizer")
			shutdownErr = ctx.Err()
			return
		}
		a.log.Debug("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := ctx.Err(); err != nil {
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = err
				return
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("cleanup after failed start", "err", err)
		}
	}
	a.closers = nil
}
