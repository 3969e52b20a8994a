// Package detector runs the wake-phrase pipeline: one capture goroutine feeds
// a bounded audio queue, one recognition goroutine drains it through the
// frame processor and recognizer, and the decision gate turns finalized
// utterances into a trigger or a rejection.
//
// A [Detector] is caller-owned and may be run repeatedly; the cooldown of an
// accepted phrase carries over between runs. [Step] adapts a detector to a
// boolean pipeline step and [Listener] loops runs for unattended operation.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wakegate/internal/gate"
	"github.com/MrWong99/wakegate/internal/observe"
	"github.com/MrWong99/wakegate/pkg/audio"
	"github.com/MrWong99/wakegate/pkg/capture"
	"github.com/MrWong99/wakegate/pkg/recognizer"
)

// Default run parameters.
const (
	DefaultTargetRate    = 16000
	DefaultQueueCapacity = 100
	DefaultJoinTimeout   = 3 * time.Second
)

// ErrTimedOut is the context cause of a run whose wait timeout elapsed.
var ErrTimedOut = errors.New("detector: timed out waiting for wake phrase")

// errTriggered stops the worker group once a phrase was accepted.
var errTriggered = errors.New("detector: triggered")

// Outcome classifies how a run ended.
type Outcome int

const (
	OutcomeTriggered Outcome = iota
	OutcomeTimedOut
	OutcomeCancelled
	OutcomeCaptureFailed
	OutcomeRecognizerFailed
)

// String returns the metric label for o.
func (o Outcome) String() string {
	switch o {
	case OutcomeTriggered:
		return "triggered"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeCaptureFailed:
		return "capture_failed"
	case OutcomeRecognizerFailed:
		return "recognizer_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Config holds the per-run pipeline settings.
type Config struct {
	Gate gate.Config

	// TargetRate is the recognizer sample rate. Default: 16000.
	TargetRate int

	// Language is passed to engines that take a language hint.
	Language string

	// QueueCapacity bounds the capture queue. Default: 100.
	QueueCapacity int

	// Timeout bounds the wait for a wake phrase. Zero waits until the
	// context is cancelled.
	Timeout time.Duration

	// PollTimeout is how long the recognition goroutine waits on the queue
	// before re-checking for cancellation. Default: audio.DefaultPollTimeout.
	PollTimeout time.Duration

	// JoinTimeout bounds the wait for both workers to exit after the run
	// decided. Default: 3s.
	JoinTimeout time.Duration

	// DebugRejects logs non-silent rejections at info instead of debug.
	DebugRejects bool
}

func (c *Config) applyDefaults() {
	if c.TargetRate <= 0 {
		c.TargetRate = DefaultTargetRate
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = audio.DefaultPollTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
}

// TriggerEvent describes an accepted wake phrase.
type TriggerEvent struct {
	Phrase         string
	Text           string
	MinConfidence  float64
	MeanConfidence float64
	RMS            float64
	Words          []recognizer.Word
	At             time.Time

	// RunID is the trace ID of the run, empty without a tracer.
	RunID string
}

// Result summarises one run.
type Result struct {
	Outcome Outcome

	// Event is set when Outcome is OutcomeTriggered.
	Event *TriggerEvent

	// Decisions counts finalized utterances, Rejections those not accepted.
	Decisions  int
	Rejections int

	// Captured and Dropped are the queue's accepted and discarded chunk
	// counts.
	Captured int64
	Dropped  int64

	Duration time.Duration

	// CooldownUntil is the gate cooldown deadline when the run ended.
	CooldownUntil time.Time
}

// Recorder consumes every gate decision of a run. Implementations are called
// from the recognition goroutine and must not block for long.
type Recorder interface {
	RecordDecision(ctx context.Context, d gate.Decision)
}

// RecorderFunc adapts a function to [Recorder].
type RecorderFunc func(ctx context.Context, d gate.Decision)

// RecordDecision calls f.
func (f RecorderFunc) RecordDecision(ctx context.Context, d gate.Decision) { f(ctx, d) }

// Option is a functional option for configuring a [Detector].
type Option func(*Detector)

// WithMetrics sets the metrics instance. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithRecorder adds decision recorders.
func WithRecorder(r ...Recorder) Option {
	return func(d *Detector) { d.recorders = append(d.recorders, r...) }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.log = l }
}

// WithWorkers registers every recognition goroutine with wg so an owner can
// wait for stragglers before closing the engine.
func WithWorkers(wg *sync.WaitGroup) Option {
	return func(d *Detector) { d.workers = wg }
}

// WithClock replaces time.Now for the gate.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// Detector is the pipeline controller.
type Detector struct {
	cfg       Config
	source    capture.Source
	engine    recognizer.Engine
	metrics   *observe.Metrics
	recorders []Recorder
	log       *slog.Logger
	now       func() time.Time
	workers   *sync.WaitGroup

	mu            sync.Mutex
	cooldownUntil time.Time
}

// New creates a Detector reading from source and recognizing with engine.
func New(cfg Config, source capture.Source, engine recognizer.Engine, opts ...Option) (*Detector, error) {
	if source == nil {
		return nil, errors.New("detector: capture source is required")
	}
	if engine == nil {
		return nil, errors.New("detector: recognizer engine is required")
	}
	if len(cfg.Gate.Phrases) == 0 {
		return nil, errors.New("detector: at least one wake phrase is required")
	}
	cfg.applyDefaults()
	d := &Detector{
		cfg:    cfg,
		source: source,
		engine: engine,
		now:    time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	return d, nil
}

// Config returns the detector configuration with defaults applied.
func (d *Detector) Config() Config { return d.cfg }

// SetCooldownUntil carries a cooldown deadline into the next run, typically
// from a previous detector's [Result].
func (d *Detector) SetCooldownUntil(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cooldownUntil = t
}

// CooldownUntil returns the cooldown deadline carried into the next run.
func (d *Detector) CooldownUntil() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cooldownUntil
}

// captureError and recognizerError tag worker failures for classification.
type captureError struct{ err error }

func (e *captureError) Error() string { return e.err.Error() }
func (e *captureError) Unwrap() error { return e.err }

type recognizerError struct{ err error }

func (e *recognizerError) Error() string { return e.err.Error() }
func (e *recognizerError) Unwrap() error { return e.err }

// Run captures and recognizes until a wake phrase is accepted, the timeout
// elapses or ctx is cancelled. Both workers and the capture source have
// stopped when Run returns, unless they ignored cancellation for longer than
// the join timeout. A straggling recognition goroutine closes its recognizer
// itself once the blocked call returns.
//
// A non-nil error is returned only for OutcomeCaptureFailed,
// OutcomeRecognizerFailed and OutcomeCancelled.
func (d *Detector) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "detector.run",
		trace.WithAttributes(
			attribute.StringSlice("phrases", d.cfg.Gate.Phrases),
			attribute.String("engine", d.engine.Name()),
		))
	defer span.End()

	log := d.log
	if id := observe.CorrelationID(ctx); id != "" {
		log = log.With("run_id", id)
	}

	d.metrics.ActiveRuns.Add(ctx, 1)
	defer d.metrics.ActiveRuns.Add(ctx, -1)

	res, err := d.run(ctx, log)
	res.Duration = time.Since(start)
	d.metrics.RecordRun(ctx, res.Outcome.String(), res.Duration)

	span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
	if err != nil && res.Outcome != OutcomeCancelled {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	log.Debug("detector run finished",
		"outcome", res.Outcome.String(),
		"decisions", res.Decisions,
		"captured", res.Captured,
		"dropped", res.Dropped,
		"duration", res.Duration,
	)
	return res, err
}

func (d *Detector) run(ctx context.Context, log *slog.Logger) (Result, error) {
	rec, err := d.engine.NewRecognizer(recognizer.Config{
		SampleRate: d.cfg.TargetRate,
		Phrases:    d.cfg.Gate.Phrases,
		Language:   d.cfg.Language,
	})
	if err != nil {
		d.metrics.RecordRecognizerError(ctx, d.engine.Name())
		return Result{Outcome: OutcomeRecognizerFailed}, fmt.Errorf("detector: create recognizer: %w", err)
	}
	closeRec := func() {
		if err := rec.Close(); err != nil {
			log.Warn("detector: close recognizer", "err", err)
		}
	}
	// The recognition goroutine owns rec once started; it may outlive Run
	// when it ignores cancellation past the join timeout.
	recOwned := false
	defer func() {
		if !recOwned {
			closeRec()
		}
	}()

	g := gate.New(d.cfg.Gate, gate.WithClock(d.now))
	g.SetCooldownUntil(d.CooldownUntil())

	proc, err := audio.NewProcessor(d.source.Format(), d.cfg.TargetRate, g)
	if err != nil {
		return Result{Outcome: OutcomeCaptureFailed}, fmt.Errorf("detector: %w", err)
	}
	queue := audio.NewQueue(d.cfg.QueueCapacity)

	runCtx := ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, d.cfg.Timeout, ErrTimedOut)
		defer cancel()
	}

	var (
		res                   Result
		decisions, rejections atomic.Int64
		triggered             = make(chan TriggerEvent, 1)
	)
	eg, egCtx := errgroup.WithContext(runCtx)

	eg.Go(func() error {
		err := d.source.Run(egCtx, queue)
		if err != nil {
			return &captureError{err: err}
		}
		if egCtx.Err() == nil {
			return &captureError{err: capture.ErrStreamEnded}
		}
		return nil
	})

	recOwned = true
	if d.workers != nil {
		d.workers.Add(1)
	}
	eg.Go(func() error {
		if d.workers != nil {
			defer d.workers.Done()
		}
		defer closeRec()
		for {
			if egCtx.Err() != nil {
				return nil
			}
			chunk, ok := queue.Pop(d.cfg.PollTimeout)
			if !ok {
				continue
			}
			pcm, _ := proc.Process(chunk.Data)

			t0 := time.Now()
			final, err := rec.AcceptWaveform(pcm)
			d.metrics.RecognizerDuration.Record(egCtx, time.Since(t0).Seconds())
			if err != nil {
				return &recognizerError{err: err}
			}
			if !final {
				continue
			}
			u, err := rec.Result()
			if err != nil {
				return &recognizerError{err: err}
			}

			dec := g.Evaluate(u)
			rec.Reset()
			decisions.Add(1)
			d.handleDecision(ctx, log, dec)
			if !dec.Accepted {
				rejections.Add(1)
				continue
			}
			triggered <- TriggerEvent{
				Phrase:         dec.Phrase,
				Text:           dec.Text,
				MinConfidence:  dec.MinConfidence,
				MeanConfidence: dec.MeanConfidence,
				RMS:            dec.RMS,
				Words:          dec.Words,
				At:             dec.At,
				RunID:          observe.CorrelationID(ctx),
			}
			return errTriggered
		}
	})

	waitErr := make(chan error, 1)
	go func() { waitErr <- eg.Wait() }()

	joined := true
	var workerErr error
	select {
	case workerErr = <-waitErr:
	case <-egCtx.Done():
		timer := time.NewTimer(d.cfg.JoinTimeout)
		select {
		case workerErr = <-waitErr:
			timer.Stop()
		case <-timer.C:
			joined = false
			workerErr = context.Cause(egCtx)
			log.Warn("detector: workers did not stop within join timeout",
				"join_timeout", d.cfg.JoinTimeout)
		}
	}

	res.Decisions = int(decisions.Load())
	res.Rejections = int(rejections.Load())
	res.Captured = queue.Pushed()
	res.Dropped = queue.Dropped()
	d.metrics.CapturedChunks.Add(ctx, res.Captured)
	if res.Dropped > 0 {
		d.metrics.DroppedChunks.Add(ctx, res.Dropped)
		log.Warn("detector: audio queue overflowed, chunks dropped",
			"dropped", res.Dropped,
			"capacity", queue.Cap())
	}
	if joined {
		// The gate is only safe to read once the recognition goroutine exited.
		res.CooldownUntil = g.CooldownUntil()
		d.SetCooldownUntil(res.CooldownUntil)
	}

	var (
		capErr *captureError
		recErr *recognizerError
	)
	switch {
	case errors.Is(workerErr, errTriggered):
		ev := <-triggered
		res.Outcome = OutcomeTriggered
		res.Event = &ev
		return res, nil
	case errors.As(workerErr, &capErr):
		res.Outcome = OutcomeCaptureFailed
		d.metrics.CaptureFailures.Add(ctx, 1)
		return res, fmt.Errorf("detector: capture: %w", capErr.err)
	case errors.As(workerErr, &recErr):
		res.Outcome = OutcomeRecognizerFailed
		d.metrics.RecordRecognizerError(ctx, d.engine.Name())
		return res, fmt.Errorf("detector: recognizer: %w", recErr.err)
	}

	if ctx.Err() != nil {
		res.Outcome = OutcomeCancelled
		return res, context.Cause(ctx)
	}
	if errors.Is(context.Cause(runCtx), ErrTimedOut) {
		if joined {
			g.SetTimedOut()
		}
		res.Outcome = OutcomeTimedOut
		log.Info("detector: no wake phrase before timeout", "timeout", d.cfg.Timeout)
		return res, nil
	}
	res.Outcome = OutcomeCancelled
	return res, context.Cause(runCtx)
}

// handleDecision logs, measures and records one gate decision.
func (d *Detector) handleDecision(ctx context.Context, log *slog.Logger, dec gate.Decision) {
	observe.DecisionEvent(ctx, dec.Accepted, string(dec.Reason), dec.Text,
		dec.RMS, dec.MinConfidence, dec.MeanConfidence)

	if dec.Accepted {
		d.metrics.RecordTrigger(ctx, dec.Phrase, dec.RMS, dec.MinConfidence, dec.MeanConfidence)
		log.Info("wake phrase accepted",
			"phrase", dec.Phrase,
			"min_conf", dec.MinConfidence,
			"avg_conf", dec.MeanConfidence,
			"rms", dec.RMS,
		)
	} else {
		d.metrics.RecordRejection(ctx, string(dec.Reason), !dec.Reason.Silent(),
			dec.RMS, dec.MinConfidence, dec.MeanConfidence)
		if !dec.Reason.Silent() {
			level := slog.LevelDebug
			if d.cfg.DebugRejects {
				level = slog.LevelInfo
			}
			attrs := []any{
				"reason", string(dec.Reason),
				"text", dec.Text,
				"rms", dec.RMS,
				"min_conf", dec.MinConfidence,
				"avg_conf", dec.MeanConfidence,
			}
			if nm := dec.NearMiss; nm != nil {
				attrs = append(attrs, "closest", nm.Phrase, "similarity", nm.Score)
			}
			log.Log(ctx, level, "utterance rejected", attrs...)
		}
	}

	for _, r := range d.recorders {
		r.RecordDecision(ctx, dec)
	}
}
