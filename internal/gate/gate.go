// Package gate implements the wake-phrase decision gate.
//
// The gate consumes finalized utterances from the recognizer and decides
// whether each one is a wake event. Rules are evaluated in a fixed order and
// the first failing rule decides the rejection reason:
//
//  1. cooldown: a trigger happened less than Cooldown ago (silent)
//  2. empty: the recognizer produced no text (silent)
//  3. not a wake phrase: the text is not one of the configured phrases
//  4. low RMS: the loudest chunk of the utterance was below MinUtteranceRMS
//  5. low confidence: a word or the word average is below its floor
//
// Between boundaries the gate tracks the running maximum chunk RMS via
// [Gate.ObserveRMS]. Every finalized boundary, whatever its outcome, resets
// that maximum.
//
// A Gate is not safe for concurrent use. The detector confines it to the
// recognition goroutine.
package gate

import (
	"fmt"
	"time"

	"github.com/MrWong99/wakegate/internal/phrase"
	"github.com/MrWong99/wakegate/pkg/recognizer"
)

// Defaults for [Config].
const (
	DefaultCooldown          = time.Second
	DefaultMinWordConfidence = 0.70
	DefaultMinAvgConfidence  = 0.80
	DefaultMinUtteranceRMS   = 350.0
)

// State is the trigger state machine position.
type State int

const (
	// Listening means audio is being fed and no boundary is pending.
	Listening State = iota
	// Evaluating means a finalized utterance is being checked.
	Evaluating
	// Triggered means the last utterance was accepted.
	Triggered
	// TimedOut is set by the detector when its wait deadline passed.
	TimedOut
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Listening:
		return "listening"
	case Evaluating:
		return "evaluating"
	case Triggered:
		return "triggered"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason names the rule that rejected an utterance. The zero value means the
// utterance was accepted.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonCooldown      Reason = "cooldown"
	ReasonEmpty         Reason = "empty"
	ReasonNotWakePhrase Reason = "not_wake_phrase"
	ReasonLowRMS        Reason = "low_rms"
	ReasonLowConfidence Reason = "low_confidence"
)

// Silent reports whether rejections for this reason are suppressed from
// logs.
func (r Reason) Silent() bool {
	return r == ReasonCooldown || r == ReasonEmpty
}

// Config holds the gate thresholds.
type Config struct {
	Phrases           []string
	CaseInsensitive   bool
	Cooldown          time.Duration
	MinWordConfidence float64
	MinAvgConfidence  float64
	MinUtteranceRMS   float64

	// NearMissThreshold is the similarity above which a rejected phrase is
	// annotated with the closest configured phrase. Zero selects
	// phrase.DefaultNearMissThreshold.
	NearMissThreshold float64
}

// Decision is the outcome of evaluating one finalized utterance.
type Decision struct {
	Accepted bool
	Reason   Reason

	// Text is the trimmed recognizer output.
	Text string
	// Phrase is the matched wake phrase, set when the text matched.
	Phrase string

	MinConfidence  float64
	MeanConfidence float64
	// RMS is the running maximum chunk RMS of the utterance.
	RMS   float64
	Words []recognizer.Word

	// NearMiss is set for not-a-wake-phrase rejections that resemble a
	// configured phrase.
	NearMiss *phrase.NearMiss

	At time.Time
}

// Option is a functional option for configuring a [Gate].
type Option func(*Gate)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// Gate is the decision gate and trigger state machine.
type Gate struct {
	cfg     Config
	phrases *phrase.Set
	now     func() time.Time

	state         State
	cooldownUntil time.Time
	runningMaxRMS float64
}

// New returns a Gate in the Listening state.
func New(cfg Config, opts ...Option) *Gate {
	popts := []phrase.Option{phrase.WithCaseInsensitive(cfg.CaseInsensitive)}
	if cfg.NearMissThreshold > 0 {
		popts = append(popts, phrase.WithNearMissThreshold(cfg.NearMissThreshold))
	}
	g := &Gate{
		cfg:     cfg,
		phrases: phrase.New(cfg.Phrases, popts...),
		now:     time.Now,
		state:   Listening,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// ObserveRMS folds one chunk's RMS into the running maximum. It implements
// audio.EnergySink.
func (g *Gate) ObserveRMS(rms float64) {
	g.runningMaxRMS = max(g.runningMaxRMS, rms)
}

// Evaluate decides on one finalized utterance and resets the running RMS
// maximum. On acceptance the gate enters Triggered and starts the cooldown.
func (g *Gate) Evaluate(u recognizer.Utterance) Decision {
	g.state = Evaluating
	at := g.now()
	rms := g.runningMaxRMS
	g.runningMaxRMS = 0

	d := Decision{Text: u.Text, At: at}
	reject := func(r Reason) Decision {
		g.state = Listening
		d.Reason = r
		return d
	}

	// Cooldown discards the utterance before any statistics are taken.
	if at.Before(g.cooldownUntil) {
		return reject(ReasonCooldown)
	}
	d.RMS = rms
	if u.Empty() {
		return reject(ReasonEmpty)
	}

	d.MinConfidence = u.MinConfidence()
	d.MeanConfidence = u.MeanConfidence()
	d.Words = u.Words

	matched, ok := g.phrases.Match(u.Text)
	if !ok {
		if nm, near := g.phrases.Closest(u.Text); near {
			d.NearMiss = &nm
		}
		return reject(ReasonNotWakePhrase)
	}
	d.Phrase = matched

	if rms < g.cfg.MinUtteranceRMS {
		return reject(ReasonLowRMS)
	}
	if d.MinConfidence < g.cfg.MinWordConfidence || d.MeanConfidence < g.cfg.MinAvgConfidence {
		return reject(ReasonLowConfidence)
	}

	g.state = Triggered
	g.cooldownUntil = at.Add(g.cfg.Cooldown)
	d.Accepted = true
	return d
}

// State returns the current state.
func (g *Gate) State() State { return g.state }

// SetTimedOut moves the gate to TimedOut.
func (g *Gate) SetTimedOut() { g.state = TimedOut }

// RunningMaxRMS returns the loudest chunk RMS since the last boundary.
func (g *Gate) RunningMaxRMS() float64 { return g.runningMaxRMS }

// CooldownUntil returns the end of the current cooldown.
func (g *Gate) CooldownUntil() time.Time { return g.cooldownUntil }

// SetCooldownUntil carries a cooldown deadline over from another gate.
func (g *Gate) SetCooldownUntil(t time.Time) { g.cooldownUntil = t }

// Phrases returns the configured wake phrases.
func (g *Gate) Phrases() []string { return g.phrases.Phrases() }
