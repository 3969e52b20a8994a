package detector_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/wakegate/internal/detector"
	"github.com/MrWong99/wakegate/internal/gate"
	"github.com/MrWong99/wakegate/internal/observe"
	"github.com/MrWong99/wakegate/pkg/audio"
	"github.com/MrWong99/wakegate/pkg/capture"
	capmock "github.com/MrWong99/wakegate/pkg/capture/mock"
	"github.com/MrWong99/wakegate/pkg/recognizer"
	recmock "github.com/MrWong99/wakegate/pkg/recognizer/mock"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1}

// toneChunks returns n 20 ms mono chunks of constant amplitude amp.
func toneChunks(n int, amp int16) []audio.Chunk {
	samples := make([]int16, 320)
	for i := range samples {
		samples[i] = amp
	}
	data := audio.SamplesToBytes(samples)
	chunks := make([]audio.Chunk, n)
	for i := range chunks {
		chunks[i] = audio.Chunk{Data: data}
	}
	return chunks
}

func utterance(text string, confs ...float64) recognizer.Utterance {
	u := recognizer.Utterance{Text: text}
	for i, c := range confs {
		u.Words = append(u.Words, recognizer.Word{
			Word:       "w",
			Confidence: c,
			Start:      time.Duration(i) * 300 * time.Millisecond,
			End:        time.Duration(i+1) * 300 * time.Millisecond,
		})
	}
	return u
}

func baseConfig(timeout time.Duration) detector.Config {
	return detector.Config{
		Gate: gate.Config{
			Phrases:           []string{"hello door", "open sesame"},
			Cooldown:          time.Second,
			MinWordConfidence: gate.DefaultMinWordConfidence,
			MinAvgConfidence:  gate.DefaultMinAvgConfidence,
			MinUtteranceRMS:   gate.DefaultMinUtteranceRMS,
		},
		TargetRate:  16000,
		Timeout:     timeout,
		PollTimeout: 10 * time.Millisecond,
		JoinTimeout: time.Second,
	}
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

type decisionLog struct {
	mu        sync.Mutex
	decisions []gate.Decision
}

func (l *decisionLog) RecordDecision(_ context.Context, d gate.Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decisions = append(l.decisions, d)
}

func (l *decisionLog) all() []gate.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]gate.Decision(nil), l.decisions...)
}

func newDetector(t *testing.T, cfg detector.Config, src capture.Source, eng recognizer.Engine, opts ...detector.Option) *detector.Detector {
	t.Helper()
	m, _ := newTestMetrics(t)
	opts = append([]detector.Option{detector.WithMetrics(m)}, opts...)
	d, err := detector.New(cfg, src, eng, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestDetector_AcceptsWakePhrase(t *testing.T) {
	t.Parallel()
	src := &capmock.Source{Fmt: mono16k, Chunks: toneChunks(5, 500)}
	rec := &recmock.Recognizer{
		Utterances:    []recognizer.Utterance{utterance("hello door", 0.85, 0.90)},
		FinalizeEvery: 5,
	}
	eng := &recmock.Engine{Recognizer: rec}
	log := &decisionLog{}
	d := newDetector(t, baseConfig(5*time.Second), src, eng, detector.WithRecorder(log))

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != detector.OutcomeTriggered {
		t.Fatalf("Outcome = %v, want triggered", res.Outcome)
	}
	if res.Event == nil {
		t.Fatal("Event is nil")
	}
	ev := res.Event
	if ev.Phrase != "hello door" {
		t.Errorf("Phrase = %q, want hello door", ev.Phrase)
	}
	if ev.MinConfidence != 0.85 {
		t.Errorf("MinConfidence = %v, want 0.85", ev.MinConfidence)
	}
	if math.Abs(ev.MeanConfidence-0.875) > 1e-9 {
		t.Errorf("MeanConfidence = %v, want 0.875", ev.MeanConfidence)
	}
	if math.Abs(ev.RMS-500) > 1e-3 {
		t.Errorf("RMS = %v, want ≈ 500", ev.RMS)
	}
	if res.Decisions != 1 || res.Rejections != 0 {
		t.Errorf("decisions/rejections = %d/%d, want 1/0", res.Decisions, res.Rejections)
	}
	if src.Active() {
		t.Error("capture source still running after Run returned")
	}
	if rec.Resets() != 1 {
		t.Errorf("recognizer resets = %d, want 1", rec.Resets())
	}
	if rec.Closes() != 1 {
		t.Errorf("recognizer closes = %d, want 1", rec.Closes())
	}
	if got := log.all(); len(got) != 1 || !got[0].Accepted {
		t.Errorf("recorded decisions = %+v, want one accepted", got)
	}
	if res.CooldownUntil.IsZero() {
		t.Error("CooldownUntil not set after trigger")
	}

	calls := eng.Calls()
	if len(calls) != 1 {
		t.Fatalf("NewRecognizer calls = %d, want 1", len(calls))
	}
	if calls[0].SampleRate != 16000 || len(calls[0].Phrases) != 2 {
		t.Errorf("recognizer config = %+v", calls[0])
	}
}

func TestDetector_RejectsOtherPhraseThenTimesOut(t *testing.T) {
	t.Parallel()
	src := &capmock.Source{Fmt: mono16k, Chunks: toneChunks(5, 500)}
	rec := &recmock.Recognizer{
		Utterances:    []recognizer.Utterance{utterance("open the door", 0.95, 0.95, 0.95)},
		FinalizeEvery: 5,
	}
	log := &decisionLog{}
	d := newDetector(t, baseConfig(150*time.Millisecond), src, &recmock.Engine{Recognizer: rec},
		detector.WithRecorder(log))

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != detector.OutcomeTimedOut {
		t.Fatalf("Outcome = %v, want timed_out", res.Outcome)
	}
	if res.Event != nil {
		t.Errorf("Event = %+v, want nil", res.Event)
	}
	got := log.all()
	if len(got) != 1 {
		t.Fatalf("decisions = %d, want 1", len(got))
	}
	if got[0].Reason != gate.ReasonNotWakePhrase {
		t.Errorf("Reason = %q, want not_wake_phrase", got[0].Reason)
	}
	if res.Rejections != 1 {
		t.Errorf("Rejections = %d, want 1", res.Rejections)
	}
	if rec.Resets() != 1 {
		t.Errorf("recognizer resets = %d, want 1", rec.Resets())
	}
	if src.Active() {
		t.Error("capture source still running after timeout")
	}
}

func TestDetector_RejectsQuietUtterance(t *testing.T) {
	t.Parallel()
	src := &capmock.Source{Fmt: mono16k, Chunks: toneChunks(5, 349)}
	rec := &recmock.Recognizer{
		Utterances:    []recognizer.Utterance{utterance("hello door", 0.95, 0.95)},
		FinalizeEvery: 5,
	}
	log := &decisionLog{}
	d := newDetector(t, baseConfig(100*time.Millisecond), src, &recmock.Engine{Recognizer: rec},
		detector.WithRecorder(log))

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != detector.OutcomeTimedOut {
		t.Fatalf("Outcome = %v, want timed_out", res.Outcome)
	}
	if got := log.all(); len(got) != 1 || got[0].Reason != gate.ReasonLowRMS {
		t.Errorf("decisions = %+v, want one low_rms rejection", got)
	}
}

func TestDetector_StereoCaptureIsDownmixedAndResampled(t *testing.T) {
	t.Parallel()
	// 20 ms of 48 kHz stereo at constant 1000.
	samples := make([]int16, 960*2)
	for i := range samples {
		samples[i] = 1000
	}
	chunk := audio.Chunk{Data: audio.SamplesToBytes(samples)}
	src := &capmock.Source{
		Fmt:    audio.Format{SampleRate: 48000, Channels: 2},
		Chunks: []audio.Chunk{chunk, chunk, chunk},
	}
	rec := &recmock.Recognizer{
		Utterances:    []recognizer.Utterance{utterance("open sesame", 0.9, 0.9)},
		FinalizeEvery: 3,
	}
	d := newDetector(t, baseConfig(5*time.Second), src, &recmock.Engine{Recognizer: rec})

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != detector.OutcomeTriggered {
		t.Fatalf("Outcome = %v, want triggered", res.Outcome)
	}
	// Three chunks of 320 mono samples at 16 kHz.
	if rec.AcceptedBytes != 3*320*2 {
		t.Errorf("recognizer received %d bytes, want %d", rec.AcceptedBytes, 3*320*2)
	}
	if math.Abs(res.Event.RMS-1000) > 1e-3 {
		t.Errorf("RMS = %v, want ≈ 1000", res.Event.RMS)
	}
}

func TestDetector_CancellationReleasesCapture(t *testing.T) {
	t.Parallel()
	src := &capmock.Source{
		Fmt:      mono16k,
		Chunks:   toneChunks(1, 100),
		Interval: 5 * time.Millisecond,
		Loop:     true,
	}
	rec := &recmock.Recognizer{}
	d := newDetector(t, baseConfig(0), src, &recmock.Engine{Recognizer: rec})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	res, err := d.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.Outcome != detector.OutcomeCancelled {
		t.Errorf("Outcome = %v, want cancelled", res.Outcome)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run took %v after cancellation", elapsed)
	}
	if src.Active() {
		t.Error("capture source still running after cancellation")
	}
	if rec.Closes() != 1 {
		t.Errorf("recognizer closes = %d, want 1", rec.Closes())
	}
	if res.Captured == 0 {
		t.Error("expected some captured chunks before cancellation")
	}
}

func TestDetector_JoinTimeoutLeavesRecognizerToWorker(t *testing.T) {
	t.Parallel()
	src := &capmock.Source{Fmt: mono16k, Chunks: toneChunks(1, 100), Loop: true, Interval: 5 * time.Millisecond}
	rec := &recmock.Recognizer{AcceptDelay: 300 * time.Millisecond}
	cfg := baseConfig(50 * time.Millisecond)
	cfg.JoinTimeout = 50 * time.Millisecond

	var workers sync.WaitGroup
	d := newDetector(t, cfg, src, &recmock.Engine{Recognizer: rec}, detector.WithWorkers(&workers))

	start := time.Now()
	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != detector.OutcomeTimedOut {
		t.Errorf("Outcome = %v, want timed_out", res.Outcome)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("Run took %v, want it bounded by the join timeout", elapsed)
	}

	workers.Wait()
	if rec.ClosedEarly() {
		t.Error("recognizer closed while AcceptWaveform was still running")
	}
	if rec.Closes() != 1 {
		t.Errorf("recognizer closes = %d, want 1", rec.Closes())
	}
}

func TestDetector_CaptureFailure(t *testing.T) {
	t.Parallel()
	src := &capmock.Source{Fmt: mono16k, RunErr: capture.ErrStreamEnded}
	d := newDetector(t, baseConfig(5*time.Second), src, &recmock.Engine{})

	res, err := d.Run(context.Background())
	if res.Outcome != detector.OutcomeCaptureFailed {
		t.Fatalf("Outcome = %v, want capture_failed", res.Outcome)
	}
	if !errors.Is(err, capture.ErrStreamEnded) {
		t.Errorf("err = %v, want ErrStreamEnded", err)
	}
}

func TestDetector_RecognizerFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("decoder exploded")
	src := &capmock.Source{Fmt: mono16k, Chunks: toneChunks(3, 500)}
	rec := &recmock.Recognizer{AcceptErr: boom}
	d := newDetector(t, baseConfig(5*time.Second), src, &recmock.Engine{Recognizer: rec})

	res, err := d.Run(context.Background())
	if res.Outcome != detector.OutcomeRecognizerFailed {
		t.Fatalf("Outcome = %v, want recognizer_failed", res.Outcome)
	}
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if src.Active() {
		t.Error("capture source still running after recognizer failure")
	}
}

func TestDetector_NewRecognizerFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("model missing")
	src := &capmock.Source{Fmt: mono16k}
	d := newDetector(t, baseConfig(time.Second), src, &recmock.Engine{NewRecognizerErr: boom})

	res, err := d.Run(context.Background())
	if res.Outcome != detector.OutcomeRecognizerFailed {
		t.Fatalf("Outcome = %v, want recognizer_failed", res.Outcome)
	}
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if src.Calls() != 0 {
		t.Errorf("capture started %d times, want 0", src.Calls())
	}
}

func TestDetector_CooldownCarriesAcrossRuns(t *testing.T) {
	t.Parallel()
	src := &capmock.Source{Fmt: mono16k, Chunks: toneChunks(5, 500)}
	rec := &recmock.Recognizer{
		Utterances: []recognizer.Utterance{
			utterance("hello door", 0.9, 0.9),
			utterance("hello door", 0.9, 0.9),
		},
		FinalizeEvery: 5,
	}
	log := &decisionLog{}
	d := newDetector(t, baseConfig(150*time.Millisecond), src, &recmock.Engine{Recognizer: rec},
		detector.WithRecorder(log))

	first, err := d.Run(context.Background())
	if err != nil || first.Outcome != detector.OutcomeTriggered {
		t.Fatalf("first run: outcome %v err %v, want triggered", first.Outcome, err)
	}
	second, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Outcome != detector.OutcomeTimedOut {
		t.Fatalf("second run outcome = %v, want timed_out", second.Outcome)
	}
	got := log.all()
	if len(got) != 2 {
		t.Fatalf("decisions = %d, want 2", len(got))
	}
	if got[1].Reason != gate.ReasonCooldown {
		t.Errorf("second decision reason = %q, want cooldown", got[1].Reason)
	}
	if got[1].MinConfidence != 0 || got[1].Phrase != "" {
		t.Errorf("cooldown decision carries statistics: %+v", got[1])
	}
}

func TestDetector_QueueOverflowCounted(t *testing.T) {
	t.Parallel()
	src := &capmock.Source{Fmt: mono16k, Chunks: toneChunks(50, 100)}
	rec := &recmock.Recognizer{}
	m, reader := newTestMetrics(t)
	cfg := baseConfig(100 * time.Millisecond)
	cfg.QueueCapacity = 2
	d, err := detector.New(cfg, src, &recmock.Engine{Recognizer: rec}, detector.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Captured+res.Dropped != 50 {
		t.Errorf("captured+dropped = %d, want 50", res.Captured+res.Dropped)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var captured int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "wakegate.capture.chunks" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				captured += dp.Value
			}
		}
	}
	if captured != res.Captured {
		t.Errorf("captured chunk metric = %d, want %d", captured, res.Captured)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	src := &capmock.Source{Fmt: mono16k}
	eng := &recmock.Engine{}
	if _, err := detector.New(baseConfig(0), nil, eng); err == nil {
		t.Error("expected error for nil source")
	}
	if _, err := detector.New(baseConfig(0), src, nil); err == nil {
		t.Error("expected error for nil engine")
	}
	cfg := baseConfig(0)
	cfg.Gate.Phrases = nil
	if _, err := detector.New(cfg, src, eng); err == nil {
		t.Error("expected error for empty phrase list")
	}

	d, err := detector.New(detector.Config{Gate: gate.Config{Phrases: []string{"x"}}}, src, eng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := d.Config()
	if got.TargetRate != detector.DefaultTargetRate || got.QueueCapacity != detector.DefaultQueueCapacity {
		t.Errorf("defaults not applied: %+v", got)
	}
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()
	tests := map[detector.Outcome]string{
		detector.OutcomeTriggered:        "triggered",
		detector.OutcomeTimedOut:         "timed_out",
		detector.OutcomeCancelled:        "cancelled",
		detector.OutcomeCaptureFailed:    "capture_failed",
		detector.OutcomeRecognizerFailed: "recognizer_failed",
		detector.Outcome(42):             "outcome(42)",
	}
	for o, want := range tests {
		if got := o.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(o), got, want)
		}
	}
}
