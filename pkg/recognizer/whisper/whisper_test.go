package whisper

import (
	"math"
	"os"
	"testing"
	"time"

	"github.com/MrWong99/wakegate/pkg/audio"
	"github.com/MrWong99/wakegate/pkg/recognizer"
)

func constantPCM(samples int, amp int16) []byte {
	s := make([]int16, samples)
	for i := range s {
		s[i] = amp
	}
	return audio.SamplesToBytes(s)
}

func TestSegmenter_SilenceAloneNeverCloses(t *testing.T) {
	t.Parallel()
	seg := newSegmenter(16000, 300, 100, 5000)
	for range 50 {
		if _, ok := seg.feed(constantPCM(320, 10)); ok {
			t.Fatal("silence produced an utterance")
		}
	}
}

func TestSegmenter_SpeechThenSilenceCloses(t *testing.T) {
	t.Parallel()
	seg := newSegmenter(16000, 300, 100, 5000)
	speech := constantPCM(320, 2000) // 20 ms
	silence := constantPCM(320, 0)

	for range 10 {
		if _, ok := seg.feed(speech); ok {
			t.Fatal("closed during speech")
		}
	}
	var (
		got []byte
		ok  bool
	)
	for i := 0; i < 10 && !ok; i++ {
		got, ok = seg.feed(silence)
	}
	if !ok {
		t.Fatal("silence after speech did not close the utterance")
	}
	// 10 speech chunks plus 5 silence chunks (100 ms).
	if want := 15 * len(speech); len(got) != want {
		t.Errorf("utterance bytes = %d, want %d", len(got), want)
	}
	if _, ok := seg.feed(silence); ok {
		t.Error("segmenter did not start over after closing")
	}
}

func TestSegmenter_MaxDurationForcesBoundary(t *testing.T) {
	t.Parallel()
	seg := newSegmenter(16000, 300, 500, 100)
	speech := constantPCM(320, 2000)
	closed := false
	for range 5 {
		if _, ok := seg.feed(speech); ok {
			closed = true
		}
	}
	if !closed {
		t.Error("expected forced boundary at 100 ms")
	}
}

func TestWordsFromTokens(t *testing.T) {
	t.Parallel()
	tokens := []token{
		{Text: "[_BEG_]", P: 1},
		{Text: " Hel", P: 0.95, Start: 0, End: 100 * time.Millisecond},
		{Text: "lo", P: 0.85, Start: 100 * time.Millisecond, End: 200 * time.Millisecond},
		{Text: " door", P: 0.9, Start: 200 * time.Millisecond, End: 400 * time.Millisecond},
		{Text: ".", P: 0.99},
		{Text: "<|endoftext|>", P: 1},
	}
	words := wordsFromTokens(tokens)
	if len(words) != 2 {
		t.Fatalf("words = %+v, want 2", words)
	}
	if words[0].Word != "hello" || words[1].Word != "door" {
		t.Errorf("words = %q %q, want hello door", words[0].Word, words[1].Word)
	}
	if math.Abs(words[0].Confidence-0.85) > 1e-6 {
		t.Errorf("hello confidence = %f, want 0.85 (lowest token)", words[0].Confidence)
	}
	if words[0].End != 200*time.Millisecond {
		t.Errorf("hello end = %v, want 200ms", words[0].End)
	}
	if got := joinWords(words); got != "hello door" {
		t.Errorf("joinWords = %q", got)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		" Hello, Door!":    "hello door",
		"OPEN   sesame.":   "open sesame",
		"it's":             "it's",
		"  ":               "",
		"...":              "",
		"\tOpen\nSesame ?": "open sesame",
	}
	for in, want := range tests {
		if got := normalize(in); got != want {
			t.Errorf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRestrictToPhrases(t *testing.T) {
	t.Parallel()
	phrases := []string{"hello door", "Open Sesame"}
	if got := restrictToPhrases("open sesame", phrases); got != "Open Sesame" {
		t.Errorf("got %q, want %q", got, "Open Sesame")
	}
	if got := restrictToPhrases("open the door", phrases); got != "open the door" {
		t.Errorf("got %q, want unchanged", got)
	}
}

func TestOpen_EmptyPath_ReturnsError(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestOpen_InvalidPath_ReturnsError(t *testing.T) {
	if _, err := Open("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

// testModelPath returns the whisper model path for integration tests from
// WHISPER_MODEL_PATH, skipping the test when unset.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewRecognizer_RejectsForeignRate(t *testing.T) {
	e, err := Open(testModelPath(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()
	if _, err := e.NewRecognizer(recognizer.Config{SampleRate: 8000}); err == nil {
		t.Error("expected error for 8 kHz input")
	}
}

func TestRecognizer_SilenceProducesNoBoundary(t *testing.T) {
	e, err := Open(testModelPath(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()
	rec, err := e.NewRecognizer(recognizer.Config{SampleRate: 16000, Phrases: []string{"hello door"}})
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}
	defer rec.Close()
	for range 100 {
		done, err := rec.AcceptWaveform(constantPCM(320, 0))
		if err != nil {
			t.Fatalf("AcceptWaveform: %v", err)
		}
		if done {
			t.Fatal("silence finalized an utterance")
		}
	}
}
