package recognizer_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/wakegate/pkg/recognizer"
)

func TestConfigGrammar(t *testing.T) {
	t.Parallel()
	cfg := recognizer.Config{Phrases: []string{"hello door", " open sesame ", ""}}
	got, err := cfg.Grammar()
	if err != nil {
		t.Fatalf("Grammar: %v", err)
	}
	if want := `["hello door","open sesame"]`; got != want {
		t.Errorf("Grammar = %s, want %s", got, want)
	}
}

func TestConfigGrammar_Empty(t *testing.T) {
	t.Parallel()
	got, err := recognizer.Config{}.Grammar()
	if err != nil {
		t.Fatalf("Grammar: %v", err)
	}
	if got != "[]" {
		t.Errorf("Grammar = %s, want []", got)
	}
}

func TestUtteranceConfidence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		confs    []float64
		min, avg float64
	}{
		{"none", nil, 0, 0},
		{"single", []float64{0.75}, 0.75, 0.75},
		{"pair", []float64{0.9, 0.65}, 0.65, 0.775},
		{"hello door", []float64{0.85, 0.90}, 0.85, 0.875},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var u recognizer.Utterance
			for _, c := range tc.confs {
				u.Words = append(u.Words, recognizer.Word{Word: "w", Confidence: c})
			}
			if got := u.MinConfidence(); math.Abs(got-tc.min) > 1e-9 {
				t.Errorf("MinConfidence = %f, want %f", got, tc.min)
			}
			if got := u.MeanConfidence(); math.Abs(got-tc.avg) > 1e-9 {
				t.Errorf("MeanConfidence = %f, want %f", got, tc.avg)
			}
		})
	}
}

func TestUtteranceEmptyAndDuration(t *testing.T) {
	t.Parallel()
	if !(recognizer.Utterance{Text: "   "}).Empty() {
		t.Error("whitespace text should be empty")
	}
	u := recognizer.Utterance{
		Text: "hello door",
		Words: []recognizer.Word{
			{Word: "hello", Start: 600 * time.Millisecond, End: time.Second},
			{Word: "door", Start: time.Second, End: 1500 * time.Millisecond},
		},
	}
	if u.Empty() {
		t.Error("non-empty text reported empty")
	}
	if got := u.Duration(); got != 900*time.Millisecond {
		t.Errorf("Duration = %v, want 900ms", got)
	}
}
