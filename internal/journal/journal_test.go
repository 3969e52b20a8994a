package journal_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/wakegate/internal/gate"
	"github.com/MrWong99/wakegate/internal/journal"
	"github.com/MrWong99/wakegate/internal/phrase"
	"github.com/MrWong99/wakegate/pkg/recognizer"
)

func openJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpen_RequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := journal.Open(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpen_ReopenKeepsEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := journal.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := j.Record(ctx, journal.Entry{At: time.Now(), Accepted: true, Text: "hello door"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j, err = journal.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	got, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Text != "hello door" {
		t.Errorf("Recent = %+v, want one hello door entry", got)
	}
}

func TestRecordDecision_RoundTrip(t *testing.T) {
	t.Parallel()
	j := openJournal(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	j.RecordDecision(ctx, gate.Decision{
		Accepted:       true,
		Text:           "hello door",
		Phrase:         "hello door",
		RMS:            512.5,
		MinConfidence:  0.85,
		MeanConfidence: 0.875,
		Words: []recognizer.Word{
			{Word: "hello", Confidence: 0.85},
			{Word: "door", Confidence: 0.90},
		},
		At: at,
	})
	j.RecordDecision(ctx, gate.Decision{
		Reason:   gate.ReasonNotWakePhrase,
		Text:     "hello floor",
		RMS:      600,
		NearMiss: &phrase.NearMiss{Phrase: "hello door", Score: 0.9},
		At:       at.Add(time.Second),
	})

	got, err := j.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(Recent) = %d, want 2", len(got))
	}

	// Newest first.
	rej, acc := got[0], got[1]
	if rej.Accepted || rej.Reason != string(gate.ReasonNotWakePhrase) {
		t.Errorf("rejected entry = %+v", rej)
	}
	if rej.NearMiss != "hello door" || rej.NearMissScore != 0.9 {
		t.Errorf("near miss = %q/%v, want hello door/0.9", rej.NearMiss, rej.NearMissScore)
	}
	if !acc.Accepted || acc.Phrase != "hello door" || acc.Words != 2 {
		t.Errorf("accepted entry = %+v", acc)
	}
	if acc.RMS != 512.5 || acc.MinConfidence != 0.85 || acc.MeanConfidence != 0.875 {
		t.Errorf("accepted stats = rms %v min %v mean %v", acc.RMS, acc.MinConfidence, acc.MeanConfidence)
	}
	if !acc.At.Equal(at) {
		t.Errorf("At = %v, want %v", acc.At, at)
	}
	if acc.ID == 0 || rej.ID <= acc.ID {
		t.Errorf("ids = %d, %d; want increasing", acc.ID, rej.ID)
	}
}

func TestRecent_Limit(t *testing.T) {
	t.Parallel()
	j := openJournal(t)
	ctx := context.Background()
	base := time.Now()
	for i := range 5 {
		if _, err := j.Record(ctx, journal.Entry{At: base.Add(time.Duration(i) * time.Second), Reason: "low_rms"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	got, err := j.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if !got[0].At.After(got[2].At) {
		t.Errorf("entries not newest first: %v then %v", got[0].At, got[2].At)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	j := openJournal(t)
	ctx := context.Background()
	now := time.Now()
	entries := []journal.Entry{
		{At: now, Accepted: true},
		{At: now, Reason: "low_rms"},
		{At: now, Reason: "low_rms"},
		{At: now, Reason: "not_wake_phrase"},
	}
	for _, e := range entries {
		if _, err := j.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	st, err := j.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 4 || st.Accepted != 1 {
		t.Errorf("Total/Accepted = %d/%d, want 4/1", st.Total, st.Accepted)
	}
	if st.ByReason["low_rms"] != 2 || st.ByReason["not_wake_phrase"] != 1 {
		t.Errorf("ByReason = %v", st.ByReason)
	}
	if _, ok := st.ByReason[""]; ok {
		t.Error("accepted entries must not appear under an empty reason")
	}
}

func TestPrune(t *testing.T) {
	t.Parallel()
	j := openJournal(t)
	ctx := context.Background()
	now := time.Now()
	for _, at := range []time.Time{now.Add(-48 * time.Hour), now.Add(-25 * time.Hour), now} {
		if _, err := j.Record(ctx, journal.Entry{At: at, Reason: "low_rms"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	n, err := j.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d, want 2", n)
	}
	st, err := j.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 1 {
		t.Errorf("Total after prune = %d, want 1", st.Total)
	}
}

func TestJournal_ImplementsRecorder(t *testing.T) {
	t.Parallel()
	var _ interface {
		RecordDecision(context.Context, gate.Decision)
	} = openJournal(t)
}
