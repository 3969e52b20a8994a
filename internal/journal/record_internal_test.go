package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/wakegate/internal/gate"
)

func TestRecordDecision_BoundedWhenDatabaseBusy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j, err := Open(ctx, filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	// Occupy the only pooled connection, like a long /decisions read.
	conn, err := j.db.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn: %v", err)
	}

	start := time.Now()
	j.RecordDecision(ctx, gate.Decision{Reason: gate.ReasonLowRMS, Text: "hello", At: start})
	if elapsed := time.Since(start); elapsed > RecordTimeout+time.Second {
		t.Errorf("RecordDecision blocked %v, want about %v", elapsed, RecordTimeout)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("conn.Close: %v", err)
	}
	st, err := j.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 0 {
		t.Errorf("Total = %d, want the timed-out insert dropped", st.Total)
	}
}
