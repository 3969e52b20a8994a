// Package journal persists every gate decision to a SQLite database so that
// thresholds can be tuned from real traffic. It implements the detector's
// decision recorder.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/wakegate/internal/gate"
	"github.com/MrWong99/wakegate/internal/observe"
)

// DefaultRecentLimit caps [Journal.Recent] when called with a non-positive
// limit.
const DefaultRecentLimit = 50

// RecordTimeout bounds a single [Journal.RecordDecision] insert.
var RecordTimeout = 500 * time.Millisecond

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	at              INTEGER NOT NULL,
	accepted        BOOLEAN NOT NULL,
	reason          TEXT NOT NULL,
	text            TEXT NOT NULL,
	phrase          TEXT NOT NULL,
	rms             REAL NOT NULL,
	min_confidence  REAL NOT NULL,
	mean_confidence REAL NOT NULL,
	words           INTEGER NOT NULL,
	near_miss       TEXT NOT NULL DEFAULT '',
	near_miss_score REAL NOT NULL DEFAULT 0,
	run_id          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS decisions_at ON decisions(at);
CREATE INDEX IF NOT EXISTS decisions_reason ON decisions(reason);
`

// Entry is one journaled decision.
type Entry struct {
	ID             int64     `json:"id"`
	At             time.Time `json:"at"`
	Accepted       bool      `json:"accepted"`
	Reason         string    `json:"reason,omitempty"`
	Text           string    `json:"text"`
	Phrase         string    `json:"phrase,omitempty"`
	RMS            float64   `json:"rms"`
	MinConfidence  float64   `json:"min_confidence"`
	MeanConfidence float64   `json:"mean_confidence"`
	Words          int       `json:"words"`
	NearMiss       string    `json:"near_miss,omitempty"`
	NearMissScore  float64   `json:"near_miss_score,omitempty"`
	RunID          string    `json:"run_id,omitempty"`
}

// EntryFromDecision converts a gate decision.
func EntryFromDecision(d gate.Decision) Entry {
	e := Entry{
		At:             d.At,
		Accepted:       d.Accepted,
		Reason:         string(d.Reason),
		Text:           d.Text,
		Phrase:         d.Phrase,
		RMS:            d.RMS,
		MinConfidence:  d.MinConfidence,
		MeanConfidence: d.MeanConfidence,
		Words:          len(d.Words),
	}
	if d.NearMiss != nil {
		e.NearMiss = d.NearMiss.Phrase
		e.NearMissScore = d.NearMiss.Score
	}
	return e
}

// Stats aggregates the journal.
type Stats struct {
	Total    int            `json:"total"`
	Accepted int            `json:"accepted"`
	ByReason map[string]int `json:"by_reason"`
}

// Journal is a SQLite-backed decision log. It is safe for concurrent use.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database at path and runs
// migrations.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal: path is required")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", path, err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping %q: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Ping checks that the database is reachable.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Record inserts e and returns its ID.
func (j *Journal) Record(ctx context.Context, e Entry) (int64, error) {
	res, err := j.db.ExecContext(ctx, `
		INSERT INTO decisions (at, accepted, reason, text, phrase, rms,
			min_confidence, mean_confidence, words, near_miss, near_miss_score, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.At.UnixNano(), e.Accepted, e.Reason, e.Text, e.Phrase, e.RMS,
		e.MinConfidence, e.MeanConfidence, e.Words, e.NearMiss, e.NearMissScore, e.RunID,
	)
	if err != nil {
		return 0, fmt.Errorf("journal: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("journal: insert id: %w", err)
	}
	return id, nil
}

// RecordDecision journals d, tagging it with the run's trace ID. The insert
// runs synchronously on the caller's goroutine but is bounded by
// RecordTimeout, so a busy database stalls recognition for at most that
// long. Failures are logged.
func (j *Journal) RecordDecision(ctx context.Context, d gate.Decision) {
	e := EntryFromDecision(d)
	e.RunID = observe.CorrelationID(ctx)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RecordTimeout)
	defer cancel()
	if _, err := j.Record(ctx, e); err != nil {
		observe.Logger(ctx).Warn("journal: failed to record decision", "reason", e.Reason, "err", err)
	}
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, at, accepted, reason, text, phrase, rms, min_confidence,
			mean_confidence, words, near_miss, near_miss_score, run_id
		FROM decisions ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e  Entry
			at int64
		)
		if err := rows.Scan(&e.ID, &at, &e.Accepted, &e.Reason, &e.Text, &e.Phrase,
			&e.RMS, &e.MinConfidence, &e.MeanConfidence, &e.Words,
			&e.NearMiss, &e.NearMissScore, &e.RunID); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.At = time.Unix(0, at)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate: %w", err)
	}
	return entries, nil
}

// Stats counts entries overall, accepted, and per rejection reason.
func (j *Journal) Stats(ctx context.Context) (Stats, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT accepted, reason, COUNT(*) FROM decisions GROUP BY accepted, reason`)
	if err != nil {
		return Stats{}, fmt.Errorf("journal: query stats: %w", err)
	}
	defer rows.Close()

	st := Stats{ByReason: make(map[string]int)}
	for rows.Next() {
		var (
			accepted bool
			reason   string
			n        int
		)
		if err := rows.Scan(&accepted, &reason, &n); err != nil {
			return Stats{}, fmt.Errorf("journal: scan stats: %w", err)
		}
		st.Total += n
		if accepted {
			st.Accepted += n
			continue
		}
		st.ByReason[reason] += n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("journal: iterate stats: %w", err)
	}
	return st, nil
}

// Prune deletes entries older than before and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM decisions WHERE at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}
