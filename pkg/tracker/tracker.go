// Package tracker keeps a local SQLite ledger of upstream dispatch attempts
// and report run outcomes.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/infralens/infralens/pkg/models"
)

// Tracker records and queries dispatches and runs.
type Tracker interface {
	// RecordDispatch stores one upstream call attempt.
	RecordDispatch(ctx context.Context, rec models.DispatchRecord) error
	// RecordRun stores the outcome of a report run.
	RecordRun(ctx context.Context, rec models.RunRecord) error
	// Dispatches returns the attempts of one run in order.
	Dispatches(ctx context.Context, runID string) ([]models.DispatchRecord, error)
	// RecentRuns returns up to limit runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]models.RunRecord, error)
	// Summary aggregates dispatches since a given time by operation and outcome.
	Summary(ctx context.Context, since time.Time) ([]models.DispatchSummary, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createDispatchTable = `
CREATE TABLE IF NOT EXISTS dispatch_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	attempt INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	error_kind TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_dispatch_run ON dispatch_records(run_id);
CREATE INDEX IF NOT EXISTS idx_dispatch_time ON dispatch_records(created_at);
`

const createRunsTable = `
CREATE TABLE IF NOT EXISTS run_records (
	run_id TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	cache_hit INTEGER NOT NULL DEFAULT 0,
	fallback INTEGER NOT NULL DEFAULT 0,
	error_kind TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createDispatchTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate dispatch table: %w", err)
	}

	if _, err := db.Exec(createRunsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate runs table: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// RecordDispatch stores one upstream call attempt.
func (t *SQLiteTracker) RecordDispatch(ctx context.Context, rec models.DispatchRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO dispatch_records (run_id, operation, model, attempt, outcome, error_kind, status_code, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, string(rec.Operation), rec.Model, rec.Attempt, rec.Outcome, rec.ErrorKind, rec.StatusCode, rec.LatencyMs, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}

// RecordRun stores the outcome of a run. A run recorded twice keeps the
// latest outcome.
func (t *SQLiteTracker) RecordRun(ctx context.Context, rec models.RunRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_records (run_id, content_hash, state, cache_hit, fallback, error_kind, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.ContentHash, string(rec.State), rec.CacheHit, rec.Fallback, rec.ErrorKind, rec.DurationMs, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Dispatches returns the attempts of one run in order.
func (t *SQLiteTracker) Dispatches(ctx context.Context, runID string) ([]models.DispatchRecord, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, run_id, operation, model, attempt, outcome, error_kind, status_code, latency_ms, created_at
		 FROM dispatch_records WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer rows.Close()

	var records []models.DispatchRecord
	for rows.Next() {
		var r models.DispatchRecord
		var op string
		if err := rows.Scan(&r.ID, &r.RunID, &op, &r.Model, &r.Attempt, &r.Outcome, &r.ErrorKind, &r.StatusCode, &r.LatencyMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		r.Operation = models.Operation(op)
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecentRuns returns up to limit runs, newest first.
func (t *SQLiteTracker) RecentRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := t.db.QueryContext(ctx,
		`SELECT run_id, content_hash, state, cache_hit, fallback, error_kind, duration_ms, created_at
		 FROM run_records ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		var r models.RunRecord
		var state string
		if err := rows.Scan(&r.RunID, &r.ContentHash, &state, &r.CacheHit, &r.Fallback, &r.ErrorKind, &r.DurationMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.State = models.RunState(state)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Summary aggregates dispatches by operation and outcome.
func (t *SQLiteTracker) Summary(ctx context.Context, since time.Time) ([]models.DispatchSummary, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT operation, outcome, COUNT(*), AVG(latency_ms)
		 FROM dispatch_records WHERE created_at >= ?
		 GROUP BY operation, outcome ORDER BY operation, outcome`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.DispatchSummary
	for rows.Next() {
		var s models.DispatchSummary
		var op string
		if err := rows.Scan(&op, &s.Outcome, &s.Count, &s.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.Operation = models.Operation(op)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
