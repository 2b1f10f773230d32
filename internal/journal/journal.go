// Package journal provides a durable record of patch runs.
//
// Each batch run gets a row in runs; each target outcome gets a row in
// results, keyed by (run_id, seq) so the batch order is preserved. The
// journal is optional: the orchestrator only writes to it when one is
// attached.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/echotools/retrofit/internal/patch"
)

//go:embed schema.sql
var schemaSQL string

// Journal records patch runs in a SQLite database.
// Uses WAL mode for concurrent read access while a run is being written.
type Journal struct {
	db *sql.DB

	// now is the clock; overridable in tests for deterministic timestamps.
	now func() time.Time
}

// Open creates or opens a journal database at the given path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Journal{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// SetClock overrides the journal's clock. Test hook.
func (j *Journal) SetClock(now func() time.Time) {
	j.now = now
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// Run is one recorded batch run.
type Run struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
}

// ResultRow is one recorded target outcome.
type ResultRow struct {
	RunID      string `json:"run_id"`
	Seq        int    `json:"seq"`
	TargetID   string `json:"target_id"`
	Status     string `json:"status"`
	Code       string `json:"code,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
	BeforeSum  string `json:"before_sum,omitempty"`
	AfterSum   string `json:"after_sum,omitempty"`
}

// BeginRun opens a new run record and returns its id (UUIDv7, so run ids
// sort by start time).
func (j *Journal) BeginRun(ctx context.Context, total int) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	startedAt := j.now().UTC().Format(time.RFC3339Nano)

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, total, completed)
		VALUES (?, ?, ?, 0)
	`, id, startedAt, total)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	return id, nil
}

// RecordResult appends one target outcome to a run.
func (j *Journal) RecordResult(ctx context.Context, runID string, seq int, outcome patch.Outcome) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO results (run_id, seq, target_id, status, code, diagnostic, before_sum, after_sum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, seq, outcome.TargetID, string(outcome.Status), string(outcome.Code),
		outcome.Diagnostic, outcome.BeforeSum, outcome.AfterSum)
	if err != nil {
		return fmt.Errorf("insert result for %s: %w", outcome.TargetID, err)
	}
	return nil
}

// FinishRun closes a run record with its completed count.
func (j *Journal) FinishRun(ctx context.Context, runID string, completed int) error {
	finishedAt := j.now().UTC().Format(time.RFC3339Nano)

	res, err := j.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, completed = ? WHERE id = ?
	`, finishedAt, completed, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: no such run", runID)
	}
	return nil
}

// ListRuns returns all recorded runs, most recent first.
// Returns an empty slice (not nil) if the journal holds no runs.
func (j *Journal) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, total, completed
		FROM runs
		ORDER BY id COLLATE BINARY DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		var startedAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&r.ID, &startedAt, &finishedAt, &r.Total, &r.Completed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at for run %s: %w", r.ID, err)
		}
		if finishedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse finished_at for run %s: %w", r.ID, err)
			}
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// RunResults returns the outcomes of one run in batch order.
// Returns an empty slice (not nil) if the run has no results.
func (j *Journal) RunResults(ctx context.Context, runID string) ([]ResultRow, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, seq, target_id, status, code, diagnostic, before_sum, after_sum
		FROM results
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	results := []ResultRow{}
	for rows.Next() {
		var r ResultRow
		if err := rows.Scan(&r.RunID, &r.Seq, &r.TargetID, &r.Status, &r.Code,
			&r.Diagnostic, &r.BeforeSum, &r.AfterSum); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}

	return results, nil
}
