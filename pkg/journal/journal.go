// Package journal records migration runs in a SQLite database: one row per run,
// one per flushed batch and one per rejected document.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mouradhm/index-transfert/pkg/models"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		source_kind TEXT,
		source_index TEXT,
		destination_kind TEXT,
		destination_index TEXT,
		batch_size INTEGER,
		strict BOOLEAN,
		status TEXT NOT NULL,
		scanned INTEGER NOT NULL DEFAULT 0,
		written INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		batches INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);`,
	`CREATE TABLE IF NOT EXISTS batches (
		run_id TEXT NOT NULL REFERENCES runs(id),
		sequence INTEGER NOT NULL,
		size INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (run_id, sequence)
	);`,
	`CREATE TABLE IF NOT EXISTS document_failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		batch INTEGER NOT NULL,
		document_id TEXT NOT NULL,
		status INTEGER,
		reason TEXT,
		created_at DATETIME NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
	`CREATE INDEX IF NOT EXISTS idx_document_failures_run ON document_failures(run_id);`,
}

// Journal is a run journal backed by a SQLite file.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// a single writer avoids "database is locked"
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize journal: %w", err)
		}
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RunInfo describes a run when it starts.
type RunInfo struct {
	Command          string
	SourceKind       string
	SourceIndex      string
	DestinationKind  string
	DestinationIndex string
	BatchSize        int
	Strict           bool
}

// Run is an open journal entry. It records flushed batches as an
// activities.BatchObserver.
type Run struct {
	journal *Journal
	ID      string
}

// StartRun inserts a running entry with a new run id.
func (j *Journal) StartRun(ctx context.Context, info RunInfo) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := j.db.ExecContext(ctx, `INSERT INTO runs
		(id, command, source_kind, source_index, destination_kind, destination_index, batch_size, strict, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, info.Command, info.SourceKind, info.SourceIndex, info.DestinationKind, info.DestinationIndex,
		info.BatchSize, info.Strict, StatusRunning, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	return &Run{journal: j, ID: id}, nil
}

// BatchFlushed records a batch and its rejected documents.
func (r *Run) BatchFlushed(ctx context.Context, result models.BatchResult) error {
	tx, err := r.journal.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `INSERT INTO batches (run_id, sequence, size, failed, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, result.Sequence, result.Size, len(result.Report.Failures), result.Duration.Milliseconds(), now)
	if err != nil {
		return fmt.Errorf("failed to record batch %d: %w", result.Sequence, err)
	}

	for _, f := range result.Report.Failures {
		_, err = tx.ExecContext(ctx, `INSERT INTO document_failures (run_id, batch, document_id, status, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, result.Sequence, f.ID, f.Status, f.Reason, now)
		if err != nil {
			return fmt.Errorf("failed to record failure of %s: %w", f.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch %d: %w", result.Sequence, err)
	}
	return nil
}

// Finish closes the entry with the outcome of the run.
func (r *Run) Finish(ctx context.Context, result models.TransferResult, runErr error) error {
	status := StatusSucceeded
	var message sql.NullString
	switch {
	case runErr != nil:
		status = StatusFailed
		message = sql.NullString{String: runErr.Error(), Valid: true}
	case !result.Success():
		status = StatusPartial
	}

	_, err := r.journal.db.ExecContext(ctx, `UPDATE runs SET
		status = ?, scanned = ?, written = ?, failed = ?, batches = ?, error_message = ?, finished_at = ?
		WHERE id = ?`,
		status, result.DocumentsScanned, result.DocumentsWritten, result.DocumentsFailed, result.Batches,
		message, time.Now().UTC(), r.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", r.ID, err)
	}
	return nil
}

// RunRecord is a journal entry as read back by Runs.
type RunRecord struct {
	ID               string
	Command          string
	SourceKind       string
	SourceIndex      string
	DestinationKind  string
	DestinationIndex string
	BatchSize        int
	Strict           bool
	Status           string
	Scanned          int
	Written          int
	Failed           int
	Batches          int
	Error            string
	StartedAt        time.Time
	FinishedAt       *time.Time
}

// Runs returns the most recent runs first. A limit <= 0 returns every run.
func (j *Journal) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT id, command, source_kind, source_index, destination_kind, destination_index,
		batch_size, strict, status, scanned, written, failed, batches, error_message, started_at, finished_at
		FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var message sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Command, &r.SourceKind, &r.SourceIndex, &r.DestinationKind, &r.DestinationIndex,
			&r.BatchSize, &r.Strict, &r.Status, &r.Scanned, &r.Written, &r.Failed, &r.Batches,
			&message, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to read run: %w", err)
		}
		r.Error = message.String
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Failures returns the documents rejected during a run, in batch order.
func (j *Journal) Failures(ctx context.Context, runID string) ([]models.ItemFailure, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT document_id, status, reason FROM document_failures
		WHERE run_id = ? ORDER BY batch, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	defer rows.Close()

	var failures []models.ItemFailure
	for rows.Next() {
		var f models.ItemFailure
		var status sql.NullInt64
		var reason sql.NullString
		if err := rows.Scan(&f.ID, &status, &reason); err != nil {
			return nil, fmt.Errorf("failed to read failure: %w", err)
		}
		f.Status = int(status.Int64)
		f.Reason = reason.String
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	return failures, nil
}
