package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/dispict/internal/models"
)

// ErrRunNotFound is returned when no matching run exists.
var ErrRunNotFound = errors.New("run not found")

// SQLiteLedger implements Ledger using SQLite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		status TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		embedded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		store_path TEXT,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS failures (
		run_id TEXT NOT NULL,
		artwork_id INTEGER NOT NULL,
		url TEXT,
		status_code INTEGER,
		reason TEXT NOT NULL,
		detail TEXT,
		PRIMARY KEY (run_id, artwork_id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_failures_run_id ON failures(run_id);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateRun inserts a run record.
func (s *SQLiteLedger) CreateRun(ctx context.Context, run *models.Run) error {
	query := `
		INSERT INTO runs (id, started_at, status, total, store_path)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, run.ID, run.StartedAt.UTC(), run.Status, run.Total, run.StorePath)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun updates the outcome of a run.
func (s *SQLiteLedger) FinishRun(ctx context.Context, run *models.Run) error {
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	query := `
		UPDATE runs
		SET finished_at = ?, status = ?, total = ?, embedded = ?, failed = ?, store_path = ?, error = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		finished, run.Status, run.Total, run.Embedded, run.Failed, run.StorePath, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

// RecordFailures stores failed items in a single transaction.
func (s *SQLiteLedger) RecordFailures(ctx context.Context, failures []*models.Failure) error {
	if len(failures) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO failures (run_id, artwork_id, url, status_code, reason, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, f := range failures {
		if _, err := stmt.ExecContext(ctx, f.RunID, f.ArtworkID, f.URL, f.StatusCode, f.Reason, f.Detail); err != nil {
			return fmt.Errorf("failed to record failure for artwork %d: %w", f.ArtworkID, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, started_at, finished_at, status, total, embedded, failed, store_path, error`

// LastRun returns the most recently started run.
func (s *SQLiteLedger) LastRun(ctx context.Context) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT 1`)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *SQLiteLedger) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListFailures returns the failed items of a run ordered by artwork ID.
func (s *SQLiteLedger) ListFailures(ctx context.Context, runID string) ([]*models.Failure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, artwork_id, url, status_code, reason, detail
		FROM failures WHERE run_id = ? ORDER BY artwork_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	defer rows.Close()

	var failures []*models.Failure
	for rows.Next() {
		f := &models.Failure{}
		var url, detail sql.NullString
		var status sql.NullInt64
		if err := rows.Scan(&f.RunID, &f.ArtworkID, &url, &status, &f.Reason, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		f.URL = url.String
		f.StatusCode = int(status.Int64)
		f.Detail = detail.String
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// CountFailures returns the number of failed items recorded for a run.
func (s *SQLiteLedger) CountFailures(ctx context.Context, runID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failures WHERE run_id = ?`, runID).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	run := &models.Run{}
	var finished sql.NullTime
	var storePath, errText sql.NullString
	if err := row.Scan(&run.ID, &run.StartedAt, &finished, &run.Status,
		&run.Total, &run.Embedded, &run.Failed, &storePath, &errText); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	run.StorePath = storePath.String
	run.Error = errText.String
	return run, nil
}
