// Package database provides SQLite storage for run history.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bryan-buckman/ainews/internal/model"
	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		date TEXT NOT NULL,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		fetched INTEGER NOT NULL DEFAULT 0,
		added INTEGER NOT NULL DEFAULT 0,
		deduplicated INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE TABLE IF NOT EXISTS run_failures (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		source_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		PRIMARY KEY (run_id, source_id)
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// --- Run Methods ---

// RecordRun stores the report and its failures in one transaction.
func (db *DB) RecordRun(ctx context.Context, report model.RunReport) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, date, succeeded, failed, skipped, fetched, added, deduplicated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID,
		report.StartedAt.UTC().Format(sqliteTimeLayout),
		report.FinishedAt.UTC().Format(sqliteTimeLayout),
		report.Date,
		report.Succeeded, report.Failed, report.Skipped,
		report.Fetched, report.Added, report.Deduplicated,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, sourceID := range sortedSourceIDs(report.Failures) {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO run_failures (run_id, source_id, reason) VALUES (?, ?, ?)",
			report.ID, sourceID, report.Failures[sourceID],
		); err != nil {
			return fmt.Errorf("insert run failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]model.RunReport, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, started_at, finished_at, date, succeeded, failed, skipped, fetched, added, deduplicated
		FROM runs ORDER BY started_at DESC LIMIT ?`, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	var runs []model.RunReport
	for rows.Next() {
		var r model.RunReport
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.Date,
			&r.Succeeded, &r.Failed, &r.Skipped, &r.Fetched, &r.Added, &r.Deduplicated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(sqliteTimeLayout, started); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if r.FinishedAt, err = time.Parse(sqliteTimeLayout, finished); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range runs {
		if runs[i].Failures, err = db.failures(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// LatestRun returns the most recent run, or nil if none exists.
func (db *DB) LatestRun(ctx context.Context) (*model.RunReport, error) {
	runs, err := db.ListRuns(ctx, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

func (db *DB) failures(ctx context.Context, runID string) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT source_id, reason FROM run_failures WHERE run_id = ? ORDER BY source_id", runID)
	if err != nil {
		return nil, fmt.Errorf("query run failures: %w", err)
	}
	defer rows.Close()

	var failures map[string]string
	for rows.Next() {
		var sourceID, reason string
		if err := rows.Scan(&sourceID, &reason); err != nil {
			return nil, fmt.Errorf("scan run failure: %w", err)
		}
		if failures == nil {
			failures = make(map[string]string)
		}
		failures[sourceID] = reason
	}
	return failures, rows.Err()
}
