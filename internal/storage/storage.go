// Package storage is the SQLite collaborator of the migration engine: it
// opens the database, exposes synchronous query helpers and catalog reads,
// and keeps the schema_migration_runs housekeeping table.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
)

// RunLogTable is the housekeeping table that records migration runs. It is
// never part of an application schema.
const RunLogTable = "schema_migration_runs"

// Store wraps a SQLite database used as a migration target.
type Store struct {
	path string
	db   *sql.DB
	now  func() time.Time
}

// Run stores one persisted migration run.
type Run struct {
	RunID      int64
	SchemaName string
	Behavior   string
	Attempts   int
	Applied    int
	Skipped    int
	Warnings   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// RecordRunParams contains input for RecordRun.
type RecordRunParams struct {
	SchemaName string
	Behavior   string
	Attempts   int
	Applied    int
	Skipped    int
	Warnings   int
	StartedAt  time.Time
}

// New opens the SQLite database at path and configures the connection.
// It does not create any tables.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("storage: empty database path")
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	store := &Store{
		path: path,
		db:   db,
		now:  time.Now,
	}

	if err := store.configure(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// DriverName returns the database/sql driver in use.
func DriverName() string {
	return driverName
}

// DriverPackage returns the Go package providing the driver.
func DriverPackage() string {
	return driverPackage
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Handle returns a query handle over the whole database.
func (s *Store) Handle() Handle {
	return NewHandle(s.db)
}

// RecordRun appends one row to the run log, creating the table on first use.
func (s *Store) RecordRun(ctx context.Context, params RecordRunParams) (Run, error) {
	if strings.TrimSpace(params.Behavior) == "" {
		return Run{}, errors.New("storage: behavior is required")
	}
	if err := s.ensureRunLog(ctx); err != nil {
		return Run{}, err
	}

	finishedAt := s.now().UTC()
	startedAt := params.StartedAt.UTC()
	if params.StartedAt.IsZero() {
		startedAt = finishedAt
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO schema_migration_runs (
			schema_name,
			behavior,
			attempts,
			applied,
			skipped,
			warnings,
			started_at,
			finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`,
		params.SchemaName,
		params.Behavior,
		params.Attempts,
		params.Applied,
		params.Skipped,
		params.Warnings,
		formatTime(startedAt),
		formatTime(finishedAt),
	)
	if err != nil {
		return Run{}, fmt.Errorf("storage: record run: %w", err)
	}

	runID, err := result.LastInsertId()
	if err != nil {
		return Run{}, fmt.Errorf("storage: read run id: %w", err)
	}

	return Run{
		RunID:      runID,
		SchemaName: params.SchemaName,
		Behavior:   params.Behavior,
		Attempts:   params.Attempts,
		Applied:    params.Applied,
		Skipped:    params.Skipped,
		Warnings:   params.Warnings,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}, nil
}

// ListRuns returns the most recent runs, newest first. A limit <= 0 returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	entries, err := s.Handle().FindObject(ctx, RunLogTable)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []Run{}, nil
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			run_id,
			schema_name,
			behavior,
			attempts,
			applied,
			skipped,
			warnings,
			started_at,
			finished_at
		FROM schema_migration_runs
		ORDER BY run_id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var (
			run          Run
			startedAtDB  string
			finishedAtDB string
		)
		if err := rows.Scan(
			&run.RunID,
			&run.SchemaName,
			&run.Behavior,
			&run.Attempts,
			&run.Applied,
			&run.Skipped,
			&run.Warnings,
			&startedAtDB,
			&finishedAtDB,
		); err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}

		startedAt, err := parseTime(startedAtDB)
		if err != nil {
			return nil, fmt.Errorf("storage: parse run.started_at: %w", err)
		}
		finishedAt, err := parseTime(finishedAtDB)
		if err != nil {
			return nil, fmt.Errorf("storage: parse run.finished_at: %w", err)
		}

		run.StartedAt = startedAt
		run.FinishedAt = finishedAt
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list runs rows: %w", err)
	}
	return runs, nil
}

func (s *Store) configure(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		return fmt.Errorf("storage: set pragma foreign_keys: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("storage: set pragma busy_timeout: %w", err)
	}
	if s.path == ":memory:" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("storage: set pragma journal_mode: %w", err)
	}
	return nil
}

func (s *Store) ensureRunLog(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migration_runs (
			run_id INTEGER PRIMARY KEY AUTOINCREMENT,
			schema_name TEXT NOT NULL,
			behavior TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			applied INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			warnings INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("storage: create schema_migration_runs: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}
