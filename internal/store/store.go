// Package store is the durable keyed state behind the pipeline. It owns the
// three logical tables (job_postings, match_results, notification_records)
// and is the only component that mutates persisted records. All writes are
// single-record and atomic; concurrent runs are made safe by the guarded
// status transition and the insert-once notification reservation.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrConflict is returned when a guarded transition or an insert-once
	// write loses to a concurrent run. Callers treat it as expected and
	// skip the record.
	ErrConflict = errors.New("store: conflicting concurrent update")

	// ErrAlreadyReserved is returned when a notification reservation for a
	// (job, channel) pair is already held or finalized.
	ErrAlreadyReserved = errors.New("store: notification already reserved")
)

// Store wraps the sqlite database holding all pipeline state.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	// modernc sqlite DSN: file:foo.db?_pragma=busy_timeout(5000)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// sqlite wants a single writer
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var v int
	if err := tx.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return err
	}

	if v >= 1 {
		return tx.Commit()
	}

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS job_postings (
  id TEXT PRIMARY KEY,
  source TEXT NOT NULL,
  source_id TEXT NOT NULL,
  title TEXT NOT NULL,
  description TEXT NOT NULL,
  url TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  employer TEXT NOT NULL DEFAULT '',
  posted_at TEXT NOT NULL DEFAULT '',
  fetched_at TEXT NOT NULL,
  content_hash TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'NEW',
  claimed_at TEXT NOT NULL DEFAULT ''
);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE UNIQUE INDEX IF NOT EXISTS idx_postings_source_key
ON job_postings(source, source_id);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_postings_status
ON job_postings(status);
`); err != nil {
		return err
	}

	// match_results is append-only. The content hash is part of the result
	// identity: a posting whose text changed gets a fresh result under the
	// same profile version. ERROR verdicts may repeat because errored
	// postings stay retryable across runs; every other verdict is recorded
	// exactly once per (job, version, content).
	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS match_results (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  job_id TEXT NOT NULL REFERENCES job_postings(id),
  profile_version INTEGER NOT NULL,
  content_hash TEXT NOT NULL DEFAULT '',
  score REAL NOT NULL,
  verdict TEXT NOT NULL,
  rationale TEXT NOT NULL DEFAULT '',
  evaluated_at TEXT NOT NULL,
  attempt_count INTEGER NOT NULL DEFAULT 1
);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE UNIQUE INDEX IF NOT EXISTS idx_results_job_version
ON match_results(job_id, profile_version, content_hash)
WHERE verdict != 'ERROR';
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS notification_records (
  job_id TEXT NOT NULL REFERENCES job_postings(id),
  channel TEXT NOT NULL,
  status TEXT NOT NULL,
  sent_at TEXT NOT NULL,
  PRIMARY KEY (job_id, channel)
);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`PRAGMA user_version = 1;`); err != nil {
		return err
	}

	return tx.Commit()
}

// Fixed-width so stored timestamps compare correctly as strings in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
