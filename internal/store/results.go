package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rizwan0110/JobSearch-Agent/internal/job"
)

// RecordResult appends a match result. Results are immutable: a second
// non-ERROR result for the same (job, profile version, content hash)
// triple returns ErrConflict and writes nothing. A changed content hash is
// a new evaluation input and gets its own row under the same version.
// ERROR results may repeat because errored postings stay retryable across
// runs.
func (s *Store) RecordResult(ctx context.Context, r *job.MatchResult) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO match_results (job_id, profile_version, content_hash, score, verdict, rationale, evaluated_at, attempt_count)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		r.JobID, r.ProfileVersion, r.ContentHash, r.Score, string(r.Verdict), r.Rationale,
		formatTime(r.EvaluatedAt), r.AttemptCount,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}

// LatestResult returns the most recent result for a posting or ErrNotFound.
func (s *Store) LatestResult(ctx context.Context, jobID string) (*job.MatchResult, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT job_id, profile_version, content_hash, score, verdict, rationale, evaluated_at, attempt_count
FROM match_results
WHERE job_id = ?
ORDER BY profile_version DESC, id DESC
LIMIT 1;`, jobID)

	return scanResult(row)
}

// ResultsFor returns every recorded result for a posting, oldest first. Old
// results are kept for audit even after the profile moves on.
func (s *Store) ResultsFor(ctx context.Context, jobID string) ([]*job.MatchResult, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT job_id, profile_version, content_hash, score, verdict, rationale, evaluated_at, attempt_count
FROM match_results
WHERE job_id = ?
ORDER BY id ASC;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*job.MatchResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ErrorAttempts counts ERROR results recorded for a posting under the given
// profile version and content hash. The matching engine uses it to stop
// re-evaluating a posting that keeps failing across runs; a content change
// starts a fresh budget.
func (s *Store) ErrorAttempts(ctx context.Context, jobID string, profileVersion int, contentHash string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM match_results
WHERE job_id = ? AND profile_version = ? AND content_hash = ? AND verdict = 'ERROR';`,
		jobID, profileVersion, contentHash,
	).Scan(&n)
	return n, err
}

func scanResult(row rowScanner) (*job.MatchResult, error) {
	var r job.MatchResult
	var verdict, evaluatedAt string
	if err := row.Scan(
		&r.JobID, &r.ProfileVersion, &r.ContentHash, &r.Score, &verdict, &r.Rationale, &evaluatedAt, &r.AttemptCount,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Verdict = job.Verdict(verdict)
	r.EvaluatedAt = parseTime(evaluatedAt)
	return &r, nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures in the error text;
	// there is no exported error type to match on.
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
