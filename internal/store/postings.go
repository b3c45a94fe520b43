package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rizwan0110/JobSearch-Agent/internal/job"
)

// UpsertOutcome describes what an upsert did to the stored posting.
type UpsertOutcome int

const (
	// UpsertInserted means the dedupe key was unseen and a new NEW posting
	// was created.
	UpsertInserted UpsertOutcome = iota
	// UpsertRefreshed means the posting existed with unchanged content;
	// only fetched_at was advanced.
	UpsertRefreshed
	// UpsertReset means the posting existed but its content changed, so its
	// status was reset to NEW for re-evaluation.
	UpsertReset
)

const postingColumns = `id, source, source_id, title, description, url, location, employer, posted_at, fetched_at, content_hash, status`

// UpsertPosting inserts a posting keyed by (source, source_id) or refreshes
// the existing one. A changed content hash resets the stored posting to NEW
// so it gets re-evaluated; old match results remain for audit.
func (s *Store) UpsertPosting(ctx context.Context, p *job.Posting) (UpsertOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var existingID, existingHash string
	err = tx.QueryRowContext(ctx,
		`SELECT id, content_hash FROM job_postings WHERE source = ? AND source_id = ?;`,
		p.Source, p.SourceID,
	).Scan(&existingID, &existingHash)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
INSERT INTO job_postings (`+postingColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			p.ID, p.Source, p.SourceID, p.Title, p.Description, p.URL, p.Location, p.Employer,
			formatTime(p.PostedAt), formatTime(p.FetchedAt), p.ContentHash, string(job.StatusNew),
		)
		if err != nil {
			return 0, fmt.Errorf("insert posting: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
		return UpsertInserted, nil

	case err != nil:
		return 0, fmt.Errorf("lookup posting: %w", err)
	}

	outcome := UpsertRefreshed
	if existingHash != p.ContentHash {
		outcome = UpsertReset
		_, err = tx.ExecContext(ctx, `
UPDATE job_postings
SET title = ?, description = ?, url = ?, location = ?, employer = ?,
    posted_at = ?, fetched_at = ?, content_hash = ?, status = ?
WHERE id = ?;`,
			p.Title, p.Description, p.URL, p.Location, p.Employer,
			formatTime(p.PostedAt), formatTime(p.FetchedAt), p.ContentHash, string(job.StatusNew),
			existingID,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE job_postings SET fetched_at = ? WHERE id = ?;`,
			formatTime(p.FetchedAt), existingID,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("update posting: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return outcome, nil
}

// GetPosting returns the posting with the given id or ErrNotFound.
func (s *Store) GetPosting(ctx context.Context, id string) (*job.Posting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+postingColumns+` FROM job_postings WHERE id = ?;`, id)

	p, err := scanPosting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListByStatus returns all postings with the given status, oldest fetch first.
func (s *Store) ListByStatus(ctx context.Context, status job.Status) ([]*job.Posting, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+postingColumns+`
FROM job_postings
WHERE status = ?
ORDER BY fetched_at ASC, id ASC;`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPostings(rows)
}

// ListPending returns the matching backlog for the given profile version:
// NEW postings, postings whose last result was produced under an older
// profile version (regardless of verdict), and ERROR postings that have not
// yet exhausted errorCap evaluation rounds under this version. The order is
// stable so repeated runs drain the same backlog deterministically.
func (s *Store) ListPending(ctx context.Context, profileVersion, errorCap int) ([]*job.Posting, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT p.id, p.source, p.source_id, p.title, p.description, p.url, p.location,
       p.employer, p.posted_at, p.fetched_at, p.content_hash, p.status
FROM job_postings p
LEFT JOIN (
  SELECT job_id, MAX(profile_version) AS last_version
  FROM match_results
  GROUP BY job_id
) r ON r.job_id = p.id
WHERE p.status != 'EVALUATING'
  AND (p.status = 'NEW'
   OR COALESCE(r.last_version, 0) < ?
   OR (p.status = 'ERROR' AND (
         SELECT COUNT(*) FROM match_results mr
         WHERE mr.job_id = p.id AND mr.profile_version = ?
           AND mr.content_hash = p.content_hash AND mr.verdict = 'ERROR'
       ) < ?))
ORDER BY p.fetched_at ASC, p.id ASC;`,
		profileVersion, profileVersion, errorCap)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPostings(rows)
}

// Transition performs the guarded compare-and-swap on a posting status. It
// returns ErrConflict when the stored status no longer equals from, which is
// how a run losing a race detects it and moves on. Claiming a posting for
// evaluation stamps claimed_at so stuck-claim recovery can age it.
func (s *Store) Transition(ctx context.Context, id string, from, to job.Status) error {
	if !job.CanTransition(from, to) {
		return fmt.Errorf("transition %s -> %s is not allowed", from, to)
	}

	claimedAt := ""
	if to == job.StatusEvaluating {
		claimedAt = formatTime(time.Now())
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE job_postings SET status = ?, claimed_at = ? WHERE id = ? AND status = ?;`,
		string(to), claimedAt, id, string(from),
	)
	if err != nil {
		return fmt.Errorf("transition posting: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM job_postings WHERE id = ? LIMIT 1;`, id).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return ErrConflict
	}

	return nil
}

// RecoverStuck rolls EVALUATING postings claimed longer than maxAge ago
// back to NEW. It runs at cycle start so postings abandoned mid-evaluation
// by an interrupted run become processable again; the age guard keeps a
// live overlapping run's claims untouched.
func (s *Store) RecoverStuck(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-maxAge))
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_postings SET status = ?, claimed_at = '' WHERE status = ? AND claimed_at < ?;`,
		string(job.StatusNew), string(job.StatusEvaluating), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("recover stuck postings: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns posting counts keyed by status.
func (s *Store) CountByStatus(ctx context.Context) (map[job.Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM job_postings GROUP BY status;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[job.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[job.Status(status)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosting(row rowScanner) (*job.Posting, error) {
	var p job.Posting
	var status, postedAt, fetchedAt string
	if err := row.Scan(
		&p.ID, &p.Source, &p.SourceID, &p.Title, &p.Description, &p.URL,
		&p.Location, &p.Employer, &postedAt, &fetchedAt, &p.ContentHash, &status,
	); err != nil {
		return nil, err
	}
	p.Status = job.Status(status)
	p.PostedAt = parseTime(postedAt)
	p.FetchedAt = parseTime(fetchedAt)
	return &p, nil
}

func collectPostings(rows *sql.Rows) ([]*job.Posting, error) {
	var out []*job.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
