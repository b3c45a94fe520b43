package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rizwan0110/JobSearch-Agent/internal/job"
)

// ReserveNotification claims the (job, channel) pair in the ledger before
// any send is attempted. The insert-once semantics make the reservation the
// sole gate for sending: a concurrent run inserting the same pair loses and
// gets ErrAlreadyReserved.
func (s *Store) ReserveNotification(ctx context.Context, jobID, channel string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO notification_records (job_id, channel, status, sent_at)
VALUES (?, ?, ?, ?);`,
		jobID, channel, string(job.NotificationPending), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("reserve notification: %w", err)
	}

	// INSERT OR IGNORE does not report rows affected reliably across
	// drivers; SELECT changes() does.
	var changes int
	if err := s.db.QueryRowContext(ctx, `SELECT changes();`).Scan(&changes); err != nil {
		return fmt.Errorf("reserve notification: %w", err)
	}
	if changes == 0 {
		return ErrAlreadyReserved
	}
	return nil
}

// FinalizeNotification moves a held reservation to a terminal status. It
// returns ErrConflict when no PENDING reservation exists for the pair.
func (s *Store) FinalizeNotification(ctx context.Context, jobID, channel string, status job.NotificationStatus) error {
	if status != job.NotificationSent && status != job.NotificationFailedPermanent {
		return fmt.Errorf("invalid terminal notification status: %s", status)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE notification_records
SET status = ?, sent_at = ?
WHERE job_id = ? AND channel = ? AND status = ?;`,
		string(status), formatTime(time.Now()), jobID, channel, string(job.NotificationPending),
	)
	if err != nil {
		return fmt.Errorf("finalize notification: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ReleaseNotification drops a held reservation after a failed send so a
// later run may retry. Terminal records are never touched.
func (s *Store) ReleaseNotification(ctx context.Context, jobID, channel string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM notification_records
WHERE job_id = ? AND channel = ? AND status = ?;`,
		jobID, channel, string(job.NotificationPending),
	)
	if err != nil {
		return fmt.Errorf("release notification: %w", err)
	}
	return nil
}

// ReleaseStaleReservations drops PENDING reservations older than maxAge.
// A reservation can only go stale when a run died between reserving and
// finalizing; live runs either finalize or release within one send budget.
func (s *Store) ReleaseStaleReservations(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-maxAge))
	res, err := s.db.ExecContext(ctx, `
DELETE FROM notification_records
WHERE status = ? AND sent_at < ?;`,
		string(job.NotificationPending), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("release stale reservations: %w", err)
	}
	return res.RowsAffected()
}

// DropFailedNotification removes a FAILED_PERMANENT record so an operator
// can force a fresh delivery attempt on the next run.
func (s *Store) DropFailedNotification(ctx context.Context, jobID, channel string) error {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM notification_records
WHERE job_id = ? AND channel = ? AND status = ?;`,
		jobID, channel, string(job.NotificationFailedPermanent),
	)
	if err != nil {
		return fmt.Errorf("drop failed notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// NotificationFor returns the ledger record for a (job, channel) pair or
// ErrNotFound.
func (s *Store) NotificationFor(ctx context.Context, jobID, channel string) (*job.NotificationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT job_id, channel, status, sent_at
FROM notification_records
WHERE job_id = ? AND channel = ?;`, jobID, channel)

	rec, err := scanNotification(row)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListNotifications returns the full ledger, oldest record first.
func (s *Store) ListNotifications(ctx context.Context) ([]*job.NotificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT job_id, channel, status, sent_at
FROM notification_records
ORDER BY sent_at ASC, job_id ASC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*job.NotificationRecord
	for rows.Next() {
		rec, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanNotification(row rowScanner) (*job.NotificationRecord, error) {
	var rec job.NotificationRecord
	var status, sentAt string
	if err := row.Scan(&rec.JobID, &rec.Channel, &status, &sentAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.Status = job.NotificationStatus(status)
	rec.SentAt = parseTime(sentAt)
	return &rec, nil
}
