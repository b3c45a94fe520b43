package job

import "time"

// Verdict is the classifier-derived outcome of evaluating a posting against
// a profile version.
type Verdict string

const (
	VerdictMatch  Verdict = "MATCH"
	VerdictReject Verdict = "REJECT"
	VerdictError  Verdict = "ERROR"
)

// MatchResult records one evaluation of a posting. Results are immutable
// once written for a given (JobID, ProfileVersion, ContentHash) triple; a
// new profile version or changed posting content produces a new result and
// never overwrites an old one.
type MatchResult struct {
	JobID          string
	ProfileVersion int
	ContentHash    string
	Score          float64
	Verdict        Verdict
	Rationale      string
	EvaluatedAt    time.Time
	AttemptCount   int
}

// NotificationStatus is the terminal state of a ledger record.
type NotificationStatus string

const (
	// NotificationPending marks a reservation taken by a dispatcher that has
	// not finished sending yet. It is never the final state of a record: a
	// transient send failure releases the reservation and a permanent one
	// finalizes it as FAILED_PERMANENT.
	NotificationPending NotificationStatus = "PENDING"

	NotificationSent            NotificationStatus = "SENT"
	NotificationFailedPermanent NotificationStatus = "FAILED_PERMANENT"
)

// NotificationRecord is one entry of the exactly-once ledger. At most one
// SENT record may ever exist per (JobID, Channel).
type NotificationRecord struct {
	JobID   string
	Channel string
	SentAt  time.Time
	Status  NotificationStatus
}
