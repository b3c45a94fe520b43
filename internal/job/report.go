package job

import (
	"time"

	"github.com/google/uuid"
)

// FailureKind distinguishes the two ways a posting can end a run in a
// state that needs operator attention.
type FailureKind string

const (
	FailureEvaluation   FailureKind = "evaluation"
	FailureNotification FailureKind = "notification"
)

// Failure points at a posting that ended the run in ERROR or with a failed
// notification, so an operator can inspect it.
type Failure struct {
	JobID  string
	Title  string
	Kind   FailureKind
	Reason string
}

// RunReport summarizes one orchestrator cycle.
type RunReport struct {
	RunID            string
	ProfileVersion   int
	StartedAt        time.Time
	FinishedAt       time.Time
	Ingested         int
	SkippedMalformed int
	Matched          int
	Rejected         int
	Errored          int
	Notified         int
	NotificationFail int
	FetchError       string
	Failures         []Failure
}

// NewRunReport starts a report for a fresh cycle.
func NewRunReport(profileVersion int) *RunReport {
	return &RunReport{
		RunID:          uuid.NewString(),
		ProfileVersion: profileVersion,
		StartedAt:      time.Now().UTC(),
	}
}
