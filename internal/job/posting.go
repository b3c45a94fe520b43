// Package job defines the domain model shared across the pipeline:
// postings, match results, the notification ledger and run reports.
package job

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a posting.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusEvaluating Status = "EVALUATING"
	StatusMatched    Status = "MATCHED"
	StatusRejected   Status = "REJECTED"
	StatusError      Status = "ERROR"
	StatusNotified   Status = "NOTIFIED"
)

// transitions lists the allowed status moves. Everything else is denied,
// including self-transitions.
var transitions = map[Status][]Status{
	StatusNew:        {StatusEvaluating},
	StatusEvaluating: {StatusMatched, StatusRejected, StatusError},
	StatusMatched:    {StatusNotified, StatusEvaluating},
	StatusRejected:   {StatusEvaluating},
	StatusError:      {StatusEvaluating, StatusNew},
	StatusNotified:   {StatusEvaluating},
}

// CanTransition reports whether a posting may move from one status to another.
// REJECTED, ERROR and NOTIFIED postings may re-enter EVALUATING when the
// profile version advances past their last result.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known posting status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Posting is a canonical job posting record owned by the store.
type Posting struct {
	ID          string
	Source      string
	SourceID    string
	Title       string
	Description string
	URL         string
	Location    string
	Employer    string
	PostedAt    time.Time
	FetchedAt   time.Time
	ContentHash string
	Status      Status
}

// PostingID derives the stable posting identifier from the source name and
// the source-scoped posting id.
func PostingID(source, sourceID string) string {
	sum := sha256.Sum256([]byte(source + "\x00" + sourceID))
	return fmt.Sprintf("%x", sum)
}

// ContentHash fingerprints the matching-relevant content of a posting so
// re-postings with changed text can be detected and re-evaluated.
func ContentHash(title, description string) string {
	sum := sha256.Sum256([]byte(normalize(title) + "\n" + normalize(description)))
	return fmt.Sprintf("%x", sum)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
