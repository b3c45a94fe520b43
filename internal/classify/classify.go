// Package classify defines the semantic classifier contract used by the
// matching engine. Implementations live in subpackages; tests use stubs.
package classify

import (
	"context"

	"github.com/rizwan0110/JobSearch-Agent/internal/job"
)

// Assessment is the classifier's judgement of one posting against one
// profile. Score is in [0, 1]; the threshold decision belongs to the
// matching engine, not the classifier.
type Assessment struct {
	Score     float64
	Rationale string
	Raw       string
}

// Classifier evaluates a posting description against a candidate profile.
// Calls may fail transiently (timeouts, rate limits); callers wrap them in a
// retry policy.
type Classifier interface {
	Evaluate(ctx context.Context, posting *job.Posting, profile *job.Profile) (*Assessment, error)
}
