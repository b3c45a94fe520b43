// Package agent drives one pipeline cycle: ingest, drain the matching
// backlog, drain the notification backlog, and report what happened.
package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rizwan0110/JobSearch-Agent/internal/ingest"
	"github.com/rizwan0110/JobSearch-Agent/internal/job"
	"github.com/rizwan0110/JobSearch-Agent/internal/match"
	"github.com/rizwan0110/JobSearch-Agent/internal/notify"
	"github.com/rizwan0110/JobSearch-Agent/internal/retry"
	"github.com/rizwan0110/JobSearch-Agent/internal/store"
)

// Claims and reservations held longer than this belong to a run that died
// mid-flight; they are recovered at cycle start. Live overlapping runs
// finish well inside the window and are left alone.
const defaultStaleAge = 15 * time.Minute

// Agent wires the pipeline components into one restart-safe cycle.
type Agent struct {
	store      *store.Store
	source     ingest.Source
	normalizer *ingest.Normalizer
	engine     *match.Engine
	dispatcher *notify.Dispatcher
	logger     *zap.Logger

	// Query is the search term handed to the job source.
	Query string
	// FetchRetry is applied around the source fetch.
	FetchRetry retry.Policy
	// StaleAge is how long an evaluation claim or notification reservation
	// may be held before cycle start treats it as abandoned.
	StaleAge time.Duration
}

// New assembles an agent from its components.
func New(s *store.Store, source ingest.Source, normalizer *ingest.Normalizer, engine *match.Engine, dispatcher *notify.Dispatcher, logger *zap.Logger, query string) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		store:      s,
		source:     source,
		normalizer: normalizer,
		engine:     engine,
		dispatcher: dispatcher,
		logger:     logger,
		Query:      query,
		FetchRetry: retry.DefaultPolicy(),
		StaleAge:   defaultStaleAge,
	}
}

// RunCycle executes one full ingest -> match -> notify cycle and returns
// the run report. Every transition inside the cycle is individually durable
// and idempotent, so an interrupted cycle resumes correctly on the next run.
// A failed source fetch does not stop the existing backlog from draining.
func (a *Agent) RunCycle(ctx context.Context, profile *job.Profile) (*job.RunReport, error) {
	report := job.NewRunReport(profile.Version)

	a.logger.Info("starting pipeline cycle",
		zap.String("run_id", report.RunID),
		zap.Int("profile_version", profile.Version),
	)

	recovered, err := a.store.RecoverStuck(ctx, a.StaleAge)
	if err != nil {
		return report, err
	}
	if recovered > 0 {
		a.logger.Warn("recovered postings stuck in evaluation",
			zap.Int64("count", recovered),
		)
	}

	released, err := a.store.ReleaseStaleReservations(ctx, a.StaleAge)
	if err != nil {
		return report, err
	}
	if released > 0 {
		a.logger.Warn("released stale notification reservations",
			zap.Int64("count", released),
		)
	}

	raws, fetchErr := a.fetchPostings(ctx)
	if fetchErr != nil {
		// A dead source must not stop matching and notification of the
		// postings already in the store.
		report.FetchError = fetchErr.Error()
		a.logger.Warn("source fetch failed, continuing with stored backlog",
			zap.Error(fetchErr),
		)
	} else {
		stats, err := a.normalizer.Ingest(ctx, a.source.Name(), raws)
		report.Ingested = stats.Ingested
		report.SkippedMalformed = stats.SkippedMalformed
		if err != nil {
			// Unlike a source outage this is a store fault; nothing
			// downstream can be trusted to persist either.
			return report, fmt.Errorf("ingest phase: %w", err)
		}
	}

	matchStats, matchFailures, err := a.engine.Run(ctx, profile)
	if err != nil {
		return report, fmt.Errorf("matching phase: %w", err)
	}
	report.Matched = matchStats.Matched
	report.Rejected = matchStats.Rejected
	report.Errored = matchStats.Errored
	report.Failures = append(report.Failures, matchFailures...)

	notifyStats, notifyFailures, err := a.dispatcher.Run(ctx)
	if err != nil {
		return report, fmt.Errorf("notification phase: %w", err)
	}
	report.Notified = notifyStats.Notified
	report.NotificationFail = notifyStats.Failed
	report.Failures = append(report.Failures, notifyFailures...)

	report.FinishedAt = time.Now().UTC()

	a.logger.Info("pipeline cycle completed",
		zap.String("run_id", report.RunID),
		zap.Int("ingested", report.Ingested),
		zap.Int("skipped_malformed", report.SkippedMalformed),
		zap.Int("matched", report.Matched),
		zap.Int("rejected", report.Rejected),
		zap.Int("errored", report.Errored),
		zap.Int("notified", report.Notified),
		zap.Int("notification_failed", report.NotificationFail),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)

	for _, failure := range report.Failures {
		a.logger.Warn("posting needs attention",
			zap.String("job_id", failure.JobID),
			zap.String("title", failure.Title),
			zap.String("kind", string(failure.Kind)),
			zap.String("reason", failure.Reason),
		)
	}

	return report, nil
}

func (a *Agent) fetchPostings(ctx context.Context) ([]ingest.RawPosting, error) {
	var raws []ingest.RawPosting

	_, err := retry.Do(ctx, a.FetchRetry, a.logger, "source fetch", func(ctx context.Context) error {
		var fetchErr error
		raws, fetchErr = a.source.Fetch(ctx, a.Query)
		return fetchErr
	})
	if err != nil {
		return nil, fmt.Errorf("fetch postings: %w", err)
	}
	return raws, nil
}
