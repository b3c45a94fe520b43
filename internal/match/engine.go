// Package match evaluates unresolved postings against the current profile
// via the classifier collaborator and transitions them through the store.
package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rizwan0110/JobSearch-Agent/internal/classify"
	"github.com/rizwan0110/JobSearch-Agent/internal/job"
	"github.com/rizwan0110/JobSearch-Agent/internal/retry"
	"github.com/rizwan0110/JobSearch-Agent/internal/store"
)

// Config tunes one matching engine.
type Config struct {
	// Threshold is the minimum score for a MATCH verdict.
	Threshold float64
	// Workers bounds concurrent classifier calls.
	Workers int
	// ErrorCap stops re-evaluating a posting after this many ERROR rounds
	// under one profile version.
	ErrorCap int
	// RatePerSecond throttles classifier calls; zero disables throttling.
	RatePerSecond float64
	// Retry is applied around every classifier call.
	Retry retry.Policy
}

// Stats counts what one matching pass did.
type Stats struct {
	Evaluated int
	Matched   int
	Rejected  int
	Errored   int
	Skipped   int
}

// Engine drains the store's pending backlog through the classifier.
type Engine struct {
	store      *store.Store
	classifier classify.Classifier
	logger     *zap.Logger
	cfg        Config
	limiter    *rate.Limiter

	mu       sync.Mutex
	stats    Stats
	failures []job.Failure
}

// NewEngine builds a matching engine. Zero config fields fall back to safe
// defaults.
func NewEngine(s *store.Store, classifier classify.Classifier, logger *zap.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ErrorCap <= 0 {
		cfg.ErrorCap = 5
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.8
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return &Engine{
		store:      s,
		classifier: classifier,
		logger:     logger,
		cfg:        cfg,
		limiter:    limiter,
	}
}

// Run evaluates every posting in the pending backlog for the given profile.
// Postings claimed by a concurrent run are skipped silently; the loser of a
// guarded transition never escalates.
func (e *Engine) Run(ctx context.Context, profile *job.Profile) (Stats, []job.Failure, error) {
	pending, err := e.store.ListPending(ctx, profile.Version, e.cfg.ErrorCap)
	if err != nil {
		return Stats{}, nil, fmt.Errorf("list pending postings: %w", err)
	}

	e.mu.Lock()
	e.stats = Stats{}
	e.failures = nil
	e.mu.Unlock()

	e.logger.Info("starting matching pass",
		zap.Int("pending", len(pending)),
		zap.Int("profile_version", profile.Version),
		zap.Float64("threshold", e.cfg.Threshold),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.Workers)

	for _, posting := range pending {
		group.Go(func() error {
			return e.evaluate(groupCtx, posting, profile)
		})
	}

	if err := group.Wait(); err != nil {
		stats, failures := e.snapshot()
		return stats, failures, err
	}

	stats, failures := e.snapshot()

	e.logger.Info("matching pass completed",
		zap.Int("evaluated", stats.Evaluated),
		zap.Int("matched", stats.Matched),
		zap.Int("rejected", stats.Rejected),
		zap.Int("errored", stats.Errored),
		zap.Int("skipped", stats.Skipped),
	)

	return stats, failures, nil
}

func (e *Engine) snapshot() (Stats, []job.Failure) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats, e.failures
}

// evaluate produces exactly one MatchResult for the posting and transitions
// it accordingly. Fatal store errors abort the whole pass.
func (e *Engine) evaluate(ctx context.Context, posting *job.Posting, profile *job.Profile) error {
	if err := e.store.Transition(ctx, posting.ID, posting.Status, job.StatusEvaluating); err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			e.logger.Debug("posting claimed by a concurrent run",
				zap.String("job_id", posting.ID),
			)
			e.count(func(s *Stats) { s.Skipped++ })
			return nil
		}
		return err
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			// Roll the claim back so the posting is not stranded in-flight.
			_ = e.store.Transition(ctx, posting.ID, job.StatusEvaluating, job.StatusNew)
			return err
		}
	}

	var assessment *classify.Assessment
	attempts, err := retry.Do(ctx, e.cfg.Retry, e.logger, "classifier evaluate", func(ctx context.Context) error {
		var evalErr error
		assessment, evalErr = e.classifier.Evaluate(ctx, posting, profile)
		return evalErr
	})

	result := &job.MatchResult{
		JobID:          posting.ID,
		ProfileVersion: profile.Version,
		ContentHash:    posting.ContentHash,
		EvaluatedAt:    time.Now().UTC(),
		AttemptCount:   attempts,
	}

	next := job.StatusError
	switch {
	case err != nil:
		if ctx.Err() != nil {
			// Cancelled mid-evaluation: restore the prior stable status
			// instead of recording a verdict we never computed.
			_ = e.store.Transition(ctx, posting.ID, job.StatusEvaluating, job.StatusNew)
			return ctx.Err()
		}
		result.Verdict = job.VerdictError
		result.Rationale = err.Error()
		e.logger.Warn("classifier evaluation failed",
			zap.String("job_id", posting.ID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		e.count(func(s *Stats) { s.Errored++ })
		e.fail(posting, err.Error())

	case assessment.Score >= e.cfg.Threshold:
		next = job.StatusMatched
		result.Verdict = job.VerdictMatch
		result.Score = assessment.Score
		result.Rationale = assessment.Rationale
		e.logger.Info("posting matched",
			zap.String("job_id", posting.ID),
			zap.String("title", posting.Title),
			zap.Float64("score", assessment.Score),
		)
		e.count(func(s *Stats) { s.Matched++ })

	default:
		next = job.StatusRejected
		result.Verdict = job.VerdictReject
		result.Score = assessment.Score
		result.Rationale = assessment.Rationale
		e.logger.Info("posting rejected",
			zap.String("job_id", posting.ID),
			zap.Float64("score", assessment.Score),
			zap.Float64("threshold", e.cfg.Threshold),
		)
		e.count(func(s *Stats) { s.Rejected++ })
	}

	if err := e.store.RecordResult(ctx, result); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("record result for %s: %w", posting.ID, err)
		}
		// A previous run already recorded this (job, version, content)
		// triple, e.g. after a crash between recording and transitioning.
		// The identity includes the content hash, so a conflict means the
		// input was identical and the verdict deterministic; the transition
		// below still applies.
		e.logger.Debug("result already recorded",
			zap.String("job_id", posting.ID),
			zap.Int("profile_version", profile.Version),
		)
	}

	if err := e.store.Transition(ctx, posting.ID, job.StatusEvaluating, next); err != nil {
		if errors.Is(err, store.ErrConflict) {
			e.count(func(s *Stats) { s.Skipped++ })
			return nil
		}
		return err
	}

	e.count(func(s *Stats) { s.Evaluated++ })
	return nil
}

func (e *Engine) count(fn func(*Stats)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.stats)
}

func (e *Engine) fail(posting *job.Posting, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, job.Failure{
		JobID:  posting.ID,
		Title:  posting.Title,
		Kind:   job.FailureEvaluation,
		Reason: reason,
	})
}
