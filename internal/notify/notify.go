// Package notify delivers notifications for matched postings, guarded by
// the store's exactly-once reservation ledger.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rizwan0110/JobSearch-Agent/internal/job"
	"github.com/rizwan0110/JobSearch-Agent/internal/retry"
	"github.com/rizwan0110/JobSearch-Agent/internal/store"
)

// Notification is one rendered message for a matched posting.
type Notification struct {
	Recipient string
	Subject   string
	Body      string
}

// Channel is the notification capability: deliver one message. Sends may
// fail transiently; the dispatcher applies its retry policy around them.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Config tunes one dispatcher.
type Config struct {
	Recipient string
	// Workers bounds concurrent sends across distinct postings. Sends for
	// one posting are serialized by the ledger reservation.
	Workers int
	// Retry is the per-run send budget for one posting.
	Retry retry.Policy
}

// Stats counts what one notification pass did.
type Stats struct {
	Notified int
	Failed   int
	Skipped  int
}

// Dispatcher sends a notification for every MATCHED posting that has no
// SENT ledger record yet.
type Dispatcher struct {
	store   *store.Store
	channel Channel
	logger  *zap.Logger
	cfg     Config

	mu       sync.Mutex
	stats    Stats
	failures []job.Failure
}

// NewDispatcher builds a dispatcher for one channel.
func NewDispatcher(s *store.Store, channel Channel, logger *zap.Logger, cfg Config) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}

	return &Dispatcher{store: s, channel: channel, logger: logger, cfg: cfg}
}

// Run drains the notification backlog. A posting whose send fails
// transiently stays MATCHED with its reservation released, so the next run
// retries it; a permanently refused send is finalized FAILED_PERMANENT and
// left for an operator.
func (d *Dispatcher) Run(ctx context.Context) (Stats, []job.Failure, error) {
	matched, err := d.store.ListByStatus(ctx, job.StatusMatched)
	if err != nil {
		return Stats{}, nil, fmt.Errorf("list matched postings: %w", err)
	}

	d.mu.Lock()
	d.stats = Stats{}
	d.failures = nil
	d.mu.Unlock()

	d.logger.Info("starting notification pass",
		zap.Int("matched", len(matched)),
		zap.String("channel", d.channel.Name()),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.cfg.Workers)

	for _, posting := range matched {
		group.Go(func() error {
			return d.dispatch(groupCtx, posting)
		})
	}

	if err := group.Wait(); err != nil {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.stats, d.failures, err
	}

	d.mu.Lock()
	stats, failures := d.stats, d.failures
	d.mu.Unlock()

	d.logger.Info("notification pass completed",
		zap.Int("notified", stats.Notified),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
	)

	return stats, failures, nil
}

// dispatch reserves, sends and finalizes one notification. The reservation
// insert is the sole gate: two overlapping runs cannot both hold it.
func (d *Dispatcher) dispatch(ctx context.Context, posting *job.Posting) error {
	channelName := d.channel.Name()

	if err := d.store.ReserveNotification(ctx, posting.ID, channelName); err != nil {
		if errors.Is(err, store.ErrAlreadyReserved) {
			d.reconcile(ctx, posting, channelName)
			return nil
		}
		return err
	}

	notification := d.render(ctx, posting)

	_, err := retry.Do(ctx, d.cfg.Retry, d.logger, "notification send", func(ctx context.Context) error {
		return d.channel.Send(ctx, notification)
	})
	if err != nil {
		if ctx.Err() != nil {
			if relErr := d.store.ReleaseNotification(ctx, posting.ID, channelName); relErr != nil {
				return relErr
			}
			return ctx.Err()
		}

		if retry.IsTransient(err) {
			// Exhausted the budget on a transient fault: release so a later
			// run may retry; the posting stays MATCHED.
			if relErr := d.store.ReleaseNotification(ctx, posting.ID, channelName); relErr != nil {
				return relErr
			}
		} else {
			// The channel refused the message outright (bad recipient,
			// policy rejection). Retrying the same send every run cannot
			// succeed; record it so an operator has to intervene.
			if finErr := d.store.FinalizeNotification(ctx, posting.ID, channelName, job.NotificationFailedPermanent); finErr != nil {
				return finErr
			}
		}

		d.logger.Warn("notification send failed",
			zap.String("job_id", posting.ID),
			zap.String("channel", channelName),
			zap.Bool("retryable", retry.IsTransient(err)),
			zap.Error(err),
		)
		d.mu.Lock()
		d.stats.Failed++
		d.failures = append(d.failures, job.Failure{
			JobID:  posting.ID,
			Title:  posting.Title,
			Kind:   job.FailureNotification,
			Reason: err.Error(),
		})
		d.mu.Unlock()
		return nil
	}

	if err := d.store.FinalizeNotification(ctx, posting.ID, channelName, job.NotificationSent); err != nil {
		return fmt.Errorf("finalize notification for %s: %w", posting.ID, err)
	}

	if err := d.store.Transition(ctx, posting.ID, job.StatusMatched, job.StatusNotified); err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}

	d.logger.Info("notification sent",
		zap.String("job_id", posting.ID),
		zap.String("title", posting.Title),
		zap.String("channel", channelName),
	)

	d.mu.Lock()
	d.stats.Notified++
	d.mu.Unlock()
	return nil
}

// reconcile handles a posting that is MATCHED while its ledger record
// already exists: a previous run sent the notification but crashed before
// the status transition, or another run holds the reservation right now.
func (d *Dispatcher) reconcile(ctx context.Context, posting *job.Posting, channelName string) {
	record, err := d.store.NotificationFor(ctx, posting.ID, channelName)
	if err != nil {
		d.countSkip()
		return
	}

	if record.Status == job.NotificationSent {
		if err := d.store.Transition(ctx, posting.ID, job.StatusMatched, job.StatusNotified); err == nil {
			d.logger.Info("repaired posting status from ledger",
				zap.String("job_id", posting.ID),
			)
			d.mu.Lock()
			d.stats.Notified++
			d.mu.Unlock()
			return
		}
	}

	d.logger.Debug("notification already reserved",
		zap.String("job_id", posting.ID),
		zap.String("status", string(record.Status)),
	)
	d.countSkip()
}

func (d *Dispatcher) countSkip() {
	d.mu.Lock()
	d.stats.Skipped++
	d.mu.Unlock()
}

// render builds the message for one posting, including the match rationale
// when a result is available.
func (d *Dispatcher) render(ctx context.Context, posting *job.Posting) Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", posting.Title)
	if posting.Employer != "" {
		fmt.Fprintf(&b, "Employer: %s\n", posting.Employer)
	}
	if posting.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", posting.Location)
	}
	if posting.URL != "" {
		fmt.Fprintf(&b, "Link: %s\n", posting.URL)
	}

	if result, err := d.store.LatestResult(ctx, posting.ID); err == nil {
		fmt.Fprintf(&b, "\nMatch score: %.2f\n", result.Score)
		if result.Rationale != "" {
			fmt.Fprintf(&b, "Why it matches: %s\n", result.Rationale)
		}
	}

	return Notification{
		Recipient: d.cfg.Recipient,
		Subject:   fmt.Sprintf("New job match: %s", posting.Title),
		Body:      b.String(),
	}
}
