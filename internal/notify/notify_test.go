package notify

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rizwan0110/JobSearch-Agent/internal/job"
	"github.com/rizwan0110/JobSearch-Agent/internal/retry"
	"github.com/rizwan0110/JobSearch-Agent/internal/store"
)

// stubChannel records every send and can be told to fail.
type stubChannel struct {
	mu    sync.Mutex
	sent  []Notification
	fails map[string]error
}

func newStubChannel() *stubChannel {
	return &stubChannel{fails: make(map[string]error)}
}

func (c *stubChannel) Name() string { return "stub" }

func (c *stubChannel) Send(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for needle, err := range c.fails {
		if strings.Contains(n.Subject, needle) {
			return err
		}
	}
	c.sent = append(c.sent, n)
	return nil
}

func (c *stubChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedMatched(t *testing.T, s *store.Store, sourceID string) *job.Posting {
	t.Helper()
	ctx := context.Background()

	posting := &job.Posting{
		ID:          job.PostingID("jobtech", sourceID),
		Source:      "jobtech",
		SourceID:    sourceID,
		Title:       "Engineer " + sourceID,
		Description: "Description for " + sourceID,
		URL:         "https://example.com/" + sourceID,
		Employer:    "Acme",
		FetchedAt:   time.Now().UTC(),
		ContentHash: job.ContentHash("Engineer "+sourceID, "Description for "+sourceID),
		Status:      job.StatusNew,
	}
	if _, err := s.UpsertPosting(ctx, posting); err != nil {
		t.Fatalf("seed posting: %v", err)
	}
	if err := s.Transition(ctx, posting.ID, job.StatusNew, job.StatusEvaluating); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.RecordResult(ctx, &job.MatchResult{
		JobID:          posting.ID,
		ProfileVersion: 1,
		Score:          0.9,
		Verdict:        job.VerdictMatch,
		Rationale:      "strong skill overlap",
		EvaluatedAt:    time.Now().UTC(),
		AttemptCount:   1,
	}); err != nil {
		t.Fatalf("record result: %v", err)
	}
	if err := s.Transition(ctx, posting.ID, job.StatusEvaluating, job.StatusMatched); err != nil {
		t.Fatalf("transition: %v", err)
	}
	return posting
}

func testDispatcher(s *store.Store, channel Channel) *Dispatcher {
	return NewDispatcher(s, channel, zap.NewNop(), Config{
		Recipient: "user@example.com",
		Retry:     retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
}

func TestRunSendsExactlyOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	posting := seedMatched(t, s, "n-1")

	channel := newStubChannel()
	dispatcher := testDispatcher(s, channel)

	stats, failures, err := dispatcher.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Notified != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	if channel.sentCount() != 1 {
		t.Fatalf("expected exactly one send, got %d", channel.sentCount())
	}

	got, err := s.GetPosting(ctx, posting.ID)
	if err != nil {
		t.Fatalf("get posting: %v", err)
	}
	if got.Status != job.StatusNotified {
		t.Fatalf("expected NOTIFIED, got %s", got.Status)
	}

	// A second pass finds nothing to send.
	stats, _, err = dispatcher.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Notified != 0 || channel.sentCount() != 1 {
		t.Fatalf("second run must not resend, stats %+v, sends %d", stats, channel.sentCount())
	}
}

func TestRunRendersResultDetails(t *testing.T) {
	s := openTestStore(t)
	seedMatched(t, s, "n-1")

	channel := newStubChannel()
	dispatcher := testDispatcher(s, channel)

	if _, _, err := dispatcher.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if channel.sentCount() != 1 {
		t.Fatalf("expected one send, got %d", channel.sentCount())
	}

	msg := channel.sent[0]
	if msg.Recipient != "user@example.com" {
		t.Fatalf("unexpected recipient: %s", msg.Recipient)
	}
	if !strings.Contains(msg.Subject, "Engineer n-1") {
		t.Fatalf("subject must carry the title, got %q", msg.Subject)
	}
	for _, want := range []string{"Acme", "https://example.com/n-1", "0.90", "strong skill overlap"} {
		if !strings.Contains(msg.Body, want) {
			t.Fatalf("body missing %q:\n%s", want, msg.Body)
		}
	}
}

func TestRunReleasesReservationOnTransientFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	posting := seedMatched(t, s, "n-1")

	channel := newStubChannel()
	channel.fails["Engineer n-1"] = retry.Transient(errors.New("smtp down"))
	dispatcher := testDispatcher(s, channel)

	stats, failures, err := dispatcher.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Failed != 1 || stats.Notified != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(failures) != 1 || failures[0].Kind != job.FailureNotification {
		t.Fatalf("expected one notification failure, got %+v", failures)
	}

	got, err := s.GetPosting(ctx, posting.ID)
	if err != nil {
		t.Fatalf("get posting: %v", err)
	}
	if got.Status != job.StatusMatched {
		t.Fatalf("failed posting must stay MATCHED, got %s", got.Status)
	}
	if _, err := s.NotificationFor(ctx, posting.ID, "stub"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected the transient failure to release the reservation, got %v", err)
	}

	// After the channel recovers, the next run delivers.
	channel.mu.Lock()
	delete(channel.fails, "Engineer n-1")
	channel.mu.Unlock()

	stats, _, err = dispatcher.Run(ctx)
	if err != nil {
		t.Fatalf("recovery run: %v", err)
	}
	if stats.Notified != 1 {
		t.Fatalf("expected delivery after recovery, got %+v", stats)
	}
}

func TestRunFinalizesPermanentFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	posting := seedMatched(t, s, "n-1")

	channel := newStubChannel()
	channel.fails["Engineer n-1"] = errors.New("recipient address rejected")
	dispatcher := testDispatcher(s, channel)

	stats, _, err := dispatcher.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	rec, err := s.NotificationFor(ctx, posting.ID, "stub")
	if err != nil {
		t.Fatalf("notification for: %v", err)
	}
	if rec.Status != job.NotificationFailedPermanent {
		t.Fatalf("expected FAILED_PERMANENT for a refused send, got %s", rec.Status)
	}

	// The record blocks further attempts until an operator clears it.
	stats, _, err = dispatcher.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Failed != 0 || stats.Skipped != 1 {
		t.Fatalf("a FAILED_PERMANENT record must not be retried, got %+v", stats)
	}
	if channel.sentCount() != 0 {
		t.Fatalf("expected no sends, got %d", channel.sentCount())
	}

	// Clearing the record re-arms the posting for the next run.
	if err := s.DropFailedNotification(ctx, posting.ID, "stub"); err != nil {
		t.Fatalf("drop failed notification: %v", err)
	}
	channel.mu.Lock()
	delete(channel.fails, "Engineer n-1")
	channel.mu.Unlock()

	stats, _, err = dispatcher.Run(ctx)
	if err != nil {
		t.Fatalf("cleared run: %v", err)
	}
	if stats.Notified != 1 || channel.sentCount() != 1 {
		t.Fatalf("expected delivery after the operator cleared the record, got %+v", stats)
	}
}

func TestConcurrentRunsSendOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	posting := seedMatched(t, s, "n-1")

	channel := newStubChannel()
	first := testDispatcher(s, channel)
	second := testDispatcher(s, channel)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, d := range []*Dispatcher{first, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = d.Run(ctx)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if channel.sentCount() != 1 {
		t.Fatalf("overlapping runs must deliver exactly once, got %d sends", channel.sentCount())
	}

	got, err := s.GetPosting(ctx, posting.ID)
	if err != nil {
		t.Fatalf("get posting: %v", err)
	}
	if got.Status != job.StatusNotified {
		t.Fatalf("expected NOTIFIED, got %s", got.Status)
	}
}

func TestRunSkipsHeldReservation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	posting := seedMatched(t, s, "n-1")

	// A concurrent run holds the reservation.
	if err := s.ReserveNotification(ctx, posting.ID, "stub"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	channel := newStubChannel()
	dispatcher := testDispatcher(s, channel)

	stats, _, err := dispatcher.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Skipped != 1 || stats.Notified != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if channel.sentCount() != 0 {
		t.Fatalf("held reservation must suppress the send, got %d", channel.sentCount())
	}
}

func TestRunRepairsStatusFromLedger(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	posting := seedMatched(t, s, "n-1")

	// A previous run sent and finalized but crashed before transitioning.
	if err := s.ReserveNotification(ctx, posting.ID, "stub"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := s.FinalizeNotification(ctx, posting.ID, "stub", job.NotificationSent); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	channel := newStubChannel()
	dispatcher := testDispatcher(s, channel)

	stats, _, err := dispatcher.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Notified != 1 {
		t.Fatalf("expected the repair to count as notified, got %+v", stats)
	}
	if channel.sentCount() != 0 {
		t.Fatalf("repair must not resend, got %d sends", channel.sentCount())
	}

	got, err := s.GetPosting(ctx, posting.ID)
	if err != nil {
		t.Fatalf("get posting: %v", err)
	}
	if got.Status != job.StatusNotified {
		t.Fatalf("expected NOTIFIED after repair, got %s", got.Status)
	}
}
