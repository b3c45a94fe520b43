package agent

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rizwan0110/JobSearch-Agent/internal/classify"
	"github.com/rizwan0110/JobSearch-Agent/internal/ingest"
	"github.com/rizwan0110/JobSearch-Agent/internal/job"
	"github.com/rizwan0110/JobSearch-Agent/internal/match"
	"github.com/rizwan0110/JobSearch-Agent/internal/notify"
	"github.com/rizwan0110/JobSearch-Agent/internal/retry"
	"github.com/rizwan0110/JobSearch-Agent/internal/store"
)

type stubSource struct {
	raws    []ingest.RawPosting
	err     error
	onFetch func()
}

func (s *stubSource) Name() string { return "stub-board" }

func (s *stubSource) Fetch(context.Context, string) ([]ingest.RawPosting, error) {
	if s.onFetch != nil {
		s.onFetch()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.raws, nil
}

type fixedClassifier struct {
	score float64
}

func (c *fixedClassifier) Evaluate(context.Context, *job.Posting, *job.Profile) (*classify.Assessment, error) {
	return &classify.Assessment{Score: c.score, Rationale: "fixed"}, nil
}

type countingChannel struct {
	mu   sync.Mutex
	sent int
}

func (c *countingChannel) Name() string { return "counting" }

func (c *countingChannel) Send(context.Context, notify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent++
	return nil
}

func (c *countingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func newTestAgent(t *testing.T, source ingest.Source, score float64, channel notify.Channel) (*Agent, *store.Store) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	log := zap.NewNop()
	normalizer := ingest.NewNormalizer(s, log)
	engine := match.NewEngine(s, &fixedClassifier{score: score}, log, match.Config{
		Threshold: 0.8,
		Retry:     fastPolicy(),
	})
	dispatcher := notify.NewDispatcher(s, channel, log, notify.Config{
		Recipient: "user@example.com",
		Retry:     fastPolicy(),
	})

	agent := New(s, source, normalizer, engine, dispatcher, log, "golang developer")
	agent.FetchRetry = fastPolicy()
	return agent, s
}

func TestRunCycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	source := &stubSource{raws: []ingest.RawPosting{{
		SourceID:    "e2e-1",
		Title:       "Go Developer",
		Description: "Backend role using Go and Postgres",
		URL:         "https://example.com/e2e-1",
		Employer:    "Acme",
		PostedAt:    time.Now().UTC().Add(-time.Hour),
	}}}
	channel := &countingChannel{}

	agent, s := newTestAgent(t, source, 0.85, channel)
	profile := &job.Profile{Version: 1, Skills: []string{"Go"}}

	report, err := agent.RunCycle(ctx, profile)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	if report.Ingested != 1 || report.Matched != 1 || report.Notified != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.RunID == "" {
		t.Fatalf("expected a run id")
	}
	if report.FinishedAt.Before(report.StartedAt) {
		t.Fatalf("finish time precedes start time")
	}
	if channel.count() != 1 {
		t.Fatalf("expected exactly one send, got %d", channel.count())
	}

	posting, err := s.GetPosting(ctx, job.PostingID("stub-board", "e2e-1"))
	if err != nil {
		t.Fatalf("get posting: %v", err)
	}
	if posting.Status != job.StatusNotified {
		t.Fatalf("expected NOTIFIED at cycle end, got %s", posting.Status)
	}

	// A second identical cycle is a no-op: nothing new, nothing resent.
	report, err = agent.RunCycle(ctx, profile)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if report.Matched != 0 || report.Notified != 0 {
		t.Fatalf("second cycle must be idempotent, got %+v", report)
	}
	if channel.count() != 1 {
		t.Fatalf("second cycle resent the notification, %d sends", channel.count())
	}
}

func TestRunCycleContinuesWhenFetchFails(t *testing.T) {
	ctx := context.Background()
	channel := &countingChannel{}
	source := &stubSource{raws: []ingest.RawPosting{{
		SourceID:    "b-1",
		Title:       "Go Developer",
		Description: "Backend role",
		PostedAt:    time.Now().UTC(),
	}}}

	agent, s := newTestAgent(t, source, 0.9, channel)
	profile := &job.Profile{Version: 1, Skills: []string{"Go"}}

	if _, err := agent.RunCycle(ctx, profile); err != nil {
		t.Fatalf("seed cycle: %v", err)
	}

	// A new posting is already stored, then the source dies before the next
	// cycle can fetch.
	if _, err := s.UpsertPosting(ctx, &job.Posting{
		ID:          job.PostingID("stub-board", "b-2"),
		Source:      "stub-board",
		SourceID:    "b-2",
		Title:       "Another Go Developer",
		Description: "Another backend role",
		FetchedAt:   time.Now().UTC(),
		ContentHash: job.ContentHash("Another Go Developer", "Another backend role"),
		Status:      job.StatusNew,
	}); err != nil {
		t.Fatalf("seed posting: %v", err)
	}
	source.err = errors.New("board is down")

	report, err := agent.RunCycle(ctx, profile)
	if err != nil {
		t.Fatalf("cycle with dead source: %v", err)
	}
	if report.FetchError == "" {
		t.Fatalf("expected the fetch error in the report")
	}
	if report.Matched != 1 {
		t.Fatalf("stored backlog must still drain, got %+v", report)
	}
}

func TestRunCycleRecoversStuckPostings(t *testing.T) {
	ctx := context.Background()
	channel := &countingChannel{}
	source := &stubSource{}

	agent, s := newTestAgent(t, source, 0.9, channel)
	profile := &job.Profile{Version: 1, Skills: []string{"Go"}}

	// A crashed run left this posting claimed.
	stuck := &job.Posting{
		ID:          job.PostingID("stub-board", "stuck-1"),
		Source:      "stub-board",
		SourceID:    "stuck-1",
		Title:       "Go Developer",
		Description: "Backend role",
		FetchedAt:   time.Now().UTC(),
		ContentHash: job.ContentHash("Go Developer", "Backend role"),
		Status:      job.StatusNew,
	}
	if _, err := s.UpsertPosting(ctx, stuck); err != nil {
		t.Fatalf("seed posting: %v", err)
	}
	if err := s.Transition(ctx, stuck.ID, job.StatusNew, job.StatusEvaluating); err != nil {
		t.Fatalf("claim posting: %v", err)
	}

	// Treat any held claim as abandoned so the crashed run's posting is
	// recovered immediately.
	agent.StaleAge = 0

	report, err := agent.RunCycle(ctx, profile)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if report.Matched != 1 || report.Notified != 1 {
		t.Fatalf("recovered posting must flow through the cycle, got %+v", report)
	}
}

func TestRunCycleAbortsOnIngestStoreFault(t *testing.T) {
	ctx := context.Background()
	channel := &countingChannel{}
	source := &stubSource{raws: []ingest.RawPosting{{
		SourceID:    "s-1",
		Title:       "Go Developer",
		Description: "Backend role",
		PostedAt:    time.Now().UTC(),
	}}}

	agent, s := newTestAgent(t, source, 0.9, channel)
	// The store dies after the fetch succeeds, so the upsert fails.
	source.onFetch = func() { _ = s.Close() }

	report, err := agent.RunCycle(ctx, &job.Profile{Version: 1, Skills: []string{"Go"}})
	if err == nil {
		t.Fatalf("a store fault during ingestion must abort the cycle")
	}
	if report.FetchError != "" {
		t.Fatalf("a store fault must not be reported as a source failure, got %q", report.FetchError)
	}
	if channel.count() != 0 {
		t.Fatalf("no notification may go out after an aborted cycle, got %d", channel.count())
	}
}
