// Package ingest canonicalizes raw postings from a job source and upserts
// them into the store, deduplicating by (source, source_id).
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rizwan0110/JobSearch-Agent/internal/job"
	"github.com/rizwan0110/JobSearch-Agent/internal/store"
)

// RawPosting is what a source collaborator yields before normalization.
type RawPosting struct {
	SourceID    string
	Title       string
	Description string
	URL         string
	Location    string
	Employer    string
	PostedAt    time.Time
}

// Source is the job source capability: fetch raw postings for a query.
// Implementations may fail with transient network errors.
type Source interface {
	Name() string
	Fetch(ctx context.Context, query string) ([]RawPosting, error)
}

// Stats counts what one ingestion pass did.
type Stats struct {
	Ingested         int
	SkippedMalformed int
	SkippedStale     int
	Inserted         int
	Reset            int
}

// Normalizer turns raw postings into canonical store records.
type Normalizer struct {
	store  *store.Store
	logger *zap.Logger

	// MaxAge drops postings published longer ago than the window.
	// Zero keeps everything.
	MaxAge time.Duration
}

// NewNormalizer builds a normalizer writing through the given store.
func NewNormalizer(s *store.Store, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{store: s, logger: logger}
}

// Ingest upserts the raw postings from the named source. Malformed postings
// (missing title or description) are counted and skipped; they never reach
// the store. Ingesting the same unchanged posting twice is a no-op beyond a
// fetched_at refresh.
func (n *Normalizer) Ingest(ctx context.Context, source string, raws []RawPosting) (Stats, error) {
	var stats Stats
	now := time.Now().UTC()

	for _, raw := range raws {
		title := strings.TrimSpace(raw.Title)
		description := strings.TrimSpace(raw.Description)

		if title == "" || description == "" || strings.TrimSpace(raw.SourceID) == "" {
			stats.SkippedMalformed++
			n.logger.Warn("skipping malformed posting",
				zap.String("source", source),
				zap.String("source_id", raw.SourceID),
				zap.String("title", raw.Title),
			)
			continue
		}

		if n.MaxAge > 0 && !raw.PostedAt.IsZero() && now.Sub(raw.PostedAt) > n.MaxAge {
			stats.SkippedStale++
			continue
		}

		posting := &job.Posting{
			ID:          job.PostingID(source, raw.SourceID),
			Source:      source,
			SourceID:    raw.SourceID,
			Title:       title,
			Description: description,
			URL:         strings.TrimSpace(raw.URL),
			Location:    strings.TrimSpace(raw.Location),
			Employer:    strings.TrimSpace(raw.Employer),
			PostedAt:    raw.PostedAt,
			FetchedAt:   now,
			ContentHash: job.ContentHash(title, description),
			Status:      job.StatusNew,
		}

		outcome, err := n.store.UpsertPosting(ctx, posting)
		if err != nil {
			return stats, fmt.Errorf("upsert posting %s: %w", posting.ID, err)
		}

		stats.Ingested++
		switch outcome {
		case store.UpsertInserted:
			stats.Inserted++
		case store.UpsertReset:
			stats.Reset++
			n.logger.Info("posting content changed, queued for re-evaluation",
				zap.String("job_id", posting.ID),
				zap.String("title", posting.Title),
			)
		}
	}

	n.logger.Info("ingestion completed",
		zap.String("source", source),
		zap.Int("ingested", stats.Ingested),
		zap.Int("inserted", stats.Inserted),
		zap.Int("reset", stats.Reset),
		zap.Int("skipped_malformed", stats.SkippedMalformed),
		zap.Int("skipped_stale", stats.SkippedStale),
	)

	return stats, nil
}
