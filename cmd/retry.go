package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rizwan0110/JobSearch-Agent/internal/job"
	"github.com/rizwan0110/JobSearch-Agent/internal/logger"
	"github.com/rizwan0110/JobSearch-Agent/internal/store"
)

const promptDone = "done"

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Interactively reset errored postings and failed notifications so the next run retries them",
	Run: func(cmd *cobra.Command, _ []string) {
		retryFailed(cmd)
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
}

type retryCandidate struct {
	label   string
	jobID   string
	channel string
	ledger  bool
}

func retryFailed(_ *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	st, err := store.Open(config.Database)
	if err != nil {
		logger.Fatal("opening the store", zap.Error(err))
	}
	defer st.Close()

	for {
		candidates, err := collectCandidates(ctx, st)
		if err != nil {
			logger.Fatal("collecting retry candidates", zap.Error(err))
		}

		if len(candidates) == 0 {
			logger.Info("exiting", zap.String("reason", "nothing left to retry"))
			return
		}

		items := make([]string, 0, len(candidates)+1)
		for _, c := range candidates {
			items = append(items, c.label)
		}
		items = append(items, promptDone)

		prompt := promptui.Select{
			Label: "Choose a posting to retry and press ENTER",
			Items: items,
		}

		idx, selected, err := prompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}

		if selected == promptDone {
			return
		}

		candidate := candidates[idx]
		if err := resetCandidate(ctx, st, candidate); err != nil {
			logger.Fatal("resetting posting", zap.String("job_id", candidate.jobID), zap.Error(err))
		}

		logger.Info("posting queued for retry on the next run",
			zap.String("job_id", candidate.jobID),
		)
	}
}

func collectCandidates(ctx context.Context, st *store.Store) ([]retryCandidate, error) {
	var candidates []retryCandidate

	errored, err := st.ListByStatus(ctx, job.StatusError)
	if err != nil {
		return nil, err
	}
	for _, posting := range errored {
		reason := ""
		if result, err := st.LatestResult(ctx, posting.ID); err == nil {
			reason = result.Rationale
		}
		candidates = append(candidates, retryCandidate{
			label: fmt.Sprintf("[evaluation] %s / %s / %s",
				shortID(posting.ID), posting.Title, firstLine(reason)),
			jobID: posting.ID,
		})
	}

	records, err := st.ListNotifications(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Status != job.NotificationFailedPermanent {
			continue
		}
		title := rec.JobID
		if posting, err := st.GetPosting(ctx, rec.JobID); err == nil {
			title = posting.Title
		}
		candidates = append(candidates, retryCandidate{
			label:   fmt.Sprintf("[notification] %s / %s / %s", shortID(rec.JobID), title, rec.Channel),
			jobID:   rec.JobID,
			channel: rec.Channel,
			ledger:  true,
		})
	}

	return candidates, nil
}

func resetCandidate(ctx context.Context, st *store.Store, c retryCandidate) error {
	if c.ledger {
		return st.DropFailedNotification(ctx, c.jobID, c.channel)
	}

	err := st.Transition(ctx, c.jobID, job.StatusError, job.StatusNew)
	if errors.Is(err, store.ErrConflict) {
		// Someone else already moved it on; nothing left to do.
		return nil
	}
	return err
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		s = s[:idx]
	}
	if len(s) > 80 {
		s = s[:80] + "..."
	}
	return s
}
