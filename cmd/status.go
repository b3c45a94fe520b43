package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rizwan0110/JobSearch-Agent/internal/job"
	"github.com/rizwan0110/JobSearch-Agent/internal/logger"
	"github.com/rizwan0110/JobSearch-Agent/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show posting counts per status and the notification ledger",
	Run: func(cmd *cobra.Command, _ []string) {
		status(cmd)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type ledgerEntry struct {
	JobID   string `json:"job_id"`
	Channel string `json:"channel"`
	Status  string `json:"status"`
	SentAt  string `json:"sent_at"`
}

func status(_ *cobra.Command) {
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

	counts, err := st.CountByStatus(ctx)
	if err != nil {
		logger.Fatal("counting postings", zap.Error(err))
	}

	records, err := st.ListNotifications(ctx)
	if err != nil {
		logger.Fatal("reading the notification ledger", zap.Error(err))
	}

	ledger := make([]ledgerEntry, 0, len(records))
	for _, rec := range records {
		ledger = append(ledger, ledgerEntry{
			JobID:   rec.JobID,
			Channel: rec.Channel,
			Status:  string(rec.Status),
			SentAt:  rec.SentAt.Format(time.RFC3339),
		})
	}

	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}

	out := map[string]any{
		"postings":     byStatus,
		"ledger":       ledger,
		"ledger_count": len(ledger),
	}

	pretty, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(pretty))

	logger.Info("status report",
		zap.Int("new", counts[job.StatusNew]),
		zap.Int("matched", counts[job.StatusMatched]),
		zap.Int("notified", counts[job.StatusNotified]),
		zap.Int("rejected", counts[job.StatusRejected]),
		zap.Int("errored", counts[job.StatusError]),
	)
}
