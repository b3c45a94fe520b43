package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rizwan0110/JobSearch-Agent/internal/job"
	"github.com/rizwan0110/JobSearch-Agent/internal/logger"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run pipeline cycles on a cron schedule until interrupted",
	Run: func(cmd *cobra.Command, _ []string) {
		watch(cmd)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func watch(_ *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	schedule := "@every 6h"
	if config.Watch != nil && config.Watch.Schedule != "" {
		schedule = config.Watch.Schedule
	}

	pipeline, cleanup, err := buildPipeline(ctx, config, logger)
	if err != nil {
		logger.Fatal("building the pipeline", zap.Error(err))
	}
	defer cleanup()

	cycle := func() {
		// The profile is reloaded every cycle so version bumps take
		// effect without a restart.
		profile, err := job.LoadProfile(config.ProfileFile)
		if err != nil {
			logger.Error("loading the profile", zap.Error(err))
			return
		}

		if _, err := pipeline.RunCycle(ctx, profile); err != nil {
			logger.Error("pipeline cycle failed", zap.Error(err))
		}
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(schedule, cycle); err != nil {
		logger.Fatal("invalid watch schedule",
			zap.String("schedule", schedule),
			zap.Error(err),
		)
	}

	logger.Info("starting the watcher", zap.String("schedule", schedule))

	// Run one cycle immediately so a fresh deployment does not wait for
	// the first tick.
	cycle()

	scheduler.Start()
	<-ctx.Done()

	logger.Info("shutting down", zap.String("reason", "signal received"))
	<-scheduler.Stop().Done()
}
