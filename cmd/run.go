package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rizwan0110/JobSearch-Agent/internal/agent"
	"github.com/rizwan0110/JobSearch-Agent/internal/classify"
	"github.com/rizwan0110/JobSearch-Agent/internal/classify/gemini"
	"github.com/rizwan0110/JobSearch-Agent/internal/ingest"
	"github.com/rizwan0110/JobSearch-Agent/internal/job"
	"github.com/rizwan0110/JobSearch-Agent/internal/jobtech"
	"github.com/rizwan0110/JobSearch-Agent/internal/logger"
	"github.com/rizwan0110/JobSearch-Agent/internal/match"
	"github.com/rizwan0110/JobSearch-Agent/internal/notify"
	"github.com/rizwan0110/JobSearch-Agent/internal/notify/email"
	"github.com/rizwan0110/JobSearch-Agent/internal/retry"
	"github.com/rizwan0110/JobSearch-Agent/internal/secrets"
	"github.com/rizwan0110/JobSearch-Agent/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one full ingest, match and notify cycle",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// run executes a single pipeline cycle.
func run(_ *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the jobsearch-agent", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	pipeline, cleanup, err := buildPipeline(ctx, config, logger)
	if err != nil {
		logger.Fatal("building the pipeline", zap.Error(err))
	}
	defer cleanup()

	profile, err := job.LoadProfile(config.ProfileFile)
	if err != nil {
		logger.Fatal("loading the profile", zap.Error(err),
			zap.String("hint", "set profile-file in the configuration file"),
		)
	}

	report, err := pipeline.RunCycle(ctx, profile)
	if err != nil {
		logger.Fatal("pipeline cycle failed", zap.Error(err))
	}

	prettyReport, _ := json.MarshalIndent(report, "", "  ")
	logger.Info("run report", zap.String("run_id", report.RunID))
	fmt.Println(string(prettyReport))
}

// buildPipeline assembles the agent and its collaborators from the config.
// The returned cleanup closes the store.
func buildPipeline(ctx context.Context, config *Config, logger *zap.Logger) (*agent.Agent, func(), error) {
	if config == nil {
		return nil, nil, errors.New("config is required")
	}
	if config.Search == nil || strings.TrimSpace(config.Search.Query) == "" {
		return nil, nil, errors.New("a search query is required under search.query")
	}
	if config.Notify == nil || strings.TrimSpace(config.Notify.Recipient) == "" {
		return nil, nil, errors.New("a recipient is required under notify.recipient")
	}

	st, err := store.Open(config.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening the store: %w", err)
	}
	cleanup := func() { _ = st.Close() }

	classifier, err := newClassifier(ctx, config.Classifier, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("building the classifier: %w", err)
	}

	channel, err := newEmailChannel(config.Notify, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("building the email channel: %w", err)
	}

	source := jobtech.New(logger)

	normalizer := ingest.NewNormalizer(st, logger)
	if config.Search.MaxAge > 0 {
		normalizer.MaxAge = config.Search.MaxAge
	}

	engine := match.NewEngine(st, classifier, logger, match.Config{
		Threshold:     config.Classifier.Threshold,
		Workers:       config.Classifier.Workers,
		ErrorCap:      config.Classifier.ErrorCap,
		RatePerSecond: config.Classifier.RatePerSecond,
		Retry:         retryPolicy(config.Classifier.MaxRetries),
	})

	dispatcher := notify.NewDispatcher(st, channel, logger, notify.Config{
		Recipient: config.Notify.Recipient,
		Retry:     retryPolicy(config.Notify.MaxRetries),
	})

	return agent.New(st, source, normalizer, engine, dispatcher, logger, config.Search.Query), cleanup, nil
}

func retryPolicy(maxAttempts int) retry.Policy {
	policy := retry.DefaultPolicy()
	if maxAttempts > 0 {
		policy.MaxAttempts = maxAttempts
	}
	return policy
}

func newClassifier(ctx context.Context, cfg *ClassifierConfig, logger *zap.Logger) (classify.Classifier, error) {
	if cfg == nil {
		return nil, errors.New("classifier configuration is required")
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported classifier provider: %s", cfg.Provider)
	}

	if cfg.Gemini == nil {
		return nil, errors.New("gemini configuration is required")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.Gemini.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set classifier.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model)
	if err != nil {
		return nil, err
	}

	return gemini.NewClassifier(generator, logger, cfg.CallTimeout, cfg.MaxLogLength), nil
}

func newEmailChannel(cfg *NotifyConfig, log *zap.Logger) (notify.Channel, error) {
	if cfg.SMTP == nil {
		return nil, errors.New("smtp configuration is required under notify.smtp")
	}

	password := ""
	if strings.TrimSpace(cfg.SMTP.PasswordFile) != "" {
		loaded, err := secrets.Load(secrets.Source{
			Name: "smtp password",
			File: cfg.SMTP.PasswordFile,
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set notify.smtp.password-file or SMTP_PASSWORD_FILE)", err)
		}
		password = loaded
	}

	return email.New(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: password,
		From:     cfg.SMTP.From,
		StartTLS: cfg.SMTP.StartTLS,
	}, log)
}
