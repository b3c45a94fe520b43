package cmd

import (
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "jobsearch-agent"
)

type Config struct {
	Database    string            `mapstructure:"database"`
	ProfileFile string            `mapstructure:"profile-file"`
	Search      *SearchConfig     `mapstructure:"search"`
	Classifier  *ClassifierConfig `mapstructure:"classifier"`
	Notify      *NotifyConfig     `mapstructure:"notify"`
	Watch       *WatchConfig      `mapstructure:"watch"`
}

type SearchConfig struct {
	Query  string        `mapstructure:"query"`
	MaxAge time.Duration `mapstructure:"max-age"`
}

type ClassifierConfig struct {
	Provider      string        `mapstructure:"provider"`
	Threshold     float64       `mapstructure:"threshold"`
	MaxRetries    int           `mapstructure:"max-retries"`
	Workers       int           `mapstructure:"workers"`
	RatePerSecond float64       `mapstructure:"rate-per-second"`
	ErrorCap      int           `mapstructure:"error-cap"`
	CallTimeout   time.Duration `mapstructure:"call-timeout"`
	MaxLogLength  int           `mapstructure:"max-log-length"`
	Gemini        *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
}

type NotifyConfig struct {
	Recipient  string      `mapstructure:"recipient"`
	MaxRetries int         `mapstructure:"max-retries"`
	SMTP       *SMTPConfig `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	PasswordFile string `mapstructure:"password-file"`
	From         string `mapstructure:"from"`
	StartTLS     bool   `mapstructure:"starttls"`
}

type WatchConfig struct {
	Schedule string `mapstructure:"schedule"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "jobsearch-agent discovers job postings, matches them against your profile and notifies you about each match exactly once",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("classifier.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("notify.smtp.password-file", "SMTP_PASSWORD_FILE"); err != nil {
		log.Fatalf("binding SMTP_PASSWORD_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is "+app+".yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	viper.SetDefault("database", app+".db")
	viper.SetDefault("profile-file", "profile.yaml")
	viper.SetDefault("classifier.threshold", 0.8)
	viper.SetDefault("classifier.max-retries", 3)
	viper.SetDefault("classifier.workers", 4)
	viper.SetDefault("classifier.error-cap", 5)
	viper.SetDefault("notify.max-retries", 3)
	viper.SetDefault("watch.schedule", "@every 6h")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
		viper.SetConfigType("yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
