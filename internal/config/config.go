package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	LogLevel string `mapstructure:"log_level"`
	Verbose  bool   `mapstructure:"verbose"`

	CohortsBaseURL     string        `mapstructure:"cohorts_base_url"`
	HTTPTimeoutSeconds int64         `mapstructure:"http_timeout_seconds"`
	HTTPTimeout        time.Duration `mapstructure:"-"`

	ProjectsFile   string `mapstructure:"projects_file"`
	PublishersFile string `mapstructure:"publishers_file"`
	SecretsRegion  string `mapstructure:"secrets_region"`

	// Fallback project used when no projects file is configured.
	AmplitudeAPIKey    string `mapstructure:"amplitude_api_key"`
	AmplitudeSecretKey string `mapstructure:"amplitude_secret_key"`
	AmplitudeAppID     string `mapstructure:"amplitude_app_id"`

	JournalType            string        `mapstructure:"journal_type"`
	JournalPath            string        `mapstructure:"journal_path"`
	JournalTTLSeconds      int64         `mapstructure:"journal_ttl_seconds"`
	JournalCleanupSeconds  int64         `mapstructure:"journal_cleanup_interval_seconds"`
	JournalTTL             time.Duration `mapstructure:"-"`
	JournalCleanupInterval time.Duration `mapstructure:"-"`
}

var keys = []string{
	"app_name", "app_env", "log_level", "verbose",
	"cohorts_base_url", "http_timeout_seconds",
	"projects_file", "publishers_file", "secrets_region",
	"amplitude_api_key", "amplitude_secret_key", "amplitude_app_id",
	"journal_type", "journal_path", "journal_ttl_seconds", "journal_cleanup_interval_seconds",
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetDefault("app_name", "amplitude-cohorts")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("verbose", false)
	v.SetDefault("cohorts_base_url", "https://amplitude.com/api/3/cohorts")
	v.SetDefault("http_timeout_seconds", 30)
	v.SetDefault("projects_file", "")
	v.SetDefault("publishers_file", "")
	v.SetDefault("secrets_region", "us-east-1")
	v.SetDefault("amplitude_api_key", "")
	v.SetDefault("amplitude_secret_key", "")
	v.SetDefault("amplitude_app_id", "")
	v.SetDefault("journal_type", "bbolt")
	v.SetDefault("journal_path", "./data/uploads.db")
	v.SetDefault("journal_ttl_seconds", int64((24*time.Hour)/time.Second))
	v.SetDefault("journal_cleanup_interval_seconds", int64((6*time.Hour)/time.Second))

	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.HTTPTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("invalid http_timeout_seconds (must be positive seconds)")
	}
	cfg.HTTPTimeout = time.Duration(cfg.HTTPTimeoutSeconds) * time.Second

	if strings.TrimSpace(cfg.CohortsBaseURL) == "" {
		return nil, fmt.Errorf("cohorts_base_url must not be empty")
	}

	if cfg.JournalTTLSeconds <= 0 {
		return nil, fmt.Errorf("invalid journal_ttl_seconds (must be positive seconds)")
	}
	if cfg.JournalCleanupSeconds <= 0 {
		return nil, fmt.Errorf("invalid journal_cleanup_interval_seconds (must be positive seconds)")
	}
	cfg.JournalTTL = time.Duration(cfg.JournalTTLSeconds) * time.Second
	cfg.JournalCleanupInterval = time.Duration(cfg.JournalCleanupSeconds) * time.Second

	return &cfg, nil
}
