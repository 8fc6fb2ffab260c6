// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	Environment       string        `mapstructure:"ENVIRONMENT"`
	DBURL             string        `mapstructure:"DB_URL"`
	GithubToken       string        `mapstructure:"GITHUB_TOKEN"`
	HTTPAddr          string        `mapstructure:"HTTP_ADDR"`
	SyncCron          string        `mapstructure:"SYNC_CRON"`
	StarredPageSize   int           `mapstructure:"STARRED_PAGE_SIZE"`
	ReadmeMaxAgeDays  int           `mapstructure:"README_MAX_AGE_DAYS"`
	WorkerPollEvery   time.Duration `mapstructure:"WORKER_POLL_INTERVAL"`
	WorkerMaxAttempts int           `mapstructure:"WORKER_MAX_ATTEMPTS"`
}

// IsProduction reports whether the service runs against the real GitHub API.
// The sync workflow is a no-op outside production unless forced.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ReadmeMaxAge returns the README staleness threshold as a duration.
func (c *Config) ReadmeMaxAge() time.Duration {
	return time.Duration(c.ReadmeMaxAgeDays) * 24 * time.Hour
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("SYNC_CRON", "0 0 * * *")
	viper.SetDefault("STARRED_PAGE_SIZE", 100)
	viper.SetDefault("README_MAX_AGE_DAYS", 30)
	viper.SetDefault("WORKER_POLL_INTERVAL", "1s")
	viper.SetDefault("WORKER_MAX_ATTEMPTS", 10)

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.GithubToken == "" {
		return nil, errors.New("GITHUB_TOKEN is a required configuration field")
	}
	if cfg.StarredPageSize <= 0 || cfg.StarredPageSize > 100 {
		return nil, errors.New("STARRED_PAGE_SIZE must be between 1 and 100")
	}
	if cfg.ReadmeMaxAgeDays <= 0 {
		return nil, errors.New("README_MAX_AGE_DAYS must be positive")
	}

	return &cfg, nil
}
