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
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`
	DBURL       string `mapstructure:"DB_URL"`
	GithubToken string `mapstructure:"GITHUB_TOKEN"`

	// Repositories and Branches define the default (repository, branch)
	// cross product an ingestion run walks when the caller does not narrow it.
	Repositories []string `mapstructure:"REPOSITORIES"`
	Branches     []string `mapstructure:"BRANCHES"`

	// MaxCommitsPerBranch caps one branch run; 0 means unlimited.
	MaxCommitsPerBranch int `mapstructure:"MAX_COMMITS_PER_BRANCH"`

	// RateLimitFloor is the remaining-quota threshold below which the
	// ingestor pauses for RateLimitCooldown before the next page fetch.
	RateLimitFloor    int           `mapstructure:"RATE_LIMIT_FLOOR"`
	RateLimitCooldown time.Duration `mapstructure:"RATE_LIMIT_COOLDOWN"`

	// PatchMaxLen caps stored patch text per file change, in bytes.
	PatchMaxLen int `mapstructure:"PATCH_MAX_LEN"`

	// CancelGracePeriod bounds how long cancel waits for the worker to stop
	// cooperatively before the run slot is force-released.
	CancelGracePeriod time.Duration `mapstructure:"CANCEL_GRACE_PERIOD"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8000")
	viper.SetDefault("REPOSITORIES", []string{"odoo/odoo", "odoo/enterprise"})
	viper.SetDefault("BRANCHES", []string{"16.0", "17.0", "18.0", "19.0", "master"})
	viper.SetDefault("MAX_COMMITS_PER_BRANCH", 0)
	viper.SetDefault("RATE_LIMIT_FLOOR", 100)
	viper.SetDefault("RATE_LIMIT_COOLDOWN", "60s")
	viper.SetDefault("PATCH_MAX_LEN", 50000)
	viper.SetDefault("CANCEL_GRACE_PERIOD", "10s")

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
	if len(cfg.Repositories) == 0 {
		return nil, errors.New("REPOSITORIES must contain at least one repository")
	}
	if len(cfg.Branches) == 0 {
		return nil, errors.New("BRANCHES must contain at least one branch")
	}
	if cfg.MaxCommitsPerBranch < 0 {
		return nil, errors.New("MAX_COMMITS_PER_BRANCH must be >= 0")
	}
	if cfg.PatchMaxLen <= 0 {
		return nil, errors.New("PATCH_MAX_LEN must be > 0")
	}

	return &cfg, nil
}
