// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	custom_errors "scm-graph-fetcher/internal/errors"
	"scm-graph-fetcher/internal/model"
)

const (
	ProviderBitbucket = "bitbucket"
	ProviderGithub    = "github"

	// DatabaseFileName is the SQLite file created inside DATABASE_DIR.
	DatabaseFileName = "database.db"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`
	Provider string `mapstructure:"PROVIDER"`

	BitbucketUsername    string `mapstructure:"BITBUCKET_USERNAME"`
	BitbucketPassword    string `mapstructure:"BITBUCKET_PASSWORD"`
	BitbucketAccessToken string `mapstructure:"BITBUCKET_ACCESS_TOKEN"`
	BitbucketAPIURL      string `mapstructure:"BITBUCKET_API_URL"`

	GithubToken  string `mapstructure:"GITHUB_TOKEN"`
	GithubAPIURL string `mapstructure:"GITHUB_API_URL"`

	DBURL       string `mapstructure:"DB_URL"`
	DatabaseDir string `mapstructure:"DATABASE_DIR"`

	RequestPageSize     int           `mapstructure:"REQUEST_PAGE_SIZE"`
	IgnoredRepos        []string      `mapstructure:"IGNORED_REPOS"`
	BranchPageLimit     int           `mapstructure:"BRANCH_PAGE_LIMIT"`
	CommitPageLimit     int           `mapstructure:"COMMIT_PAGE_LIMIT"`
	CommitMonthLimit    int           `mapstructure:"COMMIT_MONTH_LIMIT"`
	MainBranchOnly      bool          `mapstructure:"MAIN_BRANCH_ONLY"`
	BackoffBase         time.Duration `mapstructure:"BACKOFF_BASE"`
	MaxRateLimitRetries int           `mapstructure:"MAX_RATE_LIMIT_RETRIES"`
	RequestsPerSecond   float64       `mapstructure:"REQUESTS_PER_SECOND"`
	HTTPTimeout         time.Duration `mapstructure:"HTTP_TIMEOUT"`

	SyncInterval time.Duration `mapstructure:"SYNC_INTERVAL"`
	HTTPAddr     string        `mapstructure:"HTTP_ADDR"`
}

var defaults = map[string]any{
	"LOG_LEVEL":              "info",
	"PROVIDER":               ProviderBitbucket,
	"BITBUCKET_API_URL":      "https://api.bitbucket.org/2.0",
	"REQUEST_PAGE_SIZE":      10,
	"BRANCH_PAGE_LIMIT":      1,
	"COMMIT_PAGE_LIMIT":      1,
	"COMMIT_MONTH_LIMIT":     0,
	"MAIN_BRANCH_ONLY":       true,
	"BACKOFF_BASE":           "10s",
	"MAX_RATE_LIMIT_RETRIES": 0,
	"REQUESTS_PER_SECOND":    0,
	"HTTP_TIMEOUT":           "30s",
	"SYNC_INTERVAL":          "1h",
	"HTTP_ADDR":              ":8080",
}

// Keys without a default still have to be bound, or Unmarshal never sees them.
var envOnly = []string{
	"BITBUCKET_USERNAME",
	"BITBUCKET_PASSWORD",
	"BITBUCKET_ACCESS_TOKEN",
	"GITHUB_TOKEN",
	"GITHUB_API_URL",
	"DB_URL",
	"DATABASE_DIR",
	"IGNORED_REPOS",
}

// LoadConfig reads configuration from a .env file in the working directory
// and/or environment variables.
func LoadConfig() (*Config, error) {
	return load(".")
}

func load(configPath string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(configPath)
	_ = v.ReadInConfig() // Ignore error if file not found

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnly {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.IgnoredRepos = cleanList(cfg.IgnoredRepos)
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case ProviderBitbucket:
		if c.BitbucketAccessToken == "" {
			if c.BitbucketUsername == "" {
				return &custom_errors.ErrMissingConfig{Field: "BITBUCKET_USERNAME", Hint: "or set BITBUCKET_ACCESS_TOKEN"}
			}
			if c.BitbucketPassword == "" {
				return &custom_errors.ErrMissingConfig{Field: "BITBUCKET_PASSWORD", Hint: "app password"}
			}
		}
	case ProviderGithub:
		if c.GithubToken == "" {
			return &custom_errors.ErrMissingConfig{Field: "GITHUB_TOKEN"}
		}
	default:
		return &custom_errors.ErrInvalidConfig{Field: "PROVIDER", Value: c.Provider, Reason: "must be bitbucket or github"}
	}

	if c.DBURL == "" && c.DatabaseDir == "" {
		return &custom_errors.ErrMissingConfig{Field: "DB_URL", Hint: "or set DATABASE_DIR"}
	}
	if c.RequestPageSize <= 0 {
		return &custom_errors.ErrInvalidConfig{Field: "REQUEST_PAGE_SIZE", Value: fmt.Sprint(c.RequestPageSize), Reason: "must be positive"}
	}
	if c.BackoffBase <= 0 {
		return &custom_errors.ErrInvalidConfig{Field: "BACKOFF_BASE", Value: c.BackoffBase.String(), Reason: "must be positive"}
	}
	if c.RequestsPerSecond < 0 {
		return &custom_errors.ErrInvalidConfig{Field: "REQUESTS_PER_SECOND", Value: fmt.Sprint(c.RequestsPerSecond), Reason: "must not be negative"}
	}
	if c.SyncInterval <= 0 {
		return &custom_errors.ErrInvalidConfig{Field: "SYNC_INTERVAL", Value: c.SyncInterval.String(), Reason: "must be positive"}
	}
	return nil
}

// DatabaseURL returns DB_URL, or a sqlite:// URL for the database file
// inside DATABASE_DIR, creating the directory if needed.
func (c *Config) DatabaseURL() (string, error) {
	if c.DBURL != "" {
		return c.DBURL, nil
	}
	dir, err := filepath.Abs(c.DatabaseDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create database dir: %w", err)
	}
	return "sqlite://" + filepath.Join(dir, DatabaseFileName), nil
}

// IgnoredRepoSet returns IGNORED_REPOS as a set of normalized names.
func (c *Config) IgnoredRepoSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.IgnoredRepos))
	for _, name := range c.IgnoredRepos {
		set[model.NormalizeRepoName(name)] = struct{}{}
	}
	return set
}

func cleanList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
