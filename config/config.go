package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for one deploy invocation
type Config struct {
	// Heroku deploy target
	Heroku HerokuConfig

	// Retry policy for transient platform API failures
	Retry RetryConfig `envPrefix:"RETRY_"`

	// Poll policy for build/release status
	Poll PollConfig `envPrefix:"POLL_"`

	// GitHub integration (event payload, deployment statuses)
	GitHub GitHubConfig `envPrefix:"GITHUB_"`

	// Logging configuration
	Log LogConfig `envPrefix:"LOG_"`
}

type HerokuConfig struct {
	// App is the target Heroku app name, e.g. "my-example-heroku-app"
	App string `env:"APP"`

	// APIKey is the Heroku bearer credential. Never logged.
	APIKey string `env:"API_KEY"`

	// APIKeyFile points at a mounted secret file holding the API key.
	// Used when API_KEY itself is not set.
	APIKeyFile string `env:"API_KEY_FILE"`

	// CommitHash is the git commit SHA to deploy,
	// e.g. "59d2e89c36774ee3775050a437c290a6c1afb3db"
	CommitHash string `env:"COMMIT_HASH"`

	// BaseURL allows pointing the client at a test double
	BaseURL string `env:"HEROKU_API_URL" envDefault:"https://api.heroku.com"`

	// SourceTarballURL overrides the archive URL derived from
	// GITHUB_REPOSITORY and the commit SHA
	SourceTarballURL string `env:"SOURCE_TARBALL_URL"`

	// DryRun skips every mutating platform call
	DryRun bool `env:"DRY_RUN" envDefault:"false"`
}

type RetryConfig struct {
	MaxAttempts       int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	InitialBackoff    time.Duration `env:"INITIAL_BACKOFF" envDefault:"1s"`
	MaxBackoff        time.Duration `env:"MAX_BACKOFF" envDefault:"30s"`
	BackoffMultiplier float64       `env:"BACKOFF_MULTIPLIER" envDefault:"2.0"`
}

type PollConfig struct {
	Interval time.Duration `env:"INTERVAL" envDefault:"5s"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"10m"`
}

type GitHubConfig struct {
	// Repository is "owner/name", set by the Actions runner
	Repository string `env:"REPOSITORY"`

	// Token is embedded in the derived tarball URL for private repos
	Token string `env:"TOKEN"`

	// EventPath is the Actions event payload file; the legacy
	// JSON_EVENT_PATH variable is honored as a fallback
	EventPath string `env:"EVENT_PATH"`

	// Deployment status reporting via a GitHub App.
	// The feature is inert unless app id, installation id and key file
	// are all set.
	AppID          int64  `env:"APP_ID"`
	InstallationID int64  `env:"INSTALLATION_ID"`
	PrivateKeyFile string `env:"PRIVATE_KEY_FILE"`

	// Environment reported on GitHub deployment statuses
	Environment string `env:"DEPLOY_ENVIRONMENT" envDefault:"production"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"console"`
}

var commitHashPattern = regexp.MustCompile(`^[0-9a-fA-F]{7,40}$`)

// Overrides carries command-line values that take precedence over the
// environment
type Overrides struct {
	App        string
	APIKey     string
	CommitHash string
	DryRun     bool
}

// Load loads configuration from environment variables and secret files,
// then applies command-line overrides
func Load(overrides Overrides) (*Config, error) {
	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		// Ignore error, use environment variables if no .env file
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if cfg.GitHub.EventPath == "" {
		cfg.GitHub.EventPath = os.Getenv("JSON_EVENT_PATH")
	}

	if overrides.App != "" {
		cfg.Heroku.App = overrides.App
	}
	if overrides.APIKey != "" {
		cfg.Heroku.APIKey = overrides.APIKey
	}
	if overrides.CommitHash != "" {
		cfg.Heroku.CommitHash = overrides.CommitHash
	}
	if overrides.DryRun {
		cfg.Heroku.DryRun = true
	}

	if err := loadSecrets(cfg); err != nil {
		return nil, err
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadSecrets resolves file-mounted secrets into the config
func loadSecrets(cfg *Config) error {
	if cfg.Heroku.APIKey == "" && cfg.Heroku.APIKeyFile != "" {
		key, err := loadSecretFile(cfg.Heroku.APIKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load Heroku API key: %w", err)
		}
		cfg.Heroku.APIKey = strings.TrimSpace(string(key))
	}
	return nil
}

// loadSecretFile loads a secret from a file path
func loadSecretFile(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("secret file path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret file %s: %w", path, err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("secret file %s is empty", path)
	}

	return data, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Heroku.App == "" {
		return fmt.Errorf("APP is required")
	}
	if cfg.Heroku.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if cfg.Heroku.CommitHash == "" {
		return fmt.Errorf("COMMIT_HASH is required")
	}
	if !commitHashPattern.MatchString(cfg.Heroku.CommitHash) {
		return fmt.Errorf("COMMIT_HASH %q is not a git commit hash", cfg.Heroku.CommitHash)
	}
	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.Poll.Interval <= 0 || cfg.Poll.Timeout <= 0 {
		return fmt.Errorf("POLL_INTERVAL and POLL_TIMEOUT must be positive")
	}
	return nil
}

// SourceURL returns the archive URL the platform fetches the commit's
// source tree from. An explicit SOURCE_TARBALL_URL wins; otherwise the
// URL is derived from GITHUB_REPOSITORY and the commit SHA.
func (c *Config) SourceURL() (string, error) {
	if c.Heroku.SourceTarballURL != "" {
		return c.Heroku.SourceTarballURL, nil
	}
	if c.GitHub.Repository == "" {
		return "", fmt.Errorf("either SOURCE_TARBALL_URL or GITHUB_REPOSITORY is required to locate the commit's source archive")
	}
	if c.GitHub.Token != "" {
		// api.github.com tarball redirects honor token auth; codeload does not
		return fmt.Sprintf("https://api.github.com/repos/%s/tarball/%s?access_token=%s",
			c.GitHub.Repository, c.Heroku.CommitHash, c.GitHub.Token), nil
	}
	return fmt.Sprintf("https://codeload.github.com/%s/tar.gz/%s",
		c.GitHub.Repository, c.Heroku.CommitHash), nil
}

// StatusReportingEnabled reports whether the GitHub deployment status
// feature is fully configured
func (c *Config) StatusReportingEnabled() bool {
	return c.GitHub.AppID != 0 && c.GitHub.InstallationID != 0 && c.GitHub.PrivateKeyFile != "" && c.GitHub.Repository != ""
}

// GitHubPrivateKey loads the GitHub App private key from its configured file
func (c *Config) GitHubPrivateKey() ([]byte, error) {
	return loadSecretFile(c.GitHub.PrivateKeyFile)
}
