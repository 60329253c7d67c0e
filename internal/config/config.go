package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	TargetDir   string            `envconfig:"TARGET_DIR" default:"."`
	MaxParallel int               `envconfig:"MAX_PARALLEL" default:"4"`
	Attempts    int               `envconfig:"ATTEMPTS" default:"3"`
	BackoffCap  time.Duration     `envconfig:"BACKOFF_CAP" default:"5s"`
	Timeout     time.Duration     `envconfig:"TIMEOUT" default:"60s"`
	ChunkSize   datasize.ByteSize `envconfig:"CHUNK_SIZE" default:"32KB"`
	Resume      bool              `envconfig:"RESUME" default:"true"`
	Overwrite   bool              `envconfig:"OVERWRITE" default:"false"`
	// TerminalStatus lists HTTP codes that fail a transfer without retrying.
	TerminalStatus []int `envconfig:"TERMINAL_STATUS" default:"401,403,404,410"`

	LogLevel  string  `envconfig:"LOG_LEVEL" default:"INFO"`
	UserAgent string  `envconfig:"USER_AGENT" default:"fetcher/1.0"`
	RateLimit float64 `envconfig:"RATE_LIMIT"` // requests per second, 0 disables
	RateBurst int     `envconfig:"RATE_BURST" default:"4"`

	DBPath            string        `envconfig:"DB_PATH"`
	KeepStagingFor    time.Duration `envconfig:"KEEP_STAGING_FOR" default:"72h"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	GithubToken       string        `envconfig:"GITHUB_TOKEN"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"false"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.MaxParallel <= 0:
		return fmt.Errorf("MAX_PARALLEL must be positive, got %d", c.MaxParallel)
	case c.Attempts <= 0:
		return fmt.Errorf("ATTEMPTS must be positive, got %d", c.Attempts)
	case c.ChunkSize == 0 || c.ChunkSize > datasize.GB:
		return fmt.Errorf("CHUNK_SIZE must be between 1B and 1GB, got %s", c.ChunkSize.HR())
	case c.Timeout < 0:
		return fmt.Errorf("TIMEOUT must not be negative, got %s", c.Timeout)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
