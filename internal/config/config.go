package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	Aria2 struct {
		RPCURL  string        `envconfig:"RPC_URL" default:"http://localhost:6800/jsonrpc"`
		Secret  string        `envconfig:"SECRET"`
		Timeout time.Duration `envconfig:"TIMEOUT" default:"10s"`
	}

	TaskConfigPath    string        `envconfig:"TASK_CONFIG_PATH" default:"aria2.yaml"`
	DBPath            string        `envconfig:"DB_PATH" default:"fetches.db"`
	LockPath          string        `envconfig:"LOCK_PATH" default:"seedbox_aria2.lock"`
	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"30s"`
	BatchSize         int           `envconfig:"BATCH_SIZE" default:"20"`
	MaxParallel       int           `envconfig:"MAX_PARALLEL" default:"5"`
	KeepFinishedFor   time.Duration `envconfig:"KEEP_FINISHED_FOR" default:"168h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"seedbox_aria2"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Transmission struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9091"`
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

	if cfg.MaxParallel < 1 {
		return nil, fmt.Errorf("MAX_PARALLEL must be at least 1, got %d", cfg.MaxParallel)
	}

	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("BATCH_SIZE must be at least 1, got %d", cfg.BatchSize)
	}

	return &cfg, nil
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
