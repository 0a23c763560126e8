package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/italolelis/secure_downloader/internal/transfer"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	// DownloadDir is where transfers are written when a request names no
	// directory. Empty selects transfer.DefaultTargetDir().
	DownloadDir string `envconfig:"DOWNLOAD_DIR"`
	AccessToken string `envconfig:"ACCESS_TOKEN"`
	// SizeHeader names the response header carrying the size descriptor.
	SizeHeader  string        `envconfig:"SIZE_HEADER" default:"Content-Length"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`

	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"24h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile           string        `envconfig:"LOG_FILE"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string        `envconfig:"DB_PATH" default:"transfers.db"`
	MaxParallel       int           `envconfig:"MAX_PARALLEL" default:"5"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"secure_downloader"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
		OTLPInsecure bool   `envconfig:"OTLP_INSECURE"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
	}
}

// LoadConfig loads the optional .env files and then reads environment
// variables into a Config.
func LoadConfig() (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.MaxParallel < 1 {
		return nil, fmt.Errorf("MAX_PARALLEL must be at least 1, got %d", cfg.MaxParallel)
	}

	return &cfg, nil
}

// loadEnvFiles loads .env, then .env.<ENV> and .env.local, each overriding
// the previous one. Missing files are skipped. Variables already set in the
// process environment win over .env but not over the override files.
func loadEnvFiles() error {
	if err := loadIfExists(".env", godotenv.Load); err != nil {
		return err
	}

	if env := os.Getenv("ENV"); env != "" {
		if err := loadIfExists(".env."+env, godotenv.Overload); err != nil {
			return err
		}
	}

	return loadIfExists(".env.local", godotenv.Overload)
}

func loadIfExists(name string, load func(...string) error) error {
	if _, err := os.Stat(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("failed to stat %s: %w", name, err)
	}

	if err := load(name); err != nil {
		return fmt.Errorf("failed to load %s: %w", name, err)
	}

	return nil
}

// ResolveDownloadDir returns DownloadDir or the default transfer directory.
func (c *Config) ResolveDownloadDir() string {
	if c.DownloadDir != "" {
		return c.DownloadDir
	}

	return transfer.DefaultTargetDir()
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
