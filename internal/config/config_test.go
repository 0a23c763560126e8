package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/secure_downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "Content-Length", cfg.SizeHeader)
	assert.Equal(t, 24*time.Hour, cfg.KeepDownloadedFor)
	assert.Equal(t, 5, cfg.MaxParallel)
	assert.Equal(t, "transfers.db", cfg.DBPath)
	assert.Equal(t, "0.0.0.0:9092", cfg.Web.BindAddress)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, transfer.DefaultTargetDir(), cfg.ResolveDownloadDir())
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DOWNLOAD_DIR", "/data/downloads")
	t.Setenv("ACCESS_TOKEN", "tok")
	t.Setenv("SIZE_HEADER", "X-Content-Size")
	t.Setenv("MAX_PARALLEL", "2")
	t.Setenv("WEB_USERNAME", "admin")
	t.Setenv("OTLP_ENDPOINT", "collector:4317")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/data/downloads", cfg.ResolveDownloadDir())
	assert.Equal(t, "tok", cfg.AccessToken)
	assert.Equal(t, "X-Content-Size", cfg.SizeHeader)
	assert.Equal(t, 2, cfg.MaxParallel)
	assert.Equal(t, "admin", cfg.Web.Username)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
}

func TestLoadConfig_EnvFiles(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ACCESS_TOKEN=from-dotenv\nLOG_LEVEL=debug\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte("LOG_LEVEL=warn\n"), 0o600))

	// Restored after the test; godotenv sets them through os.Setenv.
	t.Setenv("ACCESS_TOKEN", "")
	t.Setenv("LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("ACCESS_TOKEN"))
	require.NoError(t, os.Unsetenv("LOG_LEVEL"))

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.AccessToken)
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
}

func TestLoadConfig_InvalidParallelism(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MAX_PARALLEL", "0")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for in, want := range tests {
		cfg := Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), "level %q", in)
	}
}
