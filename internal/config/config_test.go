package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	require.Equal(t, "serve", cfg.Mode)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "hybrid", cfg.Engine.PayoutPolicy)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
mode = "settle"
log_level = "debug"

[server]
port = 9090

[engine]
payout_policy = "naive_per_share"
trade_lock_ttl = "30s"

[notify]
webhook_url = "https://example.com/hook"
events = ["market_resolved"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "settle", cfg.Mode)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "naive_per_share", cfg.Engine.PayoutPolicy)
	require.Equal(t, 30*time.Second, cfg.Engine.TradeLockTTL.Duration)
	require.Equal(t, "https://example.com/hook", cfg.Notify.WebhookURL)
	require.Equal(t, []string{"market_resolved"}, cfg.Notify.Events)

	// Fields the file omits keep their defaults.
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, "1000", cfg.Engine.DefaultLiquidity)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARKETD_POSTGRES_PASSWORD", "sekrit")
	t.Setenv("MARKETD_SERVER_PORT", "7070")
	t.Setenv("MARKETD_S3_ENABLED", "true")
	t.Setenv("MARKETD_ENGINE_TRADE_LOCK_TTL", "5s")
	t.Setenv("MARKETD_NOTIFY_WEBHOOK_URL", "https://hooks.example.com/x")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	require.Equal(t, "sekrit", cfg.Postgres.Password)
	require.Equal(t, 7070, cfg.Server.Port)
	require.True(t, cfg.S3.Enabled)
	require.Equal(t, 5*time.Second, cfg.Engine.TradeLockTTL.Duration)
	require.Equal(t, "https://hooks.example.com/x", cfg.Notify.WebhookURL)
}

func TestValidateReportsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "orbit"
	cfg.Redis.Addr = ""
	cfg.Server.Port = 0
	cfg.Engine.PayoutPolicy = "lottery"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "mode")
	require.Contains(t, err.Error(), "redis.addr")
	require.Contains(t, err.Error(), "server.port")
	require.Contains(t, err.Error(), "payout_policy")
}

func TestValidateS3RequiresBucket(t *testing.T) {
	cfg := Defaults()
	cfg.S3.Enabled = true
	cfg.S3.Region = "us-east-1"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "s3.bucket")
}
