package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/conrisk/internal/domain"
)

// chdir runs the test from an empty directory so no stray config.yaml or
// .env is picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdir(t)
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, domain.TierCommunity, cfg.Tier)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, int64(10*1024*1024), cfg.Upload.MaxFileSize)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, "channel", cfg.EventBus.Type)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, domain.RiskHigh, cfg.Analysis.AlertLevel)
	assert.Equal(t, "0 0 2 * * *", cfg.Scheduler.ExpireSpec)
	assert.Contains(t, cfg.Server.AllowedOrigins, "http://localhost:5173")
}

func TestLoadRequiresSecret(t *testing.T) {
	chdir(t)
	t.Setenv("JWT_SECRET", "")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t)
	t.Setenv("CONRISK_AUTH_JWT_SECRET", "prefixed")
	t.Setenv("PORT", "8080")
	t.Setenv("FRONTEND_URL", "https://contracts.example.com/")
	t.Setenv("CONRISK_UPLOAD_MAX_FILE_SIZE", "1024")
	t.Setenv("CONRISK_AUTH_TOKEN_TTL", "2h")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "prefixed", cfg.Auth.JWTSecret)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(1024), cfg.Upload.MaxFileSize)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Contains(t, cfg.Server.AllowedOrigins, "https://contracts.example.com")
}

func TestLoadFile(t *testing.T) {
	dir := chdir(t)
	t.Setenv("JWT_SECRET", "s3cret")

	path := filepath.Join(dir, "conrisk.yaml")
	yaml := `
tier: pro
server:
  port: 9000
analysis:
  alert_level: medium
  patterns:
    payment: ["逾期付款", "付款延迟"]
storage:
  minio_bucket: archive
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, domain.RiskMedium, cfg.Analysis.AlertLevel)
	assert.Equal(t, []string{"逾期付款", "付款延迟"}, cfg.Analysis.Patterns["payment"])

	// Pro defaults fill what the file leaves out.
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.Equal(t, "minio", cfg.Storage.Type)
	assert.Equal(t, "archive", cfg.Storage.MinIOBucket)
	assert.True(t, cfg.Analysis.Async)
}

func TestLoadBadFile(t *testing.T) {
	dir := chdir(t)
	t.Setenv("JWT_SECRET", "s3cret")

	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Auth.JWTSecret = "x"
	require.NoError(t, Validate(cfg))

	bad := *cfg
	bad.Analysis.AlertLevel = "severe"
	assert.Error(t, Validate(&bad))

	bad = *cfg
	bad.Server.Port = 0
	assert.Error(t, Validate(&bad))

	bad = *cfg
	bad.Tier = "enterprise"
	assert.Error(t, Validate(&bad))
}
