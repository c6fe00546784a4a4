package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Session.Window)
	assert.Equal(t, time.Hour, cfg.Session.VisitWindow)
	assert.Equal(t, 3, cfg.Ingest.MaxAttempts)
	assert.Equal(t, "umami", cfg.Database.Schema)
	assert.False(t, cfg.ClickHouse.Enabled())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "umami.yaml")
	yaml := []byte("session:\n  window: 45m\nstats:\n  chunk_size: 6h\nclickhouse:\n  host: ch.local\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("INGEST_MAX_ATTEMPTS", "2")
	t.Setenv("JWT_SECRET_KEY", "legacy-secret")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, cfg.Session.Window)
	assert.Equal(t, 6*time.Hour, cfg.Stats.ChunkSize)
	assert.Equal(t, 2, cfg.Ingest.MaxAttempts)
	assert.Equal(t, "legacy-secret", cfg.Auth.JWTSecret)
	assert.True(t, cfg.ClickHouse.Enabled())
}

func TestValidateRejectsBadWindow(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SESSION_WINDOW", "0s")
	_, err := LoadConfig("")
	assert.Error(t, err)
}
