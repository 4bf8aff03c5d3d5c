package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileWithDefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: 9090\nengine:\n  bottleneck_threshold: 5\n  sweep_interval: 5m\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("OPS_CASCADE_LOOKAHEAD_DAYS", "10")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Engine.BottleneckThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Engine.SweepInterval)
	assert.Equal(t, 10, cfg.Engine.CascadeLookaheadDays)
	assert.Equal(t, "db.internal", cfg.Database.Host)

	// defaults
	assert.Equal(t, 7, cfg.Engine.OverdueCriticalDays)
	assert.Equal(t, 10, cfg.Engine.ChainMaxDepth)
	assert.Equal(t, 3, cfg.Sync.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Sync.RetryBackoff)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("OTS_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnvOrDefault("OTS_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnvOrDefault("OTS_TEST_UNSET_VALUE", "fallback"))
}
