package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 50.0, cfg.Matching.DistanceThresholdKM, 0.001)
	assert.InDelta(t, 90.0, cfg.Matching.TextConfidence, 0.001)
	assert.Equal(t, 8, cfg.Matching.BatchConcurrency)
	assert.InDelta(t, 0.0, cfg.Matching.WritesPerSecond, 0.001)
	assert.Equal(t, 6, cfg.Ranking.HubLimit)
	assert.Equal(t, 2, cfg.Ranking.HubMaxPerParent)
	assert.Equal(t, 6, cfg.Ranking.CommunityLimit)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
  database_url: groups.db
log:
  level: debug
  format: console
server:
  port: 9090
matching:
  distance_threshold_km: 25
ranking:
  hub_limit: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "groups.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 25.0, cfg.Matching.DistanceThresholdKM, 0.001)
	assert.Equal(t, 10, cfg.Ranking.HubLimit)
	// Defaults still apply for unset values
	assert.InDelta(t, 90.0, cfg.Matching.TextConfidence, 0.001)
	assert.Equal(t, 2, cfg.Ranking.HubMaxPerParent)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
ranking:
  hub_limit: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("GROUPS_RANKING_HUB_LIMIT", "3")
	t.Setenv("GROUPS_STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Ranking.HubLimit)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "not-a-level"}))
}
