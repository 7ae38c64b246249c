package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg := Load(dir)

	assert.Equal(t, int64(1000), cfg.Daemon.PollIntervalMs)
	assert.True(t, cfg.Daemon.OrphanDetection.Enabled)
	assert.Equal(t, "pending", cfg.Daemon.OrphanDetection.RecoveryPolicy)
	assert.Equal(t, 3, cfg.Daemon.SessionRecovery.MaxResumeAttempts)
}

func TestLoad_MalformedFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".apex"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".apex", "config.yaml"), []byte("{not: valid: yaml::"), 0o644))

	cfg := Load(dir)

	assert.Equal(t, Default(), cfg)
}

func TestLoad_PartialOverridePreservesOtherDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".apex"), 0o755))
	doc := "daemon:\n  pollIntervalMs: 500\nlimits:\n  maxConcurrentTasks: 4\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".apex", "config.yaml"), []byte(doc), 0o644))

	cfg := Load(dir)

	assert.Equal(t, int64(500), cfg.Daemon.PollIntervalMs)
	assert.Equal(t, 4, cfg.Limits.MaxConcurrentTasks)
	assert.Equal(t, "pending", cfg.Daemon.OrphanDetection.RecoveryPolicy)
	assert.Equal(t, 5, cfg.Daemon.Watchdog.MaxRestarts)
}

func TestLoad_UnrecognizedKeysDoNotFail(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".apex"), 0o755))
	doc := "daemon:\n  pollIntervalMs: 2000\n  bogusKey: true\nfutureTopLevel: 1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".apex", "config.yaml"), []byte(doc), 0o644))

	cfg := Load(dir)

	assert.Equal(t, int64(2000), cfg.Daemon.PollIntervalMs)
}
