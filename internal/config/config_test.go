package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "sh", cfg.Executor.Shell)
	assert.Equal(t, 10*time.Minute, cfg.Executor.DefaultTimeout)
	assert.Equal(t, time.Second, cfg.Executor.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Capture.DrainGrace)
	assert.Equal(t, 8713, cfg.Gateway.Port)
	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention.MaxAgeDuration())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
log:
  level: debug
  format: json
capture:
  drain_grace: 2s
executor:
  shell: bash
  default_timeout: 1m
gateway:
  port: 9000
retention:
  max_age: 24h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 2*time.Second, cfg.Capture.DrainGrace)
	assert.Equal(t, "bash", cfg.Executor.Shell)
	assert.Equal(t, time.Minute, cfg.Executor.DefaultTimeout)
	assert.Equal(t, 9000, cfg.Gateway.Port)
	assert.Equal(t, 24*time.Hour, cfg.Retention.MaxAgeDuration())
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [not: valid"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/foo/bar")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "foo", "bar"), got)

	got, err = ExpandPath("/absolute/path")
	require.NoError(t, err)
	assert.Equal(t, "/absolute/path", got)

	got, err = ExpandPath("")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestRetentionMaxAgeFallback(t *testing.T) {
	c := RetentionConfig{MaxAge: "bogus"}
	assert.Equal(t, 7*24*time.Hour, c.MaxAgeDuration())
}
