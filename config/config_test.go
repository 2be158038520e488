package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 24, cfg.Story.DefaultDurationHours)
	assert.Equal(t, int64(100*1024*1024), cfg.Story.MaxUploadBytes)
	assert.Equal(t, 3, cfg.Story.UploadAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Story.CacheTTL)
	assert.Equal(t, 3, cfg.Story.PreloadConcurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Story.UpdateDebounce)
	assert.Equal(t, "redis", cfg.Realtime.Driver)
}

func TestLoadFrom_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
database:
  driver: sqlite
  dsn: ":memory:"
story:
  cache_ttl: 2m
  upload_attempts: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("STORY_SERVER_PORT", "9090")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Story.CacheTTL)
	assert.Equal(t, 5, cfg.Story.UploadAttempts)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadFrom_RejectsUnknownDriver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: s3\n"), 0o600))

	_, err := LoadFrom(path)
	assert.ErrorContains(t, err, "unsupported storage driver")
}

func TestLoadFrom_MissingExplicitFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
