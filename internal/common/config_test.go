package common

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("DB_URL", "file:test.db")
	t.Setenv("DB_DRIVER", "sqlite")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Quota.FreePagesPerMonth)
	assert.Equal(t, 10, cfg.Quota.FreeMaxProjects)
	assert.Equal(t, 240*time.Second, cfg.Render.CompileTimeout)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note2tex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: sqlite
  dsn: "file::memory:"
quota:
  free_pages_per_month: 3
render:
  compile_timeout: 90s
layout:
  tolerance_factor: 0.7
`), 0o644))

	t.Setenv(ConfigFileEnv, path)
	t.Setenv("FREE_MAX_PROJECTS", "2")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Quota.FreePagesPerMonth)
	assert.Equal(t, 2, cfg.Quota.FreeMaxProjects)
	assert.Equal(t, 90*time.Second, cfg.Render.CompileTimeout)
	assert.InDelta(t, 0.7, cfg.Layout.ToleranceFactor, 1e-9)
	assert.InDelta(t, 1.25, cfg.Layout.SpreadInflation, 1e-9)
}

func TestLoadConfigBadFile(t *testing.T) {
	t.Setenv(ConfigFileEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Equal(t, CodeConfig, ErrorCode(err))
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.DSN = "postgres://x"
	cfg.Storage.Backend = "s3"
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}
