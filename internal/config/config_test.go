package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Dialect)
	assert.Equal(t, 8, cfg.Pool.MaxSize)
	assert.Equal(t, 1024, cfg.Cache.Capacity)
	assert.Equal(t, time.Second, cfg.Lock.Wait)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	content := `
storage:
  dialect: postgres
  dsn: postgres://localhost/taskvine
pool:
  max_size: 16
cache:
  ttl: 90s
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Dialect)
	assert.Equal(t, "postgres://localhost/taskvine", cfg.Storage.DSN)
	assert.Equal(t, 16, cfg.Pool.MaxSize)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Untouched keys keep their defaults.
	assert.Equal(t, 2, cfg.Pool.MinSize)
	assert.Equal(t, 30*time.Second, cfg.Txn.IdleTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TASKVINE_STORAGE_DSN", "/tmp/env.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Storage.DSN)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad dialect", func(c *Config) { c.Storage.Dialect = "oracle" }},
		{"empty dsn", func(c *Config) { c.Storage.DSN = "" }},
		{"min over max", func(c *Config) { c.Pool.MinSize = 9; c.Pool.MaxSize = 4 }},
		{"negative cache", func(c *Config) { c.Cache.Capacity = -1 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("storage: ["), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
