package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost:5000", cfg.Address())
	assert.Equal(t, int64(100<<20), cfg.Capacity())
}

func TestLoadFlagOverrides(t *testing.T) {
	cfg, err := Load([]string{"-port", "6001", "-router", "ring", "-capacity-mb", "10"})
	require.NoError(t, err)

	assert.Equal(t, 6001, cfg.Port)
	assert.Equal(t, "ring", cfg.Router)
	assert.Equal(t, int64(10<<20), cfg.Capacity())
	require.NoError(t, cfg.Validate())
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7000\ncache_dir: /tmp/fc\nmax_workers: 8\n"), 0o644))

	cfg, err := Load([]string{"-config", path})
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "/tmp/fc", cfg.CacheDir)
	assert.Equal(t, 8, cfg.MaxWorkers)
}

func TestFlagsBeatFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7000\n"), 0o644))
	t.Setenv("FORGECACHE_PORT", "7500")

	cfg, err := Load([]string{"-config", path, "-port", "8000"})
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Port)
}

func TestEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7000\n"), 0o644))
	t.Setenv("FORGECACHE_PORT", "7500")

	cfg, err := Load([]string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, 7500, cfg.Port)
}

// Every config field has an environment counterpart.
func TestEnvCoversAllFields(t *testing.T) {
	t.Setenv("FORGECACHE_HOST", "10.0.0.9")
	t.Setenv("FORGECACHE_PORT", "7100")
	t.Setenv("FORGECACHE_CAPACITY_MB", "25")
	t.Setenv("FORGECACHE_CACHE_DIR", "/tmp/fc-env")
	t.Setenv("FORGECACHE_MAX_WORKERS", "9")
	t.Setenv("FORGECACHE_DIAL_TIMEOUT", "7")
	t.Setenv("FORGECACHE_READ_TIMEOUT", "11")
	t.Setenv("FORGECACHE_WRITE_TIMEOUT", "13")
	t.Setenv("FORGECACHE_RETRIES", "6")
	t.Setenv("FORGECACHE_ROUTER", "ring")
	t.Setenv("FORGECACHE_VIRTUAL_NODES", "64")
	t.Setenv("FORGECACHE_METRICS_ADDR", ":9200")
	t.Setenv("FORGECACHE_LOG", "debug")

	cfg, err := Load(nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "10.0.0.9", cfg.Host)
	assert.Equal(t, 7100, cfg.Port)
	assert.Equal(t, 25, cfg.CapacityMB)
	assert.Equal(t, "/tmp/fc-env", cfg.CacheDir)
	assert.Equal(t, 9, cfg.MaxWorkers)
	assert.Equal(t, 7, cfg.DialTimeout)
	assert.Equal(t, 11, cfg.ReadTimeout)
	assert.Equal(t, 13, cfg.WriteTimeout)
	assert.Equal(t, 6, cfg.Retries)
	assert.Equal(t, "ring", cfg.Router)
	assert.Equal(t, 64, cfg.VirtualNodes)
	assert.Equal(t, ":9200", cfg.MetricsAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		mutate func(*Config)
		name   string
	}{
		{name: "bad port", mutate: func(c *Config) { c.Port = 0 }},
		{name: "zero capacity", mutate: func(c *Config) { c.CapacityMB = 0 }},
		{name: "empty cache dir", mutate: func(c *Config) { c.CacheDir = "" }},
		{name: "zero workers", mutate: func(c *Config) { c.MaxWorkers = 0 }},
		{name: "zero read timeout", mutate: func(c *Config) { c.ReadTimeout = 0 }},
		{name: "unknown router", mutate: func(c *Config) { c.Router = "rendezvous" }},
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
