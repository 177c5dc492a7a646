package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, "tally.db", cfg.Database.Path)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Clustering.MinClusterSize)
	assert.Equal(t, 3, cfg.Clustering.MinSamples)
	assert.Equal(t, 3, cfg.Clustering.KDistanceMinSamples)
	assert.Equal(t, 1.0, cfg.Clustering.Alpha)
	assert.True(t, cfg.Clustering.Normalize)
	assert.Equal(t, 30.0, cfg.Projection.Perplexity)
	assert.Equal(t, 5, cfg.Embedding.MaxAttempts)
	assert.Equal(t, 128, cfg.Cache.Size)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"min cluster size zero", func(c *Config) { c.Clustering.MinClusterSize = 0 }, "clustering.min_cluster_size"},
		{"min samples zero", func(c *Config) { c.Clustering.MinSamples = 0 }, "clustering.min_samples"},
		{"k-distance needs k >= 1", func(c *Config) { c.Clustering.KDistanceMinSamples = 1 }, "clustering.kdistance_min_samples"},
		{"alpha must be positive", func(c *Config) { c.Clustering.Alpha = 0 }, "clustering.alpha"},
		{"negative recluster interval", func(c *Config) { c.Clustering.ReclusterInterval = -1 }, "recluster_interval_seconds"},
		{"perplexity", func(c *Config) { c.Projection.Perplexity = -2 }, "projection.perplexity"},
		{"attempts", func(c *Config) { c.Embedding.MaxAttempts = 0 }, "embedding.max_attempts"},
		{"cache size zero disables", func(c *Config) { c.Cache.Size = 0 }, ""},
		{"negative cache ttl", func(c *Config) { c.Cache.TTLSeconds = -1 }, "cache.ttl_seconds"},
		{"workers", func(c *Config) { c.Jobs.Workers = 0 }, "jobs.workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[clustering]
min_cluster_size = 8
alpha = 1.5

[cache]
ttl_seconds = 10
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Clustering.MinClusterSize)
	assert.Equal(t, 1.5, cfg.Clustering.Alpha)
	assert.Equal(t, 10, cfg.Cache.TTLSeconds)
	// Untouched keys keep their defaults
	assert.Equal(t, 3, cfg.Clustering.MinSamples)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestUseFile_EnvOverridesFile(t *testing.T) {
	t.Cleanup(Reset)
	path := writeConfig(t, t.TempDir(), `
[clustering]
min_samples = 4
min_cluster_size = 6
`)
	t.Setenv("TALLY_CLUSTERING_MIN_SAMPLES", "7")

	require.NoError(t, UseFile(path))
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Clustering.MinSamples)
	assert.Equal(t, 6, cfg.Clustering.MinClusterSize)
	assert.Equal(t, []string{path}, LoadedFiles())

	// Cached until reset
	again, err := Load()
	require.NoError(t, err)
	assert.Same(t, cfg, again)
}

func TestToTOML(t *testing.T) {
	data, err := ToTOML(defaultConfig(t))
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, "[clustering]")
	assert.Contains(t, out, "min_cluster_size = 5")
	assert.Contains(t, out, "[cache]")
}

func TestConfigWatcher_Reload(t *testing.T) {
	t.Cleanup(Reset)
	dir := t.TempDir()
	path := writeConfig(t, dir, "[clustering]\nmin_cluster_size = 5\n")

	cw, err := NewConfigWatcher(path, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	cw.debouncePeriod = 10 * time.Millisecond

	got := make(chan int, 4)
	cw.OnReload(func(c *Config) error {
		got <- c.Clustering.MinClusterSize
		return nil
	})
	cw.Start()
	t.Cleanup(func() { _ = cw.Stop() })

	writeConfig(t, dir, "[clustering]\nmin_cluster_size = 9\n")

	select {
	case size := <-got:
		assert.Equal(t, 9, size)
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback not called")
	}
}

func TestConfigWatcher_InvalidReloadKeepsCallbacksQuiet(t *testing.T) {
	t.Cleanup(Reset)
	dir := t.TempDir()
	path := writeConfig(t, dir, "[clustering]\nmin_cluster_size = 5\n")

	cw, err := NewConfigWatcher(path, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	called := false
	cw.OnReload(func(*Config) error {
		called = true
		return nil
	})

	writeConfig(t, dir, "[clustering]\nmin_cluster_size = 0\n")
	err = cw.reload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid")
	assert.False(t, called)
	require.NoError(t, cw.Stop())
}
