package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/propagator/internal/partition"
)

// clearEnv unsets every variable the config reads for the duration of t.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SOURCE_URI", "SOURCE_DATABASE", "SHARD_COUNT", "SHARD_INDEX",
		"RESUME_BACKEND", "NATS_URL", "RESUME_BUCKET", "HEALTH_ADDR",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		if old, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, old) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoadConfig_RequiresSourceURI(t *testing.T) {
	clearEnv(t)

	_, err := LoadConfig(t.TempDir())
	assert.ErrorIs(t, err, ErrMissingSourceURI)
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOURCE_URI", "mongodb://localhost:27017")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultDatabase, cfg.Source.Database)
	assert.Equal(t, partition.Unsharded, cfg.Shard.Shard())
	assert.Equal(t, ResumeBackendMongo, cfg.Resume.Backend)
	assert.Equal(t, "_propagator_resume", cfg.Resume.Collection)
	assert.Equal(t, ":8084", cfg.Health.Address)
	assert.Equal(t, 30*time.Second, cfg.Runner.WriteTimeout)
	assert.True(t, cfg.Logging.Console.Enabled)
	assert.False(t, cfg.Logging.File.Enabled)
}

func TestLoadConfig_EnvVars(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOURCE_URI", "mongodb://db:27017/realworld?replicaSet=rs0")
	t.Setenv("SHARD_COUNT", "4")
	t.Setenv("SHARD_INDEX", "3")
	t.Setenv("RESUME_BACKEND", "nats")
	t.Setenv("NATS_URL", "nats://env:4222")
	t.Setenv("RESUME_BUCKET", "positions")
	t.Setenv("HEALTH_ADDR", "")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "realworld", cfg.Source.Database, "database comes from the URI")
	assert.Equal(t, partition.Shard{Index: 3, Count: 4}, cfg.Shard.Shard())
	assert.Equal(t, ResumeBackendNATS, cfg.Resume.Backend)
	assert.Equal(t, "nats://env:4222", cfg.Resume.NATSURL)
	assert.Equal(t, "positions", cfg.Resume.Bucket)
	assert.Empty(t, cfg.Health.Address, "empty HEALTH_ADDR disables the endpoint")
	assert.Equal(t, "debug", cfg.Logging.Console.Level)

	t.Setenv("SOURCE_DATABASE", "override")
	cfg, err = LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "override", cfg.Source.Database)
}

func TestLoadConfig_InvalidShard(t *testing.T) {
	tests := []struct {
		name  string
		count string
		index string
	}{
		{"zero count", "0", "0"},
		{"negative count", "-2", "0"},
		{"index out of range", "2", "2"},
		{"negative index", "2", "-1"},
		{"not a number", "two", "0"},
		{"index not a number", "2", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("SOURCE_URI", "mongodb://localhost:27017")
			t.Setenv("SHARD_COUNT", tt.count)
			t.Setenv("SHARD_INDEX", tt.index)

			_, err := LoadConfig(t.TempDir())
			assert.ErrorIs(t, err, partition.ErrInvalidShard)
		})
	}
}

func TestLoadConfig_Files(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(`
source:
  uri: "mongodb://file:27017"
  database: "filedb"
shard:
  index: 1
  count: 2
runner:
  write_timeout: 5s
logging:
  level: warn
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.yml"), []byte(`
shard:
  index: 0
resume:
  backend: memory
`), 0644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "mongodb://file:27017", cfg.Source.URI)
	assert.Equal(t, "filedb", cfg.Source.Database)
	assert.Equal(t, partition.Shard{Index: 0, Count: 2}, cfg.Shard.Shard())
	assert.Equal(t, 5*time.Second, cfg.Runner.WriteTimeout)
	assert.Equal(t, 10*time.Second, cfg.Runner.SaveTimeout)
	assert.Equal(t, ResumeBackendMemory, cfg.Resume.Backend)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfig_FileErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOURCE_URI", "mongodb://localhost:27017")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("not: [valid"), 0644))
	_, err := LoadConfig(dir)
	assert.Error(t, err)

	dir = t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "config.yml"), 0755))
	_, err = LoadConfig(dir)
	assert.Error(t, err)
}

func TestResumeConfig_Validate(t *testing.T) {
	cfg := DefaultResumeConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Backend = "etcd"
	assert.Error(t, cfg.Validate())

	cfg = DefaultResumeConfig()
	cfg.MaxRetries = -1
	assert.Error(t, cfg.Validate())
}

func TestRunnerConfig_Validate(t *testing.T) {
	cfg := RunnerConfig{}
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultRunnerConfig(), cfg)
	assert.NoError(t, cfg.Validate())

	cfg.BackoffMax = time.Millisecond
	assert.Error(t, cfg.Validate())

	cfg = DefaultRunnerConfig()
	cfg.WriteTimeout = -time.Second
	assert.Error(t, cfg.Validate())
}

func TestSourceConfig_InvalidURI(t *testing.T) {
	cfg := SourceConfig{URI: "http://not-mongo"}
	assert.Error(t, cfg.Validate())
}
