package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/syntrixbase/propagator/internal/partition"
)

// ErrMissingSourceURI is returned when no source database URI is configured.
var ErrMissingSourceURI = errors.New("SOURCE_URI is required")

// DefaultDatabase is used when neither the URI nor SOURCE_DATABASE names one.
const DefaultDatabase = "conduit"

// SourceConfig locates the source database.
type SourceConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

func DefaultSourceConfig() SourceConfig {
	return SourceConfig{}
}

func (c *SourceConfig) ApplyDefaults() {}

func (c *SourceConfig) ApplyEnvOverrides() error {
	if val := os.Getenv("SOURCE_URI"); val != "" {
		c.URI = val
	}
	if val := os.Getenv("SOURCE_DATABASE"); val != "" {
		c.Database = val
	}
	return nil
}

func (c *SourceConfig) ResolvePaths(string) {}

// Validate checks the URI and derives the database name from it when none
// was set explicitly.
func (c *SourceConfig) Validate() error {
	if c.URI == "" {
		return ErrMissingSourceURI
	}
	cs, err := connstring.Parse(c.URI)
	if err != nil {
		return fmt.Errorf("invalid SOURCE_URI: %w", err)
	}
	if c.Database == "" {
		c.Database = cs.Database
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	return nil
}

// ShardConfig is the static partition of this worker.
type ShardConfig struct {
	Index int `yaml:"index"`
	Count int `yaml:"count"`
}

func DefaultShardConfig() ShardConfig {
	return ShardConfig{Index: 0, Count: 1}
}

func (c *ShardConfig) ApplyDefaults() {
	if c.Count == 0 {
		c.Count = 1
	}
}

func (c *ShardConfig) ApplyEnvOverrides() error {
	if val := os.Getenv("SHARD_COUNT"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid SHARD_COUNT %q: %w", val, partition.ErrInvalidShard)
		}
		c.Count = n
	}
	if val := os.Getenv("SHARD_INDEX"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid SHARD_INDEX %q: %w", val, partition.ErrInvalidShard)
		}
		c.Index = n
	}
	return nil
}

func (c *ShardConfig) ResolvePaths(string) {}

func (c *ShardConfig) Validate() error {
	return c.Shard().Validate()
}

// Shard returns the partition described by the config.
func (c ShardConfig) Shard() partition.Shard {
	return partition.Shard{Index: c.Index, Count: c.Count}
}

// Resume position backends.
const (
	ResumeBackendMongo  = "mongo"
	ResumeBackendNATS   = "nats"
	ResumeBackendMemory = "memory"
)

// ResumeConfig selects where resume positions are persisted.
type ResumeConfig struct {
	Backend    string `yaml:"backend"`
	Collection string `yaml:"collection"`
	NATSURL    string `yaml:"nats_url"`
	Bucket     string `yaml:"bucket"`
	// MaxRetries bounds attempts to create the NATS bucket at startup.
	MaxRetries int `yaml:"max_retries"`
}

func DefaultResumeConfig() ResumeConfig {
	return ResumeConfig{
		Backend:    ResumeBackendMongo,
		Collection: "_propagator_resume",
		NATSURL:    "nats://localhost:4222",
		Bucket:     "propagator_resume",
		MaxRetries: 3,
	}
}

func (c *ResumeConfig) ApplyDefaults() {
	d := DefaultResumeConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.Collection == "" {
		c.Collection = d.Collection
	}
	if c.NATSURL == "" {
		c.NATSURL = d.NATSURL
	}
	if c.Bucket == "" {
		c.Bucket = d.Bucket
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
}

func (c *ResumeConfig) ApplyEnvOverrides() error {
	if val := os.Getenv("RESUME_BACKEND"); val != "" {
		c.Backend = val
	}
	if val := os.Getenv("NATS_URL"); val != "" {
		c.NATSURL = val
	}
	if val := os.Getenv("RESUME_BUCKET"); val != "" {
		c.Bucket = val
	}
	return nil
}

func (c *ResumeConfig) ResolvePaths(string) {}

func (c *ResumeConfig) Validate() error {
	switch c.Backend {
	case ResumeBackendMongo, ResumeBackendNATS, ResumeBackendMemory:
	default:
		return fmt.Errorf("invalid resume backend: %s (must be mongo, nats, or memory)", c.Backend)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("resume max_retries must be positive")
	}
	return nil
}

// RunnerConfig holds per-stream timeouts and reconnect backoff.
type RunnerConfig struct {
	LoadTimeout      time.Duration `yaml:"load_timeout"`
	SubscribeTimeout time.Duration `yaml:"subscribe_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	SaveTimeout      time.Duration `yaml:"save_timeout"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	BackoffMax       time.Duration `yaml:"backoff_max"`
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		LoadTimeout:      10 * time.Second,
		SubscribeTimeout: 30 * time.Second,
		WriteTimeout:     30 * time.Second,
		SaveTimeout:      10 * time.Second,
		BackoffBase:      100 * time.Millisecond,
		BackoffMax:       30 * time.Second,
	}
}

func (c *RunnerConfig) ApplyDefaults() {
	d := DefaultRunnerConfig()
	for _, f := range []struct{ v, def *time.Duration }{
		{&c.LoadTimeout, &d.LoadTimeout},
		{&c.SubscribeTimeout, &d.SubscribeTimeout},
		{&c.WriteTimeout, &d.WriteTimeout},
		{&c.SaveTimeout, &d.SaveTimeout},
		{&c.BackoffBase, &d.BackoffBase},
		{&c.BackoffMax, &d.BackoffMax},
	} {
		if *f.v == 0 {
			*f.v = *f.def
		}
	}
}

func (c *RunnerConfig) ApplyEnvOverrides() error { return nil }

func (c *RunnerConfig) ResolvePaths(string) {}

func (c *RunnerConfig) Validate() error {
	if c.LoadTimeout < 0 || c.SubscribeTimeout < 0 || c.WriteTimeout < 0 || c.SaveTimeout < 0 {
		return fmt.Errorf("runner timeouts must not be negative")
	}
	if c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("runner backoff_max (%s) is below backoff_base (%s)", c.BackoffMax, c.BackoffBase)
	}
	return nil
}

// HealthConfig configures the HTTP health endpoint. An empty address
// disables it.
type HealthConfig struct {
	Address string `yaml:"address"`
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{Address: ":8084"}
}

func (c *HealthConfig) ApplyDefaults() {}

func (c *HealthConfig) ApplyEnvOverrides() error {
	if val, ok := os.LookupEnv("HEALTH_ADDR"); ok {
		c.Address = val
	}
	return nil
}

func (c *HealthConfig) ResolvePaths(string) {}

func (c *HealthConfig) Validate() error { return nil }
