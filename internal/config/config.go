// Package config defines the explicit configuration value for coldpack.
//
// The configuration is constructed once at process start (defaults,
// optionally overlaid with a YAML file) and passed by reference into every
// component. There is no package-level singleton.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/coldpack/coldpack/pkg/errors"
)

// Configuration is the complete application configuration.
type Configuration struct {
	Compression CompressionConfig `yaml:"compression"`
	Batch       BatchConfig       `yaml:"batch"`
	Dictionary  DictionaryConfig  `yaml:"dictionary"`
	Retry       RetryConfig       `yaml:"retry"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Storage     StorageConfig     `yaml:"storage"`
}

// CompressionConfig holds packaging settings.
type CompressionConfig struct {
	// DefaultLevel is one of low, medium, high, ultra.
	DefaultLevel string `yaml:"default_level"`

	// MaxFileSizeMB is the pack input size ceiling. Inputs above it fail
	// permanently.
	MaxFileSizeMB int `yaml:"max_file_size_mb"`
}

// BatchConfig holds batch orchestration settings.
type BatchConfig struct {
	// MaxWorkers is the worker pool size. Zero means auto: the workload is
	// I/O-bound, so the pool is sized at twice the available parallelism,
	// capped at 32.
	MaxWorkers int `yaml:"max_workers"`
}

// DictionaryConfig holds shared-dictionary settings.
type DictionaryConfig struct {
	// Path is where the trained dictionary lives. Empty disables
	// dictionary use entirely.
	Path string `yaml:"path"`

	// MaxSampleSizeKB is the training-eligibility ceiling per sample file.
	MaxSampleSizeKB int `yaml:"max_sample_size_kb"`

	// TargetSizeKB is the trained dictionary size.
	TargetSizeKB int `yaml:"target_size_kb"`
}

// RetryConfig holds retry policy settings for transient failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
}

// MetricsConfig holds the optional Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// StorageConfig selects where finished archives are stored.
type StorageConfig struct {
	// Backend is "local" or "s3".
	Backend string `yaml:"backend"`

	// LocalRoot is the root directory for the local store.
	LocalRoot string `yaml:"local_root"`

	S3 S3Config `yaml:"s3"`
}

// S3Config holds S3-compatible object storage settings.
type S3Config struct {
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// Default returns the default configuration.
func Default() *Configuration {
	return &Configuration{
		Compression: CompressionConfig{
			DefaultLevel:  "high",
			MaxFileSizeMB: 500,
		},
		Batch: BatchConfig{
			MaxWorkers: 0, // auto
		},
		Dictionary: DictionaryConfig{
			MaxSampleSizeKB: 100,
			TargetSizeKB:    100,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    30 * time.Second,
			Multiplier:  2.0,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
		Storage: StorageConfig{
			Backend: "local",
		},
	}
}

// Load reads a YAML configuration file over the defaults. A missing path
// returns the defaults unchanged.
func Load(path string) (*Configuration, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "reading config file %s", path).WithCause(err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "parsing config file %s", path).WithCause(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot work with.
func (c *Configuration) Validate() error {
	switch c.Compression.DefaultLevel {
	case "low", "medium", "high", "ultra":
	default:
		return errors.Newf(errors.ErrCodeInvalidConfig,
			"unknown compression level %q", c.Compression.DefaultLevel)
	}
	if c.Compression.MaxFileSizeMB <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "max_file_size_mb must be positive")
	}
	if c.Batch.MaxWorkers < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "max_workers must not be negative")
	}
	if c.Retry.MaxAttempts <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "retry max_attempts must be positive")
	}
	switch c.Storage.Backend {
	case "", "local", "s3":
	default:
		return errors.Newf(errors.ErrCodeInvalidConfig,
			"unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "s3" && c.Storage.S3.Bucket == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "s3 backend requires a bucket")
	}
	return nil
}

// MaxFileSizeBytes returns the pack input ceiling in bytes.
func (c *Configuration) MaxFileSizeBytes() int64 {
	return int64(c.Compression.MaxFileSizeMB) * 1024 * 1024
}

// MaxSampleSizeBytes returns the dictionary training eligibility ceiling in
// bytes.
func (c *Configuration) MaxSampleSizeBytes() int64 {
	return int64(c.Dictionary.MaxSampleSizeKB) * 1024
}

// Workers resolves the effective worker pool size. The jobs block on file
// I/O and compression far more than they contend for CPU, so the auto value
// deliberately oversubscribes the core count.
func (c *Configuration) Workers() int {
	if c.Batch.MaxWorkers > 0 {
		return c.Batch.MaxWorkers
	}
	n := runtime.GOMAXPROCS(0) * 2
	if n > 32 {
		n = 32
	}
	if n < 1 {
		n = 1
	}
	return n
}

// String renders the configuration for debug logging, with credentials
// redacted.
func (c *Configuration) String() string {
	redacted := *c
	if redacted.Storage.S3.SecretKey != "" {
		redacted.Storage.S3.SecretKey = "[redacted]"
	}
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Sprintf("Configuration{marshal error: %v}", err)
	}
	return string(out)
}
