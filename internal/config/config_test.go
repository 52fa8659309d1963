package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "high", cfg.Compression.DefaultLevel)
	assert.Equal(t, 500, cfg.Compression.MaxFileSizeMB)
	assert.Equal(t, int64(500*1024*1024), cfg.MaxFileSizeBytes())
	assert.Equal(t, 100, cfg.Dictionary.MaxSampleSizeKB)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, "local", cfg.Storage.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coldpack.yaml")
	content := `
compression:
  default_level: ultra
  max_file_size_mb: 100
batch:
  max_workers: 4
retry:
  max_attempts: 5
  base_delay: 250ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ultra", cfg.Compression.DefaultLevel)
	assert.Equal(t, 100, cfg.Compression.MaxFileSizeMB)
	assert.Equal(t, 4, cfg.Batch.MaxWorkers)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	// Untouched sections keep their defaults.
	assert.Equal(t, 100, cfg.Dictionary.TargetSizeKB)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compression: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Configuration)
		ok     bool
	}{
		{"defaults", func(c *Configuration) {}, true},
		{"bad level", func(c *Configuration) { c.Compression.DefaultLevel = "maximum" }, false},
		{"zero size ceiling", func(c *Configuration) { c.Compression.MaxFileSizeMB = 0 }, false},
		{"negative workers", func(c *Configuration) { c.Batch.MaxWorkers = -1 }, false},
		{"zero retries", func(c *Configuration) { c.Retry.MaxAttempts = 0 }, false},
		{"unknown backend", func(c *Configuration) { c.Storage.Backend = "ftp" }, false},
		{"s3 without bucket", func(c *Configuration) { c.Storage.Backend = "s3" }, false},
		{"s3 with bucket", func(c *Configuration) {
			c.Storage.Backend = "s3"
			c.Storage.S3.Bucket = "archives"
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestWorkers(t *testing.T) {
	cfg := Default()
	cfg.Batch.MaxWorkers = 7
	assert.Equal(t, 7, cfg.Workers())

	cfg.Batch.MaxWorkers = 0
	want := runtime.GOMAXPROCS(0) * 2
	if want > 32 {
		want = 32
	}
	assert.Equal(t, want, cfg.Workers())
}

func TestString_RedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Storage.S3.SecretKey = "super-secret"

	out := cfg.String()
	assert.NotContains(t, out, "super-secret")
	assert.Contains(t, out, "[redacted]")
}
