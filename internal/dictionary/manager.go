// Package dictionary manages the shared zstd compression dictionary.
//
// A dictionary is trained once by explicit operator action from small
// sample files, persisted beside the configured path, then loaded once per
// process and shared read-only across all concurrent packaging jobs.
// Packing and unpacking the same archive must use identical dictionary
// bytes; the manifest's has_dict flag is the only signal at unpack time.
package dictionary

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	zdict "github.com/klauspost/compress/dict"
	"github.com/klauspost/compress/zstd"

	"github.com/coldpack/coldpack/pkg/errors"
)

// DefaultMaxSampleSize is the training-eligibility ceiling per sample.
// Cross-file similarity benefit concentrates in small files; larger samples
// are skipped rather than failing the run.
const DefaultMaxSampleSize = 100 * 1024

// Manager loads, trains, and caches the shared dictionary. The cached bytes
// are immutable after Load or Train returns and safe for concurrent reads.
type Manager struct {
	path          string
	maxSampleSize int64
	logger        *slog.Logger

	mu   sync.RWMutex
	dict []byte
}

// NewManager creates a Manager for the dictionary at path. An empty path
// disables dictionary use: Load returns nil and Bytes always reports no
// dictionary.
func NewManager(path string, maxSampleSize int64, logger *slog.Logger) *Manager {
	if maxSampleSize <= 0 {
		maxSampleSize = DefaultMaxSampleSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		path:          path,
		maxSampleSize: maxSampleSize,
		logger:        logger,
	}
}

// Load reads the dictionary from disk into the cache. A missing file is not
// an error: it returns nil bytes and packing proceeds without a dictionary.
func (m *Manager) Load() ([]byte, error) {
	if m.path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Newf(errors.ErrCodeIORead, "reading dictionary %s", m.path).WithCause(err)
	}

	m.mu.Lock()
	m.dict = data
	m.mu.Unlock()

	m.logger.Info("loaded compression dictionary",
		"path", m.path, "size", len(data))
	return data, nil
}

// Bytes returns the cached dictionary, or nil when none is loaded.
func (m *Manager) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dict
}

// Train builds a dictionary of roughly targetSize bytes from the given
// sample files, persists it at the manager's path, and caches it
// immediately for reuse.
//
// Samples above the eligibility ceiling are skipped, not rejected; the
// training fails only when no eligible sample remains.
func (m *Manager) Train(samplePaths []string, targetSize int) ([]byte, error) {
	if len(samplePaths) == 0 {
		return nil, errors.New(errors.ErrCodeDictionaryTraining, "no sample files provided")
	}
	if m.path == "" {
		return nil, errors.New(errors.ErrCodeDictionaryTraining, "no dictionary path configured")
	}
	if targetSize <= 0 {
		targetSize = DefaultMaxSampleSize
	}

	var samples [][]byte
	var totalSize int64
	skipped := 0

	for _, path := range samplePaths {
		info, err := os.Stat(path)
		if err != nil {
			m.logger.Warn("skipping unreadable training sample", "path", path, "error", err)
			skipped++
			continue
		}
		if info.Size() > m.maxSampleSize {
			m.logger.Debug("skipping oversized training sample",
				"path", path, "size", info.Size(), "limit", m.maxSampleSize)
			skipped++
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			m.logger.Warn("skipping unreadable training sample", "path", path, "error", err)
			skipped++
			continue
		}
		samples = append(samples, data)
		totalSize += int64(len(data))
	}

	if len(samples) == 0 {
		return nil, errors.Newf(errors.ErrCodeDictionaryTraining,
			"no eligible training samples: all %d candidates exceeded %d bytes or were unreadable",
			skipped, m.maxSampleSize)
	}

	m.logger.Info("training dictionary",
		"samples", len(samples), "total_bytes", totalSize, "skipped", skipped)

	data, err := zdict.BuildZstdDict(samples, zdict.Options{
		MaxDictSize: targetSize,
		HashBytes:   6,
		ZstdLevel:   zstd.SpeedBestCompression,
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeDictionaryTraining, "building dictionary").WithCause(err)
	}

	if err := m.persist(data); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.dict = data
	m.mu.Unlock()

	m.logger.Info("dictionary trained and cached", "path", m.path, "size", len(data))
	return data, nil
}

// persist writes the dictionary with the same temp-then-rename discipline
// used for archives, so a crash never leaves a truncated dictionary at the
// configured path.
func (m *Manager) persist(data []byte) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Newf(errors.ErrCodeIOWrite, "creating dictionary directory %s", dir).WithCause(err)
	}

	tmp, err := os.CreateTemp(dir, ".dict-*.tmp")
	if err != nil {
		return errors.New(errors.ErrCodeIOWrite, "creating dictionary temp file").WithCause(err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.New(errors.ErrCodeIOWrite, "writing dictionary").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.New(errors.ErrCodeIOWrite, "closing dictionary temp file").WithCause(err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return errors.Newf(errors.ErrCodeIOCommit, "committing dictionary to %s", m.path).WithCause(err)
	}
	return nil
}
