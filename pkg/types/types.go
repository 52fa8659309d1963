package types

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// PackResult describes one successful packaging operation.
type PackResult struct {
	InputPath      string        `json:"input_path"`
	OutputPath     string        `json:"output_path"`
	OriginalSize   int64         `json:"original_size"`
	CompressedSize int64         `json:"compressed_size"`
	Checksum       string        `json:"checksum"`
	UsedDictionary bool          `json:"used_dictionary"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Ratio returns compressed size over original size.
func (r *PackResult) Ratio() float64 {
	if r.OriginalSize == 0 {
		return 0
	}
	return float64(r.CompressedSize) / float64(r.OriginalSize)
}

// SpaceSavedPercent returns the percentage of the original size saved.
func (r *PackResult) SpaceSavedPercent() float64 {
	if r.OriginalSize == 0 {
		return 0
	}
	return (1 - float64(r.CompressedSize)/float64(r.OriginalSize)) * 100
}

// UnpackResult describes one successful restore operation.
type UnpackResult struct {
	ArchivePath  string        `json:"archive_path"`
	OutputPath   string        `json:"output_path"`
	ArchiveSize  int64         `json:"archive_size"`
	RestoredSize int64         `json:"restored_size"`
	Verified     bool          `json:"verified"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Failure records one failed batch job.
type Failure struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

// Error returns the failure as "path: error".
func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Path, f.Err)
}

// JobOutcome is the per-job record delivered to batch progress callbacks.
// Exactly one of Pack, Unpack, or Err is set.
type JobOutcome struct {
	Path   string
	Pack   *PackResult
	Unpack *UnpackResult
	Err    error
}

// Failed reports whether the job ended in a failure.
func (o JobOutcome) Failed() bool {
	return o.Err != nil
}

// BatchSummary aggregates the outcomes of one batch run. It is built on the
// single goroutine draining completed jobs and never mutated after being
// returned.
type BatchSummary struct {
	Success   bool      `json:"success"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures"`

	TotalOriginalBytes   int64         `json:"total_original_bytes"`
	TotalCompressedBytes int64         `json:"total_compressed_bytes"`
	Elapsed              time.Duration `json:"elapsed"`
}

// SpaceSavedPercent returns the overall percentage saved across all
// successful jobs.
func (s *BatchSummary) SpaceSavedPercent() float64 {
	if s.TotalOriginalBytes == 0 {
		return 0
	}
	return (1 - float64(s.TotalCompressedBytes)/float64(s.TotalOriginalBytes)) * 100
}

// Err returns all recorded failures as one aggregated error, or nil when
// the batch fully succeeded.
func (s *BatchSummary) Err() error {
	var merr *multierror.Error
	for _, f := range s.Failures {
		merr = multierror.Append(merr, fmt.Errorf("%s: %w", f.Path, f.Err))
	}
	return merr.ErrorOrNil()
}
