package types

import (
	"context"
	"errors"
	"io"
)

// ErrNormalizeRefused is returned by a Normalizer that cannot safely
// transform an input, for example a digitally signed document whose bytes
// must not change. The packager treats refusal as an instruction to fall
// back to the lossless path, not as a failure.
var ErrNormalizeRefused = errors.New("normalizer refused input")

// Normalizer converts a source file into the canonical byte stream to
// compress in a fidelity-reduced mode. Quality is the mode-specific target
// (for example a JPEG quality), interpreted by the implementation.
type Normalizer interface {
	Normalize(ctx context.Context, path string, quality int) (io.ReadCloser, error)
}

// Restorer is the decompression-side mirror of a Normalizer. It is applied
// to the restored file at path after integrity verification and before the
// atomic rename to the final destination.
type Restorer interface {
	Restore(ctx context.Context, path string) error
}

// ProgressFunc reports streaming progress for one file as
// (bytes consumed, total bytes). Callbacks run synchronously on the worker
// doing the compression, so implementations must stay lightweight.
type ProgressFunc func(processed, total int64)

// BatchProgressFunc reports batch progress after each job completes, in
// completion order, as (completed count, total count, this job's outcome).
type BatchProgressFunc func(completed, total int, outcome JobOutcome)

// ArchiveStore abstracts the destination for finished archives.
type ArchiveStore interface {
	// Put stores the archive bytes under key. Size is the exact number of
	// bytes r will yield.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get opens the archive stored under key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Head returns the stored size for key.
	Head(ctx context.Context, key string) (int64, error)

	// Delete removes the archive stored under key.
	Delete(ctx context.Context, key string) error
}
