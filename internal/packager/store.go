package packager

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/coldpack/coldpack/pkg/errors"
	"github.com/coldpack/coldpack/pkg/types"
)

// PackTo packs a file and ships the finished archive to an archive store
// under key. The local archive at job.OutputPath is kept; it is the
// canonical artifact, the store copy is a replica.
func (a *Archiver) PackTo(ctx context.Context, job Job, store types.ArchiveStore, key string) (*types.PackResult, error) {
	result, err := a.Pack(ctx, job)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(result.OutputPath)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeIORead, "opening archive %s for upload", result.OutputPath).WithCause(err)
	}
	defer f.Close()

	if err := store.Put(ctx, key, f, result.CompressedSize); err != nil {
		return nil, err
	}
	a.logger.Info("archive uploaded", "key", key, "bytes", result.CompressedSize)
	return result, nil
}

// UnpackFrom fetches an archive from a store into a local spool file and
// restores it into outputDir.
func (a *Archiver) UnpackFrom(ctx context.Context, store types.ArchiveStore, key, outputDir string, onProgress types.ProgressFunc) (*types.UnpackResult, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, errors.Newf(errors.ErrCodeIOWrite, "creating output directory %s", outputDir).WithCause(err)
	}
	spool, err := os.CreateTemp(outputDir, ".coldpack-fetch-*.tmp")
	if err != nil {
		return nil, errors.New(errors.ErrCodeIOWrite, "creating archive spool file").WithCause(err)
	}
	spoolPath := spool.Name()
	defer os.Remove(spoolPath)

	_, err = io.Copy(spool, rc)
	if cerr := spool.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeStorageRead, "downloading archive %s", key).WithCause(err)
	}

	result, err := a.Unpack(ctx, spoolPath, outputDir, onProgress)
	if err != nil {
		return nil, err
	}
	// Report the remote key rather than the throwaway spool path.
	result.ArchivePath = filepath.ToSlash(key)
	return result, nil
}
