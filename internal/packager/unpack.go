package packager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/coldpack/coldpack/internal/buffer"
	"github.com/coldpack/coldpack/internal/container"
	"github.com/coldpack/coldpack/internal/engine"
	"github.com/coldpack/coldpack/pkg/errors"
	"github.com/coldpack/coldpack/pkg/types"
)

// Unpack restores an archive into outputDir under the manifest's original
// filename. The restored bytes are streamed into a temp file, verified
// against the manifest checksum, and only then renamed into place; a
// mismatch discards the partial output and fails closed.
func (a *Archiver) Unpack(ctx context.Context, archivePath, outputDir string, onProgress types.ProgressFunc) (result *types.UnpackResult, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			a.collector.RecordFailure("unpack", err)
		}
	}()

	info, err := os.Stat(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrCodeInputMissing, "archive not found: %s", archivePath)
		}
		return nil, errors.Newf(errors.ErrCodeIORead, "statting archive %s", archivePath).WithCause(err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeIORead, "opening archive %s", archivePath).WithCause(err)
	}
	defer f.Close()

	header, err := container.ReadHeader(f)
	if err != nil {
		return nil, err
	}
	manifest := header.Manifest

	a.logger.Info("unpacking",
		"archive", archivePath, "mode", header.Tag.Mode(), "original", manifest.OriginalFilename)

	// The manifest flag is the only signal that a dictionary is needed.
	// Decompressing without the identical bytes would either fail or
	// produce garbage, so a missing dictionary fails closed here.
	var dict []byte
	if manifest.HasDict {
		dict = a.dictionaryBytes()
		if dict == nil {
			return nil, errors.Newf(errors.ErrCodeDictionaryMissing,
				"archive %s was packed with a shared dictionary that is not available locally", archivePath)
		}
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, errors.Newf(errors.ErrCodeIOWrite, "creating output directory %s", outputDir).WithCause(err)
	}

	tmp, err := os.CreateTemp(outputDir, ".coldpack-*.tmp")
	if err != nil {
		return nil, errors.New(errors.ErrCodeIOWrite, "creating temp restore file").WithCause(err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	dec, err := engine.NewReader(f, dict)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	// Fidelity-reduced archives restore the normalized byte count, not the
	// pre-normalization source size.
	expectedSize := manifest.OriginalSize
	if manifest.PrecompressedSize > 0 {
		expectedSize = manifest.PrecompressedSize
	}

	hasher := sha256.New()
	buf := buffer.Get(engine.ChunkSize(expectedSize))
	defer buffer.Put(buf)
	var restored int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, readErr := dec.Read(buf)
		if n > 0 {
			if _, err := tmp.Write(buf[:n]); err != nil {
				return nil, errors.New(errors.ErrCodeIOWrite, "writing restored chunk").WithCause(err)
			}
			hasher.Write(buf[:n])
			restored += int64(n)
			if onProgress != nil {
				onProgress(restored, expectedSize)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			// Engine read errors are already classified (decode vs IO).
			return nil, readErr
		}
	}

	if err := tmp.Close(); err != nil {
		return nil, errors.New(errors.ErrCodeIOWrite, "closing temp restore file").WithCause(err)
	}

	// Verification is gated purely on the checksum being present in the
	// manifest.
	verified := false
	if manifest.Checksum != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if actual != manifest.Checksum {
			return nil, errors.Newf(errors.ErrCodeIntegrityMismatch,
				"checksum mismatch: archive records %s, restored bytes hash to %s",
				manifest.Checksum, actual).
				WithContext("archive", archivePath)
		}
		verified = true
	} else {
		a.logger.Warn("no checksum recorded in manifest, skipping integrity verification",
			"archive", archivePath)
	}

	// Fidelity-reduced archives get the content restorer applied before
	// the rename so a restorer failure leaves no file at the destination.
	if header.Tag != container.TagLossless && a.restorer != nil {
		if err := a.restorer.Restore(ctx, tmpPath); err != nil {
			return nil, errors.New(errors.ErrCodeIOWrite, "restoring content").WithCause(err)
		}
	}

	finalPath := filepath.Join(outputDir, manifest.OriginalFilename)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, errors.Newf(errors.ErrCodeIOCommit, "committing restored file to %s", finalPath).WithCause(err)
	}
	committed = true

	result = &types.UnpackResult{
		ArchivePath:  archivePath,
		OutputPath:   finalPath,
		ArchiveSize:  info.Size(),
		RestoredSize: restored,
		Verified:     verified,
		Elapsed:      time.Since(start),
	}
	a.collector.RecordUnpack(result.RestoredSize, result.Elapsed)
	a.logger.Info("unpack complete",
		"output", finalPath, "restored_bytes", restored, "verified", verified)
	return result, nil
}

// Inspect reads an archive's header and manifest without touching the
// payload.
func (a *Archiver) Inspect(archivePath string) (*container.Header, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrCodeInputMissing, "archive not found: %s", archivePath)
		}
		return nil, errors.Newf(errors.ErrCodeIORead, "opening archive %s", archivePath).WithCause(err)
	}
	defer f.Close()

	return container.ReadHeader(f)
}
