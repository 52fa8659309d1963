// Package packager implements single-file archive packaging and restore.
//
// Packing streams a source file through the compression engine into a
// uniquely named temp file beside the destination and atomically renames it
// into place on success. The destination path is only ever created by that
// final rename, so a crash mid-write never leaves a corrupt file visible
// there. Unpacking mirrors the same discipline with integrity verification
// before the rename.
package packager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coldpack/coldpack/internal/buffer"
	"github.com/coldpack/coldpack/internal/config"
	"github.com/coldpack/coldpack/internal/container"
	"github.com/coldpack/coldpack/internal/dictionary"
	"github.com/coldpack/coldpack/internal/engine"
	"github.com/coldpack/coldpack/internal/metrics"
	"github.com/coldpack/coldpack/pkg/errors"
	"github.com/coldpack/coldpack/pkg/types"
)

// Mode selects the archive fidelity family.
type Mode string

const (
	ModeLossless Mode = "lossless"
	ModeVisual   Mode = "visual"
	ModeLossy    Mode = "lossy"
)

// tag returns the container format tag for the mode.
func (m Mode) tag() container.FormatTag {
	switch m {
	case ModeVisual:
		return container.TagVisual
	case ModeLossy:
		return container.TagLossy
	default:
		return container.TagLossless
	}
}

// supportedFormats lists the source extensions the packager accepts.
var supportedFormats = map[string]bool{
	".pdf":  true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tiff": true,
	".docx": true,
	".xlsx": true,
	".pptx": true,
	".txt":  true,
	".csv":  true,
}

// SupportedFormat reports whether the extension (with leading dot) is a
// packable source format.
func SupportedFormat(ext string) bool {
	return supportedFormats[strings.ToLower(ext)]
}

// Job describes one pack call. Created per call, discarded after.
type Job struct {
	InputPath  string
	OutputPath string

	// Level defaults to the configured default when empty.
	Level engine.Level

	// Mode defaults to ModeLossless when empty. Fidelity-reduced modes
	// route the input through the content normalizer first.
	Mode Mode

	// ImageQuality is the normalizer's quality target in fidelity-reduced
	// modes. Zero means the normalizer's default.
	ImageQuality int

	// OnProgress, when set, is invoked after each streamed chunk with
	// (bytes consumed, total bytes).
	OnProgress types.ProgressFunc
}

// Archiver packs and unpacks single files. It is safe for concurrent use:
// the configuration, cached dictionary, and collaborators are all read-only
// after construction.
type Archiver struct {
	cfg        *config.Configuration
	dicts      *dictionary.Manager
	collector  *metrics.Collector
	normalizer types.Normalizer
	restorer   types.Restorer
	logger     *slog.Logger
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archiver) { a.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(a *Archiver) { a.collector = c }
}

// WithNormalizer sets the content normalizer used by fidelity-reduced
// modes. Without one, visual and lossy jobs transparently fall back to the
// lossless path.
func WithNormalizer(n types.Normalizer) Option {
	return func(a *Archiver) { a.normalizer = n }
}

// WithRestorer sets the decompression-side content restorer applied to
// fidelity-reduced archives after integrity verification.
func WithRestorer(r types.Restorer) Option {
	return func(a *Archiver) { a.restorer = r }
}

// New creates an Archiver. The dictionary manager's cache must be populated
// (via Load or Train) before concurrent use begins; the archiver itself
// never mutates it.
func New(cfg *config.Configuration, dicts *dictionary.Manager, opts ...Option) *Archiver {
	a := &Archiver{
		cfg:    cfg,
		dicts:  dicts,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Pack compresses one source file into an archive at job.OutputPath.
func (a *Archiver) Pack(ctx context.Context, job Job) (result *types.PackResult, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			a.collector.RecordFailure("pack", err)
		}
	}()

	level := job.Level
	if level == "" {
		level = engine.Level(a.cfg.Compression.DefaultLevel)
	}
	mode := job.Mode
	if mode == "" {
		mode = ModeLossless
	}

	originalSize, err := a.validateInput(job.InputPath)
	if err != nil {
		return nil, err
	}

	a.logger.Info("packing",
		"input", job.InputPath, "level", string(level), "mode", string(mode))

	// Resolve the canonical bytes to compress. Fidelity-reduced modes
	// stage the normalizer output to a spool file so it can be checksummed
	// before the manifest is written, then compressed in a second pass.
	canonicalPath := job.InputPath
	canonicalSize := originalSize
	effectiveMode := ModeLossless
	var precompressedSize int64

	if mode != ModeLossless {
		stagePath, stageSize, stageErr := a.stageNormalized(ctx, job, mode)
		switch {
		case stageErr == nil && stagePath != "":
			defer os.Remove(stagePath)
			canonicalPath = stagePath
			canonicalSize = stageSize
			precompressedSize = stageSize
			effectiveMode = mode
		case stageErr != nil:
			return nil, stageErr
		default:
			// Refused or no normalizer: transparent lossless fallback.
			a.logger.Warn("content normalizer unavailable or refused input, falling back to lossless",
				"input", job.InputPath)
		}
	}

	checksum, err := checksumFile(canonicalPath, engine.ChunkSize(canonicalSize))
	if err != nil {
		return nil, err
	}

	dict := a.dictionaryBytes()
	manifest := &container.Manifest{
		OriginalFilename: filepath.Base(job.InputPath),
		OriginalSize:     originalSize,
		CompressionLevel: string(level),
		Format:           strings.TrimPrefix(strings.ToLower(filepath.Ext(job.InputPath)), "."),
		Checksum:         checksum,
		HasDict:          dict != nil,
	}
	if effectiveMode != ModeLossless {
		manifest.Mode = string(effectiveMode)
		manifest.ImageQuality = job.ImageQuality
		manifest.PrecompressedSize = precompressedSize
	}

	if err := a.writeArchive(ctx, job, effectiveMode.tag(), manifest, canonicalPath, canonicalSize, level, dict); err != nil {
		return nil, err
	}

	info, err := os.Stat(job.OutputPath)
	if err != nil {
		return nil, errors.New(errors.ErrCodeIORead, "statting finished archive").WithCause(err)
	}

	result = &types.PackResult{
		InputPath:      job.InputPath,
		OutputPath:     job.OutputPath,
		OriginalSize:   originalSize,
		CompressedSize: info.Size(),
		Checksum:       checksum,
		UsedDictionary: dict != nil,
		Elapsed:        time.Since(start),
	}
	a.collector.RecordPack(result.OriginalSize, result.CompressedSize, result.Elapsed)
	a.logger.Info("pack complete",
		"output", job.OutputPath,
		"original_bytes", result.OriginalSize,
		"compressed_bytes", result.CompressedSize,
		"saved_percent", result.SpaceSavedPercent(),
		"elapsed", result.Elapsed)
	return result, nil
}

// validateInput enforces the permanent pack input constraints: the source
// must exist, be non-empty, be at or under the size ceiling, and carry a
// supported extension.
func (a *Archiver) validateInput(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.Newf(errors.ErrCodeInputMissing, "source file not found: %s", path)
		}
		return 0, errors.Newf(errors.ErrCodeIORead, "statting source %s", path).WithCause(err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !supportedFormats[ext] {
		return 0, errors.Newf(errors.ErrCodeUnsupportedFormat, "unsupported file format %q", ext).
			WithContext("path", path)
	}
	if info.Size() == 0 {
		return 0, errors.Newf(errors.ErrCodeInputEmpty, "file is empty: %s", path)
	}
	if limit := a.cfg.MaxFileSizeBytes(); info.Size() > limit {
		return 0, errors.Newf(errors.ErrCodeInputTooLarge,
			"file is %d bytes, limit is %d", info.Size(), limit).
			WithContext("path", path)
	}
	return info.Size(), nil
}

// stageNormalized runs the content normalizer and spools its output beside
// the destination. Returns ("", 0, nil) when the packager should fall back
// to the lossless path.
func (a *Archiver) stageNormalized(ctx context.Context, job Job, mode Mode) (string, int64, error) {
	if a.normalizer == nil {
		return "", 0, nil
	}

	rc, err := a.normalizer.Normalize(ctx, job.InputPath, job.ImageQuality)
	if err != nil {
		if stderrors.Is(err, types.ErrNormalizeRefused) {
			return "", 0, nil
		}
		return "", 0, errors.New(errors.ErrCodeIORead, "normalizing content").WithCause(err)
	}
	defer rc.Close()

	dir := filepath.Dir(job.OutputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, errors.Newf(errors.ErrCodeIOWrite, "creating output directory %s", dir).WithCause(err)
	}
	spool, err := os.CreateTemp(dir, ".coldpack-stage-*.tmp")
	if err != nil {
		return "", 0, errors.New(errors.ErrCodeIOWrite, "creating staging file").WithCause(err)
	}
	spoolPath := spool.Name()

	n, err := io.Copy(spool, rc)
	if cerr := spool.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(spoolPath)
		return "", 0, errors.New(errors.ErrCodeIOWrite, "staging normalized content").WithCause(err)
	}
	if n == 0 {
		os.Remove(spoolPath)
		return "", 0, errors.New(errors.ErrCodeInputEmpty, "normalizer produced no content")
	}
	return spoolPath, n, nil
}

// writeArchive streams the canonical bytes through the compression engine
// into a temp file beside the destination, then commits it with an atomic
// rename. On any failure the temp file is removed and the destination is
// left untouched.
func (a *Archiver) writeArchive(
	ctx context.Context,
	job Job,
	tag container.FormatTag,
	manifest *container.Manifest,
	canonicalPath string,
	canonicalSize int64,
	level engine.Level,
	dict []byte,
) error {
	dir := filepath.Dir(job.OutputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Newf(errors.ErrCodeIOWrite, "creating output directory %s", dir).WithCause(err)
	}

	tmp, err := os.CreateTemp(dir, ".coldpack-*.tmp")
	if err != nil {
		return errors.New(errors.ErrCodeIOWrite, "creating temp archive").WithCause(err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := container.WriteHeader(tmp, tag, container.CurrentVersion, manifest); err != nil {
		return err
	}

	enc, err := engine.NewWriter(tmp, level, engine.LongDistance(canonicalSize), dict)
	if err != nil {
		return err
	}

	in, err := os.Open(canonicalPath)
	if err != nil {
		return errors.Newf(errors.ErrCodeIORead, "opening source %s", canonicalPath).WithCause(err)
	}
	defer in.Close()

	buf := buffer.Get(engine.ChunkSize(canonicalSize))
	defer buffer.Put(buf)
	var consumed int64
	for {
		if err := ctx.Err(); err != nil {
			enc.Close()
			return err
		}

		n, readErr := in.Read(buf)
		if n > 0 {
			if _, err := enc.Write(buf[:n]); err != nil {
				enc.Close()
				return errors.New(errors.ErrCodeIOWrite, "compressing chunk").WithCause(err)
			}
			consumed += int64(n)
			if job.OnProgress != nil {
				job.OnProgress(consumed, canonicalSize)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			enc.Close()
			return errors.New(errors.ErrCodeIORead, "reading source chunk").WithCause(readErr)
		}
	}

	if err := enc.Close(); err != nil {
		return errors.New(errors.ErrCodeIOWrite, "finalizing compressed stream").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		return errors.New(errors.ErrCodeIOWrite, "closing temp archive").WithCause(err)
	}
	if err := os.Rename(tmpPath, job.OutputPath); err != nil {
		os.Remove(tmpPath)
		return errors.Newf(errors.ErrCodeIOCommit, "committing archive to %s", job.OutputPath).WithCause(err)
	}
	committed = true
	return nil
}

// dictionaryBytes returns the shared dictionary, or nil when none is
// configured or loaded.
func (a *Archiver) dictionaryBytes() []byte {
	if a.dicts == nil {
		return nil
	}
	return a.dicts.Bytes()
}

// checksumFile computes the hex SHA-256 of a file in a single streaming
// pass with bounded memory.
func checksumFile(path string, chunkSize int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Newf(errors.ErrCodeIORead, "opening %s for checksum", path).WithCause(err)
	}
	defer f.Close()

	h := sha256.New()
	buf := buffer.Get(chunkSize)
	defer buffer.Put(buf)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", errors.Newf(errors.ErrCodeIORead, "checksumming %s", path).WithCause(err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
