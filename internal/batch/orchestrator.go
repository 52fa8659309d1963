// Package batch runs many packaging jobs concurrently over a bounded worker
// pool and aggregates their outcomes into a single summary.
//
// Workers only execute jobs and report outcomes; all aggregation happens on
// the one goroutine draining the results channel, so the summary needs no
// locking. A failed job is recorded and never stops the rest of the batch.
package batch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coldpack/coldpack/internal/engine"
	"github.com/coldpack/coldpack/internal/packager"
	"github.com/coldpack/coldpack/pkg/errors"
	"github.com/coldpack/coldpack/pkg/types"
)

// archiveExtensions maps archive file extensions produced by each mode.
var archiveExtensions = map[packager.Mode]string{
	packager.ModeLossless: ".cpak",
	packager.ModeVisual:   ".cpav",
	packager.ModeLossy:    ".cpal",
}

// isArchiveExt reports whether ext names a coldpack archive.
func isArchiveExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".cpak", ".cpav", ".cpal":
		return true
	}
	return false
}

// Options configures one batch run.
type Options struct {
	// Level applies to every job in the batch. Empty means the configured
	// default.
	Level engine.Level

	// Mode applies to every job in the batch.
	Mode packager.Mode

	// ImageQuality is forwarded to fidelity-reduced jobs.
	ImageQuality int

	// Recursive descends into subdirectories in the directory entry
	// points. The default works the directory's top level only.
	Recursive bool

	// OnProgress, when set, is invoked once per completed job from the
	// draining goroutine, never concurrently.
	OnProgress types.BatchProgressFunc
}

// Orchestrator fans packaging jobs out over a fixed worker pool.
type Orchestrator struct {
	archiver *packager.Archiver
	workers  int
	logger   *slog.Logger
}

// New creates an Orchestrator running at most workers jobs concurrently.
// A non-positive worker count falls back to one.
func New(archiver *packager.Archiver, workers int, logger *slog.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		archiver: archiver,
		workers:  workers,
		logger:   logger,
	}
}

// job pairs one input with its archive destination.
type job struct {
	inputPath  string
	outputPath string
	unpack     bool
	// outputDir is the restore directory for unpack jobs.
	outputDir string
	// err marks a job rejected before execution; the worker reports it as
	// the job's failure without touching the input.
	err error
}

// PackFiles packs the given inputs into outputDir, one archive per input,
// named after the input file. Two inputs that would produce the same
// archive name fail the later one rather than silently overwriting the
// earlier. Every job runs under the retry policy; a job that still fails is
// recorded in the summary and the batch continues.
func (o *Orchestrator) PackFiles(ctx context.Context, inputs []string, outputDir string, opts Options) (*types.BatchSummary, error) {
	mode := opts.Mode
	if mode == "" {
		mode = packager.ModeLossless
	}
	ext := archiveExtensions[mode]

	jobs := make([]job, 0, len(inputs))
	claimed := make(map[string]string, len(inputs))
	for _, input := range inputs {
		base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		outputPath := filepath.Join(outputDir, base+ext)
		if prev, ok := claimed[outputPath]; ok {
			jobs = append(jobs, job{
				inputPath: input,
				err: errors.Newf(errors.ErrCodeInvalidConfig,
					"archive name collision: %s is already produced by %s", outputPath, prev),
			})
			continue
		}
		claimed[outputPath] = input
		jobs = append(jobs, job{
			inputPath:  input,
			outputPath: outputPath,
		})
	}
	return o.run(ctx, jobs, opts)
}

// PackDirectory packs every supported file in inputDir, mirroring the
// directory structure into outputDir. Subdirectories are entered only when
// opts.Recursive is set. Unsupported files are skipped silently; they are
// not failures.
func (o *Orchestrator) PackDirectory(ctx context.Context, inputDir, outputDir string, opts Options) (*types.BatchSummary, error) {
	info, err := os.Stat(inputDir)
	if err != nil || !info.IsDir() {
		return nil, errors.Newf(errors.ErrCodeDirectoryMissing, "input directory not found: %s", inputDir)
	}

	mode := opts.Mode
	if mode == "" {
		mode = packager.ModeLossless
	}
	ext := archiveExtensions[mode]

	var jobs []job
	err = filepath.WalkDir(inputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !opts.Recursive && path != inputDir {
				return fs.SkipDir
			}
			return nil
		}
		if !packager.SupportedFormat(filepath.Ext(path)) {
			return nil
		}
		rel, err := filepath.Rel(inputDir, path)
		if err != nil {
			return err
		}
		base := strings.TrimSuffix(rel, filepath.Ext(rel))
		jobs = append(jobs, job{
			inputPath:  path,
			outputPath: filepath.Join(outputDir, base+ext),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeIORead, "scanning input directory %s", inputDir).WithCause(err)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].inputPath < jobs[j].inputPath })
	return o.run(ctx, jobs, opts)
}

// UnpackFiles restores the given archives into outputDir.
func (o *Orchestrator) UnpackFiles(ctx context.Context, archives []string, outputDir string, opts Options) (*types.BatchSummary, error) {
	jobs := make([]job, 0, len(archives))
	for _, archive := range archives {
		jobs = append(jobs, job{
			inputPath: archive,
			unpack:    true,
			outputDir: outputDir,
		})
	}
	return o.run(ctx, jobs, opts)
}

// UnpackDirectory restores every archive found in inputDir, mirroring the
// directory structure into outputDir. Subdirectories are entered only when
// opts.Recursive is set.
func (o *Orchestrator) UnpackDirectory(ctx context.Context, inputDir, outputDir string, opts Options) (*types.BatchSummary, error) {
	info, err := os.Stat(inputDir)
	if err != nil || !info.IsDir() {
		return nil, errors.Newf(errors.ErrCodeDirectoryMissing, "input directory not found: %s", inputDir)
	}

	var jobs []job
	err = filepath.WalkDir(inputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !opts.Recursive && path != inputDir {
				return fs.SkipDir
			}
			return nil
		}
		if !isArchiveExt(filepath.Ext(path)) {
			return nil
		}
		rel, err := filepath.Rel(inputDir, path)
		if err != nil {
			return err
		}
		jobs = append(jobs, job{
			inputPath: path,
			unpack:    true,
			outputDir: filepath.Join(outputDir, filepath.Dir(rel)),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeIORead, "scanning input directory %s", inputDir).WithCause(err)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].inputPath < jobs[j].inputPath })
	return o.run(ctx, jobs, opts)
}

// run executes the jobs over the worker pool and drains results into a
// summary on the calling goroutine.
func (o *Orchestrator) run(ctx context.Context, jobs []job, opts Options) (*types.BatchSummary, error) {
	start := time.Now()
	summary := &types.BatchSummary{Total: len(jobs)}
	if len(jobs) == 0 {
		summary.Success = true
		summary.Elapsed = time.Since(start)
		return summary, nil
	}

	// Create every destination directory up front so workers never race on
	// directory creation mid-batch.
	if err := o.prepareDirs(jobs); err != nil {
		return nil, err
	}

	o.logger.Info("starting batch",
		"jobs", len(jobs), "workers", o.workers)

	jobCh := make(chan job)
	resultCh := make(chan types.JobOutcome)

	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				resultCh <- o.execute(ctx, j, opts)
			}
		}()
	}

	go func() {
		defer close(jobCh)
		for _, j := range jobs {
			select {
			case jobCh <- j:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	completed := 0
	for outcome := range resultCh {
		completed++
		if outcome.Failed() {
			summary.Failed++
			summary.Failures = append(summary.Failures, types.Failure{
				Path: outcome.Path,
				Err:  outcome.Err,
			})
		} else {
			summary.Succeeded++
			if outcome.Pack != nil {
				summary.TotalOriginalBytes += outcome.Pack.OriginalSize
				summary.TotalCompressedBytes += outcome.Pack.CompressedSize
			}
			if outcome.Unpack != nil {
				summary.TotalOriginalBytes += outcome.Unpack.ArchiveSize
				summary.TotalCompressedBytes += outcome.Unpack.RestoredSize
			}
		}
		if opts.OnProgress != nil {
			opts.OnProgress(completed, summary.Total, outcome)
		}
	}

	summary.Success = summary.Failed == 0
	summary.Elapsed = time.Since(start)
	o.logger.Info("batch finished",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"elapsed", summary.Elapsed)
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// execute runs one job end to end. A panicking job is converted into a
// failure outcome so one bad input can never take the whole batch down.
func (o *Orchestrator) execute(ctx context.Context, j job, opts Options) (outcome types.JobOutcome) {
	outcome.Path = j.inputPath
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("job panicked",
				"input", j.inputPath, "panic", r, "stack", string(debug.Stack()))
			outcome.Pack = nil
			outcome.Unpack = nil
			outcome.Err = errors.Newf(errors.ErrCodeInternal, "job panicked: %v", r)
		}
	}()

	if j.err != nil {
		outcome.Err = j.err
		return outcome
	}

	if j.unpack {
		result, err := o.archiver.UnpackWithRetry(ctx, j.inputPath, j.outputDir, nil)
		if err != nil {
			outcome.Err = err
			return outcome
		}
		outcome.Unpack = result
		return outcome
	}

	result, err := o.archiver.PackWithRetry(ctx, packager.Job{
		InputPath:    j.inputPath,
		OutputPath:   j.outputPath,
		Level:        opts.Level,
		Mode:         opts.Mode,
		ImageQuality: opts.ImageQuality,
	})
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.Pack = result
	return outcome
}

// prepareDirs creates the destination directory of every job before any
// worker starts.
func (o *Orchestrator) prepareDirs(jobs []job) error {
	seen := make(map[string]bool)
	for _, j := range jobs {
		if j.err != nil {
			continue
		}
		dir := j.outputDir
		if !j.unpack {
			dir = filepath.Dir(j.outputPath)
		}
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Newf(errors.ErrCodeIOWrite, "creating output directory %s", dir).WithCause(err)
		}
	}
	return nil
}
