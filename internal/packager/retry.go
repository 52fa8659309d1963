package packager

import (
	"context"
	"time"

	"github.com/coldpack/coldpack/pkg/retry"
	"github.com/coldpack/coldpack/pkg/types"
)

// retryer builds the retry policy from the archiver's configuration.
func (a *Archiver) retryer() *retry.Retryer {
	return retry.New(retry.Config{
		MaxAttempts:  a.cfg.Retry.MaxAttempts,
		InitialDelay: a.cfg.Retry.BaseDelay,
		MaxDelay:     a.cfg.Retry.MaxDelay,
		Multiplier:   a.cfg.Retry.Multiplier,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			a.logger.Warn("transient failure, retrying",
				"attempt", attempt, "delay", delay, "error", err)
		},
	})
}

// PackWithRetry runs Pack under the configured retry policy. Permanent
// input, format, and integrity failures surface immediately; only
// transient I/O failures are attempted again.
func (a *Archiver) PackWithRetry(ctx context.Context, job Job) (*types.PackResult, error) {
	var result *types.PackResult
	err := a.retryer().DoWithContext(ctx, func(ctx context.Context) error {
		var attemptErr error
		result, attemptErr = a.Pack(ctx, job)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UnpackWithRetry runs Unpack under the configured retry policy.
func (a *Archiver) UnpackWithRetry(ctx context.Context, archivePath, outputDir string, onProgress types.ProgressFunc) (*types.UnpackResult, error) {
	var result *types.UnpackResult
	err := a.retryer().DoWithContext(ctx, func(ctx context.Context) error {
		var attemptErr error
		result, attemptErr = a.Unpack(ctx, archivePath, outputDir, onProgress)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
