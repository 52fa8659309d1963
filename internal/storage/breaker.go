package storage

import (
	"context"
	"io"

	"github.com/coldpack/coldpack/internal/circuit"
	"github.com/coldpack/coldpack/pkg/errors"
	"github.com/coldpack/coldpack/pkg/types"
)

// breakerStore wraps an ArchiveStore with a circuit breaker so a dead
// backend sheds batch load quickly instead of timing out job by job.
type breakerStore struct {
	inner   types.ArchiveStore
	breaker *circuit.Breaker
}

// WithBreaker decorates a store with a circuit breaker. Only transient
// failures count against the breaker: a missing key is an answer, not an
// outage.
func WithBreaker(inner types.ArchiveStore, cfg circuit.Config) types.ArchiveStore {
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			return err != nil && errors.IsRetryable(err)
		}
	}
	return &breakerStore{
		inner:   inner,
		breaker: circuit.New(cfg),
	}
}

// reject converts a breaker rejection into a retryable storage error so the
// retry policy backs off rather than failing the job outright.
func reject(op, key string) error {
	code := errors.ErrCodeStorageRead
	if op == "put" || op == "delete" {
		code = errors.ErrCodeStorageWrite
	}
	return errors.Newf(code, "storage backend unavailable, %s %s rejected", op, key)
}

func (s *breakerStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	err := s.breaker.Do(func() error {
		return s.inner.Put(ctx, key, r, size)
	})
	if err == circuit.ErrOpen {
		return reject("put", key)
	}
	return err
}

func (s *breakerStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := s.breaker.Do(func() error {
		var innerErr error
		rc, innerErr = s.inner.Get(ctx, key)
		return innerErr
	})
	if err == circuit.ErrOpen {
		return nil, reject("get", key)
	}
	if err != nil {
		return nil, err
	}
	return rc, nil
}

func (s *breakerStore) Head(ctx context.Context, key string) (int64, error) {
	var size int64
	err := s.breaker.Do(func() error {
		var innerErr error
		size, innerErr = s.inner.Head(ctx, key)
		return innerErr
	})
	if err == circuit.ErrOpen {
		return 0, reject("head", key)
	}
	if err != nil {
		return 0, err
	}
	return size, nil
}

func (s *breakerStore) Delete(ctx context.Context, key string) error {
	err := s.breaker.Do(func() error {
		return s.inner.Delete(ctx, key)
	})
	if err == circuit.ErrOpen {
		return reject("delete", key)
	}
	return err
}
