// Package storage provides archive store backends for shipping finished
// archives off the local filesystem.
//
// Both backends implement types.ArchiveStore. The local backend is a plain
// directory tree and is what the test suite exercises; the s3 backend
// targets any S3-compatible endpoint.
package storage

import (
	"github.com/coldpack/coldpack/internal/circuit"
	"github.com/coldpack/coldpack/internal/config"
	"github.com/coldpack/coldpack/pkg/errors"
	"github.com/coldpack/coldpack/pkg/types"
)

// New builds the archive store selected by the configuration. The remote
// backend is wrapped in a circuit breaker; the local one talks to the same
// disk everything else does and gains nothing from one.
func New(cfg *config.Configuration) (types.ArchiveStore, error) {
	switch cfg.Storage.Backend {
	case "", "local":
		return NewLocal(cfg.Storage.LocalRoot)
	case "s3":
		store, err := NewS3(cfg.Storage.S3)
		if err != nil {
			return nil, err
		}
		return WithBreaker(store, circuit.Config{}), nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig,
			"unknown storage backend %q", cfg.Storage.Backend)
	}
}
