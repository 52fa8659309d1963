package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/coldpack/coldpack/pkg/errors"
)

// Local stores archives as plain files under a root directory. Keys use
// forward slashes and are resolved relative to the root; Put writes with the
// same temp-then-rename commit used everywhere else.
type Local struct {
	root string
}

// NewLocal creates a local store rooted at root, creating it if needed.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "local storage requires a root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Newf(errors.ErrCodeStorageWrite, "creating storage root %s", root).WithCause(err)
	}
	return &Local{root: root}, nil
}

// resolve maps a slash-separated key to a path under the root, rejecting
// keys that would escape it.
func (l *Local) resolve(key string) (string, error) {
	path := filepath.Join(l.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.root, path)
	if err != nil || rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return "", errors.Newf(errors.ErrCodeStorageWrite, "key escapes storage root: %q", key)
	}
	return path, nil
}

// Put stores the reader's content under key.
func (l *Local) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Newf(errors.ErrCodeStorageWrite, "creating storage directory %s", dir).WithCause(err)
	}

	tmp, err := os.CreateTemp(dir, ".store-*.tmp")
	if err != nil {
		return errors.New(errors.ErrCodeStorageWrite, "creating storage temp file").WithCause(err)
	}
	tmpPath := tmp.Name()

	_, err = io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return errors.Newf(errors.ErrCodeStorageWrite, "writing object %s", key).WithCause(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Newf(errors.ErrCodeStorageWrite, "committing object %s", key).WithCause(err)
	}
	return nil
}

// Get opens the object stored under key.
func (l *Local) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrCodeArchiveNotFound, "no stored archive at %s", key)
		}
		return nil, errors.Newf(errors.ErrCodeStorageRead, "opening object %s", key).WithCause(err)
	}
	return f, nil
}

// Head returns the stored object's size.
func (l *Local) Head(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	path, err := l.resolve(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.Newf(errors.ErrCodeArchiveNotFound, "no stored archive at %s", key)
		}
		return 0, errors.Newf(errors.ErrCodeStorageRead, "statting object %s", key).WithCause(err)
	}
	return info.Size(), nil
}

// Delete removes the object under key. Deleting an absent key is not an
// error.
func (l *Local) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Newf(errors.ErrCodeStorageWrite, "deleting object %s", key).WithCause(err)
	}
	return nil
}
