package storage

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldpack/coldpack/internal/config"
	"github.com/coldpack/coldpack/pkg/errors"
	"github.com/coldpack/coldpack/pkg/types"
)

var _ types.ArchiveStore = (*Local)(nil)
var _ types.ArchiveStore = (*S3)(nil)

func TestLocal_PutGetHeadDelete(t *testing.T) {
	store, err := NewLocal(filepath.Join(t.TempDir(), "archives"))
	require.NoError(t, err)

	ctx := context.Background()
	content := []byte("stored archive bytes")
	require.NoError(t, store.Put(ctx, "batch-1/doc.cpak", bytes.NewReader(content), int64(len(content))))

	size, err := store.Head(ctx, "batch-1/doc.cpak")
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)

	rc, err := store.Get(ctx, "batch-1/doc.cpak")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, content, got)

	require.NoError(t, store.Delete(ctx, "batch-1/doc.cpak"))
	_, err = store.Head(ctx, "batch-1/doc.cpak")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeArchiveNotFound, errors.CodeOf(err))
}

func TestLocal_GetMissingKey(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "absent.cpak")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeArchiveNotFound, errors.CodeOf(err))
	assert.False(t, errors.IsRetryable(err))
}

func TestLocal_DeleteMissingKeyIsIdempotent(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, store.Delete(context.Background(), "never-existed.cpak"))
}

func TestLocal_PutOverwrites(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k.cpak", bytes.NewReader([]byte("one")), 3))
	require.NoError(t, store.Put(ctx, "k.cpak", bytes.NewReader([]byte("two!")), 4))

	size, err := store.Head(ctx, "k.cpak")
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)
}

func TestLocal_RejectsEscapingKeys(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	err = store.Put(context.Background(), "../outside.cpak", bytes.NewReader([]byte("x")), 1)
	require.Error(t, err)
}

func TestLocal_RequiresRoot(t *testing.T) {
	_, err := NewLocal("")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidConfig, errors.CodeOf(err))
}

func TestNew_SelectsBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "local"
	cfg.Storage.LocalRoot = t.TempDir()

	store, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, (*Local)(nil), store)

	cfg.Storage.Backend = "tape"
	_, err = New(cfg)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidConfig, errors.CodeOf(err))
}
