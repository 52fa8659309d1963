package engine

import (
	"bytes"
	stderrors "errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldpack/coldpack/pkg/errors"
)

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"low", "medium", "high", "ultra"} {
		l, err := ParseLevel(s)
		require.NoError(t, err)
		assert.Equal(t, Level(s), l)
	}

	_, err := ParseLevel("turbo")
	assert.Error(t, err)
}

func TestZstdLevelMapping(t *testing.T) {
	assert.Equal(t, 3, LevelLow.ZstdLevel())
	assert.Equal(t, 10, LevelMedium.ZstdLevel())
	assert.Equal(t, 19, LevelHigh.ZstdLevel())
	assert.Equal(t, 22, LevelUltra.ZstdLevel())
	// Unknown labels fall back to high rather than failing mid-stream.
	assert.Equal(t, 19, Level("bogus").ZstdLevel())
}

func TestChunkSize(t *testing.T) {
	cases := []struct {
		size int64
		want int
	}{
		{1, ChunkSmall},
		{51_200, ChunkSmall},
		{5_000_000, ChunkSmall},
		{9_999_999, ChunkSmall},
		{10_000_000, ChunkMedium},
		{50_000_000, ChunkMedium},
		{99_999_999, ChunkMedium},
		{100_000_000, ChunkLarge},
		{750_000_000, ChunkLarge},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ChunkSize(tc.size), "size %d", tc.size)
	}
}

func TestChunkCounts(t *testing.T) {
	// A 5MB input streams in 64KB chunks, a 50MB input in 512KB chunks.
	// These counts are what drives progress-callback granularity.
	fiveMB := int64(5 * 1024 * 1024)
	assert.Equal(t, 80, int(fiveMB/int64(ChunkSize(fiveMB))))

	fiftyMB := int64(50 * 1024 * 1024)
	assert.Equal(t, 100, int(fiftyMB/int64(ChunkSize(fiftyMB))))
}

func TestLongDistance(t *testing.T) {
	assert.False(t, LongDistance(51_200))
	assert.False(t, LongDistance(1_000_000))
	assert.True(t, LongDistance(1_000_001))
	assert.True(t, LongDistance(200_000_000))
}

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("coldpack streaming round trip payload "), 4096)

	for _, level := range []Level{LevelLow, LevelMedium, LevelHigh, LevelUltra} {
		t.Run(string(level), func(t *testing.T) {
			var compressed bytes.Buffer
			w, err := NewWriter(&compressed, level, false, nil)
			require.NoError(t, err)

			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			assert.Less(t, compressed.Len(), len(payload))

			r, err := NewReader(bytes.NewReader(compressed.Bytes()), nil)
			require.NoError(t, err)
			defer r.Close()

			restored, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, restored)
		})
	}
}

func TestRoundTrip_LongDistance(t *testing.T) {
	payload := bytes.Repeat([]byte("block of redundant archive content\n"), 60_000)
	require.Greater(t, int64(len(payload)), int64(LongDistanceThreshold))

	var compressed bytes.Buffer
	w, err := NewWriter(&compressed, LevelMedium, LongDistance(int64(len(payload))), nil)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := NewReader(bytes.NewReader(compressed.Bytes()), nil)
	require.NoError(t, err)
	defer r.Close()

	restored, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, restored)
}

func TestReader_GarbageInput(t *testing.T) {
	r, err := NewReader(bytes.NewReader([]byte("this is not a zstd stream at all")), nil)
	if err != nil {
		// Construction may already reject the stream.
		assert.Equal(t, errors.ErrCodePayloadDecode, errors.CodeOf(err))
		return
	}
	defer r.Close()

	_, err = io.ReadAll(r)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodePayloadDecode, errors.CodeOf(err))
	assert.False(t, errors.IsRetryable(err))
}

// faultyReader serves a prefix of data, then fails every read with err.
type faultyReader struct {
	data []byte
	off  int
	err  error
}

func (f *faultyReader) Read(p []byte) (int, error) {
	if f.off >= len(f.data) {
		return 0, f.err
	}
	n := copy(p, f.data[f.off:])
	f.off += n
	return n, nil
}

func compressed(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, LevelLow, false, nil)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestReader_SourceFaultIsTransient(t *testing.T) {
	payload := bytes.Repeat([]byte("content on an unreliable medium "), 8192)
	stream := compressed(t, payload)

	// A valid prefix followed by a medium fault is the medium's problem,
	// not corruption: it must come back retryable, never as a decode error.
	fault := stderrors.New("device not ready")
	r, err := NewReader(&faultyReader{data: stream[:len(stream)/2], err: fault}, nil)
	require.NoError(t, err)
	defer r.Close()

	_, err = io.ReadAll(r)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIORead, errors.CodeOf(err))
	assert.True(t, errors.IsRetryable(err))
	assert.ErrorIs(t, err, fault)
}

func TestReader_ClassifiedSourceFaultPassesThrough(t *testing.T) {
	payload := bytes.Repeat([]byte("already classified upstream "), 8192)
	stream := compressed(t, payload)

	fault := errors.New(errors.ErrCodeStorageRead, "connection reset")
	r, err := NewReader(&faultyReader{data: stream[:len(stream)/2], err: fault}, nil)
	require.NoError(t, err)
	defer r.Close()

	_, err = io.ReadAll(r)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStorageRead, errors.CodeOf(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestReader_TruncatedStreamIsDecodeError(t *testing.T) {
	payload := bytes.Repeat([]byte("stream cut short on disk "), 8192)
	stream := compressed(t, payload)

	// Truncation with a cleanly ending source is a damaged archive, not a
	// medium fault.
	r, err := NewReader(bytes.NewReader(stream[:len(stream)/2]), nil)
	require.NoError(t, err)
	defer r.Close()

	_, err = io.ReadAll(r)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodePayloadDecode, errors.CodeOf(err))
	assert.False(t, errors.IsRetryable(err))
}

func TestWriter_EmptyCloseProducesDecodableStream(t *testing.T) {
	var compressed bytes.Buffer
	w, err := NewWriter(&compressed, LevelLow, false, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := NewReader(bytes.NewReader(compressed.Bytes()), nil)
	require.NoError(t, err)
	defer r.Close()

	restored, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, restored)
}
