// Package engine wraps zstd streaming compression for the archive
// packaging pipeline.
//
// The engine exposes four coarse effort labels that map to fixed zstd
// levels, selects streaming chunk sizes from the input size, and enables
// the enlarged long-distance match window only for payloads big enough to
// benefit from it.
package engine

import (
	stderrors "errors"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/coldpack/coldpack/pkg/errors"
)

// Level is a coarse compression effort label.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
	LevelUltra  Level = "ultra"
)

// zstdLevels maps the coarse labels to fixed zstd effort levels.
var zstdLevels = map[Level]int{
	LevelLow:    3,
	LevelMedium: 10,
	LevelHigh:   19,
	LevelUltra:  22,
}

// ParseLevel validates a level label.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if _, ok := zstdLevels[l]; !ok {
		return "", errors.Newf(errors.ErrCodeInvalidConfig, "unknown compression level %q", s)
	}
	return l, nil
}

// ZstdLevel returns the numeric zstd level for a label, defaulting to high
// for unknown labels.
func (l Level) ZstdLevel() int {
	if n, ok := zstdLevels[l]; ok {
		return n
	}
	return zstdLevels[LevelHigh]
}

const (
	// LongDistanceThreshold is the payload size above which long-distance
	// matching is enabled. Smaller payloads do not benefit and the extra
	// match tables waste memory.
	LongDistanceThreshold = 1_000_000

	// longDistanceWindow is the enlarged encoder window used for
	// long-distance matching. Must be a power of two.
	longDistanceWindow = 128 << 20

	// Streaming chunk sizes, balancing syscall overhead against
	// progress-callback granularity.
	ChunkSmall  = 64 << 10
	ChunkMedium = 512 << 10
	ChunkLarge  = 1 << 20

	smallChunkCutoff  = 10_000_000
	mediumChunkCutoff = 100_000_000
)

// ChunkSize returns the streaming chunk size for an input of the given
// size: 64KB below 10MB, 512KB between 10MB and 100MB, 1MB above.
func ChunkSize(inputSize int64) int {
	switch {
	case inputSize < smallChunkCutoff:
		return ChunkSmall
	case inputSize < mediumChunkCutoff:
		return ChunkMedium
	default:
		return ChunkLarge
	}
}

// LongDistance reports whether long-distance matching should be enabled for
// a payload of the given size.
func LongDistance(payloadSize int64) bool {
	return payloadSize > LongDistanceThreshold
}

// NewWriter opens a streaming compressor over sink. Closing the returned
// encoder finalizes the stream; until then the sink holds an incomplete
// prefix. A non-nil dict must be a zstd dictionary blob; the identical
// bytes are required to read the stream back.
func NewWriter(sink io.Writer, level Level, longDistance bool, dict []byte) (*zstd.Encoder, error) {
	opts := []zstd.EOption{
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level.ZstdLevel())),
	}
	if longDistance {
		opts = append(opts, zstd.WithWindowSize(longDistanceWindow))
	}
	if dict != nil {
		opts = append(opts, zstd.WithEncoderDict(dict))
	}

	enc, err := zstd.NewWriter(sink, opts...)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "opening zstd writer").WithCause(err)
	}
	return enc, nil
}

// trackedReader remembers the first failure the underlying source returns,
// so decoder errors can be told apart from source errors afterwards. The
// decoder reads ahead from its own goroutine, hence the lock.
type trackedReader struct {
	r io.Reader

	mu  sync.Mutex
	err error
}

func (t *trackedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.mu.Lock()
		if t.err == nil {
			t.err = err
		}
		t.mu.Unlock()
	}
	return n, err
}

func (t *trackedReader) sourceErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Reader yields decompressed chunks lazily from a compressed stream.
// Structurally invalid input surfaces as a PAYLOAD_DECODE error, distinct
// from the checksum verification done by the unpacker above this layer; a
// failure of the underlying source is transient I/O, not corruption.
type Reader struct {
	dec *zstd.Decoder
	src *trackedReader
}

// NewReader opens a streaming decompressor over source. A non-nil dict is
// registered for streams that were compressed with it.
func NewReader(source io.Reader, dict []byte) (*Reader, error) {
	opts := []zstd.DOption{}
	if dict != nil {
		opts = append(opts, zstd.WithDecoderDicts(dict))
	}

	src := &trackedReader{r: source}
	dec, err := zstd.NewReader(src, opts...)
	if err != nil {
		return nil, errors.New(errors.ErrCodePayloadDecode, "opening zstd reader").WithCause(err)
	}
	return &Reader{dec: dec, src: src}, nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.dec.Read(p)
	if err != nil && err != io.EOF {
		return n, r.classify(err)
	}
	return n, err
}

// classify maps a decoder failure onto the taxonomy. If the source itself
// failed, the fault is the medium's, not the stream's: already-classified
// errors pass through and anything else becomes a retryable read error.
// Only errors the decoder raised on intact source bytes mean the payload is
// structurally invalid.
func (r *Reader) classify(err error) error {
	if srcErr := r.src.sourceErr(); srcErr != nil {
		var packErr *errors.PackError
		if stderrors.As(srcErr, &packErr) {
			return srcErr
		}
		return errors.New(errors.ErrCodeIORead, "reading compressed payload").WithCause(srcErr)
	}
	return errors.New(errors.ErrCodePayloadDecode, "decompressing payload").WithCause(err)
}

// Close releases the decoder. Safe to call more than once.
func (r *Reader) Close() error {
	r.dec.Close()
	return nil
}
