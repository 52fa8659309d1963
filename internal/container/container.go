// Package container defines the coldpack archive layout and its codec.
//
// Layout (big-endian):
//
//	offset 0:   4 bytes  format tag (family: lossless / visual / lossy)
//	offset 4:   1 byte   format version
//	offset 5:   4 bytes  unsigned manifest length L
//	offset 9:   L bytes  UTF-8 JSON manifest record (stored uncompressed)
//	offset 9+L: ...      compressed payload stream to end of file
//
// The tag and version together fully determine how the manifest is parsed.
// Format identification always happens before manifest parsing, so a reader
// never interprets manifest bytes from an unrecognized container.
package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/coldpack/coldpack/pkg/errors"
)

// FormatTag is the 4-byte family identifier at the start of every archive.
type FormatTag [4]byte

var (
	// TagLossless marks byte-exact archives.
	TagLossless = FormatTag{'C', 'P', 'A', 'K'}

	// TagVisual marks visually-faithful archives whose content was
	// normalized before compression.
	TagVisual = FormatTag{'C', 'P', 'A', 'V'}

	// TagLossy marks archives whose content was re-encoded at reduced
	// quality before compression.
	TagLossy = FormatTag{'C', 'P', 'A', 'L'}
)

// knownTags lists every tag this reader understands.
var knownTags = []FormatTag{TagLossless, TagVisual, TagLossy}

// String returns the tag as text.
func (t FormatTag) String() string {
	return string(t[:])
}

// Mode returns the fidelity mode name for the tag.
func (t FormatTag) Mode() string {
	switch t {
	case TagVisual:
		return "visual"
	case TagLossy:
		return "lossy"
	default:
		return "lossless"
	}
}

// lookupTag reports whether the leading bytes match a known family.
func lookupTag(b [4]byte) (FormatTag, bool) {
	for _, t := range knownTags {
		if bytes.Equal(b[:], t[:]) {
			return t, true
		}
	}
	return FormatTag{}, false
}

// CurrentVersion is the archive format version this codec writes.
const CurrentVersion uint8 = 1

// HeaderFixedSize is the byte count before the manifest record.
const HeaderFixedSize = 9

// maxManifestLength bounds the declared manifest length so a corrupt
// length field cannot drive an unbounded allocation.
const maxManifestLength = 16 << 20

// Header is the parsed archive prelude.
type Header struct {
	Tag      FormatTag
	Version  uint8
	Manifest *Manifest
}

// WriteHeader serializes the archive prelude to w and returns the number of
// bytes written. The payload stream follows immediately after.
func WriteHeader(w io.Writer, tag FormatTag, version uint8, m *Manifest) (int64, error) {
	manifestBytes, err := m.Encode()
	if err != nil {
		return 0, err
	}
	if len(manifestBytes) > maxManifestLength {
		return 0, errors.Newf(errors.ErrCodeManifestInvalid,
			"manifest too large: %d bytes", len(manifestBytes))
	}

	buf := make([]byte, 0, HeaderFixedSize+len(manifestBytes))
	buf = append(buf, tag[:]...)
	buf = append(buf, version)
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(manifestBytes)))
	buf = append(buf, length[:]...)
	buf = append(buf, manifestBytes...)

	n, err := w.Write(buf)
	if err != nil {
		return int64(n), errors.New(errors.ErrCodeIOWrite, "writing archive header").WithCause(err)
	}
	return int64(n), nil
}

// ReadHeader parses the archive prelude from r, leaving r positioned at the
// first byte of the compressed payload.
//
// An unknown leading tag or an unparseable manifest fails with a format
// error. An unrecognized newer version under a known tag is accepted as
// long as every field this reader needs is present; only a missing required
// field fails with a version error.
func ReadHeader(r io.Reader) (*Header, error) {
	var fixed [HeaderFixedSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, errors.New(errors.ErrCodeFormatInvalid, "archive too short for header").WithCause(err)
	}

	var rawTag [4]byte
	copy(rawTag[:], fixed[0:4])
	tag, ok := lookupTag(rawTag)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeFormatInvalid,
			"unknown format tag %q", string(rawTag[:]))
	}

	version := fixed[4]
	manifestLen := binary.BigEndian.Uint32(fixed[5:9])
	if manifestLen == 0 || manifestLen > maxManifestLength {
		return nil, errors.Newf(errors.ErrCodeFormatInvalid,
			"implausible manifest length %d", manifestLen)
	}

	manifestBytes := make([]byte, manifestLen)
	if _, err := io.ReadFull(r, manifestBytes); err != nil {
		return nil, errors.New(errors.ErrCodeFormatInvalid, "archive truncated inside manifest").WithCause(err)
	}

	manifest, err := DecodeManifest(manifestBytes, version)
	if err != nil {
		return nil, err
	}

	return &Header{Tag: tag, Version: version, Manifest: manifest}, nil
}

// Describe renders a short human-readable identification line, used by
// archive inspection.
func (h *Header) Describe() string {
	return fmt.Sprintf("%s v%d %s (%s, %d bytes original)",
		h.Tag, h.Version, h.Manifest.OriginalFilename,
		h.Manifest.CompressionLevel, h.Manifest.OriginalSize)
}
