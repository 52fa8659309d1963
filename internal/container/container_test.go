package container

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldpack/coldpack/pkg/errors"
)

func sampleManifest() *Manifest {
	return &Manifest{
		OriginalFilename: "report.pdf",
		OriginalSize:     51200,
		CompressionLevel: "high",
		Format:           "pdf",
		Checksum:         "0f343b0931126a20f133d67c2b018a3b1e3d1f86d8a3bd7f4e2e0c6b7a5d4c3b",
		HasDict:          false,
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	m := sampleManifest()

	written, err := WriteHeader(&buf, TagLossless, CurrentVersion, m)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), written)

	// Payload bytes follow the header untouched.
	payload := []byte("compressed payload bytes")
	buf.Write(payload)

	h, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, TagLossless, h.Tag)
	assert.Equal(t, CurrentVersion, h.Version)
	assert.Equal(t, m, h.Manifest)

	rest, err := io.ReadAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, rest)
}

func TestHeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	m := sampleManifest()
	_, err := WriteHeader(&buf, TagVisual, 1, m)
	require.NoError(t, err)

	raw := buf.Bytes()
	assert.Equal(t, []byte("CPAV"), raw[0:4])
	assert.Equal(t, uint8(1), raw[4])

	manifestLen := binary.BigEndian.Uint32(raw[5:9])
	assert.Equal(t, HeaderFixedSize+int(manifestLen), len(raw))

	// The manifest record is stored as plain UTF-8 JSON.
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw[9:9+manifestLen], &decoded))
	assert.Equal(t, "report.pdf", decoded["original_filename"])
	assert.Equal(t, float64(51200), decoded["original_size"])
}

func TestReadHeader_UnknownTag(t *testing.T) {
	raw := append([]byte("ZZZZ"), make([]byte, 20)...)

	_, err := ReadHeader(bytes.NewReader(raw))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFormatInvalid, errors.CodeOf(err))
}

func TestReadHeader_Truncated(t *testing.T) {
	_, err := ReadHeader(bytes.NewReader([]byte("CPA")))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFormatInvalid, errors.CodeOf(err))
}

func TestReadHeader_TruncatedManifest(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteHeader(&buf, TagLossless, 1, sampleManifest())
	require.NoError(t, err)

	truncated := buf.Bytes()[:buf.Len()-10]
	_, err = ReadHeader(bytes.NewReader(truncated))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFormatInvalid, errors.CodeOf(err))
}

func TestReadHeader_ManifestNotJSON(t *testing.T) {
	record := []byte("definitely not json")
	raw := []byte("CPAK")
	raw = append(raw, 1)
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(record)))
	raw = append(raw, length[:]...)
	raw = append(raw, record...)

	_, err := ReadHeader(bytes.NewReader(raw))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeManifestInvalid, errors.CodeOf(err))
}

// buildArchive writes a header with an arbitrary manifest record, bypassing
// Manifest.Encode, to simulate archives written by other versions.
func buildArchive(t *testing.T, tag FormatTag, version uint8, record map[string]interface{}) []byte {
	t.Helper()
	manifestBytes, err := json.Marshal(record)
	require.NoError(t, err)

	raw := append([]byte{}, tag[:]...)
	raw = append(raw, version)
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(manifestBytes)))
	raw = append(raw, length[:]...)
	return append(raw, manifestBytes...)
}

func TestReadHeader_NewerVersionWithRequiredFields(t *testing.T) {
	// A future version with extra fields parses fine as long as the fields
	// this reader needs are present. Unknown fields are ignored.
	raw := buildArchive(t, TagLossless, CurrentVersion+3, map[string]interface{}{
		"original_filename": "future.pdf",
		"original_size":     1234,
		"compression_level": "high",
		"format":            "pdf",
		"has_dict":          false,
		"shard_count":       8,
		"encryption":        "aes-256-gcm",
	})

	h, err := ReadHeader(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion+3, h.Version)
	assert.Equal(t, "future.pdf", h.Manifest.OriginalFilename)
	assert.Equal(t, int64(1234), h.Manifest.OriginalSize)
}

func TestReadHeader_NewerVersionMissingRequiredField(t *testing.T) {
	raw := buildArchive(t, TagLossless, CurrentVersion+1, map[string]interface{}{
		"name": "renamed-the-filename-field.pdf",
	})

	_, err := ReadHeader(bytes.NewReader(raw))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeVersionUnsupported, errors.CodeOf(err))
}

func TestReadHeader_KnownVersionMissingRequiredField(t *testing.T) {
	// Same missing field under the current version is corruption, not a
	// version problem.
	raw := buildArchive(t, TagLossless, CurrentVersion, map[string]interface{}{
		"original_size": 10,
	})

	_, err := ReadHeader(bytes.NewReader(raw))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeManifestInvalid, errors.CodeOf(err))
}

func TestFormatTagModes(t *testing.T) {
	assert.Equal(t, "lossless", TagLossless.Mode())
	assert.Equal(t, "visual", TagVisual.Mode())
	assert.Equal(t, "lossy", TagLossy.Mode())
}

func TestManifest_ModeFields(t *testing.T) {
	var buf bytes.Buffer
	m := sampleManifest()
	m.Mode = "lossy"
	m.ImageQuality = 85
	m.PrecompressedSize = 40960

	_, err := WriteHeader(&buf, TagLossy, CurrentVersion, m)
	require.NoError(t, err)

	h, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, 85, h.Manifest.ImageQuality)
	assert.Equal(t, int64(40960), h.Manifest.PrecompressedSize)
}
