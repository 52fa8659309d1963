package container

import (
	"encoding/json"

	"github.com/coldpack/coldpack/pkg/errors"
)

// Manifest is the metadata record sealed inside every archive. It is owned
// exclusively by its archive and immutable once written.
//
// Unrecognized fields in a stored manifest are ignored on read, which is
// what makes additive format evolution possible.
type Manifest struct {
	OriginalFilename string `json:"original_filename"`
	OriginalSize     int64  `json:"original_size"`
	CompressionLevel string `json:"compression_level"`
	Format           string `json:"format"`
	Checksum         string `json:"checksum,omitempty"`
	HasDict          bool   `json:"has_dict"`

	// Mode-specific optional fields.
	Mode              string `json:"mode,omitempty"`
	ImageQuality      int    `json:"image_quality,omitempty"`
	PrecompressedSize int64  `json:"precompressed_size,omitempty"`
}

// requiredFields are the manifest keys every reader of this codec needs,
// regardless of which version wrote the archive.
var requiredFields = []string{"original_filename", "original_size"}

// Encode serializes the manifest as UTF-8 JSON.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.New(errors.ErrCodeManifestInvalid, "encoding manifest").WithCause(err)
	}
	return data, nil
}

// DecodeManifest parses a manifest record written by the given format
// version.
//
// Parse rules: structurally invalid JSON is a format error. A manifest
// missing a required field is a version error when the archive was written
// by a newer version than this codec knows (the field was presumably
// renamed or replaced), and a format error otherwise (the record is simply
// corrupt).
func DecodeManifest(data []byte, version uint8) (*Manifest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.New(errors.ErrCodeManifestInvalid, "manifest is not valid JSON").WithCause(err)
	}

	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			if version > CurrentVersion {
				return nil, errors.Newf(errors.ErrCodeVersionUnsupported,
					"archive version %d requires field %q this reader cannot find", version, field)
			}
			return nil, errors.Newf(errors.ErrCodeManifestInvalid,
				"manifest missing required field %q", field)
		}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.New(errors.ErrCodeManifestInvalid, "decoding manifest fields").WithCause(err)
	}
	return &m, nil
}
