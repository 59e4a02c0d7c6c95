package storage

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vocdoni/maci-coordinator/log"
)

// ArtifactEncoding selects how artifacts are serialized.
type ArtifactEncoding int

const (
	// ArtifactEncodingCBOR is the deterministic CBOR encoding, the default.
	ArtifactEncodingCBOR ArtifactEncoding = iota
	// ArtifactEncodingJSON is the JSON encoding, used for artifacts that
	// are also exported as files.
	ArtifactEncodingJSON
)

func (e ArtifactEncoding) String() string {
	switch e {
	case ArtifactEncodingCBOR:
		return "cbor"
	case ArtifactEncodingJSON:
		return "json"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

var cborEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoding mode: %v", err))
	}
	return em
}()

// EncodeArtifact encodes an artifact, in CBOR unless another encoding is
// given. A JSON encoding failure falls back to CBOR.
func EncodeArtifact(a any, encoding ...ArtifactEncoding) ([]byte, error) {
	if len(encoding) == 0 {
		return EncodeArtifactCBOR(a)
	}
	switch encoding[0] {
	case ArtifactEncodingCBOR:
		return EncodeArtifactCBOR(a)
	case ArtifactEncodingJSON:
		res, err := EncodeArtifactJSON(a)
		if err != nil {
			log.Warnw("falling back to CBOR encoding due to JSON encoding failure", "error", err)
			return EncodeArtifactCBOR(a)
		}
		return res, nil
	default:
		return nil, fmt.Errorf("unknown artifact encoding: %s", encoding[0])
	}
}

// DecodeArtifact decodes an artifact, from CBOR unless another encoding is
// given. A JSON decoding failure falls back to CBOR.
func DecodeArtifact(data []byte, out any, encoding ...ArtifactEncoding) error {
	if len(encoding) == 0 {
		return DecodeArtifactCBOR(data, out)
	}
	switch encoding[0] {
	case ArtifactEncodingCBOR:
		return DecodeArtifactCBOR(data, out)
	case ArtifactEncodingJSON:
		if err := DecodeArtifactJSON(data, out); err != nil {
			log.Warnw("falling back to CBOR decoding due to JSON decoding failure", "error", err)
			return DecodeArtifactCBOR(data, out)
		}
		return nil
	default:
		return fmt.Errorf("unknown artifact encoding: %s", encoding[0])
	}
}

// EncodeArtifactCBOR encodes an artifact into deterministic CBOR.
func EncodeArtifactCBOR(a any) ([]byte, error) {
	data, err := cborEncMode.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return data, nil
}

// DecodeArtifactCBOR decodes a CBOR-encoded artifact into out.
func DecodeArtifactCBOR(data []byte, out any) error {
	return cbor.Unmarshal(data, out)
}

// EncodeArtifactJSON encodes an artifact into JSON.
func EncodeArtifactJSON(a any) ([]byte, error) {
	return json.Marshal(a)
}

// DecodeArtifactJSON decodes a JSON-encoded artifact into out.
func DecodeArtifactJSON(data []byte, out any) error {
	return json.Unmarshal(data, out)
}
