package episode

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// CompressedSuffix is appended to file names of zstd-compressed episodes.
const CompressedSuffix = ".zst"

const envelopeVersion = 1

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCBOR:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown episode format %q (want json or cbor)", s)
	}
}

// envelope wraps a CBOR-encoded episode with the BLAKE3 digest of its
// bytes so a damaged file fails to load instead of yielding partial data.
type envelope struct {
	Version int    `cbor:"version"`
	Digest  []byte `cbor:"digest"`
	Payload []byte `cbor:"payload"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder

	ErrDigestMismatch = errors.New("episode digest mismatch")
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("episode: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("episode: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("episode: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("episode: zstd decoder initialization failed: " + err.Error())
	}
}

// Digest returns the hex BLAKE3-256 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Marshal encodes ep in the given format.
func Marshal(ep *Episode, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(ep, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode episode json: %w", err)
		}
		return data, nil
	case FormatCBOR:
		payload, err := encMode.Marshal(ep)
		if err != nil {
			return nil, fmt.Errorf("encode episode cbor: %w", err)
		}
		sum := blake3.Sum256(payload)
		data, err := encMode.Marshal(envelope{
			Version: envelopeVersion,
			Digest:  sum[:],
			Payload: payload,
		})
		if err != nil {
			return nil, fmt.Errorf("encode episode envelope: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown episode format %q", format)
	}
}

// Unmarshal decodes data written by Marshal in the same format.
func Unmarshal(data []byte, format Format) (*Episode, error) {
	var ep Episode
	switch format {
	case FormatJSON:
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, errors.New("decode episode json: not a JSON object")
		}
		if err := json.Unmarshal(trimmed, &ep); err != nil {
			return nil, fmt.Errorf("decode episode json: %w", err)
		}
	case FormatCBOR:
		var env envelope
		if err := decMode.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decode episode envelope: %w", err)
		}
		if env.Version != envelopeVersion {
			return nil, fmt.Errorf("decode episode envelope: unsupported version %d", env.Version)
		}
		sum := blake3.Sum256(env.Payload)
		if !bytes.Equal(sum[:], env.Digest) {
			return nil, ErrDigestMismatch
		}
		if err := decMode.Unmarshal(env.Payload, &ep); err != nil {
			return nil, fmt.Errorf("decode episode cbor: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown episode format %q", format)
	}
	return &ep, nil
}

func compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

func decompress(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}
