// Package codec encodes handler parameter tuples and return values.
//
// The envelope framing (see package protocol) is fixed; only the payloads inside it go
// through a Codec. Both peers must be built with the same codec.
package codec

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
	CodecTypeCBOR CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=CBOR
}

// GetCodec returns the codec for codecType. Unknown types fall back to CBOR, the default.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return Default()
}

// Default returns the codec used when none is configured.
func Default() Codec {
	return cborCodec
}

// ParseCodecType maps a codec name ("cbor", "json") to its type.
func ParseCodecType(name string) (CodecType, bool) {
	switch name {
	case "json":
		return CodecTypeJSON, true
	case "cbor", "":
		return CodecTypeCBOR, true
	default:
		return 0, false
	}
}
