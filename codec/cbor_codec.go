package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBORCodec is the default payload codec: compact, binary, schema-less.
//
// Params tuples are declared as structs tagged `cbor:",toarray"` so they travel as positional
// CBOR arrays, which keeps the wire shape an ordered fixed-arity tuple:
//
//	type addParams struct {
//		_    struct{} `cbor:",toarray"`
//		A, B int
//	}
//
// Encoding is deterministic (core deterministic encoding) so equal values yield equal bytes.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var cborCodec = mustCBOR()

// NewCBORCodec builds a CBOR codec with deterministic encoding and bounded decoding.
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}
	dec, err := cbor.DecOptions{
		MaxNestedLevels: 64,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor dec mode: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

func mustCBOR() *CBORCodec {
	c, err := NewCBORCodec()
	if err != nil {
		panic(err)
	}
	return c
}

func (c *CBORCodec) Encode(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *CBORCodec) Decode(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}

func (c *CBORCodec) Type() CodecType {
	return CodecTypeCBOR
}
