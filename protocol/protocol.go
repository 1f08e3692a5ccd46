// Package protocol implements the binary envelopes exchanged between two turbo-rpc peers.
//
// Every frame starts with one 64-bit little-endian word. The receiver reads that word first
// and knows immediately what kind of frame it holds, without any side channel:
//
//	word == 1     → Dispatch envelope: a new call to a named handler
//	word >= 256   → Response envelope: the word is the txid of an outstanding transaction
//	word in 2-255 → reserved control codes (currently unused, frame is rejected)
//
// Dispatch frame:
//
//	0        8        12            12+n      20+n
//	┌────────┬────────┬─────────────┬─────────┬────────────────┐
//	│ kind=1 │ nameLen│  name ...   │  txid   │  params ...    │
//	│ uint64 │ uint32 │ nameLen B   │ uint64  │  codec tuple   │
//	└────────┴────────┴─────────────┴─────────┴────────────────┘
//
// Response frame:
//
//	0        8
//	┌────────┬────────────────┐
//	│  txid  │  result ...    │
//	│ uint64 │  see result.go │
//	└────────┴────────────────┘
//
// The same format is used on WebSocket connections and on UDP sockets, where the leading
// word makes demultiplexing of many peers on one socket cheap.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// DispatchMarker is the leading word of every Dispatch envelope.
	DispatchMarker uint64 = 1

	// FirstTxID is the first transaction id handed out by a registry.
	// Everything below it is reserved for control codes.
	FirstTxID uint64 = 256

	// WordSize is the size of the leading word.
	WordSize = 8

	// MaxNameLen bounds the dispatch name so a corrupt length cannot trigger a huge allocation.
	MaxNameLen = 1024

	dispatchHeaderSize = WordSize + 4
)

var (
	// ErrShortFrame is returned for frames that cannot even hold the leading word.
	// Receivers drop these without logging them as errors.
	ErrShortFrame = errors.New("protocol: frame shorter than 8 bytes")

	// ErrNotDispatch is returned by DecodeDispatch when the leading word is not DispatchMarker.
	ErrNotDispatch = errors.New("protocol: not a dispatch frame")

	// ErrReserved is returned for frames whose leading word is a reserved control code.
	ErrReserved = errors.New("protocol: reserved control code")
)

// Kind tells what a frame holds.
type Kind int

const (
	KindUnknown Kind = iota
	KindDispatch
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindDispatch:
		return "dispatch"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Dispatch is the envelope of a new call.
type Dispatch struct {
	Name   string // Target handler tag, unique per process
	TxID   uint64 // Transaction the caller expects responses tagged with
	Params []byte // Codec-encoded positional tuple of the handler's arguments
}

// Response is the envelope of one reply.
// A unary call produces exactly one; a streaming call produces one per item, all sharing TxID.
type Response struct {
	TxID   uint64
	Result []byte // Encoded result, see EncodeValue / EncodeError
}

// Peek reads the leading word and classifies the frame.
func Peek(frame []byte) (Kind, uint64, error) {
	if len(frame) < WordSize {
		return KindUnknown, 0, ErrShortFrame
	}
	word := binary.LittleEndian.Uint64(frame[:WordSize])
	switch {
	case word == DispatchMarker:
		return KindDispatch, word, nil
	case word >= FirstTxID:
		return KindResponse, word, nil
	default:
		return KindUnknown, word, fmt.Errorf("%w: %d", ErrReserved, word)
	}
}

// Encode serializes the Dispatch envelope into a single frame.
func (d *Dispatch) Encode() []byte {
	buf := make([]byte, dispatchHeaderSize+len(d.Name)+WordSize+len(d.Params))

	binary.LittleEndian.PutUint64(buf[0:WordSize], DispatchMarker)
	binary.LittleEndian.PutUint32(buf[WordSize:dispatchHeaderSize], uint32(len(d.Name)))
	offset := dispatchHeaderSize
	offset += copy(buf[offset:], d.Name)

	binary.LittleEndian.PutUint64(buf[offset:offset+WordSize], d.TxID)
	offset += WordSize

	copy(buf[offset:], d.Params)
	return buf
}

// DecodeDispatch parses a Dispatch frame.
// Params aliases frame; callers that keep it past the frame's lifetime must copy it.
func DecodeDispatch(frame []byte) (*Dispatch, error) {
	kind, _, err := Peek(frame)
	if err != nil {
		return nil, err
	}
	if kind != KindDispatch {
		return nil, ErrNotDispatch
	}
	if len(frame) < dispatchHeaderSize {
		return nil, fmt.Errorf("protocol: truncated dispatch header (%d bytes)", len(frame))
	}

	nameLen := binary.LittleEndian.Uint32(frame[WordSize:dispatchHeaderSize])
	if nameLen > MaxNameLen {
		return nil, fmt.Errorf("protocol: dispatch name length %d exceeds %d", nameLen, MaxNameLen)
	}
	offset := dispatchHeaderSize
	if len(frame) < offset+int(nameLen)+WordSize {
		return nil, fmt.Errorf("protocol: truncated dispatch frame (%d bytes, name %d)", len(frame), nameLen)
	}

	name := string(frame[offset : offset+int(nameLen)])
	offset += int(nameLen)
	txid := binary.LittleEndian.Uint64(frame[offset : offset+WordSize])
	offset += WordSize

	return &Dispatch{
		Name:   name,
		TxID:   txid,
		Params: frame[offset:],
	}, nil
}

// EncodeResponse builds a Response frame for txid carrying an encoded result.
func EncodeResponse(txid uint64, result []byte) []byte {
	buf := make([]byte, WordSize+len(result))
	binary.LittleEndian.PutUint64(buf[:WordSize], txid)
	copy(buf[WordSize:], result)
	return buf
}

// DecodeResponse parses a Response frame.
func DecodeResponse(frame []byte) (*Response, error) {
	kind, word, err := Peek(frame)
	if err != nil {
		return nil, err
	}
	if kind != KindResponse {
		return nil, fmt.Errorf("protocol: not a response frame (leading word %d)", word)
	}
	return &Response{TxID: word, Result: frame[WordSize:]}, nil
}
