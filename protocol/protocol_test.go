package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatchEncodeDecode(t *testing.T) {
	d := &Dispatch{
		Name:   "echo",
		TxID:   300,
		Params: []byte{0x81, 0x62, 'h', 'i'},
	}

	frame := d.Encode()
	require.Equal(t, DispatchMarker, binary.LittleEndian.Uint64(frame[:8]))

	kind, word, err := Peek(frame)
	require.NoError(t, err)
	require.Equal(t, KindDispatch, kind)
	require.Equal(t, DispatchMarker, word)

	decoded, err := DecodeDispatch(frame)
	require.NoError(t, err)
	require.Equal(t, d.Name, decoded.Name)
	require.Equal(t, d.TxID, decoded.TxID)
	require.True(t, bytes.Equal(d.Params, decoded.Params))
}

func TestDispatchEmptyParams(t *testing.T) {
	frame := (&Dispatch{Name: "run_test", TxID: 256}).Encode()

	decoded, err := DecodeDispatch(frame)
	require.NoError(t, err)
	require.Equal(t, "run_test", decoded.Name)
	require.Empty(t, decoded.Params)
}

func TestResponseEncodeDecode(t *testing.T) {
	result := EncodeValue([]byte("hi"))
	frame := EncodeResponse(300, result)

	kind, word, err := Peek(frame)
	require.NoError(t, err)
	require.Equal(t, KindResponse, kind)
	require.Equal(t, uint64(300), word)

	resp, err := DecodeResponse(frame)
	require.NoError(t, err)
	require.Equal(t, uint64(300), resp.TxID)

	body, err := DecodeResult(resp.Result)
	require.NoError(t, err)
	require.Equal(t, "hi", string(body))
}

func TestPeekShortFrame(t *testing.T) {
	for _, frame := range [][]byte{nil, {}, {1, 0, 0, 0, 0, 0, 0}} {
		_, _, err := Peek(frame)
		require.ErrorIs(t, err, ErrShortFrame)
	}
}

func TestPeekReservedWord(t *testing.T) {
	frame := make([]byte, 8)
	binary.LittleEndian.PutUint64(frame, 42)

	kind, word, err := Peek(frame)
	require.ErrorIs(t, err, ErrReserved)
	require.Equal(t, KindUnknown, kind)
	require.Equal(t, uint64(42), word)
}

func TestDecodeDispatchRejectsResponse(t *testing.T) {
	_, err := DecodeDispatch(EncodeResponse(512, nil))
	require.ErrorIs(t, err, ErrNotDispatch)
}

func TestDecodeDispatchTruncated(t *testing.T) {
	frame := (&Dispatch{Name: "add", TxID: 999}).Encode()

	// Cut inside the txid.
	_, err := DecodeDispatch(frame[:len(frame)-3])
	require.Error(t, err)
	require.Contains(t, err.Error(), "truncated")

	// Header only.
	_, err = DecodeDispatch(frame[:10])
	require.Error(t, err)
}

func TestDecodeDispatchNameTooLong(t *testing.T) {
	frame := make([]byte, 12)
	binary.LittleEndian.PutUint64(frame[:8], DispatchMarker)
	binary.LittleEndian.PutUint32(frame[8:12], MaxNameLen+1)

	_, err := DecodeDispatch(frame)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds")
}

func TestResultError(t *testing.T) {
	result := EncodeError(errors.New("no such person"))
	require.Equal(t, StatusError, result[0])

	body, err := DecodeResult(result)
	require.Nil(t, body)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "no such person", remote.Message)
}

func TestResultMalformed(t *testing.T) {
	_, err := DecodeResult(nil)
	require.ErrorIs(t, err, ErrEmptyResult)

	_, err = DecodeResult([]byte{7, 1, 2})
	require.Error(t, err)
}

func TestDispatchLargeParams(t *testing.T) {
	params := make([]byte, 1024*1024)
	for i := range params {
		params[i] = byte(i % 256)
	}

	decoded, err := DecodeDispatch((&Dispatch{Name: "upload", TxID: 1 << 40, Params: params}).Encode())
	require.NoError(t, err)
	require.Equal(t, uint64(1<<40), decoded.TxID)
	require.True(t, bytes.Equal(params, decoded.Params))
}
