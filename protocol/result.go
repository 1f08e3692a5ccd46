package protocol

import (
	"errors"
	"fmt"
)

// Result status byte, first byte of every encoded result.
//
//	┌────────┬──────────────────────────────────────────┐
//	│ status │ body                                     │
//	│  0     │ codec-encoded return value               │
//	│  1     │ display text of the handler error (UTF-8)│
//	└────────┴──────────────────────────────────────────┘
//
// Only the error text crosses the wire, never the concrete error type.
const (
	StatusOK    byte = 0
	StatusError byte = 1
)

// ErrEmptyResult is returned when a result has no status byte.
var ErrEmptyResult = errors.New("protocol: empty result")

// RemoteError is the error side of a result: a handler on the peer returned an error.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote: " + e.Message
}

// EncodeValue wraps an encoded return value into a successful result.
func EncodeValue(body []byte) []byte {
	buf := make([]byte, 1+len(body))
	buf[0] = StatusOK
	copy(buf[1:], body)
	return buf
}

// EncodeError converts a handler error into an error result carrying its display text.
func EncodeError(err error) []byte {
	msg := err.Error()
	buf := make([]byte, 1+len(msg))
	buf[0] = StatusError
	copy(buf[1:], msg)
	return buf
}

// DecodeResult splits an encoded result. When the handler failed it returns a *RemoteError.
func DecodeResult(result []byte) ([]byte, error) {
	if len(result) == 0 {
		return nil, ErrEmptyResult
	}
	switch result[0] {
	case StatusOK:
		return result[1:], nil
	case StatusError:
		return nil, &RemoteError{Message: string(result[1:])}
	default:
		return nil, fmt.Errorf("protocol: unknown result status %d", result[0])
	}
}
