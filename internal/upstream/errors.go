package upstream

import (
	"errors"
	"fmt"
)

var (
	ErrConnectTimeout = errors.New("connection timed out")
	ErrConnectFailed  = errors.New("connection failed")
	ErrStreamClosed   = errors.New("stream closed")
)

// ConnectError describes a failed attempt to open a provider stream.
// Err is one of ErrConnectTimeout or ErrConnectFailed, so callers can tell
// a hung attempt from a refused one with errors.Is.
type ConnectError struct {
	Op      string
	Err     error
	Details string
}

func (e *ConnectError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
