package client

import (
	"errors"
	"fmt"
)

var (
	ErrClosed         = errors.New("connection closed")
	ErrNotJoined      = errors.New("not joined to a room")
	ErrSTTStartup     = errors.New("transcription failed to start")
	ErrUnexpectedType = errors.New("unexpected message type")
	ErrDNS            = errors.New("dns lookup failed")
)

// Error records the operation that failed along with an optional detail
// string for the user.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
