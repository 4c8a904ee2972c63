package handshake

import (
	"errors"
	"fmt"
)

// Terminal handshake failures. A session whose handshake fails with any of
// these transitions directly to closed without ever opening.
var (
	// ErrBadStatus indicates a response status other than 101.
	ErrBadStatus = errors.New("bad handshake status")
	// ErrMissingHeader indicates a required upgrade header was absent or
	// carried the wrong token.
	ErrMissingHeader = errors.New("missing handshake header")
	// ErrAcceptMismatch indicates the Sec-WebSocket-Accept value did not
	// match the transform of the sent key.
	ErrAcceptMismatch = errors.New("accept key mismatch")
)

// Error is a handshake failure with diagnostic detail.
type Error struct {
	// Reason is one of the sentinel errors above.
	Reason error
	// Detail describes what was observed.
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("handshake failed: %v", e.Reason)
	}
	return fmt.Sprintf("handshake failed: %v (%s)", e.Reason, e.Detail)
}

// Unwrap exposes the sentinel reason for errors.Is checks.
func (e *Error) Unwrap() error {
	return e.Reason
}
