package session

import "errors"

// Common errors for the session package.
var (
	// ErrNotOpen indicates a send on a session that is not in the open state.
	ErrNotOpen = errors.New("session not open")
	// ErrSessionClosed indicates the session has reached the closed state.
	ErrSessionClosed = errors.New("session closed")
	// ErrIdleTimeout indicates no traffic arrived within the idle window.
	// The session is closed abnormally.
	ErrIdleTimeout = errors.New("idle timeout")
	// ErrCloseTimeout indicates the peer did not complete the close
	// handshake in time; the transport was torn down abnormally.
	ErrCloseTimeout = errors.New("close handshake timeout")
	// ErrProtocolViolation wraps frame-level violations that terminate the
	// session.
	ErrProtocolViolation = errors.New("protocol violation")
)
