// Package frame implements RFC 6455 WebSocket frame encoding and decoding.
//
// The codec is pure: it converts between Frame values and wire bytes without
// performing any I/O. Decoding is resumable: a Decoder accumulates raw bytes
// across transport reads and yields complete frames as they become available,
// and an Assembler reassembles fragmented messages while letting interleaved
// control frames pass through untouched.
package frame

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// Opcode identifies the frame type per RFC 6455 section 5.2.
type Opcode byte

// Frame opcodes.
const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether the opcode is a control opcode (Close, Ping, Pong).
func (o Opcode) IsControl() bool {
	return o == OpClose || o == OpPing || o == OpPong
}

// IsData reports whether the opcode starts a data message (Text, Binary).
func (o Opcode) IsData() bool {
	return o == OpText || o == OpBinary
}

// valid reports whether the opcode is defined by RFC 6455.
func (o Opcode) valid() bool {
	return o == OpContinuation || o.IsData() || o.IsControl()
}

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(0x%X)", byte(o))
	}
}

// ParseOpcode parses an opcode name as used in scenario step filters.
func ParseOpcode(s string) (Opcode, error) {
	switch s {
	case "text":
		return OpText, nil
	case "binary":
		return OpBinary, nil
	case "close":
		return OpClose, nil
	case "ping":
		return OpPing, nil
	case "pong":
		return OpPong, nil
	default:
		return 0, fmt.Errorf("unknown opcode %q", s)
	}
}

// MaxControlPayload is the RFC 6455 payload limit for control frames.
const MaxControlPayload = 125

// Frame is a single decoded WebSocket frame.
type Frame struct {
	// Fin marks the final fragment of a message.
	Fin bool
	// Rsv holds the three reserved bits (RSV1-3). Nonzero values are a
	// protocol violation when no extension has been negotiated.
	Rsv byte
	// Opcode is the frame type.
	Opcode Opcode
	// Masked indicates the payload is (or should be) masked. Client-sent
	// frames are always masked; server-sent frames never are.
	Masked bool
	// MaskKey is the 4-byte masking key. Populated on decode when Masked;
	// generated fresh on encode.
	MaskKey [4]byte
	// Payload is the unmasked application payload.
	Payload []byte
}

// validate checks the structural invariants a frame must satisfy on both the
// encode and decode paths.
func (f *Frame) validate() error {
	if f.Rsv != 0 {
		return fmt.Errorf("%w: reserved bits set (0x%X)", ErrMalformedFrame, f.Rsv)
	}
	if !f.Opcode.valid() {
		return fmt.Errorf("%w: reserved opcode 0x%X", ErrMalformedFrame, byte(f.Opcode))
	}
	if f.Opcode.IsControl() {
		if !f.Fin {
			return fmt.Errorf("%w: fragmented %s frame", ErrMalformedFrame, f.Opcode)
		}
		if len(f.Payload) > MaxControlPayload {
			return fmt.Errorf("%w: %s payload %d exceeds %d bytes",
				ErrMalformedFrame, f.Opcode, len(f.Payload), MaxControlPayload)
		}
	}
	return nil
}

// CloseCode is a WebSocket close status code per RFC 6455 section 7.4.
type CloseCode uint16

// Close status codes.
const (
	CloseNormalClosure      CloseCode = 1000
	CloseGoingAway          CloseCode = 1001
	CloseProtocolError      CloseCode = 1002
	CloseUnsupportedData    CloseCode = 1003
	CloseNoStatusReceived   CloseCode = 1005
	CloseAbnormalClosure    CloseCode = 1006
	CloseInvalidPayload     CloseCode = 1007
	ClosePolicyViolation    CloseCode = 1008
	CloseMessageTooBig      CloseCode = 1009
	CloseMandatoryExtension CloseCode = 1010
	CloseInternalError      CloseCode = 1011
	CloseServiceRestart     CloseCode = 1012
	CloseTryAgainLater      CloseCode = 1013
	CloseTLSHandshake       CloseCode = 1015
)

// String returns a human-readable description of the close code.
func (c CloseCode) String() string {
	switch c {
	case CloseNormalClosure:
		return "normal closure"
	case CloseGoingAway:
		return "going away"
	case CloseProtocolError:
		return "protocol error"
	case CloseUnsupportedData:
		return "unsupported data"
	case CloseNoStatusReceived:
		return "no status received"
	case CloseAbnormalClosure:
		return "abnormal closure"
	case CloseInvalidPayload:
		return "invalid payload"
	case ClosePolicyViolation:
		return "policy violation"
	case CloseMessageTooBig:
		return "message too big"
	case CloseMandatoryExtension:
		return "mandatory extension"
	case CloseInternalError:
		return "internal error"
	case CloseServiceRestart:
		return "service restart"
	case CloseTryAgainLater:
		return "try again later"
	case CloseTLSHandshake:
		return "TLS handshake"
	default:
		return "unknown"
	}
}

// ValidOnWire reports whether the code may appear in a Close frame payload.
// Codes 1005, 1006, and 1015 are reserved for local reporting only.
func (c CloseCode) ValidOnWire() bool {
	switch {
	case c == CloseNoStatusReceived, c == CloseAbnormalClosure, c == CloseTLSHandshake:
		return false
	case c >= 1000 && c <= 1013:
		return true
	case c >= 3000 && c <= 4999:
		return true
	default:
		return false
	}
}

// FormatClosePayload builds a Close frame payload from a status code and
// optional UTF-8 reason.
func FormatClosePayload(code CloseCode, reason string) []byte {
	p := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(p, uint16(code))
	copy(p[2:], reason)
	return p
}

// ParseClosePayload extracts the status code and reason from a Close frame
// payload. An empty payload yields CloseNoStatusReceived. A 1-byte payload,
// an invalid code, or a non-UTF-8 reason is malformed.
func ParseClosePayload(p []byte) (CloseCode, string, error) {
	if len(p) == 0 {
		return CloseNoStatusReceived, "", nil
	}
	if len(p) == 1 {
		return 0, "", fmt.Errorf("%w: close payload of 1 byte", ErrMalformedFrame)
	}
	code := CloseCode(binary.BigEndian.Uint16(p[:2]))
	if !code.ValidOnWire() {
		return 0, "", fmt.Errorf("%w: close code %d not valid on wire", ErrMalformedFrame, code)
	}
	reason := p[2:]
	if !utf8.Valid(reason) {
		return 0, "", fmt.Errorf("%w: close reason is not valid UTF-8", ErrMalformedFrame)
	}
	return code, string(reason), nil
}
