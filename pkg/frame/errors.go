package frame

import "errors"

// Common errors for the frame package.
var (
	// ErrIncomplete indicates the decoder needs more bytes before it can
	// produce the next frame. It signals the caller to read more from the
	// transport; it is not a failure.
	ErrIncomplete = errors.New("incomplete frame")
	// ErrMalformedFrame indicates a frame violating RFC 6455 structure:
	// reserved bits set, reserved opcode, or a fragmented/oversized control
	// frame.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrFrameTooLarge indicates a single frame payload exceeding the
	// decoder's configured limit.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrMessageTooLarge indicates a reassembled message exceeding the
	// assembler's configured limit.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrUnexpectedContinuation indicates a continuation frame arriving with
	// no fragmented message in progress.
	ErrUnexpectedContinuation = errors.New("unexpected continuation frame")
	// ErrInterleavedMessage indicates a new data message starting before the
	// previous fragmented message finished.
	ErrInterleavedMessage = errors.New("data frame interleaved with fragmented message")
)
