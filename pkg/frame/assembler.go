package frame

import "fmt"

// DefaultMaxMessageSize bounds a reassembled message unless configured
// otherwise.
const DefaultMaxMessageSize = 64 << 20 // 64 MiB

// Message is a complete application-level unit reassembled from one or more
// frames. Type is always Text or Binary.
type Message struct {
	Type    Opcode
	Payload []byte
}

// Assembler reassembles fragmented messages from a single direction. At most
// one reassembly is in progress at a time; control frames must be routed
// around the assembler by the caller so they never disturb its state.
type Assembler struct {
	maxSize int64
	opcode  Opcode
	buf     []byte
	active  bool
}

// NewAssembler creates an Assembler enforcing the given cumulative message
// size. A non-positive limit selects DefaultMaxMessageSize.
func NewAssembler(maxSize int64) *Assembler {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Assembler{maxSize: maxSize}
}

// InProgress reports whether a fragmented message is being reassembled.
func (a *Assembler) InProgress() bool {
	return a.active
}

// Push feeds a data or continuation frame into the assembler. It returns the
// completed message when f finishes one, or nil while fragments are still
// outstanding. Control frames are rejected; callers handle those before
// reassembly.
func (a *Assembler) Push(f *Frame) (*Message, error) {
	switch {
	case f.Opcode.IsControl():
		return nil, fmt.Errorf("%w: control frame passed to assembler", ErrMalformedFrame)
	case f.Opcode == OpContinuation:
		if !a.active {
			return nil, ErrUnexpectedContinuation
		}
	case f.Opcode.IsData():
		if a.active {
			return nil, ErrInterleavedMessage
		}
		a.active = true
		a.opcode = f.Opcode
	}

	if int64(len(a.buf))+int64(len(f.Payload)) > a.maxSize {
		a.reset()
		return nil, fmt.Errorf("%w: reassembly exceeds limit %d", ErrMessageTooLarge, a.maxSize)
	}
	a.buf = append(a.buf, f.Payload...)

	if !f.Fin {
		return nil, nil
	}

	msg := &Message{Type: a.opcode, Payload: a.buf}
	a.buf = nil
	a.reset()
	return msg, nil
}

func (a *Assembler) reset() {
	a.active = false
	a.opcode = 0
	a.buf = nil
}
