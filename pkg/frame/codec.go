package frame

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

const (
	finBit  = 0x80
	rsvMask = 0x70
	maskBit = 0x80

	// len16Min is the smallest payload requiring the 16-bit extended length.
	len16Min = 126
	// len64Min is the smallest payload requiring the 64-bit extended length.
	len64Min = 65536
)

// DefaultMaxFramePayload bounds a single frame payload accepted by a Decoder
// unless configured otherwise.
const DefaultMaxFramePayload = 16 << 20 // 16 MiB

// NewMaskKey returns a fresh unpredictable 4-byte masking key.
func NewMaskKey() ([4]byte, error) {
	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("generating mask key: %w", err)
	}
	return key, nil
}

// applyMask XORs p with the masking key, cycling every 4 bytes. The same
// operation masks and unmasks.
func applyMask(p []byte, key [4]byte) {
	for i := range p {
		p[i] ^= key[i&3]
	}
}

// Encode serializes a frame to wire format using the minimal payload length
// encoding. When f.Masked is set a fresh mask key is generated, stored on the
// frame, and applied to the payload in the output (f.Payload itself is left
// unmasked). Control frames must be final and carry at most 125 bytes.
func Encode(f *Frame) ([]byte, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	var b0 byte
	if f.Fin {
		b0 = finBit
	}
	b0 |= byte(f.Opcode) & 0x0F

	plen := len(f.Payload)
	var hdr [14]byte
	hdr[0] = b0
	n := 2

	switch {
	case plen < len16Min:
		hdr[1] = byte(plen)
	case plen < len64Min:
		hdr[1] = 126
		binary.BigEndian.PutUint16(hdr[2:], uint16(plen))
		n += 2
	default:
		hdr[1] = 127
		binary.BigEndian.PutUint64(hdr[2:], uint64(plen))
		n += 8
	}

	if f.Masked {
		hdr[1] |= maskBit
		key, err := NewMaskKey()
		if err != nil {
			return nil, err
		}
		f.MaskKey = key
		copy(hdr[n:], key[:])
		n += 4
	}

	out := make([]byte, n+plen)
	copy(out, hdr[:n])
	copy(out[n:], f.Payload)
	if f.Masked {
		applyMask(out[n:], f.MaskKey)
	}
	return out, nil
}

// Fragment splits a message payload into a sequence of frames no larger than
// fragmentSize each. The first frame carries the message opcode, later
// frames carry Continuation, and only the last sets Fin. A fragmentSize of
// zero or one covering the whole payload yields a single final frame.
// Control opcodes must not be fragmented and are rejected.
func Fragment(op Opcode, payload []byte, fragmentSize int, masked bool) ([]*Frame, error) {
	if op.IsControl() {
		return nil, fmt.Errorf("%w: cannot fragment %s frame", ErrMalformedFrame, op)
	}
	if fragmentSize <= 0 || fragmentSize >= len(payload) {
		return []*Frame{{Fin: true, Opcode: op, Masked: masked, Payload: payload}}, nil
	}

	var frames []*Frame
	for off := 0; off < len(payload); off += fragmentSize {
		end := off + fragmentSize
		if end > len(payload) {
			end = len(payload)
		}
		f := &Frame{
			Opcode:  OpContinuation,
			Masked:  masked,
			Payload: payload[off:end],
			Fin:     end == len(payload),
		}
		if off == 0 {
			f.Opcode = op
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// Decoder is a resumable frame decoder. Raw transport bytes are appended via
// Push; Next yields complete frames and returns ErrIncomplete when the
// buffered bytes do not yet form one. The decoder carries its buffer across
// reads, so frames split arbitrarily by the transport decode correctly.
type Decoder struct {
	buf        []byte
	maxPayload int64
}

// NewDecoder creates a Decoder enforcing the given per-frame payload limit.
// A non-positive limit selects DefaultMaxFramePayload.
func NewDecoder(maxPayload int64) *Decoder {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxFramePayload
	}
	return &Decoder{maxPayload: maxPayload}
}

// Push appends raw bytes read from the transport.
func (d *Decoder) Push(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes awaiting decode.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next decodes and consumes the next complete frame from the buffer.
// It returns ErrIncomplete when more bytes are needed. Any other error is a
// protocol violation and the decoder must not be reused afterwards.
//
// Peer length fields in non-minimal form are accepted; receiver leniency
// applies only to decoding, never to Encode.
func (d *Decoder) Next() (*Frame, error) {
	if len(d.buf) < 2 {
		return nil, ErrIncomplete
	}

	b0, b1 := d.buf[0], d.buf[1]
	f := &Frame{
		Fin:    b0&finBit != 0,
		Rsv:    (b0 & rsvMask) >> 4,
		Opcode: Opcode(b0 & 0x0F),
		Masked: b1&maskBit != 0,
	}

	plen := int64(b1 & 0x7F)
	off := 2
	switch plen {
	case 126:
		if len(d.buf) < off+2 {
			return nil, ErrIncomplete
		}
		plen = int64(binary.BigEndian.Uint16(d.buf[off:]))
		off += 2
	case 127:
		if len(d.buf) < off+8 {
			return nil, ErrIncomplete
		}
		v := binary.BigEndian.Uint64(d.buf[off:])
		if v > uint64(d.maxPayload) {
			return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrFrameTooLarge, v, d.maxPayload)
		}
		plen = int64(v)
		off += 8
	}

	if plen > d.maxPayload {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrFrameTooLarge, plen, d.maxPayload)
	}

	if f.Masked {
		if len(d.buf) < off+4 {
			return nil, ErrIncomplete
		}
		copy(f.MaskKey[:], d.buf[off:off+4])
		off += 4
	}

	total := off + int(plen)
	if len(d.buf) < total {
		return nil, ErrIncomplete
	}

	f.Payload = make([]byte, plen)
	copy(f.Payload, d.buf[off:total])
	if f.Masked {
		applyMask(f.Payload, f.MaskKey)
	}

	if err := f.validate(); err != nil {
		return nil, err
	}

	d.buf = d.buf[total:]
	return f, nil
}
