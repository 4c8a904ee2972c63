package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getwscheck/wscheck/internal/id"
	"github.com/getwscheck/wscheck/pkg/frame"
	"github.com/getwscheck/wscheck/pkg/handshake"
)

// State is the connection lifecycle state.
type State int32

// Session states.
const (
	// StateConnecting covers the opening handshake.
	StateConnecting State = iota
	// StateOpen means the handshake succeeded and frames flow.
	StateOpen
	// StateClosing means a Close frame has been sent or received but the
	// close handshake has not completed.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the transport stream a session owns. An already-connected net.Conn
// (plain or TLS) satisfies it; the session never dials, resolves, or manages
// certificates itself.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// Options configures session behavior.
type Options struct {
	// MaxFramePayload bounds a single inbound frame payload.
	// Zero selects frame.DefaultMaxFramePayload.
	MaxFramePayload int64
	// MaxMessageSize bounds a reassembled inbound message.
	// Zero selects frame.DefaultMaxMessageSize.
	MaxMessageSize int64
	// IdleTimeout closes the session abnormally when no traffic (including
	// keepalive) arrives within the window. Zero disables the check.
	IdleTimeout time.Duration
	// FragmentSize splits outbound messages into fragments of at most this
	// many bytes. Zero sends each message as a single frame.
	FragmentSize int
	// InboundBuffer is the capacity of the inbound delivery channel.
	// Zero selects a default of 256.
	InboundBuffer int
	// Logger receives per-frame debug logging. Nil disables logging.
	Logger *slog.Logger
}

// Direction tells which side of the connection produced a recorded frame.
type Direction int

// Frame log directions.
const (
	DirSent Direction = iota
	DirReceived
)

// String returns the direction name.
func (d Direction) String() string {
	if d == DirSent {
		return "sent"
	}
	return "received"
}

// FrameRecord is one entry in a session's ordered frame log.
type FrameRecord struct {
	Direction Direction
	Time      time.Time
	Fin       bool
	Opcode    frame.Opcode
	Payload   []byte
}

// Inbound is one received unit delivered to the scenario engine: a complete
// text or binary message, or a control frame. Delivery order matches wire
// order on the connection.
type Inbound struct {
	// Opcode is Text or Binary for messages, Close, Ping, or Pong for
	// control frames.
	Opcode frame.Opcode
	// Payload is the message payload, or the control frame payload.
	Payload []byte
	// Code and Reason are populated for Close frames.
	Code   frame.CloseCode
	Reason string
}

// Session owns one WebSocket connection from handshake to close.
type Session struct {
	id          string
	url         string
	subprotocol string
	conn        Conn
	logger      *slog.Logger

	decoder   *frame.Decoder
	assembler *frame.Assembler

	idleTimeout  time.Duration
	fragmentSize int

	state   atomic.Int32
	inbound chan *Inbound
	done    chan struct{}

	writeMu sync.Mutex

	mu            sync.Mutex
	sentLog       []FrameRecord
	recvLog       []FrameRecord
	closeSent     bool
	closeReceived bool
	closeCode     frame.CloseCode
	closeReason   string
	err           error
	terminated    bool
}

// New performs the opening handshake over conn and, on success, starts the
// session's read loop. On handshake failure the transport is closed, the
// session is left in the closed state, and the handshake error is returned.
func New(conn Conn, url string, target *handshake.Target, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	buffer := opts.InboundBuffer
	if buffer <= 0 {
		buffer = 256
	}

	s := &Session{
		id:           id.Short(),
		url:          url,
		conn:         conn,
		logger:       logger,
		decoder:      frame.NewDecoder(opts.MaxFramePayload),
		assembler:    frame.NewAssembler(opts.MaxMessageSize),
		idleTimeout:  opts.IdleTimeout,
		fragmentSize: opts.FragmentSize,
		inbound:      make(chan *Inbound, buffer),
		done:         make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))

	res, err := handshake.Negotiate(conn, target)
	if err != nil {
		s.state.Store(int32(StateClosed))
		s.mu.Lock()
		s.err = err
		s.terminated = true
		s.mu.Unlock()
		close(s.done)
		close(s.inbound)
		_ = conn.Close()
		return nil, err
	}

	s.subprotocol = res.Subprotocol
	s.decoder.Push(res.Buffered)
	s.state.Store(int32(StateOpen))
	s.logger.Debug("session open", "session", s.id, "url", url, "subprotocol", res.Subprotocol)

	go s.readLoop()
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// URL returns the target URL the session was opened against.
func (s *Session) URL() string { return s.url }

// Subprotocol returns the server-selected subprotocol, or empty.
func (s *Session) Subprotocol() string { return s.subprotocol }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Inbound returns the ordered delivery channel. It is closed when the
// session terminates.
func (s *Session) Inbound() <-chan *Inbound { return s.inbound }

// Done is closed when the session reaches the closed state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session closed. It returns nil while the session is
// running and after a clean close handshake.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// CloseStatus returns the peer-reported close code and reason, if a Close
// frame was received.
func (s *Session) CloseStatus() (frame.CloseCode, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode, s.closeReason, s.closeReceived
}

// SentFrames returns a copy of the ordered log of frames written to the
// transport, including automatic pong and close replies.
func (s *Session) SentFrames() []FrameRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FrameRecord(nil), s.sentLog...)
}

// ReceivedFrames returns a copy of the ordered log of frames read from the
// transport.
func (s *Session) ReceivedFrames() []FrameRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FrameRecord(nil), s.recvLog...)
}

// Send writes a text or binary message, fragmenting per the configured
// fragment size. It fails once the session has left the open state.
func (s *Session) Send(op frame.Opcode, payload []byte) error {
	if !op.IsData() {
		return fmt.Errorf("send requires a data opcode, got %s", op)
	}
	if s.State() != StateOpen {
		return ErrNotOpen
	}

	frames, err := frame.Fragment(op, payload, s.fragmentSize, true)
	if err != nil {
		return err
	}

	// One lock for the whole message keeps fragments of concurrent sends
	// from interleaving.
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, f := range frames {
		if err := s.writeFrameLocked(f); err != nil {
			return err
		}
	}
	return nil
}

// SendPing writes a ping control frame.
func (s *Session) SendPing(payload []byte) error {
	if s.State() != StateOpen {
		return ErrNotOpen
	}
	return s.writeFrame(&frame.Frame{Fin: true, Opcode: frame.OpPing, Masked: true, Payload: payload})
}

// Close initiates the close handshake with the given code and waits for the
// peer's Close frame or the timeout, whichever comes first. On timeout the
// transport is torn down and ErrCloseTimeout returned; the closure is then
// abnormal rather than clean.
func (s *Session) Close(code frame.CloseCode, reason string, timeout time.Duration) error {
	switch s.State() {
	case StateClosed:
		return ErrSessionClosed
	case StateConnecting:
		return ErrNotOpen
	}

	if err := s.sendClose(code, reason); err != nil && !errors.Is(err, ErrSessionClosed) {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return s.Err()
	case <-timer.C:
		s.terminate(ErrCloseTimeout)
		return ErrCloseTimeout
	}
}

// Abort tears the transport down immediately without a close handshake.
func (s *Session) Abort() {
	s.terminate(fmt.Errorf("%w: aborted", ErrSessionClosed))
}

// sendClose writes our Close frame once and moves the session to closing.
func (s *Session) sendClose(code frame.CloseCode, reason string) error {
	s.mu.Lock()
	if s.closeSent {
		s.mu.Unlock()
		return nil
	}
	s.closeSent = true
	s.mu.Unlock()

	s.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))

	var payload []byte
	if code != 0 {
		payload = frame.FormatClosePayload(code, reason)
	}
	return s.writeFrame(&frame.Frame{Fin: true, Opcode: frame.OpClose, Masked: true, Payload: payload})
}

func (s *Session) writeFrame(f *frame.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeFrameLocked(f)
}

func (s *Session) writeFrameLocked(f *frame.Frame) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}

	wire, err := frame.Encode(f)
	if err != nil {
		return err
	}
	if _, err := s.conn.Write(wire); err != nil {
		err = fmt.Errorf("transport write: %w", err)
		s.terminate(err)
		return err
	}

	s.record(DirSent, f)
	s.logger.Debug("frame sent", "session", s.id, "opcode", f.Opcode.String(),
		"fin", f.Fin, "bytes", len(f.Payload))
	return nil
}

func (s *Session) record(dir Direction, f *frame.Frame) {
	rec := FrameRecord{
		Direction: dir,
		Time:      time.Now(),
		Fin:       f.Fin,
		Opcode:    f.Opcode,
		Payload:   append([]byte(nil), f.Payload...),
	}
	s.mu.Lock()
	if dir == DirSent {
		s.sentLog = append(s.sentLog, rec)
	} else {
		s.recvLog = append(s.recvLog, rec)
	}
	s.mu.Unlock()
}

// readLoop is the single reader of the transport. It decodes frames in
// arrival order, answers pings, echoes the peer's Close, and delivers
// everything else to the inbound channel. It is the only closer of that
// channel, so deliver can never race a close.
func (s *Session) readLoop() {
	defer close(s.inbound)

	buf := make([]byte, 32*1024)
	for {
		if err := s.drainDecoder(); err != nil {
			return
		}

		if s.idleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.decoder.Push(buf[:n])
		}
		if err != nil {
			s.terminate(s.classifyReadError(err))
			return
		}
	}
}

// drainDecoder processes every complete frame currently buffered.
func (s *Session) drainDecoder() error {
	for {
		f, err := s.decoder.Next()
		if errors.Is(err, frame.ErrIncomplete) {
			return nil
		}
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrProtocolViolation, err)
			s.failProtocol(err)
			return err
		}
		if err := s.handleFrame(f); err != nil {
			return err
		}
	}
}

func (s *Session) handleFrame(f *frame.Frame) error {
	s.record(DirReceived, f)
	s.logger.Debug("frame received", "session", s.id, "opcode", f.Opcode.String(),
		"fin", f.Fin, "bytes", len(f.Payload))

	switch f.Opcode {
	case frame.OpPing:
		// Answered here, independent of scenario steps, so a pending step
		// never delays keepalive.
		pong := &frame.Frame{Fin: true, Opcode: frame.OpPong, Masked: true,
			Payload: append([]byte(nil), f.Payload...)}
		if err := s.writeFrame(pong); err != nil {
			return err
		}
		s.deliver(&Inbound{Opcode: frame.OpPing, Payload: f.Payload})
		return nil

	case frame.OpPong:
		s.deliver(&Inbound{Opcode: frame.OpPong, Payload: f.Payload})
		return nil

	case frame.OpClose:
		return s.handleClose(f)

	default:
		msg, err := s.assembler.Push(f)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrProtocolViolation, err)
			s.failProtocol(err)
			return err
		}
		if msg != nil {
			s.deliver(&Inbound{Opcode: msg.Type, Payload: msg.Payload})
		}
		return nil
	}
}

func (s *Session) handleClose(f *frame.Frame) error {
	code, reason, err := frame.ParseClosePayload(f.Payload)
	echo := code
	if err != nil {
		// Unparseable close payload: reply with a normal closure code, per
		// the echo rule for invalid codes.
		code, reason = frame.CloseNoStatusReceived, ""
		echo = frame.CloseNormalClosure
	}
	if echo == frame.CloseNoStatusReceived {
		echo = frame.CloseNormalClosure
	}

	s.mu.Lock()
	s.closeReceived = true
	s.closeCode = code
	s.closeReason = reason
	alreadySent := s.closeSent
	s.mu.Unlock()

	s.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
	s.deliver(&Inbound{Opcode: frame.OpClose, Payload: f.Payload, Code: code, Reason: reason})

	if !alreadySent {
		if err := s.sendClose(echo, ""); err != nil {
			return err
		}
	}

	// Both sides have now sent and received Close: the handshake completed.
	s.terminate(nil)
	return ErrSessionClosed
}

// failProtocol sends a protocol-error close before tearing down.
func (s *Session) failProtocol(cause error) {
	_ = s.sendClose(frame.CloseProtocolError, "")
	s.terminate(cause)
}

func (s *Session) classifyReadError(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: no traffic for %s", ErrIdleTimeout, s.idleTimeout)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, net.ErrClosed) {
		s.mu.Lock()
		clean := s.closeSent && s.closeReceived
		s.mu.Unlock()
		if clean {
			return nil
		}
	}
	return fmt.Errorf("transport read: %w", err)
}

func (s *Session) deliver(in *Inbound) {
	select {
	case s.inbound <- in:
	case <-s.done:
	}
}

// terminate moves the session to closed exactly once. A nil cause marks a
// clean closure (completed close handshake).
func (s *Session) terminate(cause error) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.err = cause
	s.mu.Unlock()

	s.state.Store(int32(StateClosed))
	_ = s.conn.Close()
	close(s.done)

	if cause != nil {
		s.logger.Debug("session closed abnormally", "session", s.id, "error", cause)
	} else {
		s.logger.Debug("session closed", "session", s.id)
	}
}
