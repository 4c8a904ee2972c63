// Package handshake implements the client side of the RFC 6455 opening
// handshake: building the HTTP/1.1 upgrade request, parsing the raw response,
// and validating the Sec-WebSocket-Accept key derived from the request key.
//
// The package performs no connection management. It writes to and reads from
// an already-connected byte stream supplied by the caller and hands any bytes
// buffered past the response headers back so frame decoding loses nothing.
package handshake

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// GUID is the fixed value from RFC 6455 section 1.3 concatenated with the
// request key to derive the accept key.
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Version is the only WebSocket protocol version this client speaks.
const Version = "13"

// Target describes the endpoint the upgrade request is addressed to.
type Target struct {
	// Host is the value for the Host header (host or host:port).
	Host string
	// Path is the request-URI, including any query string. Empty means "/".
	Path string
	// Headers are additional request headers sent verbatim (authorization,
	// cookies, and the like).
	Headers http.Header
	// Subprotocols are offered via Sec-WebSocket-Protocol.
	Subprotocols []string
	// Extensions are offered via Sec-WebSocket-Extensions. They are passed
	// through verbatim and never interpreted; this client implements no
	// extensions.
	Extensions []string
}

// Result holds the outcome of a successful negotiation.
type Result struct {
	// Key is the base64 nonce sent in Sec-WebSocket-Key.
	Key string
	// Subprotocol is the server-selected subprotocol, or empty.
	Subprotocol string
	// Header is the full response header set for callers that need more.
	Header http.Header
	// Buffered holds any bytes the server sent after the response headers
	// that were consumed while parsing. They are the first frame bytes and
	// must be fed to the frame decoder ahead of further reads.
	Buffered []byte
}

// NewKey returns a fresh 16-byte random nonce, base64-encoded, for the
// Sec-WebSocket-Key header.
func NewKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating handshake key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// AcceptKey computes the expected Sec-WebSocket-Accept value for a request
// key: base64(sha1(key + GUID)).
func AcceptKey(key string) string {
	h := sha1.Sum([]byte(key + GUID))
	return base64.StdEncoding.EncodeToString(h[:])
}

// Negotiate performs the opening handshake over rw. On any validation failure
// it returns a *Error and the connection must be treated as unusable; the
// session never reaches the open state.
func Negotiate(rw io.ReadWriter, target *Target) (*Result, error) {
	key, err := NewKey()
	if err != nil {
		return nil, err
	}
	return negotiate(rw, target, key)
}

func negotiate(rw io.ReadWriter, target *Target, key string) (*Result, error) {
	if err := writeRequest(rw, target, key); err != nil {
		return nil, fmt.Errorf("writing upgrade request: %w", err)
	}

	br := bufio.NewReader(rw)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		return nil, fmt.Errorf("reading upgrade response: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		return nil, &Error{Reason: ErrBadStatus,
			Detail: fmt.Sprintf("expected 101, got %s", resp.Status)}
	}
	if !headerContainsToken(resp.Header, "Upgrade", "websocket") {
		return nil, &Error{Reason: ErrMissingHeader, Detail: "Upgrade: websocket"}
	}
	if !headerContainsToken(resp.Header, "Connection", "upgrade") {
		return nil, &Error{Reason: ErrMissingHeader, Detail: "Connection: Upgrade"}
	}

	accept := resp.Header.Get("Sec-WebSocket-Accept")
	if accept == "" {
		return nil, &Error{Reason: ErrMissingHeader, Detail: "Sec-WebSocket-Accept"}
	}
	if want := AcceptKey(key); accept != want {
		return nil, &Error{Reason: ErrAcceptMismatch,
			Detail: fmt.Sprintf("got %q, want %q", accept, want)}
	}

	res := &Result{
		Key:         key,
		Subprotocol: resp.Header.Get("Sec-WebSocket-Protocol"),
		Header:      resp.Header,
	}

	// Bytes past the headers already sit in the bufio reader; surface them
	// so the caller's frame decoder starts from the right offset.
	if n := br.Buffered(); n > 0 {
		peeked, err := br.Peek(n)
		if err != nil {
			return nil, fmt.Errorf("draining buffered bytes: %w", err)
		}
		res.Buffered = append([]byte(nil), peeked...)
	}

	return res, nil
}

// writeRequest emits the HTTP/1.1 upgrade request. Header order follows the
// conventional layout: request line, Host, upgrade headers, then extras.
func writeRequest(w io.Writer, target *Target, key string) error {
	path := target.Path
	if path == "" {
		path = "/"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", target.Host)
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Key: %s\r\n", key)
	fmt.Fprintf(&b, "Sec-WebSocket-Version: %s\r\n", Version)

	if len(target.Subprotocols) > 0 {
		fmt.Fprintf(&b, "Sec-WebSocket-Protocol: %s\r\n", strings.Join(target.Subprotocols, ", "))
	}
	for _, ext := range target.Extensions {
		fmt.Fprintf(&b, "Sec-WebSocket-Extensions: %s\r\n", ext)
	}
	for name, values := range target.Headers {
		for _, v := range values {
			fmt.Fprintf(&b, "%s: %s\r\n", name, v)
		}
	}
	b.WriteString("\r\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// headerContainsToken reports whether the header holds the token in any of
// its comma-separated values, case-insensitively.
func headerContainsToken(h http.Header, name, token string) bool {
	token = strings.ToLower(token)
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.ToLower(strings.TrimSpace(part)) == token {
				return true
			}
		}
	}
	return false
}
