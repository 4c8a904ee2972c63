package handshake

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleKey and sampleAccept are the worked example from RFC 6455 section 1.3.
const (
	sampleKey    = "dGhlIHNhbXBsZSBub25jZQ=="
	sampleAccept = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
)

// scriptedStream plays a canned server response and captures the request.
type scriptedStream struct {
	request  bytes.Buffer
	response io.Reader
}

func (s *scriptedStream) Write(p []byte) (int, error) { return s.request.Write(p) }
func (s *scriptedStream) Read(p []byte) (int, error)  { return s.response.Read(p) }

func upgradeResponse(accept string, extra ...string) string {
	lines := []string{
		"HTTP/1.1 101 Switching Protocols",
		"Upgrade: websocket",
		"Connection: Upgrade",
		"Sec-WebSocket-Accept: " + accept,
	}
	lines = append(lines, extra...)
	return strings.Join(lines, "\r\n") + "\r\n\r\n"
}

func TestAcceptKey_RFCExample(t *testing.T) {
	assert.Equal(t, sampleAccept, AcceptKey(sampleKey))
}

func TestNegotiate_Success(t *testing.T) {
	stream := &scriptedStream{response: strings.NewReader(upgradeResponse(AcceptKey(sampleKey)))}

	res, err := negotiate(stream, &Target{Host: "example.test", Path: "/chat"}, sampleKey)
	require.NoError(t, err)
	assert.Equal(t, sampleKey, res.Key)
	assert.Empty(t, res.Subprotocol)
	assert.Empty(t, res.Buffered)
}

func TestNegotiate_AcceptMismatch(t *testing.T) {
	// Only the exact transform of the sent key is acceptable.
	stream := &scriptedStream{response: strings.NewReader(upgradeResponse("bm90IHRoZSByaWdodCBrZXk="))}

	_, err := negotiate(stream, &Target{Host: "example.test"}, sampleKey)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAcceptMismatch)

	var hsErr *Error
	require.ErrorAs(t, err, &hsErr)
	assert.Contains(t, hsErr.Detail, sampleAccept)
}

func TestNegotiate_BadStatus(t *testing.T) {
	stream := &scriptedStream{response: strings.NewReader(
		"HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")}

	_, err := negotiate(stream, &Target{Host: "example.test"}, sampleKey)
	assert.ErrorIs(t, err, ErrBadStatus)
}

func TestNegotiate_MissingHeaders(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{
			name: "no upgrade header",
			response: "HTTP/1.1 101 Switching Protocols\r\n" +
				"Connection: Upgrade\r\n" +
				"Sec-WebSocket-Accept: " + AcceptKey(sampleKey) + "\r\n\r\n",
		},
		{
			name: "no connection header",
			response: "HTTP/1.1 101 Switching Protocols\r\n" +
				"Upgrade: websocket\r\n" +
				"Sec-WebSocket-Accept: " + AcceptKey(sampleKey) + "\r\n\r\n",
		},
		{
			name: "no accept header",
			response: "HTTP/1.1 101 Switching Protocols\r\n" +
				"Upgrade: websocket\r\nConnection: Upgrade\r\n\r\n",
		},
		{
			name: "wrong upgrade token",
			response: "HTTP/1.1 101 Switching Protocols\r\n" +
				"Upgrade: h2c\r\nConnection: Upgrade\r\n" +
				"Sec-WebSocket-Accept: " + AcceptKey(sampleKey) + "\r\n\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := &scriptedStream{response: strings.NewReader(tt.response)}
			_, err := negotiate(stream, &Target{Host: "example.test"}, sampleKey)
			assert.ErrorIs(t, err, ErrMissingHeader)
		})
	}
}

func TestNegotiate_RequestContents(t *testing.T) {
	stream := &scriptedStream{response: strings.NewReader(
		upgradeResponse(AcceptKey(sampleKey), "Sec-WebSocket-Protocol: json"))}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer token-123")

	res, err := negotiate(stream, &Target{
		Host:         "example.test:8080",
		Path:         "/ws?room=lobby",
		Headers:      headers,
		Subprotocols: []string{"json", "xml"},
		Extensions:   []string{"permessage-deflate"},
	}, sampleKey)
	require.NoError(t, err)
	assert.Equal(t, "json", res.Subprotocol)

	req := stream.request.String()
	assert.True(t, strings.HasPrefix(req, "GET /ws?room=lobby HTTP/1.1\r\n"))
	assert.Contains(t, req, "Host: example.test:8080\r\n")
	assert.Contains(t, req, "Upgrade: websocket\r\n")
	assert.Contains(t, req, "Connection: Upgrade\r\n")
	assert.Contains(t, req, "Sec-WebSocket-Key: "+sampleKey+"\r\n")
	assert.Contains(t, req, "Sec-WebSocket-Version: 13\r\n")
	assert.Contains(t, req, "Sec-WebSocket-Protocol: json, xml\r\n")
	assert.Contains(t, req, "Sec-WebSocket-Extensions: permessage-deflate\r\n")
	assert.Contains(t, req, "Authorization: Bearer token-123\r\n")
	assert.True(t, strings.HasSuffix(req, "\r\n\r\n"))
}

func TestNegotiate_SurfacesBufferedFrameBytes(t *testing.T) {
	// Server sends the first frame in the same flush as the response.
	early := []byte{0x81, 0x02, 'h', 'i'}
	stream := &scriptedStream{response: strings.NewReader(
		upgradeResponse(AcceptKey(sampleKey)) + string(early))}

	res, err := negotiate(stream, &Target{Host: "example.test"}, sampleKey)
	require.NoError(t, err)
	assert.Equal(t, early, res.Buffered)
}

func TestNewKey_FreshAndWellFormed(t *testing.T) {
	k1, err := NewKey()
	require.NoError(t, err)
	k2, err := NewKey()
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
	assert.Len(t, k1, 24) // 16 bytes base64-encoded
}
