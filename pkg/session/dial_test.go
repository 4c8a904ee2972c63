package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getwscheck/wscheck/pkg/frame"
)

// echoServer upgrades with coder/websocket and echoes every message back, so
// the hand-rolled client codec is exercised against an independent protocol
// implementation.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := ws.Accept(w, r, &ws.AcceptOptions{Subprotocols: []string{"json"}})
		if err != nil {
			return
		}
		defer c.CloseNow()

		ctx := r.Context()
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if err := c.Write(ctx, typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDial_EchoRoundTrip(t *testing.T) {
	srv := echoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Dial(ctx, DialConfig{URL: wsURL(srv) + "/ws"})
	require.NoError(t, err)
	defer s.Abort()

	assert.Equal(t, StateOpen, s.State())

	require.NoError(t, s.Send(frame.OpText, []byte("ping")))

	in := waitInbound(t, s)
	assert.Equal(t, frame.OpText, in.Opcode)
	assert.Equal(t, "ping", string(in.Payload))
}

func TestDial_BinaryAndFragmented(t *testing.T) {
	srv := echoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Dial(ctx, DialConfig{URL: wsURL(srv), Options: Options{FragmentSize: 16}})
	require.NoError(t, err)
	defer s.Abort()

	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, s.Send(frame.OpBinary, payload))

	in := waitInbound(t, s)
	assert.Equal(t, frame.OpBinary, in.Opcode)
	assert.Equal(t, payload, in.Payload)
}

func TestDial_SubprotocolNegotiation(t *testing.T) {
	srv := echoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Dial(ctx, DialConfig{URL: wsURL(srv), Subprotocols: []string{"json"}})
	require.NoError(t, err)
	defer s.Abort()

	assert.Equal(t, "json", s.Subprotocol())
}

func TestDial_CleanClose(t *testing.T) {
	srv := echoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Dial(ctx, DialConfig{URL: wsURL(srv)})
	require.NoError(t, err)

	require.NoError(t, s.Close(frame.CloseNormalClosure, "done", 2*time.Second))
	assert.Equal(t, StateClosed, s.State())
	assert.NoError(t, s.Err())
}

func TestDial_RejectsUnknownScheme(t *testing.T) {
	_, err := Dial(context.Background(), DialConfig{URL: "http://example.test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}
