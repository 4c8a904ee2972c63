package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/getwscheck/wscheck/pkg/handshake"
)

// DialConfig describes how to establish and upgrade a connection.
type DialConfig struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// Headers are extra handshake request headers.
	Headers http.Header
	// Subprotocols are offered during the handshake.
	Subprotocols []string
	// Extensions are offered verbatim during the handshake.
	Extensions []string
	// TLS configures wss:// connections. Nil uses defaults.
	TLS *tls.Config
	// Timeout bounds the TCP connect. Zero means no limit beyond ctx.
	Timeout time.Duration
	// Options configures the resulting session.
	Options Options
}

// Dial connects to a ws:// or wss:// URL, upgrades the stream, and returns an
// open session. TLS here is limited to invoking the standard client
// handshake; certificate management stays with the caller via cfg.TLS.
func Dial(ctx context.Context, cfg DialConfig) (*Session, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}

	var useTLS bool
	switch u.Scheme {
	case "ws":
	case "wss":
		useTLS = true
	default:
		return nil, fmt.Errorf("unsupported scheme %q (want ws or wss)", u.Scheme)
	}

	host := u.Host
	if u.Port() == "" {
		if useTLS {
			host = net.JoinHostPort(u.Hostname(), "443")
		} else {
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", host, err)
	}

	conn := Conn(netConn)
	if useTLS {
		tlsCfg := cfg.TLS
		if tlsCfg == nil {
			tlsCfg = &tls.Config{}
		}
		if tlsCfg.ServerName == "" {
			tlsCfg = tlsCfg.Clone()
			tlsCfg.ServerName = u.Hostname()
		}
		tlsConn := tls.Client(netConn, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = netConn.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsConn
	}

	path := u.RequestURI()
	target := &handshake.Target{
		Host:         u.Host,
		Path:         path,
		Headers:      cfg.Headers,
		Subprotocols: cfg.Subprotocols,
		Extensions:   cfg.Extensions,
	}

	s, err := New(conn, cfg.URL, target, cfg.Options)
	if err != nil {
		return nil, err
	}
	return s, nil
}
