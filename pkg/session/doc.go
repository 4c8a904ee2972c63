// Package session manages a single client WebSocket connection for test
// execution.
//
// A Session exclusively owns one transport stream. It drives the opening
// handshake, then runs a read loop that decodes frames, reassembles
// fragmented messages, answers pings automatically, and participates in the
// close handshake. Everything received is delivered in wire order on the
// Inbound channel for the scenario engine to assert against, and every frame
// crossing the connection is recorded in ordered sent/received logs.
//
// State proceeds strictly Connecting -> Open -> Closing -> Closed. A failed
// handshake moves directly from Connecting to Closed. Transport errors,
// protocol violations, and idle timeouts close the session abnormally, which
// is distinct from a completed close handshake.
//
// The transport is any already-connected byte stream implementing Conn
// (net.Conn does); Dial is a convenience that establishes a plain or TLS TCP
// stream for ws:// and wss:// URLs.
package session
