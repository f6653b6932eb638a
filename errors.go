package mux

import (
	"errors"
	"fmt"
	"os"
)

// Sentinel errors relating to Connection and ChannelStream lifecycle.
var (
	// ErrConnectionClosed is returned by operations attempted after
	// (*Connection).Dispose has completed locally.
	ErrConnectionClosed = errors.New("mux: connection closed")
	// ErrPeerClosedConnection indicates the base stream was closed by the
	// remote peer (as opposed to a local error or local Dispose).
	ErrPeerClosedConnection = errors.New("mux: peer closed connection")
	// ErrChannelClosed is returned by operations on a disposed ChannelStream.
	ErrChannelClosed = errors.New("mux: channel closed")
	// ErrDuplicateChannel is returned by ChannelRegistry.Insert and by
	// Connection.OpenBitChatChannel/OpenProxyTunnel when a channel with the
	// same kind and name already exists.
	ErrDuplicateChannel = errors.New("mux: duplicate channel")
)

// ErrTimeout is returned by a ChannelStream Read that exceeds its read
// timeout and by an inbound delivery that finds the receive slot still full
// after the write timeout. Control requests do not return it; they report a
// timeout as a false result. It is the same sentinel the standard library
// uses for deadline exceeded, so callers can test with errors.Is against
// either name.
var ErrTimeout = os.ErrDeadlineExceeded

// ProtocolError indicates a malformed frame, unknown signal kind, or
// unsupported address family. Receiving one while reading frames terminates
// the connection.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "mux: protocol error: " + e.Msg }

// TransportError wraps a base-stream I/O failure. Recovery is always full
// connection disposal.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("mux: transport error: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }
