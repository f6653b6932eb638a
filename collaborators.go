package mux

import (
	"context"
	"io"
	"net"
)

// ConnectionManager is the external collaborator that establishes and
// retrieves peer connections and performs handshake/authentication. The mux
// never dials or accepts base-stream connections itself; it asks the
// ConnectionManager to do so.
type ConnectionManager interface {
	// Dial returns an existing or newly-established Connection to endpoint.
	// It is called while servicing an inbound ConnectChannelProxyTunnel
	// frame.
	Dial(ctx context.Context, endpoint Endpoint) (*Connection, error)

	// IsReachable reports whether the caller currently holds a live
	// connection to endpoint. It backs PeerStatusQuery.
	IsReachable(endpoint Endpoint) bool

	// HandleInbound is called on its own goroutine when a peer opens a
	// VirtualConnection channel: base is a new nested base stream (itself a
	// *ChannelStream) that the manager should treat as an inbound
	// connection from peerEndpoint.
	HandleInbound(base io.ReadWriteCloser, peerEndpoint Endpoint)
}

// DHTClient is the external collaborator that consumes inbound DHT datagram
// payloads (SignalDhtPacketData).
type DHTClient interface {
	HandlePacket(payload []byte, remoteIP net.IP)
}

// RelayHandle represents a relay this peer is hosting on behalf of a remote
// peer. Closing it stops the relay.
type RelayHandle = io.Closer

// RelayService is the external collaborator backing StartTcpRelay,
// StopTcpRelay, and the peer-list synthesized on ConnectChannelBitChatNetwork.
// It replaces the prior implementation's process-wide static registry with
// an injected, per-Connection collaborator.
type RelayService interface {
	// LookupPeers returns the endpoints this peer knows how to reach for
	// channelName, excluding any known via exclude itself.
	LookupPeers(channelName ChannelName, exclude *Connection) []Endpoint

	// Start registers a relay for network on behalf of conn's remote peer,
	// optionally seeding tracker URIs. The returned handle is stored in the
	// Connection's relay table and Closed on StopTcpRelay or connection
	// disposal.
	Start(network NetworkID, conn *Connection, trackers []string) (RelayHandle, error)
}

// Callbacks are the asynchronous event hooks a ConnectionFacade fires.
// Every callback is invoked off any mux lock, on its own goroutine, per the
// "never invoke higher-level callbacks while holding a registry or channel
// lock" rule.
type Callbacks struct {
	// OnChannelOpen fires when a peer opens a BitChat network channel.
	OnChannelOpen func(ch *ChannelStream)
	// OnInvitation fires on a decoded BitChatNetworkInvitation frame.
	OnInvitation func(network NetworkID, remote Endpoint, message string)
	// OnRelayPeers fires on a decoded TcpRelayResponsePeerList frame.
	OnRelayPeers func(peers []Endpoint)
	// OnDisposed fires once, after Connection.Dispose has torn everything
	// down.
	OnDisposed func()
}

func (cb Callbacks) dispatchChannelOpen(ch *ChannelStream) {
	if cb.OnChannelOpen != nil {
		go cb.OnChannelOpen(ch)
	}
}

func (cb Callbacks) dispatchInvitation(network NetworkID, remote Endpoint, message string) {
	if cb.OnInvitation != nil {
		go cb.OnInvitation(network, remote, message)
	}
}

func (cb Callbacks) dispatchRelayPeers(peers []Endpoint) {
	if cb.OnRelayPeers != nil {
		go cb.OnRelayPeers(peers)
	}
}

func (cb Callbacks) dispatchDisposed() {
	if cb.OnDisposed != nil {
		go cb.OnDisposed()
	}
}
