package mux

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Connection owns one base stream and the full multiplexing state built on
// top of it: the three channel registries, the joint set, the pending
// control-request notifier tables, and the relay table. It is the unit of
// disposal: tearing one down cascades to every channel, joint, and hosted
// relay it owns.
type Connection struct {
	base  io.ReadWriteCloser
	codec *FrameCodec

	localPeerID  PeerID
	remotePeerID PeerID
	remoteEndpoint Endpoint
	isVirtual    bool

	registry *ChannelRegistry

	pendingPeerStatus *notifierTable
	pendingRelay      *notifierTable

	jointsMu sync.Mutex
	joints   map[*Joint]struct{}

	relayMu    sync.Mutex
	relayTable map[NetworkID]RelayHandle

	connManager ConnectionManager
	dhtClient   DHTClient
	relaySvc    RelayService
	callbacks   Callbacks

	startOnce   sync.Once
	disposeOnce sync.Once
	disposed    chan struct{}

	mu                  sync.Mutex
	channelWriteTimeout time.Duration
	terminationErr      error

	logger zerolog.Logger
}

// Option configures a Connection at construction time.
type Option func(*Connection)

// WithConnectionManager injects the collaborator that dials and accepts
// peer connections on behalf of ConnectChannelProxyTunnel and
// ConnectChannelVirtualConnection handling.
func WithConnectionManager(cm ConnectionManager) Option {
	return func(c *Connection) { c.connManager = cm }
}

// WithDHTClient injects the collaborator that consumes DhtPacketData
// payloads.
func WithDHTClient(dc DHTClient) Option {
	return func(c *Connection) { c.dhtClient = dc }
}

// WithRelayService injects the collaborator backing StartTcpRelay,
// StopTcpRelay, and the peer-list synthesized on channel open.
func WithRelayService(rs RelayService) Option {
	return func(c *Connection) { c.relaySvc = rs }
}

// WithCallbacks sets the asynchronous event hooks.
func WithCallbacks(cb Callbacks) Option {
	return func(c *Connection) { c.callbacks = cb }
}

// WithChannelTimeout overrides the default 30s channel read/write timeout
// applied to channels this Connection creates.
func WithChannelTimeout(d time.Duration) Option {
	return func(c *Connection) { c.channelWriteTimeout = d }
}

// WithLogger overrides the package default logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Connection) { c.logger = l }
}

// WithRemoteEndpoint records the remote peer's network endpoint, used to tag
// DhtPacketData deliveries and BitChatNetworkInvitation callbacks and
// reported via RemoteEndpoint. It is unnecessary when base is a *ChannelStream (a
// virtual connection), whose endpoint is decoded from the channel name.
func WithRemoteEndpoint(e Endpoint) Option {
	return func(c *Connection) { c.remoteEndpoint = e }
}

// NewConnection wraps base (already handshaked and authenticated by the
// caller) as a multiplexed Connection between localPeerID and remotePeerID.
// Start must be called before frames are read.
func NewConnection(base io.ReadWriteCloser, localPeerID, remotePeerID PeerID, opts ...Option) *Connection {
	c := &Connection{
		base:                base,
		codec:               NewFrameCodec(base),
		localPeerID:         localPeerID,
		remotePeerID:        remotePeerID,
		registry:            newChannelRegistry(),
		pendingPeerStatus:   newNotifierTable(),
		pendingRelay:        newNotifierTable(),
		joints:              make(map[*Joint]struct{}),
		relayTable:          make(map[NetworkID]RelayHandle),
		disposed:            make(chan struct{}),
		channelWriteTimeout: defaultChannelTimeout,
		logger:              defaultLogger(),
	}
	if ch, ok := base.(*ChannelStream); ok {
		c.isVirtual = true
		if e, err := DecodeEndpoint(ch.Name()); err == nil {
			c.remoteEndpoint = e
		}
	} else if conn, ok := base.(net.Conn); ok {
		c.remoteEndpoint = endpointFromAddr(conn.RemoteAddr())
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start spawns the reader goroutine. Idempotent.
func (c *Connection) Start() {
	c.startOnce.Do(func() {
		go c.readerLoop()
	})
}

func (c *Connection) newChannel(kind ChannelKind, name ChannelName) *ChannelStream {
	ch := newChannelStream(c, kind, name)
	c.mu.Lock()
	d := c.channelWriteTimeout
	c.mu.Unlock()
	ch.SetWriteTimeout(d)
	ch.SetReadTimeout(d)
	return ch
}

// OpenBitChatChannel creates and registers a BitChatNetwork channel named
// name, announces it to the peer, and returns it.
func (c *Connection) OpenBitChatChannel(name ChannelName) (*ChannelStream, error) {
	if c.isDisposed() {
		return nil, ErrConnectionClosed
	}
	ch := c.newChannel(BitChatNetwork, name)
	if err := c.registry.Insert(BitChatNetwork, name, ch); err != nil {
		return nil, err
	}
	if err := c.codec.WriteFrame(SignalConnectChannelBitChatNetwork, name, nil); err != nil {
		c.registry.Remove(BitChatNetwork, name)
		return nil, err
	}
	return ch, nil
}

// HasBitChatChannel reports whether a BitChatNetwork channel named name
// exists.
func (c *Connection) HasBitChatChannel(name ChannelName) bool {
	return c.registry.Has(BitChatNetwork, name)
}

// BitChatChannels returns a point-in-time snapshot of every open
// BitChatNetwork channel.
func (c *Connection) BitChatChannels() []*ChannelStream {
	return c.registry.Snapshot(BitChatNetwork)
}

// OpenProxyTunnel creates a ProxyTunnel channel addressed to endpoint and
// asks the peer to establish the other end.
func (c *Connection) OpenProxyTunnel(endpoint Endpoint) (*ChannelStream, error) {
	if c.isDisposed() {
		return nil, ErrConnectionClosed
	}
	name, err := endpoint.EncodeChannelName()
	if err != nil {
		return nil, err
	}
	ch := c.newChannel(ProxyTunnel, name)
	if err := c.registry.Insert(ProxyTunnel, name, ch); err != nil {
		return nil, err
	}
	if err := c.codec.WriteFrame(SignalConnectChannelProxyTunnel, name, nil); err != nil {
		c.registry.Remove(ProxyTunnel, name)
		return nil, err
	}
	return ch, nil
}

// SendNoop emits a keepalive frame with a fresh random channel name; the
// receiver ignores the channel name for this signal.
func (c *Connection) SendNoop() error {
	if c.isDisposed() {
		return ErrConnectionClosed
	}
	return c.codec.WriteFrame(SignalNOOP, RandomChannelName(), nil)
}

// SendDHTPacket emits payload as a DHT datagram with a fresh random channel
// name.
func (c *Connection) SendDHTPacket(payload []byte) error {
	if c.isDisposed() {
		return ErrConnectionClosed
	}
	return c.codec.WriteFrame(SignalDhtPacketData, RandomChannelName(), payload)
}

// SendInvitation emits message as a BitChatNetworkInvitation for network,
// using network's bytes directly as the channel name.
func (c *Connection) SendInvitation(network NetworkID, message string) error {
	if c.isDisposed() {
		return ErrConnectionClosed
	}
	return c.codec.WriteFrame(SignalBitChatNetworkInvitation, ChannelName(network), []byte(message))
}

// LocalPeerID returns the local peer identity this Connection was
// constructed with.
func (c *Connection) LocalPeerID() PeerID { return c.localPeerID }

// RemotePeerID returns the remote peer identity this Connection was
// constructed with.
func (c *Connection) RemotePeerID() PeerID { return c.remotePeerID }

// RemoteEndpoint returns the remote peer's network endpoint, if known.
func (c *Connection) RemoteEndpoint() Endpoint { return c.remoteEndpoint }

// IsVirtual reports whether this Connection's base stream is itself a
// channel of another Connection.
func (c *Connection) IsVirtual() bool { return c.isVirtual }

// ChannelWriteTimeout returns the write-stall timeout applied to channels
// this Connection creates.
func (c *Connection) ChannelWriteTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelWriteTimeout
}

// SetChannelWriteTimeout changes the write-stall timeout applied to
// channels created after this call.
func (c *Connection) SetChannelWriteTimeout(d time.Duration) {
	c.mu.Lock()
	c.channelWriteTimeout = d
	c.mu.Unlock()
}

func (c *Connection) addJoint(j *Joint) {
	c.jointsMu.Lock()
	c.joints[j] = struct{}{}
	c.jointsMu.Unlock()
}

func (c *Connection) removeJoint(j *Joint) {
	c.jointsMu.Lock()
	delete(c.joints, j)
	c.jointsMu.Unlock()
}

func (c *Connection) setTerminationError(err error) {
	c.mu.Lock()
	if c.terminationErr == nil {
		c.terminationErr = err
	}
	c.mu.Unlock()
}

// Err returns the reason the reader loop terminated, or nil if the
// connection is still running. After Dispose, a nil Err means the
// connection was torn down locally rather than by a base-stream failure.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminationErr
}

func (c *Connection) isDisposed() bool {
	select {
	case <-c.disposed:
		return true
	default:
		return false
	}
}

// Dispose idempotently tears the Connection down: the base stream is
// closed (unblocking the reader and any in-flight writes), every channel
// across all three registries is disposed, every joint is disposed, every
// hosted relay handle is closed, and the Disposed callback fires once.
func (c *Connection) Dispose() error {
	var err error
	c.disposeOnce.Do(func() {
		close(c.disposed)
		err = c.base.Close()

		for _, ch := range c.registry.SnapshotAll() {
			ch.Dispose()
		}

		c.jointsMu.Lock()
		joints := make([]*Joint, 0, len(c.joints))
		for j := range c.joints {
			joints = append(joints, j)
		}
		c.jointsMu.Unlock()
		for _, j := range joints {
			j.Dispose()
		}

		c.relayMu.Lock()
		handles := make([]RelayHandle, 0, len(c.relayTable))
		for network, h := range c.relayTable {
			handles = append(handles, h)
			delete(c.relayTable, network)
		}
		c.relayMu.Unlock()
		for _, h := range handles {
			h.Close()
		}

		c.callbacks.dispatchDisposed()
	})
	return err
}
