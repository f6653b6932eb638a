package mux

import (
	"fmt"
	"sync"
	"time"
)

const (
	peerStatusTimeout = 10 * time.Second
	relayStartTimeout = 120 * time.Second
	relayStopTimeout  = 10 * time.Second
)

// notifier is a one-shot signal: exactly one goroutine closes it, any number
// wait on it.
type notifier struct {
	once sync.Once
	ch   chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

func (n *notifier) signal() { n.once.Do(func() { close(n.ch) }) }

// notifierTable is a name-keyed table of one-shot notifiers, used for the
// pending peer-status and pending relay-request tables.
type notifierTable struct {
	mu sync.Mutex
	m  map[ChannelName]*notifier
}

func newNotifierTable() *notifierTable {
	return &notifierTable{m: make(map[ChannelName]*notifier)}
}

func (t *notifierTable) register(name ChannelName) *notifier {
	n := newNotifier()
	t.mu.Lock()
	t.m[name] = n
	t.mu.Unlock()
	return n
}

func (t *notifierTable) remove(name ChannelName) {
	t.mu.Lock()
	delete(t.m, name)
	t.mu.Unlock()
}

// signal looks up the notifier for name and signals it; a miss is benign
// (the response raced with the request's own timeout/removal).
func (t *notifierTable) signal(name ChannelName) {
	t.mu.Lock()
	n := t.m[name]
	t.mu.Unlock()
	if n != nil {
		n.signal()
	}
}

// await blocks until n is signaled or timeout elapses, returning whether it
// was signaled.
func await(n *notifier, timeout time.Duration) bool {
	select {
	case <-n.ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// --- StartTcpRelay / StopTcpRelay payload codecs ---
//
// StartTcpRelay: n_networks:u8 || n_networks*(20B XOR-masked networkID) ||
//                n_trackers:u8 || n_trackers*(len:u8 || UTF-8 bytes)
// StopTcpRelay:  n_networks:u8 || n_networks*(20B XOR-masked networkID)
//
// The mask is the random channel name generated for the request: XORing
// hides the networkID from a passive observer without requiring a shared
// key.

func encodeStartRelayPayload(networkIDs []NetworkID, trackers []string, mask ChannelName) ([]byte, error) {
	if len(networkIDs) > 255 || len(trackers) > 255 {
		return nil, fmt.Errorf("mux: too many networks or trackers for one request")
	}
	buf := make([]byte, 0, 1+len(networkIDs)*idSize+1+16*len(trackers))
	buf = append(buf, byte(len(networkIDs)))
	for _, n := range networkIDs {
		masked := n.Xor(mask)
		buf = append(buf, masked[:]...)
	}
	buf = append(buf, byte(len(trackers)))
	for _, tracker := range trackers {
		if len(tracker) > 255 {
			return nil, fmt.Errorf("mux: tracker URI too long: %d bytes", len(tracker))
		}
		buf = append(buf, byte(len(tracker)))
		buf = append(buf, tracker...)
	}
	return buf, nil
}

func decodeStartRelayPayload(payload []byte, mask ChannelName) (networkIDs []NetworkID, trackers []string, err error) {
	if len(payload) < 1 {
		return nil, nil, &ProtocolError{Msg: "StartTcpRelay payload too short"}
	}
	nNetworks := int(payload[0])
	payload = payload[1:]
	if len(payload) < nNetworks*idSize {
		return nil, nil, &ProtocolError{Msg: "StartTcpRelay payload truncated (networks)"}
	}
	for i := 0; i < nNetworks; i++ {
		var masked NetworkID
		copy(masked[:], payload[:idSize])
		payload = payload[idSize:]
		networkIDs = append(networkIDs, masked.Xor(mask))
	}
	if len(payload) < 1 {
		return nil, nil, &ProtocolError{Msg: "StartTcpRelay payload truncated (tracker count)"}
	}
	nTrackers := int(payload[0])
	payload = payload[1:]
	for i := 0; i < nTrackers; i++ {
		if len(payload) < 1 {
			return nil, nil, &ProtocolError{Msg: "StartTcpRelay payload truncated (tracker length)"}
		}
		n := int(payload[0])
		payload = payload[1:]
		if len(payload) < n {
			return nil, nil, &ProtocolError{Msg: "StartTcpRelay payload truncated (tracker bytes)"}
		}
		trackers = append(trackers, string(payload[:n]))
		payload = payload[n:]
	}
	return networkIDs, trackers, nil
}

func encodeStopRelayPayload(networkIDs []NetworkID, mask ChannelName) ([]byte, error) {
	if len(networkIDs) > 255 {
		return nil, fmt.Errorf("mux: too many networks for one request")
	}
	buf := make([]byte, 0, 1+len(networkIDs)*idSize)
	buf = append(buf, byte(len(networkIDs)))
	for _, n := range networkIDs {
		masked := n.Xor(mask)
		buf = append(buf, masked[:]...)
	}
	return buf, nil
}

func decodeStopRelayPayload(payload []byte, mask ChannelName) ([]NetworkID, error) {
	if len(payload) < 1 {
		return nil, &ProtocolError{Msg: "StopTcpRelay payload too short"}
	}
	nNetworks := int(payload[0])
	payload = payload[1:]
	if len(payload) < nNetworks*idSize {
		return nil, &ProtocolError{Msg: "StopTcpRelay payload truncated"}
	}
	var networkIDs []NetworkID
	for i := 0; i < nNetworks; i++ {
		var masked NetworkID
		copy(masked[:], payload[:idSize])
		payload = payload[idSize:]
		networkIDs = append(networkIDs, masked.Xor(mask))
	}
	return networkIDs, nil
}

// --- TcpRelayResponsePeerList payload codec ---
//
// n:u8 || n*endpoint, where each endpoint is a compact (non-padded) encoding
// of family tag + address bytes + port, the same layout the channel-name
// endpoint encoder uses before its zero-padding to idSize.

func encodeEndpointCompact(e Endpoint) ([]byte, error) {
	if ip4 := e.IP.To4(); ip4 != nil {
		buf := make([]byte, 1+4+2)
		buf[0] = familyIPv4
		copy(buf[1:5], ip4)
		buf[5] = byte(e.Port)
		buf[6] = byte(e.Port >> 8)
		return buf, nil
	}
	if ip6 := e.IP.To16(); ip6 != nil {
		buf := make([]byte, 1+16+2)
		buf[0] = familyIPv6
		copy(buf[1:17], ip6)
		buf[17] = byte(e.Port)
		buf[18] = byte(e.Port >> 8)
		return buf, nil
	}
	return nil, &ProtocolError{Msg: "endpoint has no valid IP address"}
}

func decodeEndpointCompact(buf []byte) (Endpoint, int, error) {
	if len(buf) < 1 {
		return Endpoint{}, 0, &ProtocolError{Msg: "endpoint payload too short"}
	}
	switch buf[0] {
	case familyIPv4:
		if len(buf) < 7 {
			return Endpoint{}, 0, &ProtocolError{Msg: "IPv4 endpoint payload truncated"}
		}
		ip := make([]byte, 4)
		copy(ip, buf[1:5])
		port := uint16(buf[5]) | uint16(buf[6])<<8
		return Endpoint{IP: ip, Port: port}, 7, nil
	case familyIPv6:
		if len(buf) < 19 {
			return Endpoint{}, 0, &ProtocolError{Msg: "IPv6 endpoint payload truncated"}
		}
		ip := make([]byte, 16)
		copy(ip, buf[1:17])
		port := uint16(buf[17]) | uint16(buf[18])<<8
		return Endpoint{IP: ip, Port: port}, 19, nil
	default:
		return Endpoint{}, 0, &ProtocolError{Msg: fmt.Sprintf("unsupported address family tag %d", buf[0])}
	}
}

func encodePeerList(endpoints []Endpoint) ([]byte, error) {
	if len(endpoints) > 255 {
		return nil, fmt.Errorf("mux: too many peers for one response")
	}
	buf := []byte{byte(len(endpoints))}
	for _, e := range endpoints {
		enc, err := encodeEndpointCompact(e)
		if err != nil {
			return nil, err
		}
		buf = append(buf, enc...)
	}
	return buf, nil
}

func decodePeerList(payload []byte) ([]Endpoint, error) {
	if len(payload) < 1 {
		return nil, &ProtocolError{Msg: "peer list payload too short"}
	}
	n := int(payload[0])
	payload = payload[1:]
	endpoints := make([]Endpoint, 0, n)
	for i := 0; i < n; i++ {
		e, consumed, err := decodeEndpointCompact(payload)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
		payload = payload[consumed:]
	}
	return endpoints, nil
}

// --- ControlHandlers: the blocking, notifier-backed request/response RPCs ---

// RequestPeerStatus sends a PeerStatusQuery for endpoint and waits up to 10s
// for a matching PeerStatusAvailable. It returns true iff one arrived in
// time.
func (c *Connection) RequestPeerStatus(endpoint Endpoint) (bool, error) {
	name, err := endpoint.EncodeChannelName()
	if err != nil {
		return false, err
	}
	n := c.pendingPeerStatus.register(name)
	defer c.pendingPeerStatus.remove(name)
	if err := c.codec.WriteFrame(SignalPeerStatusQuery, name, nil); err != nil {
		return false, err
	}
	return await(n, peerStatusTimeout), nil
}

// RequestStartRelay asks the remote peer to start relaying networkIDs,
// optionally seeding tracker URIs, and waits up to 120s for success.
func (c *Connection) RequestStartRelay(networkIDs []NetworkID, trackers []string) (bool, error) {
	name := RandomChannelName()
	payload, err := encodeStartRelayPayload(networkIDs, trackers, name)
	if err != nil {
		return false, err
	}
	n := c.pendingRelay.register(name)
	defer c.pendingRelay.remove(name)
	if err := c.codec.WriteFrame(SignalStartTcpRelay, name, payload); err != nil {
		return false, err
	}
	return await(n, relayStartTimeout), nil
}

// RequestStopRelay asks the remote peer to stop relaying networkIDs and
// waits up to 10s for success.
func (c *Connection) RequestStopRelay(networkIDs []NetworkID) (bool, error) {
	name := RandomChannelName()
	payload, err := encodeStopRelayPayload(networkIDs, name)
	if err != nil {
		return false, err
	}
	n := c.pendingRelay.register(name)
	defer c.pendingRelay.remove(name)
	if err := c.codec.WriteFrame(SignalStopTcpRelay, name, payload); err != nil {
		return false, err
	}
	return await(n, relayStopTimeout), nil
}

// requestVirtualConnectionChannel is the internal half of servicing an
// inbound ConnectChannelProxyTunnel: it opens a local VirtualConnection
// channel named after endpoint and asks the peer to accept it.
func (c *Connection) requestVirtualConnectionChannel(endpoint Endpoint) (*ChannelStream, error) {
	name, err := endpoint.EncodeChannelName()
	if err != nil {
		return nil, err
	}
	ch := c.newChannel(VirtualConnection, name)
	if err := c.registry.Insert(VirtualConnection, name, ch); err != nil {
		return nil, err
	}
	if err := c.codec.WriteFrame(SignalConnectChannelVirtualConnection, name, nil); err != nil {
		ch.Dispose()
		return nil, err
	}
	return ch, nil
}
