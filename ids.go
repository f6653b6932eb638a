package mux

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"

	"lukechampine.com/frand"
)

// idSize is the fixed width of a PeerID, NetworkID, or ChannelName.
const idSize = 20

// PeerID identifies a peer on the mux's base stream.
type PeerID [idSize]byte

// String returns the hex encoding of id.
func (id PeerID) String() string { return hex.EncodeToString(id[:]) }

// Xor returns id XOR other.
func (id PeerID) Xor(other PeerID) (out PeerID) {
	for i := range id {
		out[i] = id[i] ^ other[i]
	}
	return
}

// NetworkID identifies a BitChat network. Channel names derived from it
// (DeriveChannelName) and the relay control signals (XOR masking) keep it
// off the wire; BitChatNetworkInvitation frames are the exception and carry
// it in cleartext as their channel name.
type NetworkID [idSize]byte

// String returns the hex encoding of id.
func (id NetworkID) String() string { return hex.EncodeToString(id[:]) }

// Xor returns id XOR mask, byte by byte.
func (id NetworkID) Xor(mask ChannelName) (out NetworkID) {
	for i := range id {
		out[i] = id[i] ^ mask[i]
	}
	return
}

// ChannelName identifies a channel within one of the three ChannelKind
// registries. For per-peer channels it additionally encodes an IP endpoint;
// see Endpoint.EncodeChannelName.
type ChannelName [idSize]byte

// String returns the hex encoding of name.
func (name ChannelName) String() string { return hex.EncodeToString(name[:]) }

// RandomChannelName returns a ChannelName drawn from a CSPRNG. It is used for
// signals that don't correlate to an existing channel (NOOP, DHT datagrams,
// relay start/stop requests).
func RandomChannelName() (name ChannelName) {
	frand.Read(name[:])
	return
}

// DeriveChannelName computes the channel name used for a BitChat network
// channel between local and remote: HMAC-SHA1(key=network, msg=local^remote).
// It is deterministic and symmetric in local/remote.
func DeriveChannelName(network NetworkID, local, remote PeerID) ChannelName {
	mac := hmac.New(sha1.New, network[:])
	msg := local.Xor(remote)
	mac.Write(msg[:])
	sum := mac.Sum(nil)
	var name ChannelName
	copy(name[:], sum)
	return name
}

// Endpoint is an IP address plus port, the payload encoded into a
// per-peer ChannelName (proxy tunnel, virtual connection, peer-status
// probe) and into TcpRelayResponsePeerList payloads.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

const (
	familyIPv4 byte = 0
	familyIPv6 byte = 1
)

// EncodeChannelName reversibly encodes e as a ChannelName: family byte,
// address bytes (4 or 16), port (u16 LE), zero padding to idSize.
func (e Endpoint) EncodeChannelName() (ChannelName, error) {
	var name ChannelName
	if ip4 := e.IP.To4(); ip4 != nil {
		name[0] = familyIPv4
		copy(name[1:5], ip4)
		binary.LittleEndian.PutUint16(name[5:7], e.Port)
		return name, nil
	}
	if ip6 := e.IP.To16(); ip6 != nil {
		name[0] = familyIPv6
		copy(name[1:17], ip6)
		binary.LittleEndian.PutUint16(name[17:19], e.Port)
		return name, nil
	}
	return ChannelName{}, &ProtocolError{Msg: "endpoint has no valid IP address"}
}

// DecodeEndpoint reverses Endpoint.EncodeChannelName.
func DecodeEndpoint(name ChannelName) (Endpoint, error) {
	switch name[0] {
	case familyIPv4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, name[1:5])
		return Endpoint{IP: ip, Port: binary.LittleEndian.Uint16(name[5:7])}, nil
	case familyIPv6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, name[1:17])
		return Endpoint{IP: ip, Port: binary.LittleEndian.Uint16(name[17:19])}, nil
	default:
		return Endpoint{}, &ProtocolError{Msg: fmt.Sprintf("unsupported address family tag %d", name[0])}
	}
}

// String returns e in "ip:port" form.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), fmt.Sprint(e.Port))
}

// endpointFromAddr best-effort parses a net.Addr (as returned by
// net.Conn.RemoteAddr) into an Endpoint. It returns the zero Endpoint if addr
// isn't a recognizable TCP/UDP address.
func endpointFromAddr(addr net.Addr) Endpoint {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return Endpoint{}
	}
	ip := net.ParseIP(host)
	var port uint16
	fmt.Sscanf(portStr, "%d", &port)
	return Endpoint{IP: ip, Port: port}
}
