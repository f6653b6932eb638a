package mux

import (
	"net"
	"testing"

	"lukechampine.com/frand"
)

func randomPeerID() (id PeerID) {
	frand.Read(id[:])
	return
}

func randomNetworkID() (id NetworkID) {
	frand.Read(id[:])
	return
}

func TestDeriveChannelNameSymmetric(t *testing.T) {
	network := randomNetworkID()
	local := randomPeerID()
	remote := randomPeerID()

	forward := DeriveChannelName(network, local, remote)
	backward := DeriveChannelName(network, remote, local)
	if forward != backward {
		t.Fatalf("channel name not symmetric: %s != %s", forward, backward)
	}

	other := DeriveChannelName(randomNetworkID(), local, remote)
	if other == forward {
		t.Fatalf("channel names collided across distinct networks")
	}
}

func TestEndpointChannelNameRoundTrip(t *testing.T) {
	cases := []Endpoint{
		{IP: net.IPv4(192, 168, 1, 42), Port: 8443},
		{IP: net.IPv4(0, 0, 0, 0), Port: 0},
		{IP: net.ParseIP("2001:db8::1"), Port: 65535},
		{IP: net.ParseIP("::1"), Port: 1},
	}
	for _, want := range cases {
		name, err := want.EncodeChannelName()
		if err != nil {
			t.Fatalf("EncodeChannelName(%v): %v", want, err)
		}
		got, err := DecodeEndpoint(name)
		if err != nil {
			t.Fatalf("DecodeEndpoint: %v", err)
		}
		if got.Port != want.Port || !got.IP.Equal(want.IP) {
			t.Fatalf("round trip mismatch: want %v got %v", want, got)
		}
	}
}

func TestDecodeEndpointUnsupportedFamily(t *testing.T) {
	var name ChannelName
	name[0] = 2
	if _, err := DecodeEndpoint(name); err == nil {
		t.Fatal("expected error for unsupported family tag")
	}
}

func TestPeerIDXor(t *testing.T) {
	a := randomPeerID()
	b := randomPeerID()
	if a.Xor(b).Xor(b) != a {
		t.Fatal("xor is not its own inverse")
	}
}
