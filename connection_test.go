package mux

import (
	"context"
	"io"
	"net"
	"testing"
	"time"
)

type stubConnectionManager struct {
	reachable map[string]bool
}

func (s *stubConnectionManager) Dial(ctx context.Context, endpoint Endpoint) (*Connection, error) {
	return nil, ErrConnectionClosed
}

func (s *stubConnectionManager) IsReachable(endpoint Endpoint) bool {
	return s.reachable[endpoint.String()]
}

func (s *stubConnectionManager) HandleInbound(base io.ReadWriteCloser, peerEndpoint Endpoint) {}

type stubDHTClient struct {
	packets chan []byte
}

func (s *stubDHTClient) HandlePacket(payload []byte, remoteIP net.IP) {
	s.packets <- payload
}

func TestSendDHTPacketReachesDHTClient(t *testing.T) {
	dht := &stubDHTClient{packets: make(chan []byte, 1)}
	bOpts := []Option{WithDHTClient(dht)}
	a, _ := newTestingConnPair(t, nil, bOpts)

	payload := []byte("dht datagram")
	if err := a.SendDHTPacket(payload); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-dht.packets:
		if string(got) != string(payload) {
			t.Fatalf("got %q want %q", got, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for DHT client to receive packet")
	}
}

func TestDuplicateInboundChannelIsSwallowed(t *testing.T) {
	a, b := newTestingConnPair(t, nil, nil)

	opened := make(chan *ChannelStream, 2)
	b.callbacks.OnChannelOpen = func(ch *ChannelStream) { opened <- ch }

	name := RandomChannelName()
	if _, err := a.OpenBitChatChannel(name); err != nil {
		t.Fatal(err)
	}
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first channel open")
	}

	// A second Connect for the same (kind, name) must be swallowed: no
	// second OnChannelOpen fires, and the original channel stays live.
	if err := a.codec.WriteFrame(SignalConnectChannelBitChatNetwork, name, nil); err != nil {
		t.Fatal(err)
	}
	select {
	case <-opened:
		t.Fatal("duplicate Connect must not fire a second OnChannelOpen")
	case <-time.After(200 * time.Millisecond):
	}
	if !b.HasBitChatChannel(name) {
		t.Fatal("original channel should still be registered")
	}
}

func TestSendInvitationDispatchesCallback(t *testing.T) {
	invitations := make(chan struct {
		network NetworkID
		message string
	}, 1)
	bOpts := []Option{WithCallbacks(Callbacks{
		OnInvitation: func(network NetworkID, remote Endpoint, message string) {
			invitations <- struct {
				network NetworkID
				message string
			}{network, message}
		},
	})}

	a, _ := newTestingConnPair(t, nil, bOpts)

	network := randomNetworkID()
	if err := a.SendInvitation(network, "join my network"); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-invitations:
		if got.network != network || got.message != "join my network" {
			t.Fatalf("unexpected invitation payload: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for invitation callback")
	}
}

func TestSendNoopIsIgnoredByPeer(t *testing.T) {
	a, b := newTestingConnPair(t, nil, nil)
	if err := a.SendNoop(); err != nil {
		t.Fatal(err)
	}
	// There is no observable side effect; this just asserts the peer stays
	// alive and able to process a subsequent real channel open.
	name := RandomChannelName()
	opened := make(chan *ChannelStream, 1)
	b.callbacks.OnChannelOpen = func(ch *ChannelStream) { opened <- ch }
	if _, err := a.OpenBitChatChannel(name); err != nil {
		t.Fatal(err)
	}
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not survive a NOOP frame")
	}
}

func TestRequestPeerStatusHit(t *testing.T) {
	endpoint := Endpoint{IP: []byte{203, 0, 113, 5}, Port: 4242}
	cm := &stubConnectionManager{reachable: map[string]bool{endpoint.String(): true}}
	bOpts := []Option{WithConnectionManager(cm)}

	a, _ := newTestingConnPair(t, nil, bOpts)

	ok, err := a.RequestPeerStatus(endpoint)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected RequestPeerStatus to report reachable")
	}
}

func TestRelayStartStopRoundTrip(t *testing.T) {
	svc := NewInMemoryRelayService()
	bOpts := []Option{WithRelayService(svc)}
	a, b := newTestingConnPair(t, nil, bOpts)

	network := randomNetworkID()
	ok, err := a.RequestStartRelay([]NetworkID{network}, []string{"http://tracker/"})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected RequestStartRelay to succeed")
	}

	b.relayMu.Lock()
	_, hosted := b.relayTable[network]
	b.relayMu.Unlock()
	if !hosted {
		t.Fatal("relay was not recorded in host's relay table")
	}

	ok, err = a.RequestStopRelay([]NetworkID{network})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected RequestStopRelay to succeed")
	}

	b.relayMu.Lock()
	_, stillHosted := b.relayTable[network]
	b.relayMu.Unlock()
	if stillHosted {
		t.Fatal("relay should have been removed from host's relay table")
	}
}

func TestIsVirtualDetectsChannelBase(t *testing.T) {
	a, b := newTestingConnPair(t, nil, nil)
	if a.IsVirtual() || b.IsVirtual() {
		t.Fatal("TCP-backed connections must not report IsVirtual")
	}

	opened := make(chan *ChannelStream, 1)
	b.callbacks.OnChannelOpen = func(ch *ChannelStream) { opened <- ch }
	name := RandomChannelName()
	chA, err := a.OpenBitChatChannel(name)
	if err != nil {
		t.Fatal(err)
	}
	var chB *ChannelStream
	select {
	case chB = <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel open")
	}

	inner := NewConnection(chB, randomPeerID(), randomPeerID())
	if !inner.IsVirtual() {
		t.Fatal("connection over a ChannelStream must report IsVirtual")
	}
	_ = chA
}

func TestBitChatChannelsSnapshot(t *testing.T) {
	a, _ := newTestingConnPair(t, nil, nil)

	if len(a.BitChatChannels()) != 0 {
		t.Fatal("expected no channels before any Open call")
	}
	if _, err := a.OpenBitChatChannel(RandomChannelName()); err != nil {
		t.Fatal(err)
	}
	if _, err := a.OpenBitChatChannel(RandomChannelName()); err != nil {
		t.Fatal(err)
	}
	if got := len(a.BitChatChannels()); got != 2 {
		t.Fatalf("expected 2 channels, got %d", got)
	}
}

func TestConnectionDisposeCascadesToChannels(t *testing.T) {
	a, b := newTestingConnPair(t, nil, nil)
	opened := make(chan *ChannelStream, 1)
	b.callbacks.OnChannelOpen = func(ch *ChannelStream) { opened <- ch }

	chA, err := a.OpenBitChatChannel(RandomChannelName())
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel open")
	}

	if err := a.Dispose(); err != nil {
		t.Fatal(err)
	}

	_, err = chA.Write([]byte("after dispose"))
	if err != ErrChannelClosed {
		t.Fatalf("expected ErrChannelClosed after connection dispose, got %v", err)
	}
}
