package mux

import (
	"bytes"
	"testing"
	"time"
)

func TestStartRelayPayloadWireFormat(t *testing.T) {
	n1, n2 := randomNetworkID(), randomNetworkID()
	mask := RandomChannelName()
	trackers := []string{"http://t1/", "http://t2/"}

	payload, err := encodeStartRelayPayload([]NetworkID{n1, n2}, trackers, mask)
	if err != nil {
		t.Fatal(err)
	}

	maskedN1 := n1.Xor(mask)
	maskedN2 := n2.Xor(mask)
	var want bytes.Buffer
	want.WriteByte(2)
	want.Write(maskedN1[:])
	want.Write(maskedN2[:])
	want.WriteByte(2)
	want.WriteByte(byte(len(trackers[0])))
	want.WriteString(trackers[0])
	want.WriteByte(byte(len(trackers[1])))
	want.WriteString(trackers[1])

	if !bytes.Equal(payload, want.Bytes()) {
		t.Fatalf("wire format mismatch:\n got %x\nwant %x", payload, want.Bytes())
	}

	gotNetworks, gotTrackers, err := decodeStartRelayPayload(payload, mask)
	if err != nil {
		t.Fatal(err)
	}
	if len(gotNetworks) != 2 || gotNetworks[0] != n1 || gotNetworks[1] != n2 {
		t.Fatalf("network IDs did not round trip: %v", gotNetworks)
	}
	if len(gotTrackers) != 2 || gotTrackers[0] != trackers[0] || gotTrackers[1] != trackers[1] {
		t.Fatalf("trackers did not round trip: %v", gotTrackers)
	}
}

func TestStopRelayPayloadRoundTrip(t *testing.T) {
	networks := []NetworkID{randomNetworkID(), randomNetworkID(), randomNetworkID()}
	mask := RandomChannelName()

	payload, err := encodeStopRelayPayload(networks, mask)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeStopRelayPayload(payload, mask)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(networks) {
		t.Fatalf("expected %d networks, got %d", len(networks), len(got))
	}
	for i := range networks {
		if got[i] != networks[i] {
			t.Fatalf("network %d mismatch: %v != %v", i, got[i], networks[i])
		}
	}
}

func TestPeerListPayloadRoundTrip(t *testing.T) {
	endpoints := []Endpoint{
		{IP: []byte{127, 0, 0, 1}, Port: 1234},
		{IP: []byte{10, 0, 0, 1}, Port: 80},
	}
	payload, err := encodePeerList(endpoints)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodePeerList(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(endpoints) {
		t.Fatalf("expected %d endpoints, got %d", len(endpoints), len(got))
	}
	for i := range endpoints {
		if got[i].Port != endpoints[i].Port || !got[i].IP.Equal(endpoints[i].IP) {
			t.Fatalf("endpoint %d mismatch: %v != %v", i, got[i], endpoints[i])
		}
	}
}

func TestNotifierTableSignalWakesWaiter(t *testing.T) {
	table := newNotifierTable()
	name := RandomChannelName()
	n := table.register(name)

	go func() { table.signal(name) }()

	if !await(n, time.Second) {
		t.Fatal("waiter was not woken by signal")
	}
}

func TestNotifierTableSignalMissIsBenign(t *testing.T) {
	table := newNotifierTable()
	// Signaling a name that was never registered must not panic or block.
	table.signal(RandomChannelName())
}

func TestAwaitTimesOutWithoutSignal(t *testing.T) {
	n := newNotifier()
	if await(n, 20*time.Millisecond) {
		t.Fatal("expected await to time out")
	}
}
