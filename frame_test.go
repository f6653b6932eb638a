package mux

import (
	"bytes"
	"net"
	"testing"

	"lukechampine.com/frand"
)

func TestWriteFrameZeroLengthEmitsOneFrame(t *testing.T) {
	var buf bytes.Buffer
	codec := NewFrameCodec(&buf)
	name := RandomChannelName()
	if err := codec.WriteFrame(SignalNOOP, name, nil); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != headerSize {
		t.Fatalf("expected exactly one %d-byte header, got %d bytes", headerSize, buf.Len())
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	codec := NewFrameCodec(&buf)
	name := RandomChannelName()
	payload := []byte("hello network")

	if err := codec.WriteFrame(SignalDataChannelBitChatNetwork, name, payload); err != nil {
		t.Fatal(err)
	}

	readCodec := NewFrameCodec(&buf)
	signal, gotName, gotPayload, err := readCodec.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if signal != SignalDataChannelBitChatNetwork {
		t.Fatalf("signal mismatch: %v", signal)
	}
	if gotName != name {
		t.Fatalf("channel name mismatch")
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch: %q != %q", gotPayload, payload)
	}
}

func TestReadFrameRejectsUnknownSignal(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, headerSize)
	encodeHeader(header, Signal(numSignals), RandomChannelName(), 0)
	buf.Write(header)

	codec := NewFrameCodec(&buf)
	_, _, _, err := codec.ReadFrame()
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("expected *ProtocolError, got %v (%T)", err, err)
	}
}

// TestFrameFragmentation exercises scenario 1: a 200,000-byte logical write
// on one channel must be split into multiple frames, each carrying at most
// maxPayloadSize bytes, whose payloads concatenate back to the original
// input.
func TestFrameFragmentation(t *testing.T) {
	payload := make([]byte, 200_000)
	frand.Read(payload)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	writer := NewFrameCodec(client)
	name := RandomChannelName()
	writeErr := make(chan error, 1)
	go func() { writeErr <- writer.WriteFrame(SignalDataChannelBitChatNetwork, name, payload) }()

	reader := NewFrameCodec(server)
	var reassembled []byte
	var frameCount int
	for len(reassembled) < len(payload) {
		signal, gotName, fragment, err := reader.ReadFrame()
		if err != nil {
			t.Fatal(err)
		}
		if signal != SignalDataChannelBitChatNetwork || gotName != name {
			t.Fatalf("unexpected frame header: %v %v", signal, gotName)
		}
		if len(fragment) > maxPayloadSize {
			t.Fatalf("fragment exceeds maxPayloadSize: %d", len(fragment))
		}
		reassembled = append(reassembled, fragment...)
		frameCount++
	}

	if err := <-writeErr; err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(reassembled, payload) {
		t.Fatal("reassembled payload does not match input")
	}
	if frameCount < 4 {
		t.Fatalf("expected at least 4 frames, got %d", frameCount)
	}
}
