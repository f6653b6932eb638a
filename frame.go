package mux

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

const (
	headerSize     = 1 + idSize + 2
	maxFrameSize   = 65279 // prior implementation's cap: 65535 minus a 256-byte allowance for lower-layer headers
	maxPayloadSize = maxFrameSize - headerSize
)

// encodeHeader writes a frame header (signal, channel name, payload length)
// into buf, which must be at least headerSize bytes.
func encodeHeader(buf []byte, signal Signal, name ChannelName, length int) {
	buf[0] = byte(signal)
	copy(buf[1:1+idSize], name[:])
	binary.LittleEndian.PutUint16(buf[1+idSize:headerSize], uint16(length))
}

// decodeHeader is the inverse of encodeHeader.
func decodeHeader(buf []byte) (signal Signal, name ChannelName, length uint16) {
	signal = Signal(buf[0])
	copy(name[:], buf[1:1+idSize])
	length = binary.LittleEndian.Uint16(buf[1+idSize : headerSize])
	return
}

// FrameCodec serializes and deserializes frames over a single base stream.
// Writes are serialized with an exclusive lock so that frames are always
// atomic on the wire: interleaving a partial frame from another writer would
// desynchronize the receiver. Reads are not safe for concurrent use --
// ReaderLoop is the base stream's sole reader.
type FrameCodec struct {
	rw io.ReadWriter

	writeMu  sync.Mutex
	writeBuf []byte // reusable header scratch buffer, covered by writeMu

	readHeader [headerSize]byte
}

// NewFrameCodec wraps rw for frame-level I/O.
func NewFrameCodec(rw io.ReadWriter) *FrameCodec {
	return &FrameCodec{
		rw:       rw,
		writeBuf: make([]byte, headerSize),
	}
}

// WriteFrame writes payload as one or more frames of the given signal and
// channel name, splitting it into maxPayloadSize chunks if necessary. A
// zero-length payload still emits exactly one frame with payload length 0.
func (c *FrameCodec) WriteFrame(signal Signal, name ChannelName, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for {
		n := len(payload)
		if n > maxPayloadSize {
			n = maxPayloadSize
		}
		encodeHeader(c.writeBuf, signal, name, n)
		if _, err := c.rw.Write(c.writeBuf); err != nil {
			return &TransportError{Err: err}
		}
		if n > 0 {
			if _, err := c.rw.Write(payload[:n]); err != nil {
				return &TransportError{Err: err}
			}
		}
		payload = payload[n:]
		if len(payload) == 0 {
			return nil
		}
	}
}

// ReadFrame reads and decodes the next frame. Unknown signal kinds are
// reported as a ProtocolError; the caller must terminate the reader on any
// error from ReadFrame.
func (c *FrameCodec) ReadFrame() (Signal, ChannelName, []byte, error) {
	if _, err := io.ReadFull(c.rw, c.readHeader[:]); err != nil {
		return 0, ChannelName{}, nil, &TransportError{Err: err}
	}
	signal, name, length := decodeHeader(c.readHeader[:])
	if !signal.valid() {
		return 0, ChannelName{}, nil, &ProtocolError{Msg: fmt.Sprintf("invalid signal %d", signal)}
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(c.rw, payload); err != nil {
			return 0, ChannelName{}, nil, &TransportError{Err: err}
		}
	}
	return signal, name, payload, nil
}
