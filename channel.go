package mux

import (
	"io"
	"sync"
	"time"
)

// defaultChannelTimeout is the default read/write timeout for a
// ChannelStream, per spec: 30 seconds.
const defaultChannelTimeout = 30 * time.Second

// ChannelStream is a logical bidirectional byte stream within a Connection,
// identified by (kind, name). It holds a single-slot receive buffer: at most
// one inbound payload is resident at a time, which couples the wire to the
// application -- a slow reader throttles the sender indirectly through the
// single base stream.
//
// ChannelStream holds a non-owning back-reference to its Connection; the
// Connection owns the ChannelStream via its ChannelRegistry.
type ChannelStream struct {
	conn *Connection
	name ChannelName
	kind ChannelKind

	mu       sync.Mutex
	cond     sync.Cond
	buf      []byte
	offset   int
	count    int
	disposed bool

	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newChannelStream(conn *Connection, kind ChannelKind, name ChannelName) *ChannelStream {
	s := &ChannelStream{
		conn:         conn,
		kind:         kind,
		name:         name,
		readTimeout:  defaultChannelTimeout,
		writeTimeout: defaultChannelTimeout,
	}
	s.cond.L = &s.mu
	return s
}

// Kind returns the channel's kind.
func (s *ChannelStream) Kind() ChannelKind { return s.kind }

// Name returns the channel's name.
func (s *ChannelStream) Name() ChannelName { return s.name }

// SetReadTimeout overrides the default read timeout (30s).
func (s *ChannelStream) SetReadTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readTimeout = d
}

// SetWriteTimeout overrides the default stall timeout an inbound Data frame
// will wait for this channel's receive slot to empty before the reader loop
// disposes the channel.
func (s *ChannelStream) SetWriteTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeTimeout = d
}

// Read blocks until a payload is available, the read timeout elapses, or the
// channel is disposed. It returns io.EOF only when woken by disposal while
// the receive slot is empty (orderly close); an immediate Read on an
// already-disposed channel returns ErrChannelClosed.
func (s *ChannelStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed && s.count == 0 {
		return 0, ErrChannelClosed
	}

	timeout := s.readTimeout
	deadline := time.Now().Add(timeout)
	if timeout > 0 {
		timer := time.AfterFunc(timeout, s.cond.Broadcast)
		defer timer.Stop()
	}
	for s.count == 0 && !s.disposed && (timeout <= 0 || time.Now().Before(deadline)) {
		s.cond.Wait()
	}

	if s.count == 0 {
		if s.disposed {
			return 0, io.EOF
		}
		return 0, ErrTimeout
	}

	n := copy(p, s.buf[s.offset:s.offset+s.count])
	s.offset += n
	s.count -= n
	if s.count == 0 {
		s.cond.Broadcast() // wake deliver(), which is waiting for the slot to empty
	}
	return n, nil
}

// Write translates p into one or more Data frames for this channel's kind.
// Writes do not block on peer consumption; back-pressure flows from the base
// stream's own write semantics.
func (s *ChannelStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return 0, ErrChannelClosed
	}
	if err := s.conn.codec.WriteFrame(s.kind.dataSignal(), s.name, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// deliver is called by the ReaderLoop for a Data frame addressed to this
// channel. If the slot is already full, it waits up to the channel's write
// timeout for the current reader to drain it; if the slot is still full
// afterward, the channel is considered stalled and the caller should dispose
// it.
func (s *ChannelStream) deliver(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrChannelClosed
	}
	if s.count > 0 {
		timeout := s.writeTimeout
		deadline := time.Now().Add(timeout)
		if timeout > 0 {
			timer := time.AfterFunc(timeout, s.cond.Broadcast)
			defer timer.Stop()
		}
		for s.count > 0 && !s.disposed && (timeout <= 0 || time.Now().Before(deadline)) {
			s.cond.Wait()
		}
		if s.disposed {
			return ErrChannelClosed
		}
		if s.count > 0 {
			return ErrTimeout
		}
	}

	if cap(s.buf) < len(payload) {
		s.buf = make([]byte, len(payload))
	} else {
		s.buf = s.buf[:len(payload)]
	}
	copy(s.buf, payload)
	s.offset = 0
	s.count = len(payload)
	s.cond.Broadcast()
	return nil
}

// Dispose removes the channel from its registry, best-effort notifies the
// peer with a Disconnect frame, and wakes any blocked Read/deliver so they
// observe closure. It is idempotent and safe to call from any goroutine.
func (s *ChannelStream) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.conn.registry.Remove(s.kind, s.name)
	_ = s.conn.codec.WriteFrame(s.kind.disconnectSignal(), s.name, nil)
	return nil
}

// Close implements io.Closer by disposing the channel. This lets a
// ChannelStream serve as the base stream of a nested Connection (a "virtual
// connection") or as either side of a Joint.
func (s *ChannelStream) Close() error { return s.Dispose() }

var _ io.ReadWriteCloser = (*ChannelStream)(nil)
