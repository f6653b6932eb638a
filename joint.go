package mux

import (
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// jointCopyBufferSize is the per-direction scratch buffer size for a Joint's
// piping goroutines.
const jointCopyBufferSize = 32 * 1024

// Joint bidirectionally splices two ChannelStreams together, forming a proxy
// tunnel: bytes read from a are written to b and vice versa. The first
// direction to terminate (EOF or error) disposes both channels and the
// Joint itself.
type Joint struct {
	a, b *ChannelStream

	disposeOnce sync.Once
	onDispose   func(*Joint)
}

// newJoint constructs a Joint over a and b. The caller must call Start to
// begin piping.
func newJoint(a, b *ChannelStream, onDispose func(*Joint)) *Joint {
	return &Joint{a: a, b: b, onDispose: onDispose}
}

// Start launches the two piping goroutines. It returns immediately; the
// splice runs until one direction closes.
func (j *Joint) Start() {
	go func() {
		var g errgroup.Group
		g.Go(func() error { defer j.Dispose(); return pipe(j.b, j.a) })
		g.Go(func() error { defer j.Dispose(); return pipe(j.a, j.b) })
		g.Wait()
		j.Dispose()
	}()
}

// pipe copies from src to dst until src.Read returns an error (including
// io.EOF, which is not propagated as a failure).
func pipe(dst io.Writer, src io.Reader) error {
	buf := make([]byte, jointCopyBufferSize)
	_, err := io.CopyBuffer(dst, src, buf)
	return err
}

// Dispose tears down both channels and fires the Joint's disposed callback
// so the owning Connection can remove it from its joint set. Idempotent.
func (j *Joint) Dispose() {
	j.disposeOnce.Do(func() {
		j.a.Dispose()
		j.b.Dispose()
		if j.onDispose != nil {
			j.onDispose(j)
		}
	})
}
