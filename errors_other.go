//go:build !windows

package mux

import (
	"errors"
	"io"
	"syscall"
)

// isConnCloseError returns true if err indicates the peer closed the base
// stream (as opposed to some other transport failure).
func isConnCloseError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
