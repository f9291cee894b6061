package gateway

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// isTransportError matches failures below HTTP: resets, refused
// connections, timeouts, truncated responses.
func isTransportError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
