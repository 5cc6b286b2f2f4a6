package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Transient reports whether err looks like a short-lived network fault
// worth another attempt: timeouts, refused or reset connections, temporary
// DNS failures, truncated streams. Context cancellation is never transient;
// a deadline expiry is, since one attempt timing out says nothing about the
// next. Offered as a ready-made predicate for Config.ShouldRetry and
// Retrier.RetryIf; the engine applies no filter unless one is configured.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.ENETDOWN):
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary
	}

	// Legacy Temporary carriers, left for errors outside the net
	// hierarchy.
	type temporary interface{ Temporary() bool }
	var tmp temporary
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}

	return false
}
