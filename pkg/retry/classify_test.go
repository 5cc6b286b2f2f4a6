package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"syscall"
	"testing"
	"time"
)

// tempError carries the legacy Temporary signal.
type tempError struct {
	message   string
	temporary bool
}

func (e tempError) Error() string   { return e.message }
func (e tempError) Temporary() bool { return e.temporary }

func TestTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"wrapped cancellation", fmt.Errorf("op: %w", context.Canceled), false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"io.EOF", io.EOF, true},
		{"io.ErrUnexpectedEOF", io.ErrUnexpectedEOF, true},
		{"net.ErrClosed", net.ErrClosed, true},
		{"wrapped EOF", fmt.Errorf("read frame: %w", io.EOF), true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"connection reset in op chain", &net.OpError{
			Op:  "read",
			Err: &os.SyscallError{Syscall: "read", Err: syscall.ECONNRESET},
		}, true},
		{"timeout through url.Error", &url.Error{
			Op:  "Get",
			URL: "http://example.com",
			Err: &net.OpError{Op: "dial", Err: &os.SyscallError{Syscall: "connect", Err: syscall.ETIMEDOUT}},
		}, true},
		{"dns temporary", &net.DNSError{IsTemporary: true}, true},
		{"dns permanent", &net.DNSError{Err: "no such host", IsNotFound: true}, false},
		{"legacy temporary", tempError{"hiccup", true}, true},
		{"legacy permanent", tempError{"broken", false}, false},
		{"plain error", errors.New("plain"), false},
		{"permission denied", os.ErrPermission, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transient(tt.err); got != tt.expected {
				t.Errorf("Transient(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestTransientAsEnginePredicate(t *testing.T) {
	var attempts int
	cfg := Config{
		MaxAttempts: 4,
		BaseDelay:   time.Nanosecond,
		ShouldRetry: Transient,
	}

	res := DoValue(context.Background(), cfg, func(ctx context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, fmt.Errorf("dial: %w", syscall.ECONNREFUSED)
		}
		return 0, errors.New("schema mismatch")
	})

	if res.Attempts != 3 {
		t.Errorf("expected 2 transient retries then a permanent stop, got %d attempts", res.Attempts)
	}

	var rerr *Error
	if !errors.As(res.Err, &rerr) {
		t.Fatalf("expected *Error, got %T", res.Err)
	}
	if rerr.Reason != ReasonNonRetryable {
		t.Errorf("expected reason %q, got %q", ReasonNonRetryable, rerr.Reason)
	}
}
