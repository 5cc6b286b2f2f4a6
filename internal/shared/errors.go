// Package shared classifies errors that cross package boundaries.
//
// Stores, probes and transports each fail with their own error types.
// Callers that need to react to a failure (an HTTP handler picking a
// status code, the alerter deciding what a failure means) should not
// depend on driver-specific types. Producers mark errors with a Kind
// and consumers inspect it:
//
//	// in a store
//	if errors.Is(err, sql.ErrNoRows) {
//		return shared.MarkKind(err, shared.KindNotFound)
//	}
//
//	// in a handler
//	switch shared.KindOf(err) {
//	case shared.KindNotFound:
//		status = http.StatusNotFound
//	case shared.KindValidation:
//		status = http.StatusBadRequest
//	}
package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinels carried by marked errors. MarkKind attaches them with %w,
// so classification survives further wrapping and is visible to
// errors.Is anywhere up the call stack.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrConflict          = errors.New("conflict")
	ErrInternal          = errors.New("internal error")
	ErrTimeout           = errors.New("operation timed out")
	ErrDependencyFailure = errors.New("dependency failure")
)

// Kind is a coarse error category.
type Kind int

const (
	// KindUnknown is the zero value for unclassified errors.
	KindUnknown Kind = iota
	// KindCanceled covers context cancellation.
	KindCanceled
	// KindTimeout covers deadline and network timeouts.
	KindTimeout
	// KindNotFound covers lookups that matched nothing.
	KindNotFound
	// KindValidation covers rejected input.
	KindValidation
	// KindUnauthorized covers missing or bad credentials.
	KindUnauthorized
	// KindConflict covers writes that collide with existing state.
	KindConflict
	// KindDependencyFailure covers failures of external systems.
	KindDependencyFailure
	// KindInternal covers everything that is our own fault.
	KindInternal
)

// String returns a stable lowercase name, suitable for log attributes
// and metric labels.
func (k Kind) String() string {
	switch k {
	case KindCanceled:
		return "canceled"
	case KindTimeout:
		return "timeout"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindDependencyFailure:
		return "dependency_failure"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// sentinelOf maps a kind to its sentinel. Canceled and unknown have no
// sentinel; they are detected structurally.
func sentinelOf(kind Kind) error {
	switch kind {
	case KindNotFound:
		return ErrNotFound
	case KindValidation:
		return ErrValidation
	case KindUnauthorized:
		return ErrUnauthorized
	case KindConflict:
		return ErrConflict
	case KindDependencyFailure:
		return ErrDependencyFailure
	case KindInternal:
		return ErrInternal
	case KindTimeout:
		return ErrTimeout
	default:
		return nil
	}
}

// KindOf reports the kind of err. Cancellation and timeouts win over
// sentinel marks: when the caller has given up, no other reaction
// makes sense regardless of what the error was marked as.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if IsCanceled(err) {
		return KindCanceled
	}
	if IsTimeout(err) {
		return KindTimeout
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrDependencyFailure):
		return KindDependencyFailure
	case errors.Is(err, ErrInternal):
		return KindInternal
	default:
		return KindUnknown
	}
}

// HasKind reports whether err carries kind anywhere in its chain.
// Unlike KindOf it does not rank: an error can carry both KindTimeout
// and KindDependencyFailure at once.
func HasKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	switch kind {
	case KindCanceled:
		return IsCanceled(err)
	case KindTimeout:
		return IsTimeout(err)
	case KindUnknown:
		return KindOf(err) == KindUnknown
	default:
		s := sentinelOf(kind)
		return s != nil && errors.Is(err, s)
	}
}

// MarkKind attaches kind to err so that both
// errors.Is(result, sentinel) and errors.Is(result, err) hold.
// Marking is idempotent, and kinds without a sentinel leave err
// unchanged. A nil err stays nil.
func MarkKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	s := sentinelOf(kind)
	if s == nil {
		return err
	}
	if HasKind(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", s, err)
}

// Wrap adds context to err, formatting as "msg: err". Returns nil for
// a nil err and err unchanged for an empty msg.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	if msg == "" {
		return err
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf adds formatted context to err. Returns nil for a nil err.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	if msg == "" {
		return err
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// IsCanceled reports whether err stems from context cancellation.
func IsCanceled(err error) bool {
	return err != nil && errors.Is(err, context.Canceled)
}

// IsTimeout reports whether err is a deadline or timeout failure,
// including network timeouts that implement net.Error.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsNotFound reports whether err carries KindNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether err carries KindValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsUnauthorized reports whether err carries KindUnauthorized.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsConflict reports whether err carries KindConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsDependencyFailure reports whether err carries KindDependencyFailure.
func IsDependencyFailure(err error) bool {
	return errors.Is(err, ErrDependencyFailure)
}
