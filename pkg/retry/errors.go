package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Terminal reasons recorded on Error.
const (
	// ReasonExhausted means the attempt budget ran out.
	ReasonExhausted = "attempts exhausted"
	// ReasonNonRetryable means the retry predicate rejected the error.
	ReasonNonRetryable = "non-retryable error"
	// ReasonCanceled means the caller's context ended the run.
	ReasonCanceled = "canceled"
	// ReasonBudget means the total time budget ended the run.
	ReasonBudget = "time budget exceeded"
)

// ErrBudgetExceeded is the cancellation cause installed by WithBudget when
// the total time budget expires. It wraps context.DeadlineExceeded, so
// errors.Is(err, context.DeadlineExceeded) keeps matching while the budget
// origin stays distinguishable from an inherited deadline.
var ErrBudgetExceeded = fmt.Errorf("retry: time budget exceeded: %w", context.DeadlineExceeded)

// ErrNilPredicate reports a nil predicate passed to Retrier.RetryIf.
var ErrNilPredicate = errors.New("retry: nil retry predicate")

// ErrNoTargets reports a Retrier.RetryOn call with no target errors.
var ErrNoTargets = errors.New("retry: no target errors to retry on")

// Error is the terminal error of a failed run. It states why the run
// stopped, how many attempts were made and how long they took, and wraps
// the last underlying error.
type Error struct {
	Reason   string
	Attempts int
	Elapsed  time.Duration
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retry: %s after %s (%d attempt(s)): %v",
		e.Reason, e.Elapsed, e.Attempts, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithBudget derives the effective run context: the caller's ctx bounded by
// the total time budget when one is set. The returned cancel releases the
// budget timer and must be called. Without a budget the caller's ctx passes
// through unchanged.
func WithBudget(ctx context.Context, total time.Duration) (context.Context, context.CancelFunc) {
	if total <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeoutCause(ctx, total, ErrBudgetExceeded)
}
