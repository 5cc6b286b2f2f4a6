package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// DefaultBaseDelay is the effective base delay when Config.BaseDelay is
// unset or negative.
const DefaultBaseDelay = 200 * time.Millisecond

// DefaultMaxAttempts is the attempt budget used by DefaultConfig.
const DefaultMaxAttempts = 3

// Func is a fallible operation run by the engine. The ctx it receives is
// the effective run context; operations should honor it so that a
// cancellation or an expired time budget can interrupt them promptly.
type Func[T any] func(ctx context.Context) (T, error)

// Hook observes one lifecycle point of a run. Hooks run synchronously in
// attempt order; the loop does not advance until the hook returns. A
// panicking hook is recovered and logged, never surfaced: a hook can
// observe a run but cannot change its outcome.
type Hook func(Event)

// Event is the snapshot handed to a Hook. A fresh value is built for every
// invocation and never reused.
type Event struct {
	// Attempt is the 1-based number of the attempt the event refers to.
	Attempt int
	// Err is the error that triggered the event. Nil on success events.
	Err error
	// Delay is the wait that will precede the next attempt. Zero on
	// success and terminal-failure events.
	Delay time.Duration
	// Start is the wall-clock time the run began.
	Start time.Time
}

// Result is the terminal outcome of a run. On success Value carries the
// operation's product; on failure Err carries a *Error and Value holds the
// zero value of T.
type Result[T any] struct {
	Value       T
	Attempts    int
	Elapsed     time.Duration
	LastAttempt time.Duration
	Err         error
}

// Succeeded reports whether the run produced a value.
func (r Result[T]) Succeeded() bool { return r.Err == nil }

// Config carries the explicit parameters of one run. Fields are read once
// when the run starts and never mutated. The zero value performs a single
// attempt with the default base delay and no filtering.
type Config struct {
	// MaxAttempts caps operation invocations, the first attempt included.
	// Values below 1 are treated as 1.
	MaxAttempts int
	// BaseDelay seeds the delay strategy. Unset or negative means
	// DefaultBaseDelay.
	BaseDelay time.Duration
	// Strategy shapes the wait between attempts.
	Strategy Strategy
	// ShouldRetry filters errors after a failed attempt. Nil retries
	// every error.
	ShouldRetry func(error) bool
	// OnRetry fires after a failed attempt, before the wait that precedes
	// the next one.
	OnRetry Hook
	// OnSuccess fires once, when an attempt succeeds.
	OnSuccess Hook
	// OnFailure fires once, when the run stops because attempts ran out or
	// ShouldRetry rejected the error. Runs ended by cancellation or by the
	// time budget fire no hooks.
	OnFailure Hook
	// TotalTimeout bounds the whole run, attempts and waits included.
	// Zero means no bound.
	TotalTimeout time.Duration
	// Logger reports recovered hook panics. Nil means slog.Default().
	Logger *slog.Logger
	// Rand backs the jitter strategy. Nil means the process-wide source.
	Rand *rand.Rand
}

// DefaultConfig returns the configuration NewRetrier starts from: three
// attempts on a fixed 200ms schedule, retrying every error.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Strategy:    StrategyFixed,
	}
}

// normalized applies the coercion rules. Out-of-range values are adjusted,
// never rejected.
func (c Config) normalized() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	return c
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// DoValue runs op under cfg until an attempt succeeds, the attempt budget
// or the retry predicate stops the run, or the effective context ends. The
// outcome always comes back inside the Result; on failure Result.Err is a
// *Error wrapping the last underlying error. DoValue never panics and
// spawns no goroutines; concurrent calls are independent.
//
// Cancellation discovered at any point, the wait between attempts included,
// terminates through the same result shape as every other failure.
func DoValue[T any](ctx context.Context, cfg Config, op Func[T]) Result[T] {
	cfg = cfg.normalized()

	ctx, cancel := WithBudget(ctx, cfg.TotalTimeout)
	defer cancel()

	log := cfg.logger()
	start := time.Now()

	var lastTook time.Duration
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return canceled[T](ctx, attempt-1, start, lastTook)
		}

		began := time.Now()
		value, err := op(ctx)
		lastTook = time.Since(began)

		if err == nil {
			fire(log, "on-success", cfg.OnSuccess, Event{Attempt: attempt, Start: start})
			return Result[T]{
				Value:       value,
				Attempts:    attempt,
				Elapsed:     time.Since(start),
				LastAttempt: lastTook,
			}
		}

		if interrupted(ctx, err) {
			return canceled[T](ctx, attempt, start, lastTook)
		}

		if attempt >= cfg.MaxAttempts || (cfg.ShouldRetry != nil && !cfg.ShouldRetry(err)) {
			reason := ReasonExhausted
			if attempt < cfg.MaxAttempts {
				reason = ReasonNonRetryable
			}
			fire(log, "on-failure", cfg.OnFailure, Event{Attempt: attempt, Err: err, Start: start})
			elapsed := time.Since(start)
			return Result[T]{
				Attempts:    attempt,
				Elapsed:     elapsed,
				LastAttempt: lastTook,
				Err: &Error{
					Reason:   reason,
					Attempts: attempt,
					Elapsed:  elapsed,
					Cause:    err,
				},
			}
		}

		delay := delayWith(cfg.Rand, attempt, cfg.BaseDelay, cfg.Strategy)
		fire(log, "on-retry", cfg.OnRetry, Event{Attempt: attempt, Err: err, Delay: delay, Start: start})

		if !sleep(ctx, delay) {
			return canceled[T](ctx, attempt, start, lastTook)
		}
	}
}

// Do runs a no-result operation by adapting it onto the generic engine with
// a placeholder value. On terminal failure it returns the same *Error a
// Result would carry; on success it returns nil.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	res := DoValue(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return res.Err
}

// interrupted reports whether err is the effective context's own
// cancellation surfacing through the operation. An error that merely
// resembles a cancellation while the context is still live stays an
// ordinary operation failure.
func interrupted(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// canceled builds the terminal result for a run stopped by the effective
// context. The context cause distinguishes an expired time budget from an
// external cancellation.
func canceled[T any](ctx context.Context, attempts int, start time.Time, lastTook time.Duration) Result[T] {
	cause := context.Cause(ctx)
	reason := ReasonCanceled
	if errors.Is(cause, ErrBudgetExceeded) {
		reason = ReasonBudget
	}
	elapsed := time.Since(start)
	return Result[T]{
		Attempts:    attempts,
		Elapsed:     elapsed,
		LastAttempt: lastTook,
		Err: &Error{
			Reason:   reason,
			Attempts: attempts,
			Elapsed:  elapsed,
			Cause:    cause,
		},
	}
}

// fire invokes a hook, recovering a panic so a misbehaving callback cannot
// alter the run's outcome. Recovered panics are logged and dropped.
func fire(log *slog.Logger, name string, h Hook, ev Event) {
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("retry hook panicked",
				"hook", name,
				"attempt", ev.Attempt,
				"panic", r,
			)
		}
	}()
	h(ev)
}

// sleep waits for d or until ctx ends, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
