package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// Retrier is the fluent front door to the engine. It accumulates options
// and hands them to Do or DoValue once; it owns no loop logic of its own.
// Configure it fully before use: setters are not safe to call concurrently
// with Run.
type Retrier struct {
	cfg    Config
	cfgErr error
}

// NewRetrier returns a Retrier primed with DefaultConfig.
func NewRetrier() *Retrier {
	return &Retrier{cfg: DefaultConfig()}
}

// MaxAttempts sets the attempt budget, the first attempt included.
func (r *Retrier) MaxAttempts(n int) *Retrier {
	r.cfg.MaxAttempts = n
	return r
}

// BaseDelay sets the delay fed into the strategy.
func (r *Retrier) BaseDelay(d time.Duration) *Retrier {
	r.cfg.BaseDelay = d
	return r
}

// Strategy sets the delay strategy.
func (r *Retrier) Strategy(s Strategy) *Retrier {
	r.cfg.Strategy = s
	return r
}

// RetryIf installs the retry predicate. A nil predicate is a configuration
// error: Run and RunValue report it before any attempt executes.
func (r *Retrier) RetryIf(pred func(error) bool) *Retrier {
	if pred == nil {
		r.fail(ErrNilPredicate)
		return r
	}
	r.cfg.ShouldRetry = pred
	return r
}

// RetryOn retries only errors matching one of the targets under errors.Is.
// An empty target list is a configuration error, like RetryIf(nil).
func (r *Retrier) RetryOn(targets ...error) *Retrier {
	if len(targets) == 0 {
		r.fail(ErrNoTargets)
		return r
	}
	ts := make([]error, len(targets))
	copy(ts, targets)
	r.cfg.ShouldRetry = func(err error) bool {
		for _, t := range ts {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
	return r
}

// OnRetry registers the hook fired before each inter-attempt wait.
func (r *Retrier) OnRetry(h Hook) *Retrier {
	r.cfg.OnRetry = h
	return r
}

// OnSuccess registers the hook fired when an attempt succeeds.
func (r *Retrier) OnSuccess(h Hook) *Retrier {
	r.cfg.OnSuccess = h
	return r
}

// OnFailure registers the hook fired when the run stops without success.
func (r *Retrier) OnFailure(h Hook) *Retrier {
	r.cfg.OnFailure = h
	return r
}

// TotalTimeout bounds the whole run, attempts and waits included.
func (r *Retrier) TotalTimeout(d time.Duration) *Retrier {
	r.cfg.TotalTimeout = d
	return r
}

// Logger sets the logger that reports recovered hook panics.
func (r *Retrier) Logger(l *slog.Logger) *Retrier {
	r.cfg.Logger = l
	return r
}

// Rand sets the randomness source for the jitter strategy.
func (r *Retrier) Rand(src *rand.Rand) *Retrier {
	r.cfg.Rand = src
	return r
}

// fail keeps the first configuration error; later ones are dropped.
func (r *Retrier) fail(err error) {
	if r.cfgErr == nil {
		r.cfgErr = err
	}
}

// Run executes a no-result operation under the accumulated configuration.
// A configuration error recorded by a setter comes back directly, before
// any attempt executes; otherwise the return matches Do.
func (r *Retrier) Run(ctx context.Context, op func(ctx context.Context) error) error {
	if r.cfgErr != nil {
		return r.cfgErr
	}
	return Do(ctx, r.cfg, op)
}

// RunValue executes op under r's accumulated configuration. A package
// function rather than a method because methods cannot introduce type
// parameters. Configuration errors come back in Result.Err directly,
// before any attempt executes.
func RunValue[T any](ctx context.Context, r *Retrier, op Func[T]) Result[T] {
	if r.cfgErr != nil {
		return Result[T]{Err: r.cfgErr}
	}
	return DoValue(ctx, r.cfg, op)
}
