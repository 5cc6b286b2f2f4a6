// Package retry runs fallible operations until they succeed, a budget or
// policy stops them, or the caller's context ends.
//
// Key Features:
//   - Fixed, exponential, and jittered exponential delay schedules
//   - Attempt budget plus an optional total time budget composed into one
//     effective context
//   - Lifecycle hooks (OnRetry, OnSuccess, OnFailure) with panic isolation
//   - Terminal errors carrying attempt count, elapsed time, and the cause
//   - Error filtering by predicate or by errors.Is target
//   - Ready-made transient network fault classifier
//
// Basic Usage:
//
//	res := retry.DoValue(ctx, retry.Config{
//	    MaxAttempts: 5,
//	    BaseDelay:   100 * time.Millisecond,
//	    Strategy:    retry.StrategyExponentialJitter,
//	}, func(ctx context.Context) (string, error) {
//	    return fetchToken(ctx)
//	})
//	if !res.Succeeded() {
//	    return res.Err
//	}
//	use(res.Value)
//
// No-result operations go through Do, which returns the terminal error
// directly:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//	    return ping(ctx)
//	})
//
// The fluent front door reads better when policy is assembled in steps:
//
//	r := retry.NewRetrier().
//	    MaxAttempts(4).
//	    BaseDelay(250 * time.Millisecond).
//	    Strategy(retry.StrategyExponential).
//	    RetryIf(retry.Transient).
//	    TotalTimeout(10 * time.Second).
//	    OnRetry(func(ev retry.Event) {
//	        log.Printf("attempt %d failed, next in %v: %v", ev.Attempt, ev.Delay, ev.Err)
//	    })
//	err := r.Run(ctx, func(ctx context.Context) error {
//	    return push(ctx)
//	})
//
// Failed runs report everything needed for diagnostics in one error:
//
//	var rerr *retry.Error
//	if errors.As(err, &rerr) {
//	    log.Printf("gave up: %s after %d attempt(s) in %v", rerr.Reason, rerr.Attempts, rerr.Elapsed)
//	}
//
// Runs bounded by TotalTimeout end with a cause matching both
// retry.ErrBudgetExceeded and context.DeadlineExceeded, so an expired
// budget stays distinguishable from an external cancellation.
package retry
