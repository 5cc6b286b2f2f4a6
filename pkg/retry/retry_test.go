package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky")

// quiet swallows hook panic reports so intentional panics do not pollute
// test output.
func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxAttempts != 3 {
		t.Errorf("expected MaxAttempts=3, got %d", cfg.MaxAttempts)
	}
	if cfg.BaseDelay != 200*time.Millisecond {
		t.Errorf("expected BaseDelay=200ms, got %v", cfg.BaseDelay)
	}
	if cfg.Strategy != StrategyFixed {
		t.Errorf("expected StrategyFixed, got %v", cfg.Strategy)
	}
	if cfg.ShouldRetry != nil {
		t.Error("expected no default predicate")
	}
}

func TestDoValueFirstAttemptSuccess(t *testing.T) {
	var attempts, retries, failures int32
	var successEvents []Event

	cfg := Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		OnRetry:     func(Event) { atomic.AddInt32(&retries, 1) },
		OnSuccess:   func(ev Event) { successEvents = append(successEvents, ev) },
		OnFailure:   func(Event) { atomic.AddInt32(&failures, 1) },
	}

	res := DoValue(context.Background(), cfg, func(ctx context.Context) (string, error) {
		atomic.AddInt32(&attempts, 1)
		return "ok", nil
	})

	if !res.Succeeded() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Value != "ok" {
		t.Errorf("expected value %q, got %q", "ok", res.Value)
	}
	if res.Attempts != 1 || attempts != 1 {
		t.Errorf("expected exactly 1 attempt, got result=%d invoked=%d", res.Attempts, attempts)
	}
	if retries != 0 || failures != 0 {
		t.Errorf("expected no retry/failure hooks, got %d/%d", retries, failures)
	}
	if len(successEvents) != 1 {
		t.Fatalf("expected 1 success hook call, got %d", len(successEvents))
	}
	ev := successEvents[0]
	if ev.Attempt != 1 || ev.Err != nil || ev.Delay != 0 {
		t.Errorf("unexpected success event: %+v", ev)
	}
	if ev.Start.IsZero() {
		t.Error("success event missing start time")
	}
}

func TestDoValueCoercesMaxAttempts(t *testing.T) {
	for _, n := range []int{0, -1, -100} {
		t.Run(fmt.Sprintf("max_%d", n), func(t *testing.T) {
			var attempts int32
			cfg := Config{MaxAttempts: n, BaseDelay: time.Millisecond}

			res := DoValue(context.Background(), cfg, func(ctx context.Context) (int, error) {
				atomic.AddInt32(&attempts, 1)
				return 0, errFlaky
			})

			if res.Attempts != 1 || attempts != 1 {
				t.Errorf("MaxAttempts=%d: expected exactly 1 attempt, got result=%d invoked=%d",
					n, res.Attempts, attempts)
			}
			if res.Succeeded() {
				t.Error("expected failure")
			}
		})
	}
}

func TestDoValueDefaultBaseDelay(t *testing.T) {
	for _, base := range []time.Duration{0, -time.Second} {
		t.Run(fmt.Sprintf("base_%v", base), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var got time.Duration
			cfg := Config{
				MaxAttempts: 2,
				BaseDelay:   base,
				OnRetry: func(ev Event) {
					got = ev.Delay
					cancel() // skip waiting out the real delay
				},
			}

			DoValue(ctx, cfg, func(ctx context.Context) (int, error) {
				return 0, errFlaky
			})

			if got != DefaultBaseDelay {
				t.Errorf("expected default delay %v, got %v", DefaultBaseDelay, got)
			}
		})
	}
}

func TestDoValueExhaustion(t *testing.T) {
	const maxAttempts = 3
	var attempts int32
	var retryEvents, failureEvents []Event

	cfg := Config{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		OnRetry:     func(ev Event) { retryEvents = append(retryEvents, ev) },
		OnFailure:   func(ev Event) { failureEvents = append(failureEvents, ev) },
	}

	res := DoValue(context.Background(), cfg, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, errFlaky
	})

	if res.Succeeded() {
		t.Fatal("expected failure")
	}
	if res.Attempts != maxAttempts || int(attempts) != maxAttempts {
		t.Errorf("expected %d attempts, got result=%d invoked=%d", maxAttempts, res.Attempts, attempts)
	}
	if len(retryEvents) != maxAttempts-1 {
		t.Fatalf("expected %d retry hook calls, got %d", maxAttempts-1, len(retryEvents))
	}
	for i, ev := range retryEvents {
		if ev.Attempt != i+1 {
			t.Errorf("retry event %d: expected attempt %d, got %d", i, i+1, ev.Attempt)
		}
		if !errors.Is(ev.Err, errFlaky) {
			t.Errorf("retry event %d: expected triggering error, got %v", i, ev.Err)
		}
		if ev.Delay <= 0 {
			t.Errorf("retry event %d: expected positive delay, got %v", i, ev.Delay)
		}
	}
	if len(failureEvents) != 1 {
		t.Fatalf("expected 1 failure hook call, got %d", len(failureEvents))
	}
	if failureEvents[0].Attempt != maxAttempts || !errors.Is(failureEvents[0].Err, errFlaky) {
		t.Errorf("unexpected failure event: %+v", failureEvents[0])
	}

	var rerr *Error
	if !errors.As(res.Err, &rerr) {
		t.Fatalf("expected *Error, got %T", res.Err)
	}
	if rerr.Reason != ReasonExhausted {
		t.Errorf("expected reason %q, got %q", ReasonExhausted, rerr.Reason)
	}
	if rerr.Attempts != maxAttempts {
		t.Errorf("expected error attempts %d, got %d", maxAttempts, rerr.Attempts)
	}
	if !errors.Is(res.Err, errFlaky) {
		t.Error("terminal error should wrap the last operation error")
	}
}

func TestDoValueErrorMessage(t *testing.T) {
	boom := errors.New("boom")
	cfg := Config{MaxAttempts: 2, BaseDelay: time.Millisecond}

	res := DoValue(context.Background(), cfg, func(ctx context.Context) (int, error) {
		return 0, boom
	})

	if res.Succeeded() {
		t.Fatal("expected failure")
	}
	if res.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", res.Attempts)
	}
	if !errors.Is(res.Err, boom) {
		t.Error("terminal error should wrap the cause")
	}
	msg := res.Err.Error()
	if !strings.Contains(msg, "2 attempt(s)") {
		t.Errorf("message %q should state the attempt count", msg)
	}
	if !strings.Contains(msg, "boom") {
		t.Errorf("message %q should include the cause", msg)
	}
}

func TestDoValueEventualSuccess(t *testing.T) {
	var attempts int32
	var retryAttempts []int

	cfg := Config{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		OnRetry:     func(ev Event) { retryAttempts = append(retryAttempts, ev.Attempt) },
	}

	res := DoValue(context.Background(), cfg, func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			return 0, errFlaky
		}
		return 42, nil
	})

	if !res.Succeeded() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Value != 42 {
		t.Errorf("expected value 42, got %d", res.Value)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
	if len(retryAttempts) != 2 || retryAttempts[0] != 1 || retryAttempts[1] != 2 {
		t.Errorf("expected retry hooks for attempts [1 2], got %v", retryAttempts)
	}
}

func TestDoValuePredicateStops(t *testing.T) {
	var attempts, retries, failures int32

	cfg := Config{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		ShouldRetry: func(error) bool { return false },
		OnRetry:     func(Event) { atomic.AddInt32(&retries, 1) },
		OnFailure:   func(Event) { atomic.AddInt32(&failures, 1) },
	}

	res := DoValue(context.Background(), cfg, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, errFlaky
	})

	if res.Attempts != 1 || attempts != 1 {
		t.Errorf("expected 1 attempt, got result=%d invoked=%d", res.Attempts, attempts)
	}
	if retries != 0 {
		t.Errorf("expected no retry hooks, got %d", retries)
	}
	if failures != 1 {
		t.Errorf("expected 1 failure hook, got %d", failures)
	}

	var rerr *Error
	if !errors.As(res.Err, &rerr) {
		t.Fatalf("expected *Error, got %T", res.Err)
	}
	if rerr.Reason != ReasonNonRetryable {
		t.Errorf("expected reason %q, got %q", ReasonNonRetryable, rerr.Reason)
	}
}

func TestDoValueNilPredicateRetriesEverything(t *testing.T) {
	var attempts int32
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond}

	res := DoValue(context.Background(), cfg, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, errors.New("opaque")
	})

	if res.Attempts != 3 || attempts != 3 {
		t.Errorf("expected 3 attempts with no predicate, got result=%d invoked=%d", res.Attempts, attempts)
	}
}

func TestDoValueSelectivePredicate(t *testing.T) {
	errFatal := errors.New("fatal")
	var attempts int32

	cfg := Config{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		ShouldRetry: func(err error) bool { return errors.Is(err, errFlaky) },
	}

	res := DoValue(context.Background(), cfg, func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return 0, errFlaky
		}
		return 0, errFatal
	})

	if res.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", res.Attempts)
	}
	if !errors.Is(res.Err, errFatal) {
		t.Errorf("terminal error should wrap the rejected error, got %v", res.Err)
	}

	var rerr *Error
	if !errors.As(res.Err, &rerr) {
		t.Fatalf("expected *Error, got %T", res.Err)
	}
	if rerr.Reason != ReasonNonRetryable {
		t.Errorf("expected reason %q, got %q", ReasonNonRetryable, rerr.Reason)
	}
}

func TestDoValuePreAttemptCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var attempts int32
	res := DoValue(ctx, Config{MaxAttempts: 3}, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, nil
	})

	if res.Succeeded() {
		t.Fatal("expected failure")
	}
	if res.Attempts != 0 || attempts != 0 {
		t.Errorf("expected 0 attempts, got result=%d invoked=%d", res.Attempts, attempts)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", res.Err)
	}

	var rerr *Error
	if !errors.As(res.Err, &rerr) {
		t.Fatalf("expected *Error, got %T", res.Err)
	}
	if rerr.Reason != ReasonCanceled {
		t.Errorf("expected reason %q, got %q", ReasonCanceled, rerr.Reason)
	}
	if rerr.Attempts != 0 {
		t.Errorf("expected 0 attempts on error, got %d", rerr.Attempts)
	}
}

func TestDoValueCancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts int32
	cfg := Config{
		MaxAttempts: 5,
		BaseDelay:   time.Minute, // must be interrupted, never waited out
		OnRetry:     func(Event) { cancel() },
	}

	start := time.Now()
	res := DoValue(ctx, cfg, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, errFlaky
	})

	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("delay was not interrupted, took %v", elapsed)
	}
	if res.Attempts != 1 || attempts != 1 {
		t.Errorf("expected 1 attempt, got result=%d invoked=%d", res.Attempts, attempts)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", res.Err)
	}
}

func TestDoValueCancelDuringOperation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res := DoValue(ctx, Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) (int, error) {
		cancel()
		<-ctx.Done()
		return 0, ctx.Err()
	})

	if res.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", res.Attempts)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", res.Err)
	}

	var rerr *Error
	if !errors.As(res.Err, &rerr) {
		t.Fatalf("expected *Error, got %T", res.Err)
	}
	if rerr.Reason != ReasonCanceled {
		t.Errorf("expected reason %q, got %q", ReasonCanceled, rerr.Reason)
	}
}

func TestDoValueTotalTimeout(t *testing.T) {
	const budget = 50 * time.Millisecond
	var attempts int32

	cfg := Config{
		MaxAttempts:  100,
		BaseDelay:    5 * time.Millisecond,
		TotalTimeout: budget,
	}

	start := time.Now()
	res := DoValue(context.Background(), cfg, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, errFlaky
	})
	elapsed := time.Since(start)

	if res.Succeeded() {
		t.Fatal("expected failure")
	}
	if res.Attempts >= cfg.MaxAttempts {
		t.Errorf("expected the budget to stop the run early, got %d attempts", res.Attempts)
	}
	if res.Attempts < 1 {
		t.Errorf("expected at least 1 attempt, got %d", res.Attempts)
	}
	if elapsed < budget {
		t.Errorf("returned before the budget elapsed: %v < %v", elapsed, budget)
	}
	if !errors.Is(res.Err, ErrBudgetExceeded) {
		t.Errorf("expected ErrBudgetExceeded in chain, got %v", res.Err)
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded in chain, got %v", res.Err)
	}

	var rerr *Error
	if !errors.As(res.Err, &rerr) {
		t.Fatalf("expected *Error, got %T", res.Err)
	}
	if rerr.Reason != ReasonBudget {
		t.Errorf("expected reason %q, got %q", ReasonBudget, rerr.Reason)
	}
}

func TestDoValueOperationTimeoutIsOrdinaryFailure(t *testing.T) {
	// An operation may time out internally while the run's own context is
	// still live. That is an ordinary failure subject to the predicate and
	// the budget, not a cancellation of the run.
	var attempts int32
	cfg := Config{MaxAttempts: 2, BaseDelay: time.Millisecond}

	res := DoValue(context.Background(), cfg, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, context.DeadlineExceeded
	})

	if res.Attempts != 2 || attempts != 2 {
		t.Errorf("expected 2 attempts, got result=%d invoked=%d", res.Attempts, attempts)
	}

	var rerr *Error
	if !errors.As(res.Err, &rerr) {
		t.Fatalf("expected *Error, got %T", res.Err)
	}
	if rerr.Reason != ReasonExhausted {
		t.Errorf("expected reason %q, got %q", ReasonExhausted, rerr.Reason)
	}
}

func TestDoValueHookPanicsIsolated(t *testing.T) {
	var attempts int32
	cfg := Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Logger:      quiet(),
		OnRetry:     func(Event) { panic("on-retry boom") },
		OnSuccess:   func(Event) { panic("on-success boom") },
	}

	res := DoValue(context.Background(), cfg, func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return 0, errFlaky
		}
		return 7, nil
	})

	if !res.Succeeded() {
		t.Fatalf("hook panics must not fail the run: %v", res.Err)
	}
	if res.Value != 7 || res.Attempts != 3 {
		t.Errorf("expected value 7 after 3 attempts, got %d after %d", res.Value, res.Attempts)
	}
}

func TestDoValueFailureHookPanicIsolated(t *testing.T) {
	cfg := Config{
		MaxAttempts: 1,
		Logger:      quiet(),
		OnFailure:   func(Event) { panic("on-failure boom") },
	}

	res := DoValue(context.Background(), cfg, func(ctx context.Context) (int, error) {
		return 0, errFlaky
	})

	if res.Succeeded() {
		t.Fatal("expected failure")
	}
	if !errors.Is(res.Err, errFlaky) {
		t.Errorf("terminal error should survive the hook panic, got %v", res.Err)
	}
}

func TestDoValueHookOrder(t *testing.T) {
	var attempts int32
	var order []string

	cfg := Config{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		OnRetry:     func(ev Event) { order = append(order, fmt.Sprintf("retry-%d", ev.Attempt)) },
		OnSuccess:   func(ev Event) { order = append(order, fmt.Sprintf("success-%d", ev.Attempt)) },
	}

	DoValue(context.Background(), cfg, func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return 0, errFlaky
		}
		return 1, nil
	})

	want := []string{"retry-1", "retry-2", "success-3"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("expected hook order %v, got %v", want, order)
	}
}

func TestDoValueJitterDelayBounds(t *testing.T) {
	var delays []time.Duration
	cfg := Config{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		Strategy:    StrategyExponentialJitter,
		Rand:        rand.New(rand.NewSource(7)),
		OnRetry:     func(ev Event) { delays = append(delays, ev.Delay) },
	}

	DoValue(context.Background(), cfg, func(ctx context.Context) (int, error) {
		return 0, errFlaky
	})

	if len(delays) != 3 {
		t.Fatalf("expected 3 recorded delays, got %d", len(delays))
	}
	for i, d := range delays {
		exp := time.Millisecond << uint(i)
		lo := time.Duration(float64(exp) * 0.8)
		hi := time.Duration(float64(exp) * 1.2)
		if d < lo || d > hi {
			t.Errorf("delay[%d] = %v outside [%v, %v]", i, d, lo, hi)
		}
	}
}

func TestDoValueZeroConfig(t *testing.T) {
	var attempts int32
	res := DoValue(context.Background(), Config{}, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, errFlaky
	})

	if res.Attempts != 1 || attempts != 1 {
		t.Errorf("zero config should make exactly 1 attempt, got result=%d invoked=%d", res.Attempts, attempts)
	}
	if res.Succeeded() {
		t.Error("expected failure")
	}
}

func TestDoValueTimings(t *testing.T) {
	cfg := Config{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}

	res := DoValue(context.Background(), cfg, func(ctx context.Context) (int, error) {
		return 0, errFlaky
	})

	if res.Elapsed < 20*time.Millisecond {
		t.Errorf("elapsed %v should cover both waits", res.Elapsed)
	}
	if res.LastAttempt < 0 || res.LastAttempt > res.Elapsed {
		t.Errorf("last attempt %v out of range for elapsed %v", res.LastAttempt, res.Elapsed)
	}

	var rerr *Error
	if !errors.As(res.Err, &rerr) {
		t.Fatalf("expected *Error, got %T", res.Err)
	}
	if rerr.Elapsed != res.Elapsed {
		t.Errorf("error elapsed %v should match result elapsed %v", rerr.Elapsed, res.Elapsed)
	}
}

func TestDo(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var attempts int32
		err := Do(context.Background(), Config{MaxAttempts: 3, BaseDelay: time.Millisecond},
			func(ctx context.Context) error {
				if atomic.AddInt32(&attempts, 1) < 2 {
					return errFlaky
				}
				return nil
			})

		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if attempts != 2 {
			t.Errorf("expected 2 attempts, got %d", attempts)
		}
	})

	t.Run("failure", func(t *testing.T) {
		err := Do(context.Background(), Config{MaxAttempts: 2, BaseDelay: time.Millisecond},
			func(ctx context.Context) error {
				return errFlaky
			})

		var rerr *Error
		if !errors.As(err, &rerr) {
			t.Fatalf("expected *Error, got %T", err)
		}
		if rerr.Attempts != 2 {
			t.Errorf("expected 2 attempts, got %d", rerr.Attempts)
		}
		if !errors.Is(err, errFlaky) {
			t.Error("terminal error should wrap the operation error")
		}
	})
}
