package retry

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Strategy selects how the wait before each retry grows with the attempt
// number.
type Strategy int

const (
	// StrategyFixed waits the base delay before every retry.
	StrategyFixed Strategy = iota
	// StrategyExponential doubles the wait on each attempt:
	// base * 2^(attempt-1). No ceiling is applied; callers that need one
	// must cap the base or the attempt budget themselves.
	StrategyExponential
	// StrategyExponentialJitter grows like StrategyExponential, then
	// perturbs each wait by a uniform factor within ±20% so that many
	// callers sharing a schedule do not retry in lockstep.
	StrategyExponentialJitter
)

// String returns the configuration spelling of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyFixed:
		return "fixed"
	case StrategyExponential:
		return "exponential"
	case StrategyExponentialJitter:
		return "exponential-jitter"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "fixed":
		return StrategyFixed, nil
	case "exponential":
		return StrategyExponential, nil
	case "exponential-jitter":
		return StrategyExponentialJitter, nil
	default:
		return StrategyFixed, fmt.Errorf("retry: unknown strategy %q", s)
	}
}

// jitterFraction bounds the relative perturbation applied by
// StrategyExponentialJitter.
const jitterFraction = 0.2

const maxDuration = time.Duration(math.MaxInt64)

// The process-wide source backs jitter for runs that do not inject their
// own. rand.Rand is not safe for concurrent use, hence the lock.
var (
	randMu  sync.Mutex
	randSrc = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Delay computes the wait inserted after the given attempt (1-based) under
// the strategy. Negative bases are treated as zero. The result is never
// negative; the jitter strategy additionally never returns less than 1ns.
func Delay(attempt int, base time.Duration, strategy Strategy) time.Duration {
	return delayWith(nil, attempt, base, strategy)
}

// delayWith is Delay with an injectable randomness source. A nil src falls
// back to the guarded process-wide source.
func delayWith(src *rand.Rand, attempt int, base time.Duration, strategy Strategy) time.Duration {
	if base < 0 {
		base = 0
	}
	switch strategy {
	case StrategyExponential:
		return scale(base, attempt)
	case StrategyExponentialJitter:
		d := scale(base, attempt)
		factor := 1 + jitterFraction*(2*randFloat(src)-1)
		scaled := float64(d) * factor
		if scaled >= float64(maxDuration) {
			return maxDuration
		}
		d = time.Duration(scaled)
		if d < time.Nanosecond {
			d = time.Nanosecond
		}
		return d
	default:
		return base
	}
}

// scale returns base * 2^(attempt-1), saturating at the largest Duration
// instead of wrapping on overflow.
func scale(base time.Duration, attempt int) time.Duration {
	if attempt <= 1 || base == 0 {
		return base
	}
	shift := uint(attempt - 1)
	if shift >= 63 || base > maxDuration>>shift {
		return maxDuration
	}
	return base << shift
}

func randFloat(src *rand.Rand) float64 {
	if src != nil {
		return src.Float64()
	}
	randMu.Lock()
	defer randMu.Unlock()
	return randSrc.Float64()
}
