// Package probe runs HTTP health checks against a fixed target list.
// Each check goes through the retry engine with the configured policy;
// the terminal outcome is recorded to history and the updated target
// summary is pushed to metrics and alerting.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/retrykit/retrykit/internal/history"
	"github.com/retrykit/retrykit/internal/metric"
	"github.com/retrykit/retrykit/internal/platform/httpclient"
	"github.com/retrykit/retrykit/pkg/retry"
)

// DefaultWorkers caps how many targets are probed concurrently.
const DefaultWorkers = 4

// Notifier receives the updated target summary after every recorded
// probe. *alert.Alerter implements it.
type Notifier interface {
	Consider(ctx context.Context, sum history.Summary)
}

// Options configure a Prober.
type Options struct {
	Targets []string
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// TotalTimeout bounds all attempts against one target. Zero means
	// no bound beyond MaxAttempts.
	TotalTimeout time.Duration
	MaxAttempts  int
	BaseDelay    time.Duration
	Strategy     retry.Strategy
	// Workers caps concurrent targets. Defaults to DefaultWorkers.
	Workers int
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// Prober checks every configured target once per Run call.
type Prober struct {
	client  *httpclient.Client
	store   history.Store
	notify  Notifier
	log     *slog.Logger
	metrics *metric.Metrics

	targets      []string
	timeout      time.Duration
	totalTimeout time.Duration
	maxAttempts  int
	baseDelay    time.Duration
	strategy     retry.Strategy
	workers      int
}

// New creates a Prober. The store must be non-nil; a nil notifier
// disables alerting.
func New(client *httpclient.Client, store history.Store, notify Notifier, opts Options) *Prober {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Prober{
		client:       client,
		store:        store,
		notify:       notify,
		log:          log,
		metrics:      opts.Metrics,
		targets:      opts.Targets,
		timeout:      opts.Timeout,
		totalTimeout: opts.TotalTimeout,
		maxAttempts:  opts.MaxAttempts,
		baseDelay:    opts.BaseDelay,
		strategy:     opts.Strategy,
		workers:      workers,
	}
}

// Targets returns the probed target list.
func (p *Prober) Targets() []string {
	return p.targets
}

// Run probes every target once through a bounded worker pool. A failed
// probe is a recorded outcome, not an error; the returned error covers
// infrastructure problems only (history writes, shutdown).
func (p *Prober) Run(ctx context.Context) error {
	jobs := make(chan string)
	results := make(chan error, len(p.targets))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range jobs {
				results <- p.probeTarget(ctx, target)
			}
		}()
	}
	for _, target := range p.targets {
		jobs <- target
	}
	close(jobs)
	wg.Wait()
	close(results)

	var errs []error
	for err := range results {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Prober) probeTarget(ctx context.Context, target string) error {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build probe request for %q: %w", target, err)
	}

	var status int
	r := retry.NewRetrier().
		MaxAttempts(p.maxAttempts).
		BaseDelay(p.baseDelay).
		Strategy(p.strategy).
		RetryIf(httpclient.Retryable).
		TotalTimeout(p.totalTimeout).
		Logger(p.log).
		OnRetry(func(e retry.Event) {
			p.metrics.RecordRetry(target)
			p.log.Warn("retrying probe",
				slog.String("target", target),
				slog.Int("attempt", e.Attempt),
				slog.Duration("next_try_in", e.Delay),
				slog.Any("error", e.Err),
			)
		})

	res := retry.RunValue(ctx, r, func(ctx context.Context) (int, error) {
		status = 0
		attemptCtx := ctx
		if p.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}
		resp, err := p.client.Do(attemptCtx, req)
		if err != nil {
			return 0, err
		}
		status = resp.StatusCode
		httpclient.DrainAndClose(resp.Body)
		if status < 200 || status > 299 {
			return status, &httpclient.StatusError{Method: http.MethodGet, URL: target, Code: status}
		}
		return status, nil
	})

	if ctx.Err() != nil {
		// Shutdown, not a probe verdict. Leave history alone.
		return ctx.Err()
	}

	sample := history.Sample{
		Target:   target,
		OK:       res.Err == nil,
		Status:   status,
		Attempts: res.Attempts,
		Elapsed:  res.Elapsed,
		At:       time.Now().UTC(),
	}
	if res.Err != nil {
		sample.Err = failureText(res.Err)
	}

	sum, err := p.store.RecordSample(ctx, sample)
	if err != nil {
		return fmt.Errorf("record probe of %q: %w", target, err)
	}

	p.metrics.ObserveProbe(target, sample.OK, sample.Attempts, sample.Elapsed)
	p.metrics.SetConsecutiveFailures(target, sum.ConsecutiveFailures)

	if sample.OK {
		p.log.Info("probe ok",
			slog.String("target", target),
			slog.Int("status", status),
			slog.Int("attempts", sample.Attempts),
			slog.Duration("elapsed", sample.Elapsed),
		)
	} else {
		p.log.Warn("probe failed",
			slog.String("target", target),
			slog.Int("status", status),
			slog.Int("attempts", sample.Attempts),
			slog.Duration("elapsed", sample.Elapsed),
			slog.String("error", sample.Err),
			slog.Int("consecutive_failures", sum.ConsecutiveFailures),
		)
	}

	if p.notify != nil {
		p.notify.Consider(ctx, sum)
	}
	return nil
}

// failureText extracts the underlying cause from a terminal retry
// error; attempt counts already live in their own sample field.
func failureText(err error) string {
	var rerr *retry.Error
	if errors.As(err, &rerr) && rerr.Cause != nil {
		return rerr.Cause.Error()
	}
	return err.Error()
}
