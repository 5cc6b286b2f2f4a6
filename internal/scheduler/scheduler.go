// Package scheduler runs recurring jobs on cron schedules or fixed
// intervals. The probe daemon drives one job per target; jobs are
// panic-isolated so one misbehaving target cannot stop the rest.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is a single job execution. The context is canceled on
// scheduler shutdown and, when a timeout is configured, on overrun.
type JobFunc func(ctx context.Context) error

// CronJobID identifies a cron-scheduled job.
type CronJobID = cron.EntryID

// TickerJobID identifies a fixed-interval job.
type TickerJobID int

// OverlapPolicy decides what happens when a tick fires while the
// previous execution is still running.
type OverlapPolicy int

const (
	// AllowOverlap runs executions concurrently.
	AllowOverlap OverlapPolicy = iota
	// SkipIfRunning drops the tick when the job is still busy.
	SkipIfRunning
	// DelayIfRunning waits for the previous execution to finish.
	DelayIfRunning
)

// JobOptions tune one job.
type JobOptions struct {
	// Name appears in logs and hook callbacks.
	Name string
	// Timeout caps one execution; zero means no cap.
	Timeout time.Duration
	// OverlapPolicy handles ticks that arrive mid-execution.
	OverlapPolicy OverlapPolicy
}

// JobHooks are optional observability callbacks.
type JobHooks struct {
	OnJobStart  func(jobName string)
	OnJobFinish func(jobName string, duration time.Duration, err error)
	OnJobError  func(jobName string, err error)
}

// Config configures a Scheduler.
type Config struct {
	Logger   *slog.Logger
	JobHooks JobHooks
}

// job pairs a JobFunc with its options and overlap state.
type job struct {
	fn      JobFunc
	options JobOptions
	running sync.Mutex
}

type tickerJob struct {
	id     TickerJobID
	ticker *time.Ticker
	cancel context.CancelFunc
	job    *job
}

// Scheduler owns cron entries and ticker goroutines and shuts them
// down together.
type Scheduler struct {
	cron         *cron.Cron
	logger       *slog.Logger
	hooks        JobHooks
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	tickerJobs   map[TickerJobID]*tickerJob
	nextTickerID TickerJobID
	mu           sync.Mutex
	stopOnce     sync.Once
	startOnce    sync.Once
}

// New creates a scheduler rooted in the background context.
func New(cfg Config) *Scheduler {
	return NewWithContext(context.Background(), cfg)
}

// NewWithContext creates a scheduler that shuts down when parentCtx is
// canceled.
func NewWithContext(parentCtx context.Context, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(parentCtx)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cronOpts := []cron.Option{
		cron.WithSeconds(),
		cron.WithLogger(cronLogger{logger: logger.With("component", "cron")}),
	}

	return &Scheduler{
		cron:         cron.New(cronOpts...),
		logger:       logger,
		hooks:        cfg.JobHooks,
		ctx:          ctx,
		cancel:       cancel,
		tickerJobs:   make(map[TickerJobID]*tickerJob),
		nextTickerID: 1,
	}
}

// AddCronJob schedules fn with default options. Schedules use the
// six-field cron format and the @every / @hourly shorthands, e.g.
// "0 */5 * * * *" or "@every 30s".
func (s *Scheduler) AddCronJob(schedule string, fn JobFunc) (CronJobID, error) {
	return s.AddCronJobWithOptions(schedule, fn, JobOptions{})
}

// AddCronJobWithOptions schedules fn with explicit options.
func (s *Scheduler) AddCronJobWithOptions(schedule string, fn JobFunc, opts JobOptions) (CronJobID, error) {
	j := &job{fn: fn, options: opts}

	overlapLog := cronLogger{logger: s.logger.With("component", "cron")}
	var chain cron.Chain
	switch opts.OverlapPolicy {
	case SkipIfRunning:
		chain = cron.NewChain(cron.SkipIfStillRunning(overlapLog))
	case DelayIfRunning:
		chain = cron.NewChain(cron.DelayIfStillRunning(overlapLog))
	default:
		chain = cron.NewChain()
	}

	id, err := s.cron.AddJob(schedule, chain.Then(cron.FuncJob(func() {
		s.runJob(j)
	})))
	if err != nil {
		s.logger.Error("failed to add cron job",
			"schedule", schedule, "name", opts.Name, "error", err)
		return 0, err
	}

	s.logger.Info("cron job added",
		"schedule", schedule, "name", opts.Name, "id", id)
	return id, nil
}

// AddTickerJob schedules fn at a fixed interval with default options.
func (s *Scheduler) AddTickerJob(interval time.Duration, fn JobFunc) TickerJobID {
	return s.AddTickerJobWithOptions(interval, fn, JobOptions{})
}

// AddTickerJobWithOptions schedules fn at a fixed interval with
// explicit options.
func (s *Scheduler) AddTickerJobWithOptions(interval time.Duration, fn JobFunc, opts JobOptions) TickerJobID {
	j := &job{fn: fn, options: opts}

	s.mu.Lock()
	id := s.nextTickerID
	s.nextTickerID++

	ticker := time.NewTicker(interval)
	ctx, cancel := context.WithCancel(s.ctx)

	tj := &tickerJob{id: id, ticker: ticker, cancel: cancel, job: j}
	s.tickerJobs[id] = tj
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		defer cancel()

		for {
			select {
			case <-ticker.C:
				s.runJob(j)
			case <-ctx.Done():
				s.logger.Debug("ticker job stopped", "name", opts.Name, "id", id)
				return
			}
		}
	}()

	s.logger.Info("ticker job added",
		"interval", interval, "name", opts.Name, "id", id)
	return id
}

// RemoveCronJob removes a cron job.
func (s *Scheduler) RemoveCronJob(id CronJobID) {
	s.cron.Remove(id)
	s.logger.Info("cron job removed", "id", id)
}

// RemoveTickerJob removes a ticker job, reporting whether it existed.
func (s *Scheduler) RemoveTickerJob(id TickerJobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	tj, exists := s.tickerJobs[id]
	if !exists {
		return false
	}

	tj.cancel()
	delete(s.tickerJobs, id)

	s.logger.Info("ticker job removed", "id", id, "name", tj.job.options.Name)
	return true
}

// Start begins executing jobs. Safe to call more than once.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting scheduler")
		s.cron.Start()

		go func() {
			<-s.ctx.Done()
			s.logger.Info("stopping scheduler, context canceled")
			s.stopOnce.Do(s.stop)
		}()
	})
}

// Stop shuts the scheduler down and waits for running jobs. It also
// waits when the shutdown was already begun by a context cancellation.
func (s *Scheduler) Stop() {
	if s.IsRunning() {
		s.logger.Info("stopping scheduler")
	}
	s.cancel()
	s.stopOnce.Do(s.stop)
}

// StopContext shuts down like Stop but gives up waiting when ctx
// expires. Shutdown still completes in the background; only the wait
// is bounded.
func (s *Scheduler) StopContext(ctx context.Context) error {
	if s.IsRunning() {
		s.logger.Info("stopping scheduler with deadline")
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.stopOnce.Do(s.stop)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop deadline exceeded")
		<-done
		return ctx.Err()
	}
}

func (s *Scheduler) stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	for _, tj := range s.tickerJobs {
		tj.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the scheduler accepts and executes jobs.
func (s *Scheduler) IsRunning() bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
		return true
	}
}

// runJob executes one job honoring its overlap policy, timeout and
// hooks. Panics are contained to the execution.
func (s *Scheduler) runJob(j *job) {
	jobName := j.options.Name
	if jobName == "" {
		jobName = "unnamed"
	}

	switch j.options.OverlapPolicy {
	case SkipIfRunning:
		if !j.running.TryLock() {
			s.logger.Debug("skipping job, still running", "name", jobName)
			return
		}
		defer j.running.Unlock()
	case DelayIfRunning:
		j.running.Lock()
		defer j.running.Unlock()
	}

	if s.hooks.OnJobStart != nil {
		s.hooks.OnJobStart(jobName)
	}

	defer func() {
		if r := recover(); r != nil {
			panicErr := fmt.Errorf("panic: %v", r)
			s.logger.Error("job panicked", "name", jobName, "panic", r)
			if s.hooks.OnJobError != nil {
				s.hooks.OnJobError(jobName, panicErr)
			}
		}
	}()

	ctx := s.ctx
	var cancel context.CancelFunc
	if j.options.Timeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, j.options.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := j.fn(ctx)
	duration := time.Since(start)

	if s.hooks.OnJobFinish != nil {
		s.hooks.OnJobFinish(jobName, duration, err)
	}

	if err != nil {
		s.logger.Error("job failed", "name", jobName, "error", err, "duration", duration)
		if s.hooks.OnJobError != nil {
			s.hooks.OnJobError(jobName, err)
		}
	} else {
		s.logger.Debug("job completed", "name", jobName, "duration", duration)
	}
}

// cronLogger adapts the cron logger interface onto slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, msg, pairAttrs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	attrs := append([]slog.Attr{slog.Any("error", err)}, pairAttrs(keysAndValues)...)
	l.logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

func pairAttrs(keysAndValues []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		attrs = append(attrs, slog.Any(key, keysAndValues[i+1]))
	}
	return attrs
}
