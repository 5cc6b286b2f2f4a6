// Package app wires configuration, storage, probing, alerting and the
// HTTP surface into the probed daemon.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/retrykit/retrykit/internal/alert"
	"github.com/retrykit/retrykit/internal/config"
	"github.com/retrykit/retrykit/internal/history"
	"github.com/retrykit/retrykit/internal/metric"
	"github.com/retrykit/retrykit/internal/platform/httpclient"
	"github.com/retrykit/retrykit/internal/platform/logger"
	"github.com/retrykit/retrykit/internal/platform/pg"
	"github.com/retrykit/retrykit/internal/probe"
	"github.com/retrykit/retrykit/internal/scheduler"
	"github.com/retrykit/retrykit/internal/server"
)

const shutdownTimeout = 5 * time.Second

// App wires application components.
type App struct {
	cfg config.Config
	log *slog.Logger
}

// New loads configuration and builds the process logger.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "probed",
	})
	return &App{cfg: cfg, log: log}, nil
}

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	a.log.Info("starting",
		slog.Int("targets", len(a.cfg.Probe.Targets)),
		slog.String("history_driver", a.cfg.History.Driver),
	)
	defer func() {
		if err := logger.Close(a.log); err != nil {
			fmt.Println("close log sink:", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := metric.New(reg)

	if a.cfg.History.Driver == history.DriverPostgres {
		opts := pg.DefaultWaitOptions()
		opts.Logger = a.log
		if err := pg.WaitForDB(ctx, a.cfg.History.PostgresDSN, opts); err != nil {
			return err
		}
	}
	store, err := history.Open(ctx, history.Options{
		Driver:      a.cfg.History.Driver,
		SQLitePath:  a.cfg.History.SQLitePath,
		PostgresDSN: a.cfg.History.PostgresDSN,
	}, a.log)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.log.Error("close history store", slog.Any("error", err))
		}
	}()
	if sp, ok := store.(interface{ Stats() pg.DBStats }); ok {
		metric.RegisterPoolStats(reg, sp.Stats)
	}

	alerter, err := alert.New(alert.Options{
		Token:    a.cfg.Alert.TelegramToken,
		ChatID:   a.cfg.Alert.ChatID,
		After:    a.cfg.Alert.After,
		Cooldown: a.cfg.Alert.Cooldown,
		Logger:   a.log,
		Metrics:  metrics,
	})
	if err != nil {
		return fmt.Errorf("configure alerting: %w", err)
	}

	client := httpclient.New(
		httpclient.WithLogger(a.log),
		httpclient.WithTimeout(a.cfg.Probe.Timeout),
	)
	prober := probe.New(client, store, alerter, probe.Options{
		Targets:      a.cfg.Probe.Targets,
		Timeout:      a.cfg.Probe.Timeout,
		TotalTimeout: a.cfg.Probe.TotalTimeout,
		MaxAttempts:  a.cfg.Probe.MaxAttempts,
		BaseDelay:    a.cfg.Probe.BaseDelay,
		Strategy:     a.cfg.Probe.Strategy,
		Logger:       a.log,
		Metrics:      metrics,
	})

	srv := server.New(store, server.Options{
		APIToken: a.cfg.HTTP.APIToken,
		Targets:  a.cfg.Probe.Targets,
		Gatherer: reg,
		Logger:   a.log,
	})
	httpSrv := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: srv.Handler()}
	go func() {
		a.log.Info("http server listening", slog.String("addr", a.cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("server", slog.Any("err", err))
		}
	}()

	// First round before the schedule kicks in, so status is populated
	// from boot.
	if err := prober.Run(ctx); err != nil && ctx.Err() == nil {
		a.log.Warn("initial probe round", slog.Any("error", err))
	}

	sched := scheduler.NewWithContext(ctx, scheduler.Config{Logger: a.log})
	jobOpts := scheduler.JobOptions{Name: "probe", OverlapPolicy: scheduler.SkipIfRunning}
	if a.cfg.Probe.Schedule != "" {
		if _, err := sched.AddCronJobWithOptions(a.cfg.Probe.Schedule, prober.Run, jobOpts); err != nil {
			return fmt.Errorf("schedule probes: %w", err)
		}
		a.log.Info("probing on cron schedule", slog.String("schedule", a.cfg.Probe.Schedule))
	} else {
		sched.AddTickerJobWithOptions(a.cfg.Probe.Interval, prober.Run, jobOpts)
		a.log.Info("probing on interval", slog.Duration("interval", a.cfg.Probe.Interval))
	}
	sched.Start()

	<-ctx.Done()
	a.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sched.StopContext(shutdownCtx); err != nil {
		a.log.Warn("scheduler drain", slog.Any("error", err))
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
