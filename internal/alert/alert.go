// Package alert notifies a Telegram chat when a target's failure
// streak crosses the configured threshold, and again when the target
// recovers.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/retrykit/retrykit/internal/history"
	"github.com/retrykit/retrykit/internal/metric"
	"github.com/retrykit/retrykit/pkg/retry"
)

// DefaultCooldown spaces repeat alerts for a target that stays down.
const DefaultCooldown = 5 * time.Minute

// sender is the single bot call the alerter makes. *bot.Bot
// implements it; tests substitute a fake.
type sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Options configure the alerter. An empty Token disables alerting;
// every Consider call then becomes a no-op.
type Options struct {
	Token    string
	ChatID   int64
	After    int
	Cooldown time.Duration
	Logger   *slog.Logger
	Metrics  *metric.Metrics
}

// Alerter turns summaries into Telegram notifications. Safe for
// concurrent use.
type Alerter struct {
	bot      sender
	chatID   int64
	after    int
	cooldown time.Duration
	log      *slog.Logger
	metrics  *metric.Metrics
	retry    retry.Config

	mu sync.Mutex
	// open tracks targets with an active incident: the value is the
	// last alert send time, used for the cooldown.
	open map[string]time.Time
}

// New creates an Alerter. The Telegram token is verified against the
// API at startup, so a bad token fails the boot instead of the first
// incident.
func New(opts Options) (*Alerter, error) {
	a := newWithSender(nil, opts)
	if opts.Token == "" {
		a.log.Info("alerting disabled, no telegram token configured")
		return a, nil
	}
	b, err := bot.New(opts.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	a.bot = b
	a.log.Info("alerting enabled",
		slog.Int64("chat_id", opts.ChatID),
		slog.Int("after", a.after),
		slog.Duration("cooldown", a.cooldown),
	)
	return a, nil
}

func newWithSender(s sender, opts Options) *Alerter {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	a := &Alerter{
		bot:      s,
		chatID:   opts.ChatID,
		after:    opts.After,
		cooldown: cooldown,
		log:      log,
		metrics:  opts.Metrics,
		open:     make(map[string]time.Time),
	}
	a.retry = retry.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Strategy:    retry.StrategyExponentialJitter,
		OnRetry: func(e retry.Event) {
			log.Warn("retrying alert delivery",
				slog.Int("attempt", e.Attempt),
				slog.Duration("next_try_in", e.Delay),
				slog.Any("error", e.Err),
			)
		},
	}
	return a
}

// Enabled reports whether a Telegram destination is configured.
func (a *Alerter) Enabled() bool {
	return a.bot != nil
}

// Consider inspects a fresh summary and sends a down notice when the
// streak crosses the threshold, or a recovery notice when a target
// with an open incident comes back.
func (a *Alerter) Consider(ctx context.Context, sum history.Summary) {
	if a.bot == nil || a.after <= 0 {
		return
	}

	if sum.LastOK {
		if a.closeIncident(sum.Target) {
			a.send(ctx, sum.Target, recoveryText(sum))
		}
		return
	}

	if sum.ConsecutiveFailures < a.after {
		return
	}
	if !a.allow(sum.Target) {
		a.metrics.RecordAlert(sum.Target, metric.AlertSuppressed)
		a.log.Debug("alert suppressed by cooldown", slog.String("target", sum.Target))
		return
	}
	a.send(ctx, sum.Target, downText(sum))
}

// allow reports whether the cooldown permits another alert for the
// target, recording the send time when it does.
func (a *Alerter) allow(target string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	if t, ok := a.open[target]; ok && now.Sub(t) < a.cooldown {
		return false
	}
	a.open[target] = now
	return true
}

// closeIncident forgets the target's incident state and reports
// whether one was open.
func (a *Alerter) closeIncident(target string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.open[target]
	delete(a.open, target)
	return ok
}

func (a *Alerter) send(ctx context.Context, target, text string) {
	err := retry.Do(ctx, a.retry, func(ctx context.Context) error {
		_, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: a.chatID,
			Text:   text,
		})
		return err
	})
	if err != nil {
		a.metrics.RecordAlert(target, metric.AlertFailed)
		a.log.Error("alert delivery failed",
			slog.String("target", target),
			slog.Any("error", err),
		)
		return
	}
	a.metrics.RecordAlert(target, metric.AlertSent)
	a.log.Info("alert sent", slog.String("target", target))
}

func downText(sum history.Summary) string {
	text := fmt.Sprintf("DOWN %s: %d consecutive failed probes", sum.Target, sum.ConsecutiveFailures)
	if sum.LastStatus != 0 {
		text += fmt.Sprintf(", last status %d", sum.LastStatus)
	}
	if sum.LastError != "" {
		text += ", " + sum.LastError
	}
	return text
}

func recoveryText(sum history.Summary) string {
	if sum.LastStatus != 0 {
		return fmt.Sprintf("UP %s: recovered, status %d", sum.Target, sum.LastStatus)
	}
	return fmt.Sprintf("UP %s: recovered", sum.Target)
}
