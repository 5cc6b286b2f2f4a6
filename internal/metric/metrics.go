// Package metric provides Prometheus instrumentation for the probe
// daemon.
//
// All methods on *Metrics are nil-safe; pass nil when no
// instrumentation is wanted, as unit tests usually do.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Alert outcome labels for RecordAlert.
const (
	AlertSent       = "sent"
	AlertFailed     = "failed"
	AlertSuppressed = "suppressed"
)

// Metrics holds the Prometheus descriptors for the probe pipeline.
type Metrics struct {
	probeRunsTotal      *prometheus.CounterVec
	probeDuration       *prometheus.HistogramVec
	probeAttempts       *prometheus.HistogramVec
	retryAttemptsTotal  *prometheus.CounterVec
	targetUp            *prometheus.GaugeVec
	consecutiveFailures *prometheus.GaugeVec
	alertsTotal         *prometheus.CounterVec
}

// New creates a Metrics instance and registers all descriptors with
// reg. Use prometheus.DefaultRegisterer in production and
// prometheus.NewRegistry() in tests to avoid cross-test pollution.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		probeRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "probed_probe_runs_total",
				Help: "Total number of finished probe runs by target and outcome.",
			},
			[]string{"target", "outcome"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "probed_probe_duration_seconds",
				Help:    "Duration of whole probe runs in seconds, retries included.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"target"},
		),
		probeAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "probed_probe_attempts",
				Help:    "Attempts needed per probe run.",
				Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
			},
			[]string{"target"},
		),
		retryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "probed_retry_attempts_total",
				Help: "Total number of retried probe attempts by target.",
			},
			[]string{"target"},
		),
		targetUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "probed_target_up",
				Help: "Whether the last probe run of the target succeeded (1) or failed (0).",
			},
			[]string{"target"},
		),
		consecutiveFailures: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "probed_consecutive_failures",
				Help: "Current consecutive failed probe runs per target.",
			},
			[]string{"target"},
		),
		alertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "probed_alerts_total",
				Help: "Alert deliveries by target and result (sent, failed, suppressed).",
			},
			[]string{"target", "result"},
		),
	}
	reg.MustRegister(
		m.probeRunsTotal,
		m.probeDuration,
		m.probeAttempts,
		m.retryAttemptsTotal,
		m.targetUp,
		m.consecutiveFailures,
		m.alertsTotal,
	)
	return m
}

// ObserveProbe records one finished probe run: outcome, duration of
// the whole run and the attempts it took.
func (m *Metrics) ObserveProbe(target string, ok bool, attempts int, dur time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	up := 1.0
	if !ok {
		outcome = "error"
		up = 0
	}
	m.probeRunsTotal.WithLabelValues(target, outcome).Inc()
	m.probeDuration.WithLabelValues(target).Observe(dur.Seconds())
	m.probeAttempts.WithLabelValues(target).Observe(float64(attempts))
	m.targetUp.WithLabelValues(target).Set(up)
}

// RecordRetry counts one retried attempt. Wired into the retry
// engine's OnRetry hook by the prober.
func (m *Metrics) RecordRetry(target string) {
	if m == nil {
		return
	}
	m.retryAttemptsTotal.WithLabelValues(target).Inc()
}

// SetConsecutiveFailures updates the failure streak gauge from the
// latest stored summary.
func (m *Metrics) SetConsecutiveFailures(target string, n int) {
	if m == nil {
		return
	}
	m.consecutiveFailures.WithLabelValues(target).Set(float64(n))
}

// RecordAlert counts one alert decision. result should be AlertSent,
// AlertFailed or AlertSuppressed.
func (m *Metrics) RecordAlert(target, result string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(target, result).Inc()
}
