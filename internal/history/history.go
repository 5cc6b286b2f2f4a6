// Package history persists probe outcomes and per-target rollups.
//
// Every finished probe run produces one Sample. Recording a sample
// atomically updates the target's Summary, so consumers (the alerter,
// the HTTP API) always see counters that match the sample log.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// defaultRecentLimit bounds RecentSamples when the caller passes no
// explicit limit.
const defaultRecentLimit = 50

// Sample is the final outcome of one probe run, after retries.
type Sample struct {
	ID       int64
	Target   string
	OK       bool
	Status   int
	Attempts int
	Elapsed  time.Duration
	Err      string
	At       time.Time
}

// normalized fills defaults a caller may omit. Timestamps are stored
// in UTC so the two backends sort identically.
func (s Sample) normalized() Sample {
	if s.At.IsZero() {
		s.At = time.Now().UTC()
	} else {
		s.At = s.At.UTC()
	}
	if s.Attempts < 1 {
		s.Attempts = 1
	}
	return s
}

// Summary is the rolled-up state of one target.
type Summary struct {
	Target              string
	Samples             int64
	Failures            int64
	ConsecutiveFailures int
	LastOK              bool
	LastStatus          int
	LastError           string
	LastSample          time.Time
}

// Store persists samples and summaries.
//
// Lookup methods mark missing targets with shared.KindNotFound, so
// callers can test with shared.IsNotFound without knowing which
// backend is underneath.
type Store interface {
	// RecordSample stores one sample and returns the target's summary
	// as it stands after the write.
	RecordSample(ctx context.Context, s Sample) (Summary, error)

	// RecentSamples returns the newest samples for a target, newest
	// first. A non-positive limit falls back to a server-side default.
	RecentSamples(ctx context.Context, target string, limit int) ([]Sample, error)

	// TargetSummary returns the summary of one target.
	TargetSummary(ctx context.Context, target string) (Summary, error)

	// Summaries returns all target summaries ordered by target name.
	Summaries(ctx context.Context) ([]Summary, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// Options selects and configures a storage backend.
type Options struct {
	// Driver is DriverSQLite or DriverPostgres. Empty selects SQLite.
	Driver string

	// SQLitePath is the database file path. Migrations open their own
	// connection, so an in-memory database cannot be used here.
	SQLitePath string

	// PostgresDSN is the full connection string.
	PostgresDSN string
}

// Open creates a Store for the configured driver, applying any pending
// schema migrations before returning.
func Open(ctx context.Context, opts Options, log *slog.Logger) (Store, error) {
	if log == nil {
		log = slog.Default()
	}
	switch opts.Driver {
	case DriverSQLite, "":
		return openSQLite(ctx, opts.SQLitePath, log)
	case DriverPostgres:
		return openPostgres(ctx, opts.PostgresDSN, log)
	default:
		return nil, fmt.Errorf("unknown history driver %q", opts.Driver)
	}
}
