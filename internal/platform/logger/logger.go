package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options defines parameters for logger creation.
type Options struct {
	Env          string
	ConsoleLevel string // console verbosity (default: info)
	FileLevel    string // file verbosity (default: debug)
	File         string // rotating JSON sink path; empty disables the file sink
	App          string
}

// sensitiveKeys lists attribute names whose values must never reach a sink.
// Covers API tokens, store DSNs, and credentials carried in config dumps.
var sensitiveKeys = []string{"token", "secret", "api_key", "password", "dsn"}

var closers sync.Map

// New creates the process logger: a tinted console handler and, when a file
// path is configured, a rotating JSON file handler. Every sink sits behind
// redaction.
func New(o Options) *slog.Logger {
	consoleLvl := levelFromString(o.ConsoleLevel, slog.LevelInfo)
	fileLvl := levelFromString(o.FileLevel, slog.LevelDebug)

	timeFormat := time.RFC3339
	if o.Env == "dev" {
		timeFormat = time.Kitchen
	}

	handlers := []slog.Handler{
		newRedactingHandler(
			tint.NewHandler(os.Stdout, &tint.Options{Level: consoleLvl, TimeFormat: timeFormat}),
			sensitiveKeys,
		),
	}

	var closer func() error
	if o.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    5,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		closer = fileWriter.Close
		handlers = append(handlers, newRedactingHandler(
			slog.NewJSONHandler(fileWriter, &slog.HandlerOptions{Level: fileLvl}),
			sensitiveKeys,
		))
	}

	var h slog.Handler
	if len(handlers) == 1 {
		h = handlers[0]
	} else {
		h = newMultiHandler(handlers...)
	}

	l := slog.New(h).With(
		slog.String("app", o.App),
		slog.String("env", o.Env),
	)

	if closer != nil {
		closers.Store(l, closer)
	}

	return l
}

// Close releases the file sink owned by a logger built with New. Call it on
// shutdown; loggers without a file sink close as a no-op.
func Close(logger *slog.Logger) error {
	if c, ok := closers.Load(logger); ok {
		closers.Delete(logger)
		return c.(func() error)()
	}
	return nil
}

func levelFromString(s string, fallback slog.Level) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
