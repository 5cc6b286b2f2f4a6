package logger

import (
	"context"
	"log/slog"
	"strings"
)

const redacted = "[REDACTED]"

// redactingHandler masks sensitive attributes before the wrapped handler
// sees them.
type redactingHandler struct {
	inner slog.Handler
	keys  map[string]struct{}
}

func newRedactingHandler(inner slog.Handler, sensitive []string) *redactingHandler {
	m := make(map[string]struct{}, len(sensitive))
	for _, k := range sensitive {
		m[strings.ToLower(k)] = struct{}{}
	}
	return &redactingHandler{inner: inner, keys: m}
}

func (h *redactingHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	nr := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	var attrs []slog.Attr
	r.Attrs(func(a slog.Attr) bool { attrs = append(attrs, a); return true })
	nr.AddAttrs(h.redact(attrs...)...)
	return h.inner.Handle(ctx, nr)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &redactingHandler{inner: h.inner.WithAttrs(h.redact(attrs...)), keys: h.keys}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{inner: h.inner.WithGroup(name), keys: h.keys}
}

func (h *redactingHandler) redact(attrs ...slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		if _, ok := h.keys[strings.ToLower(a.Key)]; ok {
			out = append(out, slog.String(a.Key, redacted))
			continue
		}
		if s, ok := a.Value.Any().(string); ok && looksSensitive(s) {
			out = append(out, slog.String(a.Key, redacted))
			continue
		}
		out = append(out, a)
	}
	return out
}

// looksSensitive catches secret-shaped values that arrive under innocent
// keys: bot tokens (numeric id, colon, long opaque tail) and long strings
// that embed the word token.
func looksSensitive(s string) bool {
	if id, rest, ok := strings.Cut(s, ":"); ok && len(id) > 0 && len(rest) >= 30 && allDigits(id) {
		return true
	}
	return len(s) > 12 && strings.Contains(strings.ToLower(s), "token")
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
