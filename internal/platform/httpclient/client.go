package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/url"
	"time"

	"github.com/retrykit/retrykit/pkg/retry"
)

// Client wraps http.Client with logging, default headers and tuned transport
// defaults. Each Do call performs exactly one attempt; retry orchestration
// belongs to pkg/retry so attempt accounting and pacing live in one place.
type Client struct {
	hc          *stdhttp.Client
	log         *slog.Logger
	headers     map[string]string
	urlRedactor func(*url.URL) string
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets request timeout.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = t }
}

// WithLogger sets logger used by client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithHeaders adds default headers to each request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			if c.headers == nil {
				c.headers = make(map[string]string)
			}
			c.headers[k] = v
		}
	}
}

// WithoutHeaders removes default headers.
func WithoutHeaders(keys ...string) Option {
	return func(c *Client) {
		for _, k := range keys {
			delete(c.headers, k)
		}
	}
}

// WithURLRedactor sets URL redactor for logs.
func WithURLRedactor(f func(*url.URL) string) Option {
	return func(c *Client) { c.urlRedactor = f }
}

// WithTransport sets custom transport.
func WithTransport(rt stdhttp.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.hc.Transport = rt
		}
	}
}

// New creates configured Client.
func New(opts ...Option) *Client {
	tr := stdhttp.DefaultTransport.(*stdhttp.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxConnsPerHost = 100
	tr.MaxIdleConnsPerHost = 100
	tr.IdleConnTimeout = 90 * time.Second
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ResponseHeaderTimeout = 10 * time.Second
	tr.ExpectContinueTimeout = 1 * time.Second

	c := &Client{
		hc: &stdhttp.Client{
			Timeout:   15 * time.Second,
			Transport: tr,
		},
		log: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// redactURL returns redacted URL string.
func (c *Client) redactURL(u *url.URL) string {
	if c.urlRedactor != nil {
		return c.urlRedactor(u)
	}
	return u.Redacted()
}

// DrainAndClose drains up to 512KB from body and closes it, keeping the
// underlying connection reusable.
func DrainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, b, 512<<10)
	_ = b.Close()
}

// StatusError reports a non-success HTTP status as an error so retry
// predicates can act on the status code.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Code)
}

// RetryableStatus reports whether an HTTP status code is worth retrying:
// 408, 421, 425, 429 and every 5xx except 501.
func RetryableStatus(code int) bool {
	switch code {
	case stdhttp.StatusRequestTimeout,
		stdhttp.StatusMisdirectedRequest,
		stdhttp.StatusTooEarly,
		stdhttp.StatusTooManyRequests:
		return true
	case stdhttp.StatusNotImplemented:
		return false
	default:
		return code >= 500 && code <= 599
	}
}

// Retryable reports whether a request error is worth another attempt.
// Status errors are judged by RetryableStatus, everything else by
// retry.Transient. Suitable as a ShouldRetry predicate.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return RetryableStatus(se.Code)
	}
	return retry.Transient(err)
}

// Do sends a single HTTP request with default headers and logging. The
// request is cloned so the caller's copy stays untouched.
func (c *Client) Do(ctx context.Context, req *stdhttp.Request) (*stdhttp.Response, error) {
	r := req.Clone(ctx)
	for k, v := range c.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	u := c.redactURL(r.URL)
	st := time.Now()
	resp, err := c.hc.Do(r)
	dur := time.Since(st)
	if err != nil {
		c.log.Warn("http request error", slog.String("method", r.Method), slog.String("url", u), slog.Duration("dur", dur), slog.Any("error", err))
		return nil, err
	}
	if resp.StatusCode == stdhttp.StatusMisdirectedRequest {
		// 421 means this connection is bad for the target; start fresh.
		if tr, ok := c.hc.Transport.(interface{ CloseIdleConnections() }); ok {
			tr.CloseIdleConnections()
		}
	}
	c.log.Info("http request", slog.String("method", r.Method), slog.String("url", u), slog.Int("status", resp.StatusCode), slog.Duration("dur", dur))
	return resp, nil
}
