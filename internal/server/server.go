// Package server exposes the probe status API and the metrics
// endpoint over a gin engine. The engine is returned as an
// http.Handler; the caller owns the http.Server.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/retrykit/retrykit/internal/history"
	"github.com/retrykit/retrykit/internal/shared"
)

const pingTimeout = 2 * time.Second

// Options configure the server.
type Options struct {
	// APIToken guards the /api group when set. An empty token leaves
	// the API open.
	APIToken string
	// Targets is the configured probe target list served by
	// /api/targets.
	Targets []string
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server serves probe status from the history store.
type Server struct {
	engine  *gin.Engine
	store   history.Store
	targets []string
	log     *slog.Logger
}

// New builds the engine and its routes.
func New(store history.Store, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		store:   store,
		targets: opts.Targets,
		log:     log,
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	auth := apiAuth{token: opts.APIToken}
	api := r.Group("/api", auth.middleware)
	api.GET("/targets", s.getTargets)
	api.GET("/status", s.getStatus)
	api.GET("/history", s.getHistory)

	s.engine = r
	return s
}

// Handler returns the router for mounting into an http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// apiAuth guards the API group with a static bearer token.
type apiAuth struct{ token string }

func (a apiAuth) middleware(c *gin.Context) {
	if a.token == "" {
		c.Next()
		return
	}
	if c.GetHeader("Authorization") == "Bearer "+a.token {
		c.Next()
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// requestLogger reports served requests. Scrape and liveness endpoints
// log at debug so routine polling stays out of the info stream.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if p := c.Request.URL.Path; p == "/healthz" || p == "/metrics" {
			level = slog.LevelDebug
		}
		log.Log(c.Request.Context(), level, "request served",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("dur", time.Since(start)),
		)
	}
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getTargets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"targets": s.targets})
}

func (s *Server) getStatus(c *gin.Context) {
	sums, err := s.store.Summaries(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]summaryResponse, 0, len(sums))
	for _, sum := range sums {
		out = append(out, toSummaryResponse(sum))
	}
	c.JSON(http.StatusOK, gin.H{"targets": out})
}

func (s *Server) getHistory(c *gin.Context) {
	target := c.Query("target")
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target query parameter required"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	sum, err := s.store.TargetSummary(ctx, target)
	if err != nil {
		s.fail(c, err)
		return
	}
	samples, err := s.store.RecentSamples(ctx, target, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]sampleResponse, 0, len(samples))
	for _, smp := range samples {
		out = append(out, toSampleResponse(smp))
	}
	c.JSON(http.StatusOK, gin.H{
		"target":  target,
		"summary": toSummaryResponse(sum),
		"samples": out,
	})
}

// fail writes the error as JSON with a status derived from its kind.
func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case shared.IsNotFound(err):
		return http.StatusNotFound
	case shared.IsValidation(err):
		return http.StatusBadRequest
	case shared.IsUnauthorized(err):
		return http.StatusUnauthorized
	case shared.IsTimeout(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type summaryResponse struct {
	Target              string    `json:"target"`
	Samples             int64     `json:"samples"`
	Failures            int64     `json:"failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastOK              bool      `json:"last_ok"`
	LastStatus          int       `json:"last_status,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	LastSample          time.Time `json:"last_sample"`
}

func toSummaryResponse(sum history.Summary) summaryResponse {
	return summaryResponse{
		Target:              sum.Target,
		Samples:             sum.Samples,
		Failures:            sum.Failures,
		ConsecutiveFailures: sum.ConsecutiveFailures,
		LastOK:              sum.LastOK,
		LastStatus:          sum.LastStatus,
		LastError:           sum.LastError,
		LastSample:          sum.LastSample,
	}
}

type sampleResponse struct {
	ID        int64     `json:"id"`
	Target    string    `json:"target"`
	OK        bool      `json:"ok"`
	Status    int       `json:"status,omitempty"`
	Attempts  int       `json:"attempts"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

func toSampleResponse(s history.Sample) sampleResponse {
	return sampleResponse{
		ID:        s.ID,
		Target:    s.Target,
		OK:        s.OK,
		Status:    s.Status,
		Attempts:  s.Attempts,
		ElapsedMS: s.Elapsed.Milliseconds(),
		Error:     s.Err,
		At:        s.At,
	}
}
