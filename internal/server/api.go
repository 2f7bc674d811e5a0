// Package server provides the HostPulse Gin-based REST API.
//
//	Public:            GET /, /health, /metrics/current, /metrics/latest,
//	                   /metrics/history, /metrics/summary, /metrics/stream, /prometheus
//	Protected (key):   POST /metrics/collect
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/vesaa/hostpulse/internal/apperr"
	"github.com/vesaa/hostpulse/internal/models"
	"github.com/vesaa/hostpulse/internal/store"
	"github.com/vesaa/hostpulse/internal/summary"
	"github.com/vesaa/hostpulse/internal/telemetry"
	"go.uber.org/zap"
)

// Collector is the service behind the metric routes.
type Collector interface {
	ReadCurrent(ctx context.Context) (models.Reading, error)
	CollectAndPersist(ctx context.Context) (*models.Sample, error)
	GetLatest(ctx context.Context) (*models.Sample, error)
	GetHistory(ctx context.Context, hours, limit int) ([]models.Sample, error)
	GetSummary(ctx context.Context, hours, limit int) (*summary.Summary, error)
}

// Pinger probes store connectivity for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Info identifies the service on GET /.
type Info struct {
	Name     string
	Version  string
	Platform string
}

// Options configures a Server.
type Options struct {
	Info           Info
	Keys           *KeyChecker
	Metrics        *telemetry.Metrics
	Logger         *zap.Logger
	StreamInterval time.Duration
	HealthTimeout  time.Duration
}

// Server holds the handlers' dependencies.
type Server struct {
	svc    Collector
	db     Pinger
	info   Info
	keys   *KeyChecker
	prom   *telemetry.Metrics
	log    *zap.Logger
	stream time.Duration
	health time.Duration
}

// New builds a Server. Missing options fall back to safe defaults.
func New(svc Collector, db Pinger, opts Options) *Server {
	s := &Server{
		svc:    svc,
		db:     db,
		info:   opts.Info,
		keys:   opts.Keys,
		prom:   opts.Metrics,
		log:    opts.Logger,
		stream: opts.StreamInterval,
		health: opts.HealthTimeout,
	}
	if s.keys == nil {
		s.keys = NewKeyChecker("", "")
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.stream <= 0 {
		s.stream = 5 * time.Second
	}
	if s.health <= 0 {
		s.health = 5 * time.Second
	}
	return s
}

// Engine returns a gin engine with middleware and all routes registered.
func (s *Server) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(s.log.Named("http"), s.prom), CORS())
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes wires up the API on the given engine.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.GET("/prometheus", gin.WrapH(s.prom.Handler()))

	m := r.Group("/metrics")
	{
		m.GET("/current", s.handleCurrent)
		m.GET("/latest", s.handleLatest)
		m.GET("/history", s.handleHistory)
		m.GET("/summary", s.handleSummary)
		m.GET("/stream", s.handleStream)

		m.POST("/collect", APIKeyMiddleware(s.keys), s.handleCollect)
	}
}

// ── Handlers ──────────────────────────────────────────────────────────────────

// handleRoot describes the service.
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        s.info.Name,
		"version":     s.info.Version,
		"platform":    s.info.Platform,
		"description": "Real time system metrics and monitoring API",
		"endpoints": gin.H{
			"health":          "/health",
			"current_metrics": "/metrics/current",
			"collect_metrics": "/metrics/collect",
			"latest_metrics":  "/metrics/latest",
			"metrics_history": "/metrics/history",
			"metrics_summary": "/metrics/summary",
			"metrics_stream":  "/metrics/stream",
			"prometheus":      "/prometheus",
		},
	})
}

// handleHealth issues a trivial round-trip query against the store.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.health)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"error":    "database unavailable",
			"database": "unhealthy: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   s.info.Version,
		"database":  "healthy",
	})
}

// handleCurrent samples the host without persisting.
//
//	GET /metrics/current
func (s *Server) handleCurrent(c *gin.Context) {
	r, err := s.svc.ReadCurrent(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.ResponseFromReading(r))
}

// handleCollect samples the host and stores the reading.
//
//	POST /metrics/collect
//	Header: X-API-Key: <api_key>
func (s *Server) handleCollect(c *gin.Context) {
	stored, err := s.svc.CollectAndPersist(c.Request.Context())
	if err != nil {
		respondError(c, fmt.Errorf("failed to collect metrics: %w", err))
		return
	}
	c.JSON(http.StatusOK, models.ResponseFromSample(*stored))
}

// handleLatest returns the newest stored sample.
func (s *Server) handleLatest(c *gin.Context) {
	latest, err := s.svc.GetLatest(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.ResponseFromSample(*latest))
}

// handleHistory returns stored samples of a time window, newest first.
//
//	GET /metrics/history?hours=24&limit=100
func (s *Server) handleHistory(c *gin.Context) {
	hours, limit, err := bindWindow(c, store.DefaultLimit)
	if err != nil {
		respondError(c, err)
		return
	}
	rows, err := s.svc.GetHistory(c.Request.Context(), hours, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]models.MetricResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.ResponseFromSample(r))
	}
	c.JSON(http.StatusOK, out)
}

// handleSummary aggregates a time window. The limit defaults to the maximum.
//
//	GET /metrics/summary?hours=24&limit=1000
func (s *Server) handleSummary(c *gin.Context) {
	hours, limit, err := bindWindow(c, store.MaxLimit)
	if err != nil {
		respondError(c, err)
		return
	}
	sum, err := s.svc.GetSummary(c.Request.Context(), hours, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// windowQuery uses pointers so that an explicit 0 is validated, not defaulted.
type windowQuery struct {
	Hours *int `form:"hours" binding:"omitempty,min=1,max=720"`
	Limit *int `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// bindWindow parses and validates hours/limit, applying defaults when absent.
func bindWindow(c *gin.Context, defaultLimit int) (hours, limit int, err error) {
	var q windowQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		return 0, 0, fmt.Errorf("%w: %s", apperr.ErrValidation, describeBindError(err))
	}
	hours, limit = store.DefaultHours, defaultLimit
	if q.Hours != nil {
		hours = *q.Hours
	}
	if q.Limit != nil {
		limit = *q.Limit
	}
	return hours, limit, nil
}

func describeBindError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "hours and limit must be integers"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Field() {
		case "Hours":
			msgs = append(msgs, fmt.Sprintf("hours must be between %d and %d", store.MinHours, store.MaxHours))
		case "Limit":
			msgs = append(msgs, fmt.Sprintf("limit must be between %d and %d", store.MinLimit, store.MaxLimit))
		default:
			msgs = append(msgs, strings.ToLower(fe.Field())+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

// respondError maps err onto its status code and aborts the request.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
