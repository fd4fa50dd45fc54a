// Package server exposes the read API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apperrors "conviction-engine/internal/errors"
	"conviction-engine/internal/models"
	"conviction-engine/internal/projector"
	"conviction-engine/internal/resilience"
	"conviction-engine/internal/snapshot"
	"conviction-engine/internal/store"
)

// RunLister reads source run history.
type RunLister interface {
	GetSourceRuns(ctx context.Context, filter store.RunFilter) ([]store.SourceRun, error)
}

// Server serves conviction rankings, the event feed and health.
type Server struct {
	projector *projector.Projector
	snapshots projector.SnapshotReader
	health    *resilience.HealthMonitor
	breakers  *resilience.Registry
	runs      RunLister
	logger    zerolog.Logger
	engine    *gin.Engine
}

// New creates a server. runs may be nil when persistence is disabled.
func New(snapshots projector.SnapshotReader, health *resilience.HealthMonitor, breakers *resilience.Registry, runs RunLister, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		projector: projector.New(snapshots, logger),
		snapshots: snapshots,
		health:    health,
		breakers:  breakers,
		runs:      runs,
		logger:    logger,
		engine:    gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.getHealth)

	api := s.engine.Group("/api/v1")
	{
		api.GET("/conviction", s.getConvictions)
		api.GET("/conviction/:ticker", s.getTicker)
		api.GET("/feed", s.getFeed)
		api.GET("/snapshot", s.getSnapshot)
		api.GET("/sources", s.getSources)
		if s.runs != nil {
			api.GET("/runs", s.getRuns)
		}
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Serving read API")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) getConvictions(c *gin.Context) {
	var q projector.RankQuery
	var err error
	if q.MinScore, err = floatParam(c, "min_score"); err != nil {
		badRequest(c, err)
		return
	}
	if q.Days, err = intParam(c, "days"); err != nil {
		badRequest(c, err)
		return
	}
	if q.Limit, err = intParam(c, "limit"); err != nil {
		badRequest(c, err)
		return
	}
	q.Source = c.Query("source")

	res, err := s.projector.Rank(q)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getTicker(c *gin.Context) {
	res, err := s.projector.Ticker(c.Param("ticker"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getFeed(c *gin.Context) {
	var q projector.FeedQuery
	var err error
	if q.Days, err = intParam(c, "days"); err != nil {
		badRequest(c, err)
		return
	}
	if q.Limit, err = intParam(c, "limit"); err != nil {
		badRequest(c, err)
		return
	}
	q.Source = c.Query("source")
	q.Ticker = c.Query("ticker")

	res, err := s.projector.Feed(q)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getSnapshot(c *gin.Context) {
	snap, err := s.snapshots.Current()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version":      snap.Version,
		"cycle_id":     snap.CycleID,
		"profile":      snap.Profile,
		"as_of":        snap.AsOf,
		"committed_at": snap.CommittedAt,
		"tickers":      len(snap.Convictions),
		"stale":        snap.Stale,
		"last_error":   snap.LastError,
		"meta":         snap.Meta,
	})
}

func (s *Server) getSources(c *gin.Context) {
	var meta *snapshot.CycleMeta
	if snap, err := s.snapshots.Current(); err == nil {
		meta = &snap.Meta
	}
	c.JSON(http.StatusOK, gin.H{
		"breakers":   s.breakers.AllStats(),
		"last_cycle": meta,
	})
}

func (s *Server) getRuns(c *gin.Context) {
	filter := store.RunFilter{FailedOnly: c.Query("failed") == "true"}
	if v := c.Query("source"); v != "" {
		src, err := models.ParseSource(v)
		if err != nil {
			badRequest(c, err)
			return
		}
		filter.Source = src
	}
	limit, err := intParam(c, "limit")
	if err != nil {
		badRequest(c, err)
		return
	}
	filter.Limit = min(max(limit, 0), projector.MaxLimit)
	if filter.Limit == 0 {
		filter.Limit = projector.DefaultLimit
	}

	runs, err := s.runs.GetSourceRuns(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getHealth(c *gin.Context) {
	health := s.health.Check(c.Request.Context())
	status := http.StatusOK
	if health.Status == resilience.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

// fail maps domain errors to HTTP status codes.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrNoSnapshot):
		status = http.StatusServiceUnavailable
	case errors.Is(err, apperrors.ErrTickerNotFound):
		status = http.StatusNotFound
	default:
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}

func intParam(c *gin.Context, name string) (int, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if errors.Is(err, strconv.ErrRange) {
		// Overflow saturates so the projector clamps it like any other out-of-range value.
		if strings.HasPrefix(v, "-") {
			return math.MinInt, nil
		}
		return math.MaxInt, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, v)
	}
	return n, nil
}

func floatParam(c *gin.Context, name string) (float64, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if errors.Is(err, strconv.ErrRange) {
		// ParseFloat already returns ±Inf or zero for values it cannot represent.
		return f, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", name, v)
	}
	return f, nil
}
