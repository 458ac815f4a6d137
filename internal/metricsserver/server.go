// Package metricsserver serves the live statistics of a run over HTTP:
// Prometheus metrics on /metrics, JSON on /stats and /snapshots, and /healthz.
package metricsserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/torosent/stepfire/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// Source is the run being observed, typically a *runner.Runner.
type Source interface {
	CurrentResult(force bool) metrics.ScenarioStats
	Snapshots() []metrics.Snapshot
}

// Server exposes a Source over HTTP.
type Server struct {
	source   Source
	logger   *zap.Logger
	registry *prometheus.Registry
	router   *gin.Engine
	srv      *http.Server
}

// New builds the router. The Prometheus registry is private to the server.
func New(source Source, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		newStatsCollector(source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		source:   source,
		logger:   logger.With(zap.String("component", "metrics-server")),
		registry: registry,
		router:   gin.New(),
	}
	s.router.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/stats", s.handleStats)
	s.router.GET("/snapshots", s.handleSnapshots)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status    string `json:"status"`
	RunStatus string `json:"run_status"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.source.CurrentResult(false)
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		RunStatus: string(stats.Status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	force := c.Query("force") == "true"
	c.JSON(http.StatusOK, s.source.CurrentResult(force))
}

func (s *Server) handleSnapshots(c *gin.Context) {
	snapshots := s.source.Snapshots()
	if snapshots == nil {
		snapshots = []metrics.Snapshot{}
	}
	c.JSON(http.StatusOK, snapshots)
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics server listen %s: %w", addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("metrics server listening", zap.String("addr", ln.Addr().String()))
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	s.logger.Info("metrics server stopped")
	return nil
}
