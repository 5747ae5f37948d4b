// Package server exposes the exporter's HTTP surface.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tzockt/speedtest-exporter/pkg/metrics"
	"github.com/tzockt/speedtest-exporter/pkg/speedtest"
)

// RecordProvider hands out the measurement record to serve for one
// scrape. *cache.Coordinator satisfies it.
type RecordProvider interface {
	Current(ctx context.Context) *speedtest.Result
}

const indexPage = `<html>
	<head><title>Speedtest Exporter</title></head>
	<body>
		<h1>Speedtest Exporter</h1>
		<p>Prometheus exporter for Ookla Speedtest CLI</p>
		<p><a href="/metrics">Metrics</a></p>
		<p><a href="/health">Health Check</a></p>
	</body>
</html>
`

// Server serves /metrics, /health and /.
type Server struct {
	echo     *echo.Echo
	provider RecordProvider
	metrics  *metrics.Metrics
	render   http.Handler
	logger   *slog.Logger
}

func New(provider RecordProvider, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		provider: provider,
		metrics:  m,
		render:   m.Handler(),
		logger:   logger,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/", s.handleIndex)
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", s.handleMetrics)
	s.echo = e

	return s
}

func (s *Server) handleIndex(ectx echo.Context) error {
	return ectx.HTML(http.StatusOK, indexPage)
}

// handleHealth reports process liveness only. Measurement state is
// visible through speedtest_up, not here.
func (s *Server) handleHealth(ectx echo.Context) error {
	return ectx.String(http.StatusOK, "OK")
}

// handleMetrics may block for up to the measurement timeout on a cache
// miss. It always answers 200: a failed measurement is signaled via
// speedtest_up=0 so the scraper still records the sample.
func (s *Server) handleMetrics(ectx echo.Context) error {
	rec := s.provider.Current(ectx.Request().Context())
	s.metrics.Set(rec)
	s.render.ServeHTTP(ectx.Response(), ectx.Request())
	return nil
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting HTTP server", "addr", addr)
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
