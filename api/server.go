package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"newsindex/logger"

	"github.com/gin-gonic/gin"
)

// Dependencies holds what the routes serve. Partitions and Dedup are nil
// when the process only answers queries; their routes are then not
// registered.
type Dependencies struct {
	Search     Searcher
	Partitions Partitions
	Dedup      Fingerprints
	Retention  time.Duration
}

// NewRouter constructs a Gin engine with registered routes.
func NewRouter(deps Dependencies, log *slog.Logger) *gin.Engine {
	log = logger.OrDefault(log)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	RegisterHealthRoutes(r)
	RegisterMetricsRoutes(r)
	if deps.Search != nil {
		RegisterSearchRoutes(r, deps.Search, log)
	}
	if deps.Partitions != nil {
		RegisterPartitionRoutes(r, deps.Partitions, log)
	}
	if deps.Dedup != nil {
		RegisterDeduplicationRoutes(r, deps.Dedup, deps.Retention, log)
	}
	return r
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// Server runs the router until its context is cancelled.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

func NewServer(addr string, handler http.Handler, log *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logger.OrDefault(log),
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("http server stopped")
	return nil
}
