// Package server assembles the HTTP surface of the service and manages
// its lifecycle.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eventinspect/eventinspect/pkg/config"
	"github.com/eventinspect/eventinspect/pkg/controller"
	"github.com/eventinspect/eventinspect/pkg/health"
	"github.com/eventinspect/eventinspect/pkg/ingest"
	"github.com/eventinspect/eventinspect/pkg/middleware/cors"
	"github.com/eventinspect/eventinspect/pkg/middleware/logging"
	"github.com/eventinspect/eventinspect/pkg/middleware/ratelimit"
	"github.com/eventinspect/eventinspect/pkg/middleware/recovery"
	"github.com/eventinspect/eventinspect/pkg/middleware/requestid"
	"github.com/eventinspect/eventinspect/pkg/observability/logger"
	"github.com/eventinspect/eventinspect/pkg/observability/metrics"
	"github.com/eventinspect/eventinspect/pkg/stream"
	"github.com/eventinspect/eventinspect/pkg/version"
)

// Deps carries the wired handlers and shared infrastructure the router
// mounts.
type Deps struct {
	Ingest  *ingest.Handler
	Stream  *stream.Handler
	Health  *health.Registry
	Metrics *metrics.Metrics
	Logger  logger.Logger
	Version version.Info
}

// NewRouter builds the gin engine with the standard middleware chain
// and mounts all routes.
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(requestid.Middleware())
	engine.Use(logging.Middleware(deps.Logger))
	engine.Use(recovery.Middleware(deps.Logger))
	if deps.Metrics != nil {
		engine.Use(metricsMiddleware(deps.Metrics))
	}
	engine.Use(cors.Middleware(corsConfig(cfg)))

	v1 := engine.Group("/v1")
	{
		ingestHandlers := []gin.HandlerFunc{}
		if cfg.HTTP.MaxRequestSize > 0 {
			ingestHandlers = append(ingestHandlers, maxBytesMiddleware(cfg.HTTP.MaxRequestSize))
		}
		if cfg.RateLimit.Enabled {
			ingestHandlers = append(ingestHandlers, ratelimit.Middleware(ratelimit.Config{
				Enabled: true,
				RPS:     cfg.RateLimit.RequestsPerSecond,
				Burst:   cfg.RateLimit.Burst,
			}, nil))
		}
		ingestHandlers = append(ingestHandlers, deps.Ingest.Handle)
		v1.POST("/ingest", ingestHandlers...)
		v1.GET("/stream", deps.Stream.Handle)
	}

	engine.GET("/healthz", deps.Health.Handler())
	engine.GET("/version", func(c *gin.Context) {
		controller.Success(c, deps.Version)
	})
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	return engine
}

func corsConfig(cfg *config.Config) cors.Config {
	out := cors.DefaultConfig()
	if len(cfg.CORS.AllowOrigins) > 0 {
		out.AllowOrigins = cfg.CORS.AllowOrigins
	}
	if len(cfg.CORS.AllowMethods) > 0 {
		out.AllowMethods = cfg.CORS.AllowMethods
	}
	if len(cfg.CORS.AllowHeaders) > 0 {
		out.AllowHeaders = cfg.CORS.AllowHeaders
	}
	if cfg.CORS.MaxAge > 0 {
		out.MaxAge = time.Duration(cfg.CORS.MaxAge) * time.Second
	}
	return out
}

// maxBytesMiddleware caps the request body so a single oversized payload
// cannot exhaust memory. The downstream JSON bind surfaces the cutoff as
// an http.MaxBytesError.
func maxBytesMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

func metricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// Server wraps http.Server with graceful lifecycle management.
type Server struct {
	httpServer *http.Server
	logger     logger.Logger
	cfg        config.HTTPConfig
}

// New creates a Server serving the given handler.
func New(cfg config.HTTPConfig, handler http.Handler, log logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		logger: log,
		cfg:    cfg,
	}
}

// Start listens for requests until the context is cancelled, then
// shuts down gracefully. Returns an error if the listener fails or
// shutdown times out.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting server", "addr", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server failed to start: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops accepting new connections and waits for in-flight
// requests up to the configured shutdown timeout. Open stream
// connections are severed when the timeout expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server", "addr", s.httpServer.Addr)

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server shutdown complete", "addr", s.httpServer.Addr)
	return nil
}
