package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/vaultrisk/internal/risk/config"
)

// RouteRegistrar mounts a module's routes under /api/v1.
type RouteRegistrar interface {
	RegisterRoutes(r *gin.RouterGroup)
}

// HealthChecker reports whether the service can serve traffic.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server represents the API server
type Server struct {
	router     *gin.Engine
	logger     *zap.Logger
	cfg        config.ServerConfig
	health     HealthChecker
	httpServer *http.Server
}

// Options holds optional server collaborators.
type Options struct {
	Health HealthChecker
	// Gatherer backs /metrics; the default registry when nil.
	Gatherer    prometheus.Gatherer
	ServiceName string
}

// NewServer creates a new API server and mounts the given route registrars
func NewServer(cfg config.ServerConfig, logger *zap.Logger, opts Options, registrars ...RouteRegistrar) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "vaultrisk-api"
	}

	server := &Server{
		logger: logger,
		cfg:    cfg,
		health: opts.Health,
	}

	router := gin.New()

	// Add middleware
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware(opts.ServiceName))
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	// Probes and scrapes are registered ahead of the rate limiter.
	v1 := router.Group("/api/v1")
	v1.GET("/health", server.healthCheck)
	v1.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	if cfg.RateLimitRPS > 0 {
		v1.Use(NewClientRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware())
	}
	for _, r := range registrars {
		r.RegisterRoutes(v1)
	}

	server.router = router
	return server
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves HTTP on the configured address until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("Starting API server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Stopping API server")
	return s.httpServer.Shutdown(ctx)
}

// healthCheck handles the health check endpoint
func (s *Server) healthCheck(c *gin.Context) {
	if s.health != nil {
		if err := s.health.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
				"time":   time.Now().UTC(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
