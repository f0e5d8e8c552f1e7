// Package controlapi implements the Control API (§4.I): a small,
// read-mostly HTTP surface for health, stats, mapping introspection,
// and operator overrides. It never places trades directly; every
// mutation it exposes re-enters the exact same copyExit/delete paths
// the trading loop itself uses.
package controlapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"copytrader/internal/breaker"
	"copytrader/internal/copytrader"
	"copytrader/internal/ports"
)

// Config holds construction parameters for the Control API.
type Config struct {
	Port    string
	Pool    ports.PoolClient
	Store   ports.MappingStore
	Breaker *breaker.Breaker
	Logger  ports.Logger
	Traders func() []*copytrader.Trader // live trader set, for /health and /stats
}

// Server wraps a gin.Engine with an *http.Server so Run can be shut down
// the same bounded-deadline way the rest of the router shuts down.
type Server struct {
	cfg    Config
	engine *gin.Engine
	http   *http.Server
}

// New builds the Control API router and its routes.
func New(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(requestLogger(cfg.Logger), gin.Recovery())

	s := &Server{cfg: cfg, engine: engine}
	s.registerRoutes()
	s.http = &http.Server{
		Addr:    addr(cfg.Port),
		Handler: engine,
	}
	return s
}

func addr(port string) string {
	if port == "" {
		port = "8090"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/stats", s.handleStats)
	s.engine.GET("/mappings", s.handleMappings)
	s.engine.GET("/breaker", s.handleBreaker)
	s.engine.POST("/mappings/:sourceId/:posId/resync", s.handleResync)
	s.engine.POST("/mappings/:sourceId/:posId", s.handleManualDelete)
}

// Run starts serving and blocks until ctx is canceled, then shuts down
// with a bounded deadline mirroring the router's own shutdown contract.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// requestLogger is gin middleware that logs through ports.Logger instead
// of gin's own default writer, so Control API traffic lands in the same
// structured log stream as the trading loop.
func requestLogger(logger ports.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if logger == nil {
			return
		}
		logger.Info(c.Request.Context(), "control api request", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}
