// Package api provides the HTTP surface for the forecasting pipeline and
// trading simulation engine (spec §6), built on a gin.Engine.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sibylline/forecastmarket/pkg/events"
	"github.com/sibylline/forecastmarket/pkg/metrics"
	"github.com/sibylline/forecastmarket/pkg/services"
)

// Server is the HTTP API server.
type Server struct {
	engine      *gin.Engine
	httpServer  *http.Server
	sessions    *services.SessionService
	broadcaster *events.Broadcaster
	metrics     *metrics.Metrics
}

// NewServer builds a Server wired to sessions for all business logic,
// broadcaster for the WebSocket upgrade route, and m for /metrics.
// broadcaster and m may be nil, in which case their routes are omitted.
func NewServer(sessions *services.SessionService, broadcaster *events.Broadcaster, m *metrics.Metrics) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(), securityHeaders())

	s := &Server{
		engine:      engine,
		sessions:    sessions,
		broadcaster: broadcaster,
		metrics:     m,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/api")
	api.POST("/forecasts", s.createForecastHandler)
	api.GET("/forecasts/:id", s.getForecastHandler)
	api.GET("/forecasts", s.listForecastsHandler)

	api.POST("/sessions/run", s.runSessionHandler)
	api.GET("/sessions/:id/status", s.sessionStatusHandler)
	api.POST("/sessions/:id/stop", s.stopSessionHandler)
	api.POST("/sessions/:id/complete", s.completeSessionHandler)
	api.GET("/sessions/:id/orderbook", s.orderbookHandler)

	if s.broadcaster != nil {
		api.GET("/ws", s.wsHandler)
	}
}

// Start runs the HTTP server on addr. Blocks until Shutdown is called or
// the listener fails.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(started).Milliseconds())
	}
}

// securityHeaders sets a small set of defensive response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
