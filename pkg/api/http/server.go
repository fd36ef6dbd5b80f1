package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aescanero/agentmesh/internal/application/handoff"
	"github.com/aescanero/agentmesh/internal/application/orchestrator"
	"github.com/aescanero/agentmesh/internal/application/workers"
	"github.com/aescanero/agentmesh/pkg/ports"
)

// PoolStatusProvider reports dispatch pool occupancy
type PoolStatusProvider interface {
	GetStatus() workers.PoolStatus
}

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	orchestrator *orchestrator.Manager
	handoffs     *handoff.Manager
	registry     ports.AgentRegistry
	pool         PoolStatusProvider
	handoffTTL   time.Duration
	logger       *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port         int
	Orchestrator *orchestrator.Manager
	Registry     ports.AgentRegistry
	Pool         PoolStatusProvider
	// Gatherer serves /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// HandoffTTL applies to handoffs initiated without a ttl.
	HandoffTTL time.Duration
	Logger     *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:       router,
		orchestrator: cfg.Orchestrator,
		handoffs:     cfg.Orchestrator.Handoffs(),
		registry:     cfg.Registry,
		pool:         cfg.Pool,
		handoffTTL:   cfg.HandoffTTL,
		logger:       logger,
	}

	metrics := promhttp.Handler()
	if cfg.Gatherer != nil {
		metrics = promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})
	}
	s.setupRoutes(metrics)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(metrics http.Handler) {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	s.router.GET("/metrics", gin.WrapH(metrics))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// Agent endpoints
		v1.POST("/agents", s.handleRegisterAgent)
		v1.GET("/agents", s.handleListAgents)
		v1.GET("/agents/:id", s.handleGetAgent)

		// Workflow endpoints
		v1.POST("/workflows/graph", s.handleSubmitGraph)
		v1.POST("/workflows/swarm", s.handleSubmitSwarm)
		v1.GET("/workflows", s.handleListWorkflows)
		v1.GET("/workflows/:id", s.handleGetWorkflow)
		v1.DELETE("/workflows/:id", s.handleDeleteWorkflow)
		v1.GET("/workflows/:id/status", s.handleGetStatus)
		v1.GET("/workflows/:id/result", s.handleGetResult)
		v1.GET("/workflows/:id/visualize", s.handleVisualize)
		v1.POST("/workflows/:id/pause", s.handlePause)
		v1.POST("/workflows/:id/resume", s.handleResume)
		v1.POST("/workflows/:id/cancel", s.handleCancel)

		// Swarm endpoints
		v1.GET("/workflows/:id/swarm/metrics", s.handleSwarmMetrics)
		v1.GET("/workflows/:id/swarm/analytics", s.handleSwarmAnalytics)
		v1.GET("/workflows/:id/swarm/handoff-graph", s.handleHandoffGraph)
		v1.GET("/workflows/:id/swarm/parameters", s.handleGetParameters)
		v1.GET("/workflows/:id/swarm/parameters/:name", s.handleGetParameter)
		v1.POST("/workflows/:id/swarm/tune", s.handleTuneParameter)

		// Handoff endpoints
		v1.POST("/handoffs/initiate", s.handleInitiateHandoff)
		v1.POST("/handoffs/respond/:id", s.handleRespondHandoff)
		v1.POST("/handoffs/:id/cancel", s.handleCancelHandoff)
		v1.GET("/handoffs/pending", s.handlePendingHandoffs)
		v1.GET("/handoffs/history", s.handleHandoffHistory)
		v1.GET("/handoffs/:id", s.handleGetHandoff)
		v1.GET("/handoffs/:id/audit", s.handleHandoffAudit)
	}
}

// SetupWebSocket adds WebSocket handler to the server
func (s *Server) SetupWebSocket(handler interface {
	HandleWorkflowStream(*gin.Context)
}) {
	s.router.GET("/api/v1/workflows/:id/ws", handler.HandleWorkflowStream)
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
