package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/agentmesh/pkg/domain"
)

// AgentRegisterRequest represents an agent registration request
type AgentRegisterRequest struct {
	ID           string   `json:"id" binding:"required"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{
		"orchestrator": "ok",
		"active_runs":  s.orchestrator.ActiveRuns(),
	}

	status := "healthy"
	code := http.StatusOK
	if s.pool != nil {
		pool := s.pool.GetStatus()
		checks["workers"] = pool
		if pool.Closed {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleRegisterAgent handles agent registration
func (s *Server) handleRegisterAgent(c *gin.Context) {
	var req AgentRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		badRequest(c, err)
		return
	}

	agent := domain.AgentInfo{
		ID:           req.ID,
		Name:         req.Name,
		Capabilities: req.Capabilities,
	}
	if err := s.registry.Register(c.Request.Context(), agent); err != nil {
		s.logger.Error("failed to register agent", zap.String("agent_id", req.ID), zap.Error(err))
		writeError(c, err)
		return
	}

	registered, err := s.registry.GetAgent(c.Request.Context(), req.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, registered)
}

// handleListAgents handles listing registered agents
func (s *Server) handleListAgents(c *gin.Context) {
	agents, err := s.registry.ListAgents(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if agents == nil {
		agents = []domain.AgentInfo{}
	}

	c.JSON(http.StatusOK, gin.H{
		"agents": agents,
		"total":  len(agents),
	})
}

// handleGetAgent handles getting agent details
func (s *Server) handleGetAgent(c *gin.Context) {
	agent, err := s.registry.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}
