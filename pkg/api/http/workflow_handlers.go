package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/agentmesh/internal/application/swarm"
	"github.com/aescanero/agentmesh/pkg/domain"
)

// GraphSubmitRequest represents a graph submission request
type GraphSubmitRequest struct {
	Graph *domain.GraphDefinition `json:"graph" binding:"required"`
	Input string                  `json:"input"`
}

// SwarmSubmitRequest represents a swarm submission request
type SwarmSubmitRequest struct {
	Swarm *domain.SwarmDefinition `json:"swarm" binding:"required"`
	Input swarm.Input             `json:"input"`
}

// SubmitResponse represents a workflow submission response
type SubmitResponse struct {
	RunID       string         `json:"run_id"`
	Pattern     domain.Pattern `json:"pattern"`
	Status      string         `json:"status"`
	SubmittedAt string         `json:"submitted_at"`
}

// TuneRequest represents a swarm parameter change
type TuneRequest struct {
	Parameter string   `json:"parameter" binding:"required"`
	Value     *float64 `json:"value" binding:"required"`
}

// handleSubmitGraph handles graph submission
func (s *Server) handleSubmitGraph(c *gin.Context) {
	var req GraphSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		badRequest(c, err)
		return
	}

	runID, err := s.orchestrator.SubmitGraph(c.Request.Context(), req.Graph, req.Input)
	if err != nil {
		s.logger.Error("failed to submit graph", zap.Error(err))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SubmitResponse{
		RunID:       runID,
		Pattern:     domain.PatternGraph,
		Status:      "submitted",
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSubmitSwarm handles swarm submission
func (s *Server) handleSubmitSwarm(c *gin.Context) {
	var req SwarmSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		badRequest(c, err)
		return
	}

	runID, err := s.orchestrator.SubmitSwarm(c.Request.Context(), req.Swarm, req.Input)
	if err != nil {
		s.logger.Error("failed to submit swarm", zap.Error(err))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SubmitResponse{
		RunID:       runID,
		Pattern:     domain.PatternSwarm,
		Status:      "submitted",
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListWorkflows handles listing runs
func (s *Server) handleListWorkflows(c *gin.Context) {
	ids, err := s.orchestrator.ListRuns(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  ids,
		"total": len(ids),
	})
}

// handleGetWorkflow handles getting run details
func (s *Server) handleGetWorkflow(c *gin.Context) {
	snap, err := s.orchestrator.GetSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleDeleteWorkflow handles removing a finished run
func (s *Server) handleDeleteWorkflow(c *gin.Context) {
	if err := s.orchestrator.DeleteRun(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleGetStatus handles getting run status
func (s *Server) handleGetStatus(c *gin.Context) {
	state, err := s.orchestrator.GetState(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// handleGetResult handles getting run result
func (s *Server) handleGetResult(c *gin.Context) {
	runID := c.Param("id")

	result, err := s.orchestrator.GetResult(c.Request.Context(), runID)
	if err != nil {
		writeError(c, err)
		return
	}
	if result == nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_COMPLETED",
				Message: "Run has not completed yet",
				Details: gin.H{"run_id": runID},
			},
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleVisualize handles rendering a graph run
func (s *Server) handleVisualize(c *gin.Context) {
	format := c.DefaultQuery("format", "ascii")

	out, err := s.orchestrator.Visualize(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		writeError(c, err)
		return
	}

	switch format {
	case "json":
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(out))
	default:
		c.String(http.StatusOK, out)
	}
}

// handlePause handles pausing a run
func (s *Server) handlePause(c *gin.Context) {
	s.control(c, "paused", s.orchestrator.Pause)
}

// handleResume handles resuming a run
func (s *Server) handleResume(c *gin.Context) {
	s.control(c, "resumed", s.orchestrator.Resume)
}

// handleCancel handles cancelling a run
func (s *Server) handleCancel(c *gin.Context) {
	s.control(c, "cancelled", s.orchestrator.CancelExecution)
}

func (s *Server) control(c *gin.Context, action string, fn func(context.Context, string) error) {
	runID := c.Param("id")
	if err := fn(c.Request.Context(), runID); err != nil {
		s.logger.Warn("run control failed",
			zap.String("run_id", runID),
			zap.String("action", action),
			zap.Error(err))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": runID,
		"status": action,
	})
}

// handleSwarmMetrics handles per-participant swarm metrics
func (s *Server) handleSwarmMetrics(c *gin.Context) {
	metrics, err := s.orchestrator.GetSwarmMetrics(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": metrics})
}

// handleSwarmAnalytics handles swarm run analytics
func (s *Server) handleSwarmAnalytics(c *gin.Context) {
	analytics, err := s.orchestrator.GetAnalytics(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, analytics)
}

// handleHandoffGraph handles the realized handoff graph of a swarm run
func (s *Server) handleHandoffGraph(c *gin.Context) {
	g, err := s.orchestrator.GetHandoffGraph(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// handleGetParameters handles listing swarm routing parameters
func (s *Server) handleGetParameters(c *gin.Context) {
	params, err := s.orchestrator.GetParameters(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"parameters": params})
}

// handleGetParameter handles reading one swarm routing parameter
func (s *Server) handleGetParameter(c *gin.Context) {
	name := c.Param("name")

	value, err := s.orchestrator.GetParameter(c.Request.Context(), c.Param("id"), name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"parameter": name,
		"value":     value,
	})
}

// handleTuneParameter handles changing a swarm routing parameter
func (s *Server) handleTuneParameter(c *gin.Context) {
	var req TuneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := s.orchestrator.TuneParameter(c.Request.Context(), c.Param("id"), req.Parameter, *req.Value); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"parameter": req.Parameter,
		"value":     *req.Value,
	})
}
