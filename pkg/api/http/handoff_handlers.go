package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/agentmesh/internal/application/handoff"
	"github.com/aescanero/agentmesh/pkg/domain"
)

// HandoffInitiateRequest represents a handoff proposal
type HandoffInitiateRequest struct {
	ConversationID string               `json:"conversation_id" binding:"required"`
	FromAgent      string               `json:"from_agent" binding:"required"`
	ToAgent        string               `json:"to_agent" binding:"required"`
	Reason         domain.HandoffReason `json:"reason"`
	Message        string               `json:"message"`
	Context        map[string]any       `json:"context"`
	Priority       int                  `json:"priority"`
	// TTLSeconds overrides the server default when set
	TTLSeconds *int `json:"ttl_seconds"`
}

// HandoffRespondRequest represents an accept or reject decision
type HandoffRespondRequest struct {
	AgentID  string `json:"agent_id" binding:"required"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

// HandoffCancelRequest represents a cancellation by the initiator
type HandoffCancelRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	Reason  string `json:"reason"`
}

// handleInitiateHandoff handles proposing a handoff
func (s *Server) handleInitiateHandoff(c *gin.Context) {
	var req HandoffInitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ttl := s.handoffTTL
	if req.TTLSeconds != nil {
		ttl = time.Duration(*req.TTLSeconds) * time.Second
	}
	reason := req.Reason
	if reason == "" {
		reason = domain.HandoffReasonManual
	}

	h, err := s.handoffs.Initiate(c.Request.Context(), handoff.InitiateRequest{
		ConversationID: req.ConversationID,
		FromAgent:      req.FromAgent,
		ToAgent:        req.ToAgent,
		Reason:         reason,
		Message:        req.Message,
		Context:        req.Context,
		Priority:       req.Priority,
		TTL:            ttl,
	})
	if err != nil {
		s.logger.Warn("failed to initiate handoff",
			zap.String("conversation_id", req.ConversationID),
			zap.String("to_agent", req.ToAgent),
			zap.Error(err))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, h)
}

// handleRespondHandoff handles accepting or rejecting a handoff
func (s *Server) handleRespondHandoff(c *gin.Context) {
	var req HandoffRespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	h, err := s.handoffs.Respond(c.Request.Context(), c.Param("id"), req.AgentID, req.Accepted, req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

// handleCancelHandoff handles withdrawing a pending handoff
func (s *Server) handleCancelHandoff(c *gin.Context) {
	var req HandoffCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	h, err := s.handoffs.Cancel(c.Request.Context(), c.Param("id"), req.AgentID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

// handlePendingHandoffs handles listing handoffs awaiting an agent
func (s *Server) handlePendingHandoffs(c *gin.Context) {
	agentID, ok := requireAgentQuery(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, handoffList(s.handoffs.GetPending(agentID)))
}

// handleHandoffHistory handles listing handoffs an agent took part in
func (s *Server) handleHandoffHistory(c *gin.Context) {
	agentID, ok := requireAgentQuery(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, handoffList(s.handoffs.GetHistory(agentID)))
}

// handleGetHandoff handles getting handoff details
func (s *Server) handleGetHandoff(c *gin.Context) {
	h, err := s.handoffs.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

// handleHandoffAudit handles getting the audit trail of a handoff
func (s *Server) handleHandoffAudit(c *gin.Context) {
	audit, err := s.handoffs.GetAuditTrail(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": audit})
}

func requireAgentQuery(c *gin.Context) (string, bool) {
	agentID := c.Query("agent_id")
	if agentID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: "agent_id query parameter is required",
			},
		})
		return "", false
	}
	return agentID, true
}

func handoffList(handoffs []*domain.Handoff) gin.H {
	if handoffs == nil {
		handoffs = []*domain.Handoff{}
	}
	return gin.H{
		"handoffs": handoffs,
		"total":    len(handoffs),
	}
}
