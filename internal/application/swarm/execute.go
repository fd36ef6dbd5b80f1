package swarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/agentmesh/internal/application/handoff"
	"github.com/aescanero/agentmesh/pkg/domain"
	"github.com/aescanero/agentmesh/pkg/ports"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Context keys passed to every turn
const (
	VarInput      = "input"
	VarLastOutput = "last_output"
	VarLastAgent  = "last_agent"
	VarTurn       = "turn"
)

// outcome describes why the turn loop ended
type outcome struct {
	reason      string
	failedTurn  int
	failedAgent string
	err         error
}

// Execute runs the swarm until a termination criterion is met.
// The returned error is reserved for misuse; turn and handoff failures,
// cancellation and timeouts are reported through the result.
func (o *Orchestrator) Execute(ctx context.Context, input Input) (*domain.WorkflowResult, error) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: swarm already executed", domain.ErrInvalidState)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.started = true
	o.runCancel = cancel
	o.startedAt = o.now()
	if !o.paused {
		o.status = domain.RunStatusRunning
	}
	o.vars[VarInput] = input.Content
	tags := append([]string(nil), input.Tags...)

	if o.cfg.StartAgent != "" {
		o.current = o.cfg.StartAgent
	} else {
		best := o.bestLocked(tags)
		o.current = best.p.AgentID
		o.metrics.RecordRoutingDecision(best.p.AgentID, best.score)
	}
	start := o.current
	if o.cancelRequested {
		cancel()
	}
	o.mu.Unlock()

	o.emit(domain.TopicWorkflow, domain.EventTypeRunStarted, map[string]any{
		"pattern":      string(domain.PatternSwarm),
		"start_agent":  start,
		"participants": len(o.participants),
	})
	o.logger.Info("swarm run started",
		zap.String("run_id", o.runID),
		zap.String("conversation_id", o.cfg.ConversationID),
		zap.String("start_agent", start),
		zap.Int("participants", len(o.participants)))

	// Wake a paused loop when the run context ends.
	done := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			o.mu.Lock()
			o.cond.Broadcast()
			o.mu.Unlock()
		case <-done:
		}
	}()

	out := o.loop(runCtx, input.Content, tags)
	close(done)

	o.mu.Lock()
	result := o.finishLocked(out)
	status := o.status
	duration := o.finishedAt.Sub(o.startedAt)
	o.mu.Unlock()

	o.emit(domain.TopicWorkflow, runEventType(status), map[string]any{"reason": out.reason})
	o.logger.Info("swarm run finished",
		zap.String("run_id", o.runID),
		zap.String("status", string(status)),
		zap.String("reason", out.reason),
		zap.Int("turns", o.turnCount()),
		zap.Duration("duration", duration))

	return result, nil
}

// loop runs turns and handoffs until the run stops
func (o *Orchestrator) loop(runCtx context.Context, content string, tags []string) outcome {
	for {
		o.mu.Lock()
		for o.paused && !o.cancelRequested && runCtx.Err() == nil {
			o.cond.Wait()
		}
		if stop, ok := o.interruptedLocked(runCtx); ok {
			o.mu.Unlock()
			return stop
		}
		if o.turn >= o.params.MaxMessages {
			o.mu.Unlock()
			return outcome{reason: domain.ReasonMaxMessages}
		}
		o.turn++
		turn := o.turn
		agentID := o.current
		req := ports.AgentRequest{
			AgentID: agentID,
			Input:   content,
			Context: o.turnContextLocked(turn),
		}
		o.mu.Unlock()

		out, latency, err := o.runTurn(runCtx, turn, req)

		o.mu.Lock()
		if stop, ok := o.interruptedLocked(runCtx); ok {
			o.mu.Unlock()
			return stop
		}
		o.byID[agentID].recordTurn(latency, err != nil)
		if err != nil {
			o.mu.Unlock()
			o.emitTurn(turn, agentID, latency, err)
			return outcome{reason: domain.ReasonTurnFailed, failedTurn: turn, failedAgent: agentID, err: err}
		}
		o.recordOutputLocked(turn, agentID, out)
		if len(out.Tags) > 0 {
			tags = append([]string(nil), out.Tags...)
		}
		var stop *outcome
		switch {
		case out.Terminate:
			stop = &outcome{reason: domain.ReasonTerminated}
		case o.turn >= o.params.MaxMessages:
			stop = &outcome{reason: domain.ReasonMaxMessages}
		}
		var candidates []candidate
		if stop == nil {
			candidates = o.rankLocked(agentID, tags)
		}
		o.mu.Unlock()

		o.emitTurn(turn, agentID, latency, nil)
		if stop != nil {
			return *stop
		}
		if len(candidates) == 0 {
			return outcome{reason: domain.ReasonNoEligible}
		}

		next, err := o.handOff(runCtx, turn, agentID, candidates, out.Content)
		if err != nil {
			o.mu.Lock()
			stop, ok := o.interruptedLocked(runCtx)
			o.mu.Unlock()
			if ok {
				return stop
			}
			return outcome{reason: domain.ReasonHandoffFailed, failedTurn: turn, failedAgent: agentID, err: err}
		}
		if next == "" {
			return outcome{reason: domain.ReasonNoEligible}
		}

		o.mu.Lock()
		o.current = next
		o.mu.Unlock()
		content = out.Content
	}
}

// interruptedLocked reports whether the run was cancelled or timed out
func (o *Orchestrator) interruptedLocked(runCtx context.Context) (outcome, bool) {
	if o.cancelRequested {
		return outcome{reason: domain.ReasonCancelled}, true
	}
	if err := runCtx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return outcome{reason: domain.ReasonTimeout, err: err}, true
		}
		return outcome{reason: domain.ReasonCancelled}, true
	}
	return outcome{}, false
}

// runTurn executes the current agent against the backend
func (o *Orchestrator) runTurn(runCtx context.Context, turn int, req ports.AgentRequest) (*ports.AgentOutput, time.Duration, error) {
	ctx := runCtx
	if o.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(runCtx, o.cfg.TurnTimeout)
		defer cancel()
	}

	ctx, span := o.tracer.Start(ctx, "swarm.turn", trace.WithAttributes(
		attribute.String("run.id", o.runID),
		attribute.String("agent.id", req.AgentID),
		attribute.Int("swarm.turn", turn),
	))
	defer span.End()

	start := o.now()
	out, err := o.callBackend(ctx, turn, req)
	latency := o.now().Sub(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && runCtx.Err() == nil && !errors.Is(err, domain.ErrAgentTimeout) {
			err = fmt.Errorf("%w: turn %d of %s exceeded %s: %v", domain.ErrAgentTimeout, turn, req.AgentID, o.cfg.TurnTimeout, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if out == nil {
		out = &ports.AgentOutput{}
	}
	o.metrics.RecordSwarmTurn(req.AgentID, err == nil, latency)
	return out, latency, err
}

// callBackend runs the backend, turning a panic into a turn failure
func (o *Orchestrator) callBackend(ctx context.Context, turn int, req ports.AgentRequest) (out *ports.AgentOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("agent backend panicked",
				zap.String("run_id", o.runID),
				zap.String("agent_id", req.AgentID),
				zap.Int("turn", turn),
				zap.Any("panic", r))
			out, err = nil, fmt.Errorf("%w: turn %d of %s panicked: %v", domain.ErrAgentUnavailable, turn, req.AgentID, r)
		}
	}()
	return o.backend.Execute(ctx, req)
}

// handOff offers control to candidates in order and returns the agent
// that accepted. An empty id means every candidate declined.
func (o *Orchestrator) handOff(ctx context.Context, turn int, from string, candidates []candidate, content string) (string, error) {
	for _, c := range candidates {
		to := c.p.AgentID
		h, err := o.handoffs.Initiate(ctx, handoff.InitiateRequest{
			ConversationID: o.cfg.ConversationID,
			FromAgent:      from,
			ToAgent:        to,
			Reason:         domain.HandoffReasonExpertiseRequired,
			Message:        content,
			Context: map[string]any{
				"run_id": o.runID,
				"turn":   turn,
				"score":  c.score,
			},
			TTL: o.cfg.HandoffTTL,
		})
		if errors.Is(err, domain.ErrConflict) {
			o.logger.Warn("handoff target busy, trying next candidate",
				zap.String("run_id", o.runID),
				zap.String("to_agent", to),
				zap.Error(err))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to initiate handoff to %s: %w", to, err)
		}
		id := h.ID

		o.mu.Lock()
		o.byID[from].initiated++
		o.mu.Unlock()

		var resolved *domain.Handoff
		if o.autoAcceptFor(c.p) {
			resolved, err = o.handoffs.Respond(ctx, id, to, true, "auto-accepted")
		} else {
			resolved, err = o.handoffs.Await(ctx, id)
		}
		if err != nil {
			if ctx.Err() != nil {
				if _, cerr := o.handoffs.Cancel(context.Background(), id, from, "swarm run stopped"); cerr != nil {
					o.logger.Debug("failed to withdraw handoff", zap.String("handoff_id", id), zap.Error(cerr))
				}
				return "", ctx.Err()
			}
			if !errors.Is(err, domain.ErrInvalidState) {
				return "", fmt.Errorf("failed to resolve handoff %s: %w", id, err)
			}
			// Another actor resolved it first.
			if resolved, err = o.handoffs.Get(id); err != nil {
				return "", fmt.Errorf("failed to load handoff %s: %w", id, err)
			}
		}

		o.mu.Lock()
		o.steps = append(o.steps, HandoffStep{
			Sequence:  len(o.steps) + 1,
			Turn:      turn,
			HandoffID: id,
			From:      from,
			To:        to,
			Score:     c.score,
			Status:    resolved.Status,
			Timestamp: o.now(),
		})
		switch resolved.Status {
		case domain.HandoffStatusAccepted:
			c.p.accepted++
		case domain.HandoffStatusRejected:
			c.p.rejected++
		}
		o.mu.Unlock()

		if resolved.Status == domain.HandoffStatusAccepted {
			o.metrics.RecordRoutingDecision(to, c.score)
			o.logger.Info("swarm handoff accepted",
				zap.String("run_id", o.runID),
				zap.String("from_agent", from),
				zap.String("to_agent", to),
				zap.Float64("score", c.score))
			return to, nil
		}
		o.logger.Info("swarm handoff declined",
			zap.String("run_id", o.runID),
			zap.String("to_agent", to),
			zap.String("status", string(resolved.Status)))
	}
	return "", nil
}

// turnContextLocked builds the context handed to the next turn
func (o *Orchestrator) turnContextLocked(turn int) map[string]any {
	c := make(map[string]any, len(o.vars)+1)
	for k, v := range o.vars {
		c[k] = v
	}
	c[VarTurn] = turn
	return c
}

// recordOutputLocked appends the turn message and merges its data
func (o *Orchestrator) recordOutputLocked(turn int, agentID string, out *ports.AgentOutput) {
	o.messages = append(o.messages, domain.Message{
		ID:        uuid.New().String(),
		Type:      domain.MessageTypeAssistant,
		Content:   out.Content,
		SenderID:  agentID,
		Metadata:  map[string]any{"turn": turn},
		Timestamp: o.now(),
	})
	for k, v := range out.Data {
		switch k {
		case VarInput, VarLastOutput, VarLastAgent, VarTurn:
			o.vars[agentID+"."+k] = v
		default:
			o.vars[k] = v
		}
	}
	o.vars[VarLastOutput] = out.Content
	o.vars[VarLastAgent] = agentID
}

// finishLocked builds the terminal result
func (o *Orchestrator) finishLocked(out outcome) *domain.WorkflowResult {
	o.finishedAt = o.now()

	success := false
	switch out.reason {
	case domain.ReasonTerminated, domain.ReasonMaxMessages, domain.ReasonNoEligible:
		o.status = domain.RunStatusCompleted
		success = true
	case domain.ReasonCancelled:
		o.status = domain.RunStatusCancelled
	default:
		o.status = domain.RunStatusFailed
	}

	meta := map[string]any{
		domain.MetaRunID:    o.runID,
		domain.MetaPattern:  string(domain.PatternSwarm),
		domain.MetaStatus:   string(o.status),
		domain.MetaReason:   out.reason,
		domain.MetaDuration: o.finishedAt.Sub(o.startedAt).Milliseconds(),
		domain.MetaContext:  copyMap(o.vars),
		"turns":             o.turn,
		"handoffs":          len(o.steps),
		"final_agent":       o.current,
	}
	if out.failedAgent != "" {
		meta[domain.MetaFailedTurn] = out.failedTurn
		meta[domain.MetaFailedAgent] = out.failedAgent
	}
	if out.err != nil {
		meta[domain.MetaError] = out.err.Error()
	}

	o.result = &domain.WorkflowResult{
		Success:        success,
		OutputMessages: append([]domain.Message(nil), o.messages...),
		Metadata:       meta,
	}
	return o.result
}

func (o *Orchestrator) emitTurn(turn int, agentID string, latency time.Duration, err error) {
	data := map[string]any{
		"turn":       turn,
		"agent_id":   agentID,
		"success":    err == nil,
		"latency_ms": latency.Milliseconds(),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	o.emit(domain.TopicSwarm, domain.EventTypeSwarmTurn, data)
}

// emit publishes an event. It must be called without mu held.
func (o *Orchestrator) emit(topic string, t domain.EventType, data map[string]any) {
	if o.events == nil {
		return
	}
	ev := domain.Event{
		ID:        uuid.New().String(),
		Type:      t,
		RunID:     o.runID,
		Timestamp: o.now(),
		Data:      data,
	}
	if err := o.events.Publish(context.Background(), topic, ev); err != nil {
		o.logger.Error("failed to publish event",
			zap.String("run_id", o.runID),
			zap.String("event_type", string(t)),
			zap.Error(err))
	}
}

func runEventType(s domain.RunStatus) domain.EventType {
	switch s {
	case domain.RunStatusCompleted:
		return domain.EventTypeRunCompleted
	case domain.RunStatusCancelled:
		return domain.EventTypeRunCancelled
	default:
		return domain.EventTypeRunFailed
	}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
