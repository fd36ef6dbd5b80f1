package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/agentmesh/pkg/domain"
	"github.com/aescanero/agentmesh/pkg/ports"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Context keys reserved by the orchestrator
const (
	VarInput = "input"
	VarNodes = "nodes"
)

type edgeResolution int

const (
	edgeUnresolved edgeResolution = iota
	edgeSatisfied
	edgeNegative
)

// nodeTask is a node marked running and waiting to be submitted
type nodeTask struct {
	nodeID string
	run    func()
}

// Execute runs the graph to completion.
// The returned error is reserved for misuse; node failures, deadlock,
// cancellation and timeouts are reported through the result.
func (o *Orchestrator) Execute(ctx context.Context, input string) (*domain.WorkflowResult, error) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: graph already executed", domain.ErrInvalidState)
	}
	if len(o.nodes) == 0 {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: graph has no nodes", domain.ErrInvalidState)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.started = true
	o.runCtx = runCtx
	o.runCancel = cancel
	o.input = input
	o.vars[VarInput] = input
	o.vars[VarNodes] = map[string]any{}
	o.startedAt = o.now()
	if !o.paused {
		o.status = domain.RunStatusRunning
	}
	o.emitLocked(domain.EventTypeRunStarted, "", map[string]any{"nodes": len(o.nodes)})
	o.mu.Unlock()

	o.logger.Info("graph run started",
		zap.String("run_id", o.runID),
		zap.Int("nodes", len(o.order)),
		zap.Int("edges", len(o.edges)))

	// Wake the loop when the run context ends.
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

	o.mu.Lock()
	o.loopLocked(runCtx)
	result := o.finishRunLocked()
	events := o.drainOutboxLocked()
	o.mu.Unlock()
	close(done)

	o.publish(events)

	o.logger.Info("graph run finished",
		zap.String("run_id", o.runID),
		zap.String("status", string(o.Status())),
		zap.String("reason", result.Reason()),
		zap.Duration("duration", o.finishedAt.Sub(o.startedAt)))

	return result, nil
}

// loopLocked is the scheduling loop. It must be called with mu held and
// returns with mu held once the run stopped and no node is in flight.
func (o *Orchestrator) loopLocked(runCtx context.Context) {
	cancelled := false
	for {
		if o.stopReason == "" {
			// Once the run is halting the graph is frozen: untouched nodes stay pending.
			var tasks []nodeTask
			if !o.haltingLocked() {
				o.resolveLocked()
				if !o.paused {
					tasks = o.dispatchLocked(runCtx)
				}
			}
			o.stopReason = o.checkStopLocked(runCtx)

			events := o.drainOutboxLocked()
			if len(tasks) > 0 || len(events) > 0 {
				o.mu.Unlock()
				o.publish(events)
				o.submit(tasks)
				o.mu.Lock()
				continue
			}
		}

		if o.stopReason != "" {
			if o.inFlight == 0 {
				return
			}
			if !cancelled {
				cancelled = true
				o.runCancel()
			}
		}

		if events := o.drainOutboxLocked(); len(events) > 0 {
			o.mu.Unlock()
			o.publish(events)
			o.mu.Lock()
			continue
		}
		o.cond.Wait()
	}
}

// haltingLocked reports whether the run is on its way to stopping
func (o *Orchestrator) haltingLocked() bool {
	if o.stopReason != "" || o.cancelRequested || o.failedNode != "" {
		return true
	}
	return o.runCtx != nil && o.runCtx.Err() != nil
}

// setStatusLocked moves node to next. Transitions that would move a node
// backwards or out of a terminal status are refused and logged.
func (o *Orchestrator) setStatusLocked(node *domain.WorkflowNode, next domain.NodeStatus) bool {
	if !node.Status.CanTransition(next) {
		o.logger.Error("refused node status transition",
			zap.String("run_id", o.runID),
			zap.String("node_id", node.ID),
			zap.String("from", string(node.Status)),
			zap.String("to", string(next)))
		return false
	}
	node.Status = next
	return true
}

// resolveLocked moves pending nodes to ready or skipped until nothing changes
func (o *Orchestrator) resolveLocked() {
	for changed := true; changed; {
		changed = false
		for _, id := range o.order {
			node := o.nodes[id]
			if node.Status != domain.NodeStatusPending {
				continue
			}
			switch o.decideLocked(id) {
			case domain.NodeStatusReady:
				now := o.now()
				o.setStatusLocked(node, domain.NodeStatusReady)
				node.ReadyAt = &now
				changed = true
			case domain.NodeStatusSkipped:
				o.skipLocked(node, "no incoming edge can be satisfied")
				changed = true
			}
		}
	}
}

// decideLocked returns ready, skipped or pending for a pending node.
// Sequential, parallel and synchronize edges must all be satisfied;
// conditional edges are alternatives of which one must be satisfied.
func (o *Orchestrator) decideLocked(id string) domain.NodeStatus {
	in := o.incoming[id]
	if len(in) == 0 {
		return domain.NodeStatusReady
	}

	requiredOK, requiredResolved := true, true
	hasConditional, conditionalOK, conditionalResolved := false, false, true

	for _, e := range in {
		res := o.edgeResolutionLocked(e)
		if e.Type == domain.EdgeTypeConditional {
			hasConditional = true
			switch res {
			case edgeSatisfied:
				conditionalOK = true
			case edgeUnresolved:
				conditionalResolved = false
			}
			continue
		}
		switch res {
		case edgeUnresolved:
			requiredOK = false
			requiredResolved = false
		case edgeNegative:
			requiredOK = false
		}
	}

	if requiredOK && (!hasConditional || conditionalOK) {
		return domain.NodeStatusReady
	}
	if requiredResolved && conditionalResolved {
		return domain.NodeStatusSkipped
	}
	return domain.NodeStatusPending
}

func (o *Orchestrator) edgeResolutionLocked(e *edge) edgeResolution {
	switch o.nodes[e.Source].Status {
	case domain.NodeStatusCompleted:
		if e.Type != domain.EdgeTypeConditional {
			return edgeSatisfied
		}
		if !e.evaluated {
			o.evaluateConditionLocked(e)
		}
		if e.satisfied {
			return edgeSatisfied
		}
		return edgeNegative
	case domain.NodeStatusFailed, domain.NodeStatusSkipped:
		return edgeNegative
	default:
		return edgeUnresolved
	}
}

// evaluateConditionLocked runs the edge predicate once against the current
// context. Evaluation errors resolve the edge negatively.
func (o *Orchestrator) evaluateConditionLocked(e *edge) {
	e.evaluated = true
	ok, err := e.cond.Evaluate(o.snapshotVarsLocked())
	if err != nil {
		o.logger.Warn("edge condition evaluation failed",
			zap.String("run_id", o.runID),
			zap.String("edge_id", e.ID),
			zap.Error(err))
		return
	}
	e.satisfied = ok
}

// dispatchLocked marks ready nodes running and returns their tasks
func (o *Orchestrator) dispatchLocked(runCtx context.Context) []nodeTask {
	var tasks []nodeTask
	for _, id := range o.order {
		node := o.nodes[id]
		if node.Status != domain.NodeStatusReady {
			continue
		}

		if !o.setStatusLocked(node, domain.NodeStatusRunning) {
			continue
		}
		now := o.now()
		node.StartedAt = &now
		o.inFlight++

		timeout := node.Timeout
		if timeout == 0 {
			timeout = o.nodeTimeout
		}
		req := ports.AgentRequest{
			AgentID: node.AgentID,
			Input:   o.input,
			Context: o.snapshotVarsLocked(),
		}
		nodeID := id
		tasks = append(tasks, nodeTask{
			nodeID: nodeID,
			run: func() {
				o.runNode(runCtx, nodeID, timeout, req)
			},
		})
		o.emitLocked(domain.EventTypeNodeStarted, nodeID, map[string]any{"agent_id": node.AgentID})
	}
	return tasks
}

// submit hands tasks to the dispatcher; rejected tasks fail their node
func (o *Orchestrator) submit(tasks []nodeTask) {
	for _, t := range tasks {
		if err := o.dispatcher.Submit(t.run); err != nil {
			o.mu.Lock()
			o.completeLocked(t.nodeID, nil, fmt.Errorf("failed to dispatch node: %w", err))
			o.mu.Unlock()
		}
	}
}

// runNode executes one node against the backend and records the outcome
func (o *Orchestrator) runNode(runCtx context.Context, nodeID string, timeout time.Duration, req ports.AgentRequest) {
	recorded := false
	defer func() {
		if r := recover(); r != nil && !recorded {
			o.logger.Error("node backend panicked",
				zap.String("run_id", o.runID),
				zap.String("node_id", nodeID),
				zap.Any("panic", r))
			o.metrics.RecordNodeExecuted(string(domain.NodeStatusFailed), 0)
			o.mu.Lock()
			o.completeLocked(nodeID, nil, fmt.Errorf("%w: node %s panicked: %v", domain.ErrAgentUnavailable, nodeID, r))
			o.mu.Unlock()
		}
	}()

	ctx := runCtx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}

	ctx, span := o.tracer.Start(ctx, "graph.node", trace.WithAttributes(
		attribute.String("run.id", o.runID),
		attribute.String("node.id", nodeID),
		attribute.String("agent.id", req.AgentID),
	))
	defer span.End()

	start := o.now()
	out, err := o.backend.Execute(ctx, req)
	duration := o.now().Sub(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && runCtx.Err() == nil && !errors.Is(err, domain.ErrAgentTimeout) {
			err = fmt.Errorf("%w: node %s exceeded %s: %v", domain.ErrAgentTimeout, nodeID, timeout, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.RecordNodeExecuted(string(domain.NodeStatusFailed), duration)
	} else {
		if out == nil {
			out = &ports.AgentOutput{}
		}
		o.metrics.RecordNodeExecuted(string(domain.NodeStatusCompleted), duration)
	}

	recorded = true
	o.mu.Lock()
	o.completeLocked(nodeID, out, err)
	o.mu.Unlock()
}

// completeLocked records a node result and wakes the loop
func (o *Orchestrator) completeLocked(nodeID string, out *ports.AgentOutput, err error) {
	defer o.cond.Broadcast()

	node := o.nodes[nodeID]
	o.inFlight--
	now := o.now()
	node.CompletedAt = &now

	if o.haltingLocked() {
		o.skipLocked(node, "result discarded, run stopped")
		return
	}

	if err != nil {
		o.setStatusLocked(node, domain.NodeStatusFailed)
		node.Error = err.Error()
		o.emitLocked(domain.EventTypeNodeFailed, nodeID, map[string]any{"error": err.Error()})
		if !node.ContinueOnError && o.failedNode == "" {
			o.failedNode = nodeID
		}
		o.logger.Warn("node failed",
			zap.String("run_id", o.runID),
			zap.String("node_id", nodeID),
			zap.Bool("continue_on_error", node.ContinueOnError),
			zap.Error(err))
		return
	}

	o.setStatusLocked(node, domain.NodeStatusCompleted)
	node.Output = out.Content
	o.mergeLocked(node, out)

	// Conditions observe the context as it stands when their source completes.
	for _, e := range o.outgoing[nodeID] {
		if e.Type == domain.EdgeTypeConditional && !e.evaluated {
			o.evaluateConditionLocked(e)
		}
	}

	o.messages = append(o.messages, domain.Message{
		ID:        uuid.New().String(),
		Type:      domain.MessageTypeAssistant,
		Content:   out.Content,
		SenderID:  node.AgentID,
		Metadata:  map[string]any{"node_id": nodeID},
		Timestamp: now,
	})
	o.emitLocked(domain.EventTypeNodeCompleted, nodeID, map[string]any{"output": out.Content})
}

// mergeLocked adds node output to the context without overwriting keys.
// Colliding keys are namespaced as "<node>.<key>".
func (o *Orchestrator) mergeLocked(node *domain.WorkflowNode, out *ports.AgentOutput) {
	prev, _ := o.vars[VarNodes].(map[string]any)
	nodes := make(map[string]any, len(prev)+1)
	for k, v := range prev {
		nodes[k] = v
	}
	nodes[node.ID] = map[string]any{
		"output":   out.Content,
		"agent_id": node.AgentID,
		"data":     copyMap(out.Data),
	}
	o.vars[VarNodes] = nodes

	for k, v := range out.Data {
		if _, exists := o.vars[k]; exists {
			o.vars[node.ID+"."+k] = v
			continue
		}
		o.vars[k] = v
	}
}

func (o *Orchestrator) skipLocked(node *domain.WorkflowNode, reason string) {
	if !o.setStatusLocked(node, domain.NodeStatusSkipped) {
		return
	}
	if node.Error == "" {
		node.Error = reason
	}
	o.emitLocked(domain.EventTypeNodeSkipped, node.ID, map[string]any{"reason": reason})
}

// checkStopLocked returns the reason the run must stop, or ""
func (o *Orchestrator) checkStopLocked(runCtx context.Context) string {
	if o.cancelRequested {
		return domain.ReasonCancelled
	}
	if err := runCtx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.ReasonTimeout
		}
		return domain.ReasonCancelled
	}
	if o.failedNode != "" {
		return domain.ReasonNodeFailed
	}

	allTerminal, anyReady := true, false
	for _, id := range o.order {
		st := o.nodes[id].Status
		if !st.IsTerminal() {
			allTerminal = false
		}
		if st == domain.NodeStatusReady {
			anyReady = true
		}
	}
	if allTerminal {
		return domain.ReasonCompleted
	}
	if o.inFlight == 0 && !anyReady && !o.paused {
		return domain.ReasonDeadlock
	}
	return ""
}

// finishRunLocked builds the terminal result
func (o *Orchestrator) finishRunLocked() *domain.WorkflowResult {
	o.finishedAt = o.now()

	var eventType domain.EventType
	switch o.stopReason {
	case domain.ReasonCompleted:
		o.status = domain.RunStatusCompleted
		eventType = domain.EventTypeRunCompleted
	case domain.ReasonCancelled:
		o.status = domain.RunStatusCancelled
		eventType = domain.EventTypeRunCancelled
	default:
		o.status = domain.RunStatusFailed
		eventType = domain.EventTypeRunFailed
	}

	meta := map[string]any{
		domain.MetaRunID:    o.runID,
		domain.MetaPattern:  string(domain.PatternGraph),
		domain.MetaStatus:   string(o.status),
		domain.MetaReason:   o.stopReason,
		domain.MetaDuration: o.finishedAt.Sub(o.startedAt).Milliseconds(),
		domain.MetaContext:  o.snapshotVarsLocked(),
	}
	if o.failedNode != "" {
		meta[domain.MetaFailedNode] = o.failedNode
		meta[domain.MetaError] = o.nodes[o.failedNode].Error
	}
	if o.stopReason == domain.ReasonDeadlock {
		meta[domain.MetaError] = "no node can make progress"
	}

	o.result = &domain.WorkflowResult{
		Success:        o.stopReason == domain.ReasonCompleted,
		OutputMessages: append([]domain.Message(nil), o.messages...),
		Metadata:       meta,
	}
	o.emitLocked(eventType, "", map[string]any{"reason": o.stopReason})
	return o.result
}

// snapshotVarsLocked returns a shallow copy of the execution context.
// The nodes namespace is replaced on every merge, so sharing it is safe.
func (o *Orchestrator) snapshotVarsLocked() map[string]any {
	return copyMap(o.vars)
}

func (o *Orchestrator) emitLocked(t domain.EventType, nodeID string, data map[string]any) {
	if o.events == nil {
		return
	}
	o.outbox = append(o.outbox, domain.Event{
		ID:        uuid.New().String(),
		Type:      t,
		RunID:     o.runID,
		NodeID:    nodeID,
		Timestamp: o.now(),
		Data:      data,
	})
}

func (o *Orchestrator) drainOutboxLocked() []domain.Event {
	events := o.outbox
	o.outbox = nil
	return events
}

// publish sends events outside the run lock
func (o *Orchestrator) publish(events []domain.Event) {
	for _, ev := range events {
		topic := domain.TopicWorkflow
		if ev.NodeID != "" {
			topic = domain.TopicNode
		}
		if err := o.events.Publish(context.Background(), topic, ev); err != nil {
			o.logger.Error("failed to publish event",
				zap.String("run_id", o.runID),
				zap.String("event_type", string(ev.Type)),
				zap.Error(err))
		}
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
