package graph

import (
	"github.com/aescanero/agentmesh/pkg/domain"
)

// Status returns the run status
func (o *Orchestrator) Status() domain.RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Result returns the terminal result, or nil while the run is active
func (o *Orchestrator) Result() *domain.WorkflowResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// GetExecutionState summarizes node statuses and progress
func (o *Orchestrator) GetExecutionState() domain.ExecutionState {
	o.mu.Lock()
	defer o.mu.Unlock()

	state := domain.ExecutionState{
		RunID:          o.runID,
		Pattern:        domain.PatternGraph,
		Status:         o.status,
		CompletedNodes: []string{},
		RunningNodes:   []string{},
		ReadyNodes:     []string{},
		FailedNodes:    []string{},
		SkippedNodes:   []string{},
	}

	terminal := 0
	for _, id := range o.order {
		switch o.nodes[id].Status {
		case domain.NodeStatusCompleted:
			state.CompletedNodes = append(state.CompletedNodes, id)
			terminal++
		case domain.NodeStatusFailed:
			state.FailedNodes = append(state.FailedNodes, id)
			terminal++
		case domain.NodeStatusSkipped:
			state.SkippedNodes = append(state.SkippedNodes, id)
			terminal++
		case domain.NodeStatusRunning:
			state.RunningNodes = append(state.RunningNodes, id)
		case domain.NodeStatusReady:
			state.ReadyNodes = append(state.ReadyNodes, id)
		}
	}
	if len(o.order) > 0 {
		state.ProgressPercentage = float64(terminal) * 100 / float64(len(o.order))
	}
	return state
}

// GetExecutionGraph returns a copy of the graph with current node statuses
func (o *Orchestrator) GetExecutionGraph() domain.ExecutionGraph {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.executionGraphLocked()
}

func (o *Orchestrator) executionGraphLocked() domain.ExecutionGraph {
	g := domain.ExecutionGraph{
		Nodes: make([]domain.WorkflowNode, 0, len(o.order)),
		Edges: make([]domain.WorkflowEdge, 0, len(o.edges)),
	}
	for _, id := range o.order {
		g.Nodes = append(g.Nodes, *o.nodes[id])
	}
	for _, e := range o.edges {
		g.Edges = append(g.Edges, e.WorkflowEdge)
	}
	for _, b := range o.branches {
		b.Members = append([]string(nil), b.Members...)
		g.Branches = append(g.Branches, b)
	}
	return g
}

// Snapshot returns the persisted representation of the run
func (o *Orchestrator) Snapshot() *domain.RunSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	g := o.executionGraphLocked()
	return &domain.RunSnapshot{
		RunID:     o.runID,
		Name:      o.name,
		Pattern:   domain.PatternGraph,
		Status:    o.status,
		Nodes:     g.Nodes,
		Edges:     g.Edges,
		Branches:  g.Branches,
		Result:    o.result,
		CreatedAt: o.createdAt,
		UpdatedAt: o.now(),
	}
}
