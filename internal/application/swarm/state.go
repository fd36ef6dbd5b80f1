package swarm

import (
	"math"
	"time"

	"github.com/aescanero/agentmesh/pkg/domain"
)

// HandoffStep is one handoff attempted during the run
type HandoffStep struct {
	Sequence  int                  `json:"sequence"`
	Turn      int                  `json:"turn"`
	HandoffID string               `json:"handoff_id"`
	From      string               `json:"from"`
	To        string               `json:"to"`
	Score     float64              `json:"score"`
	Status    domain.HandoffStatus `json:"status"`
	Timestamp time.Time            `json:"timestamp"`
}

// HandoffGraphNode is a participant in the realized handoff graph
type HandoffGraphNode struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name,omitempty"`
	Turns   int    `json:"turns"`
}

// HandoffGraphEdge aggregates accepted handoffs between two participants
type HandoffGraphEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Count int    `json:"count"`
}

// HandoffGraph is the realized sequence of handoffs of a run
type HandoffGraph struct {
	Nodes []HandoffGraphNode `json:"nodes"`
	Edges []HandoffGraphEdge `json:"edges"`
	Steps []HandoffStep      `json:"steps"`
}

// Analytics summarizes a swarm run
type Analytics struct {
	RunID            string             `json:"run_id"`
	Status           domain.RunStatus   `json:"status"`
	CurrentAgent     string             `json:"current_agent,omitempty"`
	TotalTurns       int                `json:"total_turns"`
	FailedTurns      int                `json:"failed_turns"`
	TotalHandoffs    int                `json:"total_handoffs"`
	AcceptedHandoffs int                `json:"accepted_handoffs"`
	RejectedHandoffs int                `json:"rejected_handoffs"`
	AcceptanceRate   float64            `json:"acceptance_rate"`
	MostActiveAgent  string             `json:"most_active_agent,omitempty"`
	HandoffPaths     map[string]int     `json:"handoff_paths"`
	Parameters       map[string]float64 `json:"parameters"`
}

// Status returns the run status
func (o *Orchestrator) Status() domain.RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Result returns the terminal result, nil while the run is in progress
func (o *Orchestrator) Result() *domain.WorkflowResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

func (o *Orchestrator) turnCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turn
}

// GetSwarmMetrics returns per participant metrics in registration order
func (o *Orchestrator) GetSwarmMetrics() []domain.SwarmMetrics {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]domain.SwarmMetrics, 0, len(o.participants))
	for _, p := range o.participants {
		m := domain.SwarmMetrics{
			AgentID:           p.AgentID,
			Turns:             p.turns,
			FailedTurns:       p.failedTurns,
			HandoffsInitiated: p.initiated,
			HandoffsAccepted:  p.accepted,
			HandoffsRejected:  p.rejected,
			SuccessRate:       p.successRate(),
		}
		if p.turns > 0 {
			m.AverageLatency = p.totalLatency / time.Duration(p.turns)
		}
		out = append(out, m)
	}
	return out
}

// GetAnalytics aggregates the run metrics
func (o *Orchestrator) GetAnalytics() Analytics {
	o.mu.Lock()
	defer o.mu.Unlock()

	a := Analytics{
		RunID:        o.runID,
		Status:       o.status,
		CurrentAgent: o.current,
		HandoffPaths: make(map[string]int),
		Parameters:   o.params.Map(),
	}
	mostTurns := 0
	for _, p := range o.participants {
		a.TotalTurns += p.turns
		a.FailedTurns += p.failedTurns
		a.TotalHandoffs += p.initiated
		a.AcceptedHandoffs += p.accepted
		a.RejectedHandoffs += p.rejected
		if p.turns > mostTurns {
			mostTurns = p.turns
			a.MostActiveAgent = p.AgentID
		}
	}
	if a.TotalHandoffs > 0 {
		rate := float64(a.AcceptedHandoffs) / float64(a.TotalHandoffs)
		a.AcceptanceRate = math.Round(rate*1000) / 1000
	}
	for _, s := range o.steps {
		if s.Status == domain.HandoffStatusAccepted {
			a.HandoffPaths[s.From+"->"+s.To]++
		}
	}
	return a
}

// GetHandoffGraph returns the handoffs realized so far as a graph
func (o *Orchestrator) GetHandoffGraph() HandoffGraph {
	o.mu.Lock()
	defer o.mu.Unlock()

	g := HandoffGraph{
		Nodes: make([]HandoffGraphNode, 0, len(o.participants)),
		Edges: []HandoffGraphEdge{},
		Steps: append([]HandoffStep{}, o.steps...),
	}
	for _, p := range o.participants {
		g.Nodes = append(g.Nodes, HandoffGraphNode{AgentID: p.AgentID, Name: p.Name, Turns: p.turns})
	}

	index := make(map[[2]string]int)
	for _, s := range o.steps {
		if s.Status != domain.HandoffStatusAccepted {
			continue
		}
		key := [2]string{s.From, s.To}
		if i, ok := index[key]; ok {
			g.Edges[i].Count++
			continue
		}
		index[key] = len(g.Edges)
		g.Edges = append(g.Edges, HandoffGraphEdge{From: s.From, To: s.To, Count: 1})
	}
	return g
}

// GetExecutionState returns a point-in-time summary of the run
func (o *Orchestrator) GetExecutionState() domain.ExecutionState {
	o.mu.Lock()
	defer o.mu.Unlock()

	state := domain.ExecutionState{
		RunID:        o.runID,
		Pattern:      domain.PatternSwarm,
		Status:       o.status,
		CurrentAgent: o.current,
		MessageCount: len(o.messages),
	}
	for _, p := range o.participants {
		if p.turns > 0 {
			state.CompletedNodes = append(state.CompletedNodes, p.AgentID)
		}
		if p.failedTurns > 0 {
			state.FailedNodes = append(state.FailedNodes, p.AgentID)
		}
	}
	switch {
	case o.status.IsTerminal():
		state.ProgressPercentage = 100
	case o.params.MaxMessages > 0:
		state.ProgressPercentage = math.Min(100, float64(o.turn)/float64(o.params.MaxMessages)*100)
	}
	if o.started && !o.status.IsTerminal() && o.current != "" {
		state.RunningNodes = []string{o.current}
	}
	return state
}

// Snapshot returns the persisted record of the run
func (o *Orchestrator) Snapshot() *domain.RunSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	updated := o.finishedAt
	if updated.IsZero() {
		updated = o.now()
	}
	return &domain.RunSnapshot{
		RunID:     o.runID,
		Name:      o.cfg.Name,
		Pattern:   domain.PatternSwarm,
		Status:    o.status,
		Result:    o.result,
		CreatedAt: o.createdAt,
		UpdatedAt: updated,
	}
}
