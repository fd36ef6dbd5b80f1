package domain

import "time"

// NodeStatus represents the lifecycle status of a workflow node
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusReady     NodeStatus = "ready"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// IsTerminal reports whether the status can no longer change
func (s NodeStatus) IsTerminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed || s == NodeStatusSkipped
}

func (s NodeStatus) rank() int {
	switch s {
	case NodeStatusPending:
		return 0
	case NodeStatusReady:
		return 1
	case NodeStatusRunning:
		return 2
	default:
		return 3
	}
}

// CanTransition reports whether moving from s to next keeps the status monotonic.
func (s NodeStatus) CanTransition(next NodeStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// EdgeType represents how an edge gates its target
type EdgeType string

const (
	EdgeTypeSequential  EdgeType = "sequential"
	EdgeTypeParallel    EdgeType = "parallel"
	EdgeTypeConditional EdgeType = "conditional"
	EdgeTypeSynchronize EdgeType = "synchronize"
)

// Valid reports whether t is a known edge type
func (t EdgeType) Valid() bool {
	switch t {
	case EdgeTypeSequential, EdgeTypeParallel, EdgeTypeConditional, EdgeTypeSynchronize:
		return true
	}
	return false
}

// Condition is a predicate evaluated against a run's execution context.
type Condition interface {
	Evaluate(vars map[string]any) (bool, error)
}

// ConditionFunc adapts a plain function to Condition
type ConditionFunc func(vars map[string]any) (bool, error)

// Evaluate calls f(vars)
func (f ConditionFunc) Evaluate(vars map[string]any) (bool, error) {
	return f(vars)
}

// WorkflowNode is a unit of work bound to an agent
type WorkflowNode struct {
	ID              string        `json:"id"`
	AgentID         string        `json:"agent_id"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	Status          NodeStatus    `json:"status"`
	ContinueOnError bool          `json:"continue_on_error,omitempty"`
	Timeout         time.Duration `json:"timeout,omitempty"`
	ReadyAt         *time.Time    `json:"ready_at,omitempty"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	Output          string        `json:"output,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// WorkflowEdge is a directed dependency between two nodes
type WorkflowEdge struct {
	ID        string   `json:"id"`
	Source    string   `json:"source"`
	Target    string   `json:"target"`
	Type      EdgeType `json:"type"`
	Condition string   `json:"condition,omitempty"`
}

// ParallelBranch is a named group of nodes joined at a single node
type ParallelBranch struct {
	Name     string   `json:"name"`
	Members  []string `json:"members"`
	JoinNode string   `json:"join_node"`
}

// ExecutionGraph is a read-only view of a graph and its node statuses
type ExecutionGraph struct {
	Nodes    []WorkflowNode   `json:"nodes"`
	Edges    []WorkflowEdge   `json:"edges"`
	Branches []ParallelBranch `json:"parallel_branches,omitempty"`
}
