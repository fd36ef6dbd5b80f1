package domain

import "time"

// RunStatus represents the lifecycle status of a workflow run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run has finished
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// Pattern selects the orchestrator that drives a run
type Pattern string

const (
	PatternGraph Pattern = "graph"
	PatternSwarm Pattern = "swarm"
)

// Reason codes reported in WorkflowResult metadata
const (
	ReasonCompleted     = "completed"
	ReasonNodeFailed    = "node_failed"
	ReasonDeadlock      = "deadlock"
	ReasonCancelled     = "cancelled"
	ReasonTimeout       = "timeout"
	ReasonTerminated    = "terminated"
	ReasonMaxMessages   = "max_messages"
	ReasonNoEligible    = "no_eligible_participant"
	ReasonTurnFailed    = "turn_failed"
	ReasonHandoffFailed = "handoff_failed"
)

// Metadata keys used in WorkflowResult
const (
	MetaRunID       = "run_id"
	MetaPattern     = "pattern"
	MetaStatus      = "status"
	MetaReason      = "reason"
	MetaFailedNode  = "failed_node"
	MetaFailedTurn  = "failed_turn"
	MetaFailedAgent = "failed_agent"
	MetaError       = "error"
	MetaDuration    = "duration_ms"
	MetaContext     = "context"
)

// MessageType categorizes a message
type MessageType string

const (
	MessageTypeText      MessageType = "text"
	MessageTypeSystem    MessageType = "system"
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
)

// Message is a unit of conversation produced during a run
type Message struct {
	ID          string         `json:"id"`
	Type        MessageType    `json:"type"`
	Content     string         `json:"content"`
	SenderID    string         `json:"sender_id"`
	RecipientID string         `json:"recipient_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// WorkflowResult is the terminal outcome of a run
type WorkflowResult struct {
	Success        bool           `json:"success"`
	OutputMessages []Message      `json:"output_messages"`
	Metadata       map[string]any `json:"metadata"`
}

// Reason returns the reason code stored in the metadata
func (r *WorkflowResult) Reason() string {
	if r == nil {
		return ""
	}
	s, _ := r.Metadata[MetaReason].(string)
	return s
}

// ExecutionState is a point-in-time summary of a run
type ExecutionState struct {
	RunID              string    `json:"run_id"`
	Pattern            Pattern   `json:"pattern"`
	Status             RunStatus `json:"status"`
	ProgressPercentage float64   `json:"progress_percentage"`
	CompletedNodes     []string  `json:"completed_nodes"`
	RunningNodes       []string  `json:"running_nodes"`
	ReadyNodes         []string  `json:"ready_nodes"`
	FailedNodes        []string  `json:"failed_nodes"`
	SkippedNodes       []string  `json:"skipped_nodes"`
	CurrentAgent       string    `json:"current_agent,omitempty"`
	MessageCount       int       `json:"message_count,omitempty"`
}

// RunSnapshot is the persisted record of a run
type RunSnapshot struct {
	RunID     string           `json:"run_id"`
	Name      string           `json:"name,omitempty"`
	Pattern   Pattern          `json:"pattern"`
	Status    RunStatus        `json:"status"`
	Nodes     []WorkflowNode   `json:"nodes,omitempty"`
	Edges     []WorkflowEdge   `json:"edges,omitempty"`
	Branches  []ParallelBranch `json:"parallel_branches,omitempty"`
	Result    *WorkflowResult  `json:"result,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
