package domain

import "time"

// EventType identifies an event published on the event bus
type EventType string

const (
	EventTypeRunSubmitted    EventType = "run.submitted"
	EventTypeRunStarted      EventType = "run.started"
	EventTypeRunPaused       EventType = "run.paused"
	EventTypeRunResumed      EventType = "run.resumed"
	EventTypeRunCompleted    EventType = "run.completed"
	EventTypeRunFailed       EventType = "run.failed"
	EventTypeRunCancelled    EventType = "run.cancelled"
	EventTypeNodeStarted     EventType = "node.started"
	EventTypeNodeCompleted   EventType = "node.completed"
	EventTypeNodeFailed      EventType = "node.failed"
	EventTypeNodeSkipped     EventType = "node.skipped"
	EventTypeHandoffProposed EventType = "handoff.proposed"
	EventTypeHandoffAccepted EventType = "handoff.accepted"
	EventTypeHandoffRejected EventType = "handoff.rejected"
	EventTypeHandoffExpired  EventType = "handoff.expired"
	EventTypeHandoffCancel   EventType = "handoff.cancelled"
	EventTypeSwarmTurn       EventType = "swarm.turn"
)

// Event topics
const (
	TopicWorkflow = "workflow.events"
	TopicNode     = "node.events"
	TopicHandoff  = "handoff.events"
	TopicSwarm    = "swarm.events"
)

// Event is a notification about a run, node or handoff
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	HandoffID string         `json:"handoff_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}
