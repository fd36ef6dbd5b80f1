package ports

import (
	"context"
	"time"

	"github.com/aescanero/agentmesh/pkg/domain"
)

// AgentRequest is the input handed to an agent for a single node or turn
type AgentRequest struct {
	AgentID string
	Input   string
	Context map[string]any
}

// AgentOutput is what an agent produced
type AgentOutput struct {
	Content string
	Data    map[string]any
	// Tags label the produced task for swarm routing.
	Tags []string
	// Terminate asks a swarm to stop after this turn.
	Terminate bool
}

// AgentBackend executes agent work.
// Errors should wrap domain.ErrAgentUnavailable or domain.ErrAgentTimeout.
type AgentBackend interface {
	Execute(ctx context.Context, req AgentRequest) (*AgentOutput, error)
}

// AgentRegistry resolves agent ids
type AgentRegistry interface {
	Register(ctx context.Context, agent domain.AgentInfo) error
	GetAgent(ctx context.Context, agentID string) (*domain.AgentInfo, error)
	ListAgents(ctx context.Context) ([]domain.AgentInfo, error)
}

// EventHandler processes an event delivered by the bus
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes and subscribes to events
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// StateStorage persists run snapshots, one record per run
type StateStorage interface {
	SaveRun(ctx context.Context, run *domain.RunSnapshot) error
	GetRun(ctx context.Context, runID string) (*domain.RunSnapshot, error)
	ListRuns(ctx context.Context) ([]string, error)
	DeleteRun(ctx context.Context, runID string) error
}

// HandoffStore persists handoffs, one record per handoff
type HandoffStore interface {
	SaveHandoff(ctx context.Context, h *domain.Handoff) error
	GetHandoff(ctx context.Context, id string) (*domain.Handoff, error)
}

// ConditionCompiler turns an expression into a predicate
type ConditionCompiler interface {
	Compile(expr string) (domain.Condition, error)
}

// Dispatcher runs tasks, possibly bounded
type Dispatcher interface {
	Submit(task func()) error
}

// MetricsCollector records engine metrics
type MetricsCollector interface {
	RecordRunSubmitted(pattern string)
	RecordRunCompleted(pattern, status string, duration time.Duration)
	SetActiveRuns(count int)
	RecordNodeExecuted(status string, duration time.Duration)
	RecordHandoff(status string)
	RecordRoutingDecision(agentID string, score float64)
	RecordSwarmTurn(agentID string, success bool, duration time.Duration)
	RecordWorkerPoolStatus(capacity, running, free int)
}

// NopMetricsCollector discards all metrics
type NopMetricsCollector struct{}

func (NopMetricsCollector) RecordRunSubmitted(string) {}
func (NopMetricsCollector) RecordRunCompleted(string, string, time.Duration) {}
func (NopMetricsCollector) SetActiveRuns(int) {}
func (NopMetricsCollector) RecordNodeExecuted(string, time.Duration) {}
func (NopMetricsCollector) RecordHandoff(string) {}
func (NopMetricsCollector) RecordRoutingDecision(string, float64) {}
func (NopMetricsCollector) RecordSwarmTurn(string, bool, time.Duration) {}
func (NopMetricsCollector) RecordWorkerPoolStatus(int, int, int) {}
