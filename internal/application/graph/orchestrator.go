package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/agentmesh/pkg/domain"
	"github.com/aescanero/agentmesh/pkg/ports"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/aescanero/agentmesh/graph"

// edge is a WorkflowEdge plus its compiled predicate and resolution cache
type edge struct {
	domain.WorkflowEdge
	cond domain.Condition

	// evaluated is set once the conditional predicate ran against the
	// context produced by the completed source.
	evaluated bool
	satisfied bool
}

// Orchestrator builds and executes a single workflow graph
type Orchestrator struct {
	runID       string
	name        string
	backend     ports.AgentBackend
	dispatcher  ports.Dispatcher
	events      ports.EventBus
	metrics     ports.MetricsCollector
	logger      *zap.Logger
	tracer      trace.Tracer
	nodeTimeout time.Duration
	now         func() time.Time

	mu       sync.Mutex
	cond     *sync.Cond
	nodes    map[string]*domain.WorkflowNode
	order    []string
	edges    []*edge
	edgeIDs  map[string]struct{}
	incoming map[string][]*edge
	outgoing map[string][]*edge
	branches []domain.ParallelBranch

	// Run state, guarded by mu
	status          domain.RunStatus
	started         bool
	paused          bool
	cancelRequested bool
	stopReason      string
	failedNode      string
	inFlight        int
	vars            map[string]any
	input           string
	messages        []domain.Message
	outbox          []domain.Event
	result          *domain.WorkflowResult
	runCtx          context.Context
	runCancel       func()
	createdAt       time.Time
	startedAt       time.Time
	finishedAt      time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithRunID sets the run id reported in events and results
func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// WithName sets the workflow name
func WithName(name string) Option {
	return func(o *Orchestrator) { o.name = name }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithDispatcher sets the dispatcher used to run nodes
func WithDispatcher(d ports.Dispatcher) Option {
	return func(o *Orchestrator) { o.dispatcher = d }
}

// WithEventBus sets the bus receiving run and node events
func WithEventBus(b ports.EventBus) Option {
	return func(o *Orchestrator) { o.events = b }
}

// WithMetrics sets the metrics collector
func WithMetrics(m ports.MetricsCollector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithNodeTimeout sets the default per-node deadline.
// Zero disables it.
func WithNodeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.nodeTimeout = d }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NodeOption configures a node
type NodeOption func(*domain.WorkflowNode)

// WithContinueOnError lets the run proceed when the node fails
func WithContinueOnError() NodeOption {
	return func(n *domain.WorkflowNode) { n.ContinueOnError = true }
}

// WithTimeout overrides the run's node deadline for this node
func WithTimeout(d time.Duration) NodeOption {
	return func(n *domain.WorkflowNode) { n.Timeout = d }
}

// New creates an empty graph orchestrator
func New(backend ports.AgentBackend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runID:      uuid.New().String(),
		backend:    backend,
		dispatcher: goDispatcher{},
		metrics:    ports.NopMetricsCollector{},
		logger:     zap.NewNop(),
		now:        time.Now,
		nodes:      make(map[string]*domain.WorkflowNode),
		edgeIDs:    make(map[string]struct{}),
		incoming:   make(map[string][]*edge),
		outgoing:   make(map[string][]*edge),
		vars:       make(map[string]any),
		status:     domain.RunStatusPending,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.tracer = otel.Tracer(tracerName)
	o.cond = sync.NewCond(&o.mu)
	o.createdAt = o.now()
	return o
}

// RunID returns the run id
func (o *Orchestrator) RunID() string {
	return o.runID
}

// AddNode adds a node bound to agentID
func (o *Orchestrator) AddNode(id, agentID, name, description string, opts ...NodeOption) error {
	if id == "" {
		return fmt.Errorf("%w: node id is required", domain.ErrInvalidParameter)
	}
	if agentID == "" {
		return fmt.Errorf("%w: node %s has no agent", domain.ErrInvalidParameter, id)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return fmt.Errorf("%w: graph is already executing", domain.ErrInvalidState)
	}
	if _, exists := o.nodes[id]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateNode, id)
	}

	node := &domain.WorkflowNode{
		ID:          id,
		AgentID:     agentID,
		Name:        name,
		Description: description,
		Status:      domain.NodeStatusPending,
	}
	for _, opt := range opts {
		opt(node)
	}

	o.nodes[id] = node
	o.order = append(o.order, id)
	return nil
}

// AddEdge adds a directed edge from source to target.
// cond is required for conditional edges and rejected for the other types.
func (o *Orchestrator) AddEdge(id, source, target string, edgeType domain.EdgeType, cond domain.Condition) error {
	if id == "" {
		return fmt.Errorf("%w: edge id is required", domain.ErrInvalidEdge)
	}
	if !edgeType.Valid() {
		return fmt.Errorf("%w: unknown edge type %q", domain.ErrInvalidEdge, edgeType)
	}
	if edgeType == domain.EdgeTypeConditional && cond == nil {
		return fmt.Errorf("%w: conditional edge %s has no condition", domain.ErrInvalidEdge, id)
	}
	if edgeType != domain.EdgeTypeConditional && cond != nil {
		return fmt.Errorf("%w: %s edge %s cannot carry a condition", domain.ErrInvalidEdge, edgeType, id)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return fmt.Errorf("%w: graph is already executing", domain.ErrInvalidState)
	}
	if _, exists := o.edgeIDs[id]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateEdge, id)
	}
	if _, ok := o.nodes[source]; !ok {
		return fmt.Errorf("%w: edge %s source %s", domain.ErrUnknownNode, id, source)
	}
	if _, ok := o.nodes[target]; !ok {
		return fmt.Errorf("%w: edge %s target %s", domain.ErrUnknownNode, id, target)
	}
	if source == target || o.reachableLocked(target, source) {
		return fmt.Errorf("%w: edge %s from %s to %s", domain.ErrCycle, id, source, target)
	}

	e := &edge{
		WorkflowEdge: domain.WorkflowEdge{
			ID:     id,
			Source: source,
			Target: target,
			Type:   edgeType,
		},
		cond: cond,
	}
	if s, ok := cond.(fmt.Stringer); ok {
		e.Condition = s.String()
	}

	o.edges = append(o.edges, e)
	o.edgeIDs[id] = struct{}{}
	o.outgoing[source] = append(o.outgoing[source], e)
	o.incoming[target] = append(o.incoming[target], e)
	return nil
}

// AddParallelBranch records a named fan-out group joined at join.
// Branches are informational; readiness comes from the edges alone.
func (o *Orchestrator) AddParallelBranch(name string, members []string, join string) error {
	if name == "" {
		return fmt.Errorf("%w: branch name is required", domain.ErrInvalidParameter)
	}
	if len(members) == 0 {
		return fmt.Errorf("%w: branch %s has no members", domain.ErrInvalidParameter, name)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return fmt.Errorf("%w: graph is already executing", domain.ErrInvalidState)
	}
	for _, m := range members {
		if _, ok := o.nodes[m]; !ok {
			return fmt.Errorf("%w: branch %s member %s", domain.ErrUnknownNode, name, m)
		}
		if m == join {
			return fmt.Errorf("%w: branch %s joins on its own member %s", domain.ErrInvalidParameter, name, m)
		}
	}
	if _, ok := o.nodes[join]; !ok {
		return fmt.Errorf("%w: branch %s join %s", domain.ErrUnknownNode, name, join)
	}

	o.branches = append(o.branches, domain.ParallelBranch{
		Name:     name,
		Members:  append([]string(nil), members...),
		JoinNode: join,
	})
	return nil
}

// reachableLocked reports whether to can be reached from from
func (o *Orchestrator) reachableLocked(from, to string) bool {
	visited := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		for _, e := range o.outgoing[id] {
			stack = append(stack, e.Target)
		}
	}
	return false
}

// goDispatcher runs each task on its own goroutine
type goDispatcher struct{}

func (goDispatcher) Submit(task func()) error {
	go task()
	return nil
}
