package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/agentmesh/internal/application/graph"
	"github.com/aescanero/agentmesh/internal/application/handoff"
	"github.com/aescanero/agentmesh/internal/application/swarm"
	"github.com/aescanero/agentmesh/pkg/domain"
	"github.com/aescanero/agentmesh/pkg/ports"
)

// DefaultSnapshotInterval is how often a running workflow is persisted
const DefaultSnapshotInterval = 10 * time.Second

// Config holds the run settings applied by the manager
type Config struct {
	// GraphTimeout is the per-run deadline. Zero disables it.
	GraphTimeout     time.Duration
	NodeTimeout      time.Duration
	TurnTimeout      time.Duration
	HandoffTTL       time.Duration
	SnapshotInterval time.Duration
	// SwarmParameters are the routing defaults; definitions override them.
	SwarmParameters swarm.Parameters
	// SwarmAutoAccept applies when a definition leaves auto_accept unset.
	SwarmAutoAccept bool
}

// workflow is the control surface shared by graph and swarm runs
type workflow interface {
	Pause() error
	Resume() error
	Cancel() error
	Status() domain.RunStatus
	Result() *domain.WorkflowResult
	GetExecutionState() domain.ExecutionState
	Snapshot() *domain.RunSnapshot
}

// run tracks a single workflow execution
type run struct {
	id          string
	pattern     domain.Pattern
	wf          workflow
	graph       *graph.Orchestrator
	swarm       *swarm.Orchestrator
	submittedAt time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

// Manager coordinates workflow execution
type Manager struct {
	backend    ports.AgentBackend
	handoffs   *handoff.Manager
	validator  *Validator
	conditions ports.ConditionCompiler
	dispatcher ports.Dispatcher
	eventBus   ports.EventBus
	storage    ports.StateStorage
	metrics    ports.MetricsCollector
	logger     *zap.Logger
	cfg        Config

	// Track active executions
	runs   sync.Map // map[string]*run
	active atomic.Int64
	wg     sync.WaitGroup

	mu       sync.Mutex
	shutdown bool
}

// Option configures a Manager
type Option func(*Manager)

// WithConditionCompiler sets the compiler for conditional edges
func WithConditionCompiler(c ports.ConditionCompiler) Option {
	return func(m *Manager) { m.conditions = c }
}

// WithDispatcher sets the pool graph nodes are dispatched to
func WithDispatcher(d ports.Dispatcher) Option {
	return func(m *Manager) { m.dispatcher = d }
}

// WithEventBus sets the bus run events are published on
func WithEventBus(b ports.EventBus) Option {
	return func(m *Manager) { m.eventBus = b }
}

// WithStorage sets where run snapshots are persisted
func WithStorage(s ports.StateStorage) Option {
	return func(m *Manager) { m.storage = s }
}

// WithMetrics sets the metrics collector
func WithMetrics(c ports.MetricsCollector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a new orchestrator manager
func NewManager(
	backend ports.AgentBackend,
	registry ports.AgentRegistry,
	handoffs *handoff.Manager,
	cfg Config,
	opts ...Option,
) *Manager {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = DefaultSnapshotInterval
	}
	if cfg.SwarmParameters == (swarm.Parameters{}) {
		cfg.SwarmParameters = swarm.DefaultParameters()
	}

	m := &Manager{
		backend:   backend,
		handoffs:  handoffs,
		validator: NewValidator(registry),
		metrics:   ports.NopMetricsCollector{},
		logger:    zap.NewNop(),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handoffs returns the handoff manager shared by swarm runs
func (m *Manager) Handoffs() *handoff.Manager {
	return m.handoffs
}

// SubmitGraph validates a graph definition and starts executing it
func (m *Manager) SubmitGraph(ctx context.Context, def *domain.GraphDefinition, input string) (string, error) {
	if err := m.validator.ValidateGraph(ctx, def); err != nil {
		m.logger.Error("graph validation failed", zap.Error(err))
		return "", fmt.Errorf("validation failed: %w", err)
	}

	runID := uuid.New().String()
	g, err := m.buildGraph(runID, def)
	if err != nil {
		m.logger.Error("graph build failed",
			zap.String("run_id", runID),
			zap.Error(err))
		return "", fmt.Errorf("validation failed: %w", err)
	}

	r := &run{
		id:      runID,
		pattern: domain.PatternGraph,
		wf:      g,
		graph:   g,
	}
	err = m.start(ctx, r, def.Name, func(ctx context.Context) (*domain.WorkflowResult, error) {
		return g.Execute(ctx, input)
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}

// buildGraph turns a definition into an orchestrator
func (m *Manager) buildGraph(runID string, def *domain.GraphDefinition) (*graph.Orchestrator, error) {
	opts := []graph.Option{
		graph.WithRunID(runID),
		graph.WithName(def.Name),
		graph.WithLogger(m.logger),
		graph.WithMetrics(m.metrics),
		graph.WithNodeTimeout(m.cfg.NodeTimeout),
	}
	if m.dispatcher != nil {
		opts = append(opts, graph.WithDispatcher(m.dispatcher))
	}
	if m.eventBus != nil {
		opts = append(opts, graph.WithEventBus(m.eventBus))
	}
	g := graph.New(m.backend, opts...)

	for _, n := range def.Nodes {
		var nodeOpts []graph.NodeOption
		if n.ContinueOnError {
			nodeOpts = append(nodeOpts, graph.WithContinueOnError())
		}
		if n.TimeoutSeconds > 0 {
			nodeOpts = append(nodeOpts, graph.WithTimeout(time.Duration(n.TimeoutSeconds)*time.Second))
		}
		if err := g.AddNode(n.ID, n.AgentID, n.Name, n.Description, nodeOpts...); err != nil {
			return nil, err
		}
	}

	for _, e := range def.Edges {
		var cond domain.Condition
		if e.Type == domain.EdgeTypeConditional {
			if m.conditions == nil {
				return nil, fmt.Errorf("%w: conditional edge %s needs a condition compiler", domain.ErrInvalidEdge, e.ID)
			}
			c, err := m.conditions.Compile(e.Condition)
			if err != nil {
				return nil, err
			}
			cond = c
		}
		if err := g.AddEdge(e.ID, e.Source, e.Target, e.Type, cond); err != nil {
			return nil, err
		}
	}

	for _, b := range def.Branches {
		if err := g.AddParallelBranch(b.Name, b.Members, b.JoinNode); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// SubmitSwarm validates a swarm definition and starts executing it
func (m *Manager) SubmitSwarm(ctx context.Context, def *domain.SwarmDefinition, input swarm.Input) (string, error) {
	if m.handoffs == nil {
		return "", fmt.Errorf("%w: swarm runs need a handoff manager", domain.ErrInvalidState)
	}
	if err := m.validator.ValidateSwarm(ctx, def); err != nil {
		m.logger.Error("swarm validation failed", zap.Error(err))
		return "", fmt.Errorf("validation failed: %w", err)
	}

	params, err := m.swarmParameters(def)
	if err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	autoAccept := m.cfg.SwarmAutoAccept
	if def.AutoAccept != nil {
		autoAccept = *def.AutoAccept
	}

	runID := uuid.New().String()
	opts := []swarm.Option{
		swarm.WithRunID(runID),
		swarm.WithLogger(m.logger),
		swarm.WithMetrics(m.metrics),
	}
	if m.eventBus != nil {
		opts = append(opts, swarm.WithEventBus(m.eventBus))
	}
	s, err := swarm.New(m.handoffs, m.backend, def.Participants, swarm.Config{
		Name:           def.Name,
		ConversationID: def.ConversationID,
		StartAgent:     def.StartAgent,
		AutoAccept:     &autoAccept,
		HandoffTTL:     m.cfg.HandoffTTL,
		TurnTimeout:    m.cfg.TurnTimeout,
		Parameters:     params,
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}

	r := &run{
		id:      runID,
		pattern: domain.PatternSwarm,
		wf:      s,
		swarm:   s,
	}
	err = m.start(ctx, r, def.Name, func(ctx context.Context) (*domain.WorkflowResult, error) {
		return s.Execute(ctx, input)
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}

// swarmParameters applies definition overrides on top of the defaults
func (m *Manager) swarmParameters(def *domain.SwarmDefinition) (swarm.Parameters, error) {
	params, err := m.cfg.SwarmParameters.WithOverrides(def.Parameters)
	if err != nil {
		return params, err
	}
	if def.MaxMessages > 0 {
		if params, err = params.With(swarm.ParamMaxMessages, float64(def.MaxMessages)); err != nil {
			return params, err
		}
	}
	return params, nil
}

// start registers the run and executes it in its own goroutine
func (m *Manager) start(ctx context.Context, r *run, name string, execute func(context.Context) (*domain.WorkflowResult, error)) error {
	if m.storage != nil {
		if err := m.storage.SaveRun(ctx, r.wf.Snapshot()); err != nil {
			m.logger.Error("failed to save initial state",
				zap.String("run_id", r.id),
				zap.Error(err))
			return fmt.Errorf("failed to save state: %w", err)
		}
	}

	var execCtx context.Context
	if m.cfg.GraphTimeout > 0 {
		execCtx, r.cancel = context.WithTimeout(context.Background(), m.cfg.GraphTimeout)
	} else {
		execCtx, r.cancel = context.WithCancel(context.Background())
	}
	r.done = make(chan struct{})
	r.submittedAt = time.Now()

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		r.cancel()
		return fmt.Errorf("%w: manager is shutting down", domain.ErrInvalidState)
	}
	m.wg.Add(1)
	m.runs.Store(r.id, r)
	m.mu.Unlock()

	m.metrics.RecordRunSubmitted(string(r.pattern))
	m.metrics.SetActiveRuns(int(m.active.Add(1)))
	m.publish(ctx, domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeRunSubmitted,
		RunID:     r.id,
		Timestamp: r.submittedAt,
		Data: map[string]any{
			"pattern": string(r.pattern),
			"name":    name,
		},
	})
	m.logger.Info("workflow submitted",
		zap.String("run_id", r.id),
		zap.String("pattern", string(r.pattern)),
		zap.String("name", name))

	go m.execute(execCtx, r, execute)
	return nil
}

// execute drives the run and records its outcome
func (m *Manager) execute(ctx context.Context, r *run, execute func(context.Context) (*domain.WorkflowResult, error)) {
	defer m.wg.Done()
	defer r.cancel()

	monitorDone := make(chan struct{})
	monitorStopped := make(chan struct{})
	go m.monitorExecution(r, monitorDone, monitorStopped)

	result, err := execute(ctx)
	close(monitorDone)
	// The final snapshot must be the last write for this run.
	<-monitorStopped

	status := r.wf.Status()
	switch {
	case err != nil:
		m.logger.Error("workflow execution failed",
			zap.String("run_id", r.id),
			zap.Error(err))
	case result.Reason() == domain.ReasonTimeout:
		m.logger.Warn("workflow execution timed out",
			zap.String("run_id", r.id),
			zap.Duration("timeout", m.cfg.GraphTimeout))
	}

	m.saveSnapshot(r)
	m.metrics.RecordRunCompleted(string(r.pattern), string(status), time.Since(r.submittedAt))
	m.metrics.SetActiveRuns(int(m.active.Add(-1)))
	close(r.done)
}

// monitorExecution persists snapshots while the run is in progress
func (m *Manager) monitorExecution(r *run, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	if m.storage == nil {
		return
	}
	ticker := time.NewTicker(m.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.saveSnapshot(r)
		}
	}
}

func (m *Manager) saveSnapshot(r *run) {
	if m.storage == nil {
		return
	}
	if err := m.storage.SaveRun(context.Background(), r.wf.Snapshot()); err != nil {
		m.logger.Error("failed to save state",
			zap.String("run_id", r.id),
			zap.Error(err))
	}
}

func (m *Manager) publish(ctx context.Context, event domain.Event) {
	if m.eventBus == nil {
		return
	}
	if err := m.eventBus.Publish(ctx, domain.TopicWorkflow, event); err != nil {
		m.logger.Error("failed to publish event",
			zap.String("run_id", event.RunID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

func (m *Manager) lookup(runID string) (*run, error) {
	val, ok := m.runs.Load(runID)
	if !ok {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}
	return val.(*run), nil
}

func (m *Manager) lookupSwarm(runID string) (*swarm.Orchestrator, error) {
	r, err := m.lookup(runID)
	if err != nil {
		return nil, err
	}
	if r.swarm == nil {
		return nil, fmt.Errorf("%w: run %s is not a swarm", domain.ErrInvalidState, runID)
	}
	return r.swarm, nil
}

// Pause stops dispatching new work for the run
func (m *Manager) Pause(ctx context.Context, runID string) error {
	r, err := m.lookup(runID)
	if err != nil {
		return err
	}
	if err := r.wf.Pause(); err != nil {
		return err
	}
	m.saveSnapshot(r)
	return nil
}

// Resume continues a paused run
func (m *Manager) Resume(ctx context.Context, runID string) error {
	r, err := m.lookup(runID)
	if err != nil {
		return err
	}
	if err := r.wf.Resume(); err != nil {
		return err
	}
	m.saveSnapshot(r)
	return nil
}

// CancelExecution cancels a running workflow
func (m *Manager) CancelExecution(ctx context.Context, runID string) error {
	r, err := m.lookup(runID)
	if err != nil {
		return err
	}
	if err := r.wf.Cancel(); err != nil {
		return err
	}
	m.logger.Info("workflow execution cancelled", zap.String("run_id", runID))
	return nil
}

// Wait blocks until the run finishes and returns its result
func (m *Manager) Wait(ctx context.Context, runID string) (*domain.WorkflowResult, error) {
	r, err := m.lookup(runID)
	if err != nil {
		return nil, err
	}
	select {
	case <-r.done:
		return r.wf.Result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetState returns the execution state of a run.
// Runs that are no longer tracked are answered from storage.
func (m *Manager) GetState(ctx context.Context, runID string) (*domain.ExecutionState, error) {
	if r, err := m.lookup(runID); err == nil {
		state := r.wf.GetExecutionState()
		return &state, nil
	}

	snap, err := m.storedRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	state := stateFromSnapshot(snap)
	return &state, nil
}

// GetSnapshot returns the persisted representation of a run
func (m *Manager) GetSnapshot(ctx context.Context, runID string) (*domain.RunSnapshot, error) {
	if r, err := m.lookup(runID); err == nil {
		return r.wf.Snapshot(), nil
	}
	return m.storedRun(ctx, runID)
}

// GetResult returns the terminal result of a run, or nil while it runs
func (m *Manager) GetResult(ctx context.Context, runID string) (*domain.WorkflowResult, error) {
	snap, err := m.GetSnapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	return snap.Result, nil
}

// ListRuns returns the ids of tracked and stored runs
func (m *Manager) ListRuns(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	m.runs.Range(func(key, _ any) bool {
		id := key.(string)
		seen[id] = true
		ids = append(ids, id)
		return true
	})
	if m.storage != nil {
		stored, err := m.storage.ListRuns(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}
		for _, id := range stored {
			if !seen[id] {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteRun forgets a finished run
func (m *Manager) DeleteRun(ctx context.Context, runID string) error {
	if r, err := m.lookup(runID); err == nil {
		if !r.wf.Status().IsTerminal() {
			return fmt.Errorf("%w: run %s is still %s", domain.ErrInvalidState, runID, r.wf.Status())
		}
		m.runs.Delete(runID)
	} else if m.storage == nil {
		return err
	}
	if m.storage != nil {
		if err := m.storage.DeleteRun(ctx, runID); err != nil {
			return fmt.Errorf("failed to delete run: %w", err)
		}
	}
	return nil
}

// Visualize renders a graph run in the requested format
func (m *Manager) Visualize(ctx context.Context, runID, format string) (string, error) {
	r, err := m.lookup(runID)
	if err != nil {
		return "", err
	}
	if r.graph == nil {
		return "", fmt.Errorf("%w: run %s is not a graph", domain.ErrInvalidState, runID)
	}
	return r.graph.VisualizeGraph(format)
}

// TuneParameter changes a routing parameter of a swarm run
func (m *Manager) TuneParameter(ctx context.Context, runID, name string, value float64) error {
	s, err := m.lookupSwarm(runID)
	if err != nil {
		return err
	}
	return s.TuneParameter(name, value)
}

// GetParameter reads a routing parameter of a swarm run
func (m *Manager) GetParameter(ctx context.Context, runID, name string) (float64, error) {
	s, err := m.lookupSwarm(runID)
	if err != nil {
		return 0, err
	}
	return s.GetParameter(name)
}

// GetParameters returns all routing parameters of a swarm run
func (m *Manager) GetParameters(ctx context.Context, runID string) (map[string]float64, error) {
	s, err := m.lookupSwarm(runID)
	if err != nil {
		return nil, err
	}
	return s.Parameters().Map(), nil
}

// GetSwarmMetrics returns per participant statistics of a swarm run
func (m *Manager) GetSwarmMetrics(ctx context.Context, runID string) ([]domain.SwarmMetrics, error) {
	s, err := m.lookupSwarm(runID)
	if err != nil {
		return nil, err
	}
	return s.GetSwarmMetrics(), nil
}

// GetAnalytics returns aggregate statistics of a swarm run
func (m *Manager) GetAnalytics(ctx context.Context, runID string) (*swarm.Analytics, error) {
	s, err := m.lookupSwarm(runID)
	if err != nil {
		return nil, err
	}
	a := s.GetAnalytics()
	return &a, nil
}

// GetHandoffGraph returns who handed off to whom in a swarm run
func (m *Manager) GetHandoffGraph(ctx context.Context, runID string) (*swarm.HandoffGraph, error) {
	s, err := m.lookupSwarm(runID)
	if err != nil {
		return nil, err
	}
	g := s.GetHandoffGraph()
	return &g, nil
}

// ActiveRuns returns the number of runs in progress
func (m *Manager) ActiveRuns() int {
	return int(m.active.Load())
}

// Shutdown cancels every run and waits for them to finish
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()

	// Cancel all active executions
	m.runs.Range(func(_, value any) bool {
		r := value.(*run)
		if !r.wf.Status().IsTerminal() {
			if err := r.wf.Cancel(); err != nil && !errors.Is(err, domain.ErrInvalidState) {
				m.logger.Warn("failed to cancel run", zap.String("run_id", r.id), zap.Error(err))
			}
		}
		r.cancel()
		return true
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("orchestrator manager shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain runs: %w", ctx.Err())
	}
}

func (m *Manager) storedRun(ctx context.Context, runID string) (*domain.RunSnapshot, error) {
	if m.storage == nil {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}
	snap, err := m.storage.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// stateFromSnapshot rebuilds an execution state from a stored graph run
func stateFromSnapshot(snap *domain.RunSnapshot) domain.ExecutionState {
	state := domain.ExecutionState{
		RunID:          snap.RunID,
		Pattern:        snap.Pattern,
		Status:         snap.Status,
		CompletedNodes: []string{},
		RunningNodes:   []string{},
		ReadyNodes:     []string{},
		FailedNodes:    []string{},
		SkippedNodes:   []string{},
	}
	done := 0
	for _, n := range snap.Nodes {
		switch n.Status {
		case domain.NodeStatusCompleted:
			state.CompletedNodes = append(state.CompletedNodes, n.ID)
		case domain.NodeStatusRunning:
			state.RunningNodes = append(state.RunningNodes, n.ID)
		case domain.NodeStatusReady:
			state.ReadyNodes = append(state.ReadyNodes, n.ID)
		case domain.NodeStatusFailed:
			state.FailedNodes = append(state.FailedNodes, n.ID)
		case domain.NodeStatusSkipped:
			state.SkippedNodes = append(state.SkippedNodes, n.ID)
		}
		if n.Status.IsTerminal() {
			done++
		}
	}
	if len(snap.Nodes) > 0 {
		state.ProgressPercentage = float64(done) * 100 / float64(len(snap.Nodes))
	} else if snap.Status.IsTerminal() {
		state.ProgressPercentage = 100
	}
	return state
}
