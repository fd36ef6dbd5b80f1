package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/agentmesh/internal/application/handoff"
	"github.com/aescanero/agentmesh/internal/application/swarm"
	"github.com/aescanero/agentmesh/pkg/adapters/condition/cel"
	eventsmem "github.com/aescanero/agentmesh/pkg/adapters/events/memory"
	registrymem "github.com/aescanero/agentmesh/pkg/adapters/registry/memory"
	storagemem "github.com/aescanero/agentmesh/pkg/adapters/storage/memory"
	"github.com/aescanero/agentmesh/pkg/domain"
	"github.com/aescanero/agentmesh/pkg/ports"
)

type backendFunc func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error)

type fakeBackend struct {
	fn backendFunc
}

func (b *fakeBackend) Execute(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
	if b.fn == nil {
		return &ports.AgentOutput{Content: req.AgentID + " done"}, nil
	}
	return b.fn(ctx, req)
}

type recordingMetrics struct {
	ports.NopMetricsCollector

	mu        sync.Mutex
	submitted map[string]int
	completed map[string]int
	active    []int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{submitted: map[string]int{}, completed: map[string]int{}}
}

func (r *recordingMetrics) RecordRunSubmitted(pattern string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted[pattern]++
}

func (r *recordingMetrics) RecordRunCompleted(pattern, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed[pattern+"/"+status]++
}

func (r *recordingMetrics) SetActiveRuns(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = append(r.active, count)
}

type fixture struct {
	manager  *Manager
	storage  *storagemem.InMemoryStateStorage
	events   *eventsmem.InMemoryEventBus
	metrics  *recordingMetrics
	registry *registrymem.Registry
}

func newFixture(t *testing.T, fn backendFunc, cfg Config) *fixture {
	t.Helper()
	reg := registrymem.NewRegistry(
		domain.AgentInfo{ID: "planner"},
		domain.AgentInfo{ID: "reviewer"},
		domain.AgentInfo{ID: "coder"},
		domain.AgentInfo{ID: "deployer"},
	)
	compiler, err := cel.NewCompiler()
	require.NoError(t, err)

	f := &fixture{
		storage:  storagemem.NewInMemoryStateStorage(),
		events:   eventsmem.NewInMemoryEventBus(zap.NewNop()),
		metrics:  newRecordingMetrics(),
		registry: reg,
	}
	f.manager = NewManager(&fakeBackend{fn: fn}, reg, handoff.NewManager(reg), cfg,
		WithConditionCompiler(compiler),
		WithEventBus(f.events),
		WithStorage(f.storage),
		WithMetrics(f.metrics),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.manager.Shutdown(ctx)
	})
	return f
}

func wait(t *testing.T, m *Manager, runID string) *domain.WorkflowResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := m.Wait(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func reviewGraph() *domain.GraphDefinition {
	return &domain.GraphDefinition{
		Name: "review",
		Nodes: []domain.NodeDefinition{
			{ID: "plan", AgentID: "planner", Name: "Plan"},
			{ID: "review", AgentID: "reviewer", Name: "Review"},
			{ID: "deploy", AgentID: "deployer", Name: "Deploy"},
			{ID: "revise", AgentID: "coder", Name: "Revise"},
		},
		Edges: []domain.EdgeDefinition{
			{ID: "e1", Source: "plan", Target: "review", Type: domain.EdgeTypeSequential},
			{ID: "e2", Source: "review", Target: "deploy", Type: domain.EdgeTypeConditional,
				Condition: `nodes.review.data.verdict == "approve"`},
			{ID: "e3", Source: "review", Target: "revise", Type: domain.EdgeTypeConditional,
				Condition: `nodes.review.data.verdict != "approve"`},
		},
	}
}

func TestSubmitGraphRunsConditionalBranch(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
		out := &ports.AgentOutput{Content: req.AgentID + " done"}
		if req.AgentID == "reviewer" {
			out.Data = map[string]any{"verdict": "approve"}
		}
		return out, nil
	}, Config{})

	runID, err := f.manager.SubmitGraph(context.Background(), reviewGraph(), "ship it")
	require.NoError(t, err)

	result := wait(t, f.manager, runID)
	assert.True(t, result.Success)
	assert.Equal(t, domain.ReasonCompleted, result.Reason())

	state, err := f.manager.GetState(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, state.Status)
	assert.ElementsMatch(t, []string{"plan", "review", "deploy"}, state.CompletedNodes)
	assert.Equal(t, []string{"revise"}, state.SkippedNodes)
	assert.Equal(t, 100.0, state.ProgressPercentage)

	stored, err := f.storage.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, stored.Status)
	require.NotNil(t, stored.Result)
	assert.True(t, stored.Result.Success)

	out, err := f.manager.Visualize(context.Background(), runID, "mermaid")
	require.NoError(t, err)
	assert.Contains(t, out, "review")

	f.metrics.mu.Lock()
	defer f.metrics.mu.Unlock()
	assert.Equal(t, 1, f.metrics.submitted["graph"])
	assert.Equal(t, 1, f.metrics.completed["graph/completed"])
	assert.Equal(t, 0, f.metrics.active[len(f.metrics.active)-1])
}

func TestSubmitGraphPublishesSubmittedEvent(t *testing.T) {
	f := newFixture(t, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var types []domain.EventType
	require.NoError(t, f.events.Subscribe(ctx, domain.TopicWorkflow, func(ctx context.Context, e domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type)
		return nil
	}))

	runID, err := f.manager.SubmitGraph(context.Background(), &domain.GraphDefinition{
		Nodes: []domain.NodeDefinition{{ID: "a", AgentID: "planner"}},
	}, "")
	require.NoError(t, err)
	wait(t, f.manager, runID)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, types)
	assert.Equal(t, domain.EventTypeRunSubmitted, types[0])
	assert.Contains(t, types, domain.EventTypeRunCompleted)
}

func TestSubmitGraphValidation(t *testing.T) {
	f := newFixture(t, nil, Config{})
	ctx := context.Background()

	tests := []struct {
		name string
		def  *domain.GraphDefinition
		want error
	}{
		{"nil", nil, domain.ErrInvalidParameter},
		{"empty", &domain.GraphDefinition{}, domain.ErrInvalidParameter},
		{"unknown agent", &domain.GraphDefinition{
			Nodes: []domain.NodeDefinition{{ID: "a", AgentID: "ghost"}},
		}, domain.ErrUnknownAgent},
		{"duplicate node", &domain.GraphDefinition{
			Nodes: []domain.NodeDefinition{{ID: "a", AgentID: "planner"}, {ID: "a", AgentID: "coder"}},
		}, domain.ErrDuplicateNode},
		{"unknown edge type", &domain.GraphDefinition{
			Nodes: []domain.NodeDefinition{{ID: "a", AgentID: "planner"}, {ID: "b", AgentID: "coder"}},
			Edges: []domain.EdgeDefinition{{ID: "e", Source: "a", Target: "b", Type: "teleport"}},
		}, domain.ErrInvalidEdge},
		{"unknown node", &domain.GraphDefinition{
			Nodes: []domain.NodeDefinition{{ID: "a", AgentID: "planner"}},
			Edges: []domain.EdgeDefinition{{ID: "e", Source: "a", Target: "b", Type: domain.EdgeTypeSequential}},
		}, domain.ErrUnknownNode},
		{"cycle", &domain.GraphDefinition{
			Nodes: []domain.NodeDefinition{{ID: "a", AgentID: "planner"}, {ID: "b", AgentID: "coder"}},
			Edges: []domain.EdgeDefinition{
				{ID: "e1", Source: "a", Target: "b", Type: domain.EdgeTypeSequential},
				{ID: "e2", Source: "b", Target: "a", Type: domain.EdgeTypeSequential},
			},
		}, domain.ErrCycle},
		{"bad condition", &domain.GraphDefinition{
			Nodes: []domain.NodeDefinition{{ID: "a", AgentID: "planner"}, {ID: "b", AgentID: "coder"}},
			Edges: []domain.EdgeDefinition{
				{ID: "e", Source: "a", Target: "b", Type: domain.EdgeTypeConditional, Condition: "1 +"},
			},
		}, domain.ErrInvalidEdge},
		{"condition on sequential edge", &domain.GraphDefinition{
			Nodes: []domain.NodeDefinition{{ID: "a", AgentID: "planner"}, {ID: "b", AgentID: "coder"}},
			Edges: []domain.EdgeDefinition{
				{ID: "e", Source: "a", Target: "b", Type: domain.EdgeTypeSequential, Condition: "true"},
			},
		}, domain.ErrInvalidEdge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.SubmitGraph(ctx, tt.def, "")
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	ids, err := f.manager.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestConditionalEdgeNeedsCompiler(t *testing.T) {
	reg := registrymem.NewRegistry(domain.AgentInfo{ID: "planner"}, domain.AgentInfo{ID: "coder"})
	m := NewManager(&fakeBackend{}, reg, handoff.NewManager(reg), Config{})

	_, err := m.SubmitGraph(context.Background(), &domain.GraphDefinition{
		Nodes: []domain.NodeDefinition{{ID: "a", AgentID: "planner"}, {ID: "b", AgentID: "coder"}},
		Edges: []domain.EdgeDefinition{
			{ID: "e", Source: "a", Target: "b", Type: domain.EdgeTypeConditional, Condition: "true"},
		},
	}, "")
	assert.True(t, errors.Is(err, domain.ErrInvalidEdge))
}

func blockingBackend(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGraphTimeout(t *testing.T) {
	f := newFixture(t, blockingBackend, Config{GraphTimeout: 50 * time.Millisecond})

	runID, err := f.manager.SubmitGraph(context.Background(), &domain.GraphDefinition{
		Nodes: []domain.NodeDefinition{{ID: "a", AgentID: "planner"}},
	}, "")
	require.NoError(t, err)

	result := wait(t, f.manager, runID)
	assert.False(t, result.Success)
	assert.Equal(t, domain.ReasonTimeout, result.Reason())

	state, err := f.manager.GetState(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, state.Status)
}

func TestCancelExecution(t *testing.T) {
	f := newFixture(t, blockingBackend, Config{})
	ctx := context.Background()

	runID, err := f.manager.SubmitGraph(ctx, &domain.GraphDefinition{
		Nodes: []domain.NodeDefinition{{ID: "a", AgentID: "planner"}},
	}, "")
	require.NoError(t, err)

	require.NoError(t, f.manager.CancelExecution(ctx, runID))
	result := wait(t, f.manager, runID)
	assert.Equal(t, domain.ReasonCancelled, result.Reason())

	state, err := f.manager.GetState(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, state.Status)

	err = f.manager.CancelExecution(ctx, runID)
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
}

func TestPauseAndResume(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
		if req.AgentID == "planner" {
			<-release
		}
		return &ports.AgentOutput{Content: req.AgentID + " done"}, nil
	}, Config{})
	ctx := context.Background()

	runID, err := f.manager.SubmitGraph(ctx, &domain.GraphDefinition{
		Nodes: []domain.NodeDefinition{{ID: "a", AgentID: "planner"}, {ID: "b", AgentID: "coder"}},
		Edges: []domain.EdgeDefinition{{ID: "e", Source: "a", Target: "b", Type: domain.EdgeTypeSequential}},
	}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, err := f.manager.GetState(ctx, runID)
		return err == nil && len(state.RunningNodes) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.manager.Pause(ctx, runID))
	close(release)

	require.Eventually(t, func() bool {
		state, err := f.manager.GetState(ctx, runID)
		return err == nil && len(state.CompletedNodes) == 1
	}, 2*time.Second, 5*time.Millisecond)

	state, err := f.manager.GetState(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPaused, state.Status)
	assert.Empty(t, state.RunningNodes)

	stored, err := f.storage.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPaused, stored.Status)

	require.NoError(t, f.manager.Resume(ctx, runID))
	result := wait(t, f.manager, runID)
	assert.True(t, result.Success)
}

func TestUnknownRun(t *testing.T) {
	f := newFixture(t, nil, Config{})
	ctx := context.Background()

	assert.True(t, errors.Is(f.manager.Pause(ctx, "nope"), domain.ErrNotFound))
	assert.True(t, errors.Is(f.manager.Resume(ctx, "nope"), domain.ErrNotFound))
	assert.True(t, errors.Is(f.manager.CancelExecution(ctx, "nope"), domain.ErrNotFound))

	_, err := f.manager.GetState(ctx, "nope")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = f.manager.Visualize(ctx, "nope", "ascii")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = f.manager.GetAnalytics(ctx, "nope")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestStoredRunsOutliveManager(t *testing.T) {
	f := newFixture(t, nil, Config{})
	ctx := context.Background()

	runID, err := f.manager.SubmitGraph(ctx, &domain.GraphDefinition{
		Nodes: []domain.NodeDefinition{{ID: "a", AgentID: "planner"}, {ID: "b", AgentID: "coder"}},
	}, "")
	require.NoError(t, err)
	wait(t, f.manager, runID)

	restarted := NewManager(&fakeBackend{}, f.registry, handoff.NewManager(f.registry), Config{},
		WithStorage(f.storage))

	state, err := restarted.GetState(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, state.Status)
	assert.ElementsMatch(t, []string{"a", "b"}, state.CompletedNodes)
	assert.Equal(t, 100.0, state.ProgressPercentage)

	result, err := restarted.GetResult(ctx, runID)
	require.NoError(t, err)
	assert.True(t, result.Success)

	ids, err := restarted.ListRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{runID}, ids)

	require.NoError(t, restarted.DeleteRun(ctx, runID))
	_, err = restarted.GetState(ctx, runID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

// slowRunningStorage delays writes of in-progress snapshots
type slowRunningStorage struct {
	*storagemem.InMemoryStateStorage
}

func (s slowRunningStorage) SaveRun(ctx context.Context, run *domain.RunSnapshot) error {
	if run.Status == domain.RunStatusRunning {
		time.Sleep(30 * time.Millisecond)
	}
	return s.InMemoryStateStorage.SaveRun(ctx, run)
}

func TestFinalSnapshotIsLastWrite(t *testing.T) {
	store := slowRunningStorage{storagemem.NewInMemoryStateStorage()}
	reg := registrymem.NewRegistry(domain.AgentInfo{ID: "planner"})
	backend := &fakeBackend{fn: func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
		time.Sleep(20 * time.Millisecond)
		return &ports.AgentOutput{Content: "planned"}, nil
	}}
	m := NewManager(backend, reg, handoff.NewManager(reg), Config{SnapshotInterval: time.Millisecond},
		WithStorage(store))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	ctx := context.Background()
	runID, err := m.SubmitGraph(ctx, &domain.GraphDefinition{
		Nodes: []domain.NodeDefinition{{ID: "a", AgentID: "planner"}},
	}, "")
	require.NoError(t, err)
	wait(t, m, runID)

	// Give a straggling monitor write the chance to land.
	time.Sleep(50 * time.Millisecond)
	stored, err := store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, stored.Status)
}

func TestDeleteRunRejectsActiveRun(t *testing.T) {
	f := newFixture(t, blockingBackend, Config{})
	ctx := context.Background()

	runID, err := f.manager.SubmitGraph(ctx, &domain.GraphDefinition{
		Nodes: []domain.NodeDefinition{{ID: "a", AgentID: "planner"}},
	}, "")
	require.NoError(t, err)

	err = f.manager.DeleteRun(ctx, runID)
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
}

func swarmDefinition() *domain.SwarmDefinition {
	return &domain.SwarmDefinition{
		Name: "build",
		Participants: []domain.SwarmParticipant{
			{AgentID: "planner", Name: "Planner", Specializations: []string{"planning"}},
			{AgentID: "coder", Name: "Coder", Specializations: []string{"code"}},
			{AgentID: "reviewer", Name: "Reviewer", Specializations: []string{"review"}},
		},
		StartAgent: "planner",
		Parameters: map[string]float64{
			swarm.ParamSpecializationWeight: 1,
			swarm.ParamLatencyWeight:        0,
			swarm.ParamSuccessWeight:        0,
		},
	}
}

func pipelineBackend(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
	switch req.AgentID {
	case "planner":
		return &ports.AgentOutput{Content: "plan", Tags: []string{"code"}}, nil
	case "coder":
		return &ports.AgentOutput{Content: "patch", Tags: []string{"review"}}, nil
	default:
		return &ports.AgentOutput{Content: "lgtm", Terminate: true}, nil
	}
}

func TestSubmitSwarm(t *testing.T) {
	f := newFixture(t, pipelineBackend, Config{SwarmAutoAccept: true})
	ctx := context.Background()

	runID, err := f.manager.SubmitSwarm(ctx, swarmDefinition(), swarm.Input{Content: "add a flag"})
	require.NoError(t, err)

	result := wait(t, f.manager, runID)
	assert.True(t, result.Success)
	assert.Equal(t, domain.ReasonTerminated, result.Reason())

	analytics, err := f.manager.GetAnalytics(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 3, analytics.TotalTurns)
	assert.Equal(t, 2, analytics.AcceptedHandoffs)
	assert.Equal(t, 1.0, analytics.AcceptanceRate)

	g, err := f.manager.GetHandoffGraph(ctx, runID)
	require.NoError(t, err)
	require.Len(t, g.Steps, 2)
	assert.Equal(t, "planner", g.Steps[0].From)
	assert.Equal(t, "coder", g.Steps[0].To)
	assert.Equal(t, "reviewer", g.Steps[1].To)

	metrics, err := f.manager.GetSwarmMetrics(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, metrics, 3)

	history := f.manager.Handoffs().GetHistory("coder")
	assert.Len(t, history, 2)

	v, err := f.manager.GetParameter(ctx, runID, swarm.ParamSpecializationWeight)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	require.NoError(t, f.manager.TuneParameter(ctx, runID, swarm.ParamMinScore, 0.5))
	params, err := f.manager.GetParameters(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, params[swarm.ParamMinScore])

	err = f.manager.TuneParameter(ctx, runID, "temperature", 1)
	assert.True(t, errors.Is(err, domain.ErrInvalidParameter))

	_, err = f.manager.Visualize(ctx, runID, "ascii")
	assert.True(t, errors.Is(err, domain.ErrInvalidState))

	f.metrics.mu.Lock()
	defer f.metrics.mu.Unlock()
	assert.Equal(t, 1, f.metrics.submitted["swarm"])
	assert.Equal(t, 1, f.metrics.completed["swarm/completed"])
}

func TestSubmitSwarmMaxMessagesOverride(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
		return &ports.AgentOutput{Content: "again", Tags: []string{"code"}}, nil
	}, Config{SwarmAutoAccept: true})
	ctx := context.Background()

	def := swarmDefinition()
	def.MaxMessages = 3
	runID, err := f.manager.SubmitSwarm(ctx, def, swarm.Input{Content: "loop"})
	require.NoError(t, err)

	result := wait(t, f.manager, runID)
	assert.Equal(t, domain.ReasonMaxMessages, result.Reason())

	analytics, err := f.manager.GetAnalytics(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 3, analytics.TotalTurns)
}

func TestSubmitSwarmValidation(t *testing.T) {
	f := newFixture(t, pipelineBackend, Config{})
	ctx := context.Background()

	unknown := swarmDefinition()
	unknown.Participants = append(unknown.Participants, domain.SwarmParticipant{AgentID: "ghost"})
	_, err := f.manager.SubmitSwarm(ctx, unknown, swarm.Input{})
	assert.True(t, errors.Is(err, domain.ErrUnknownAgent), "got %v", err)

	badStart := swarmDefinition()
	badStart.StartAgent = "deployer"
	_, err = f.manager.SubmitSwarm(ctx, badStart, swarm.Input{})
	assert.True(t, errors.Is(err, domain.ErrInvalidParameter), "got %v", err)

	badParam := swarmDefinition()
	badParam.Parameters["min_score"] = 2
	_, err = f.manager.SubmitSwarm(ctx, badParam, swarm.Input{})
	assert.True(t, errors.Is(err, domain.ErrInvalidParameter), "got %v", err)

	badTarget := swarmDefinition()
	badTarget.Participants[0].HandoffTargets = []string{"deployer"}
	_, err = f.manager.SubmitSwarm(ctx, badTarget, swarm.Input{})
	assert.True(t, errors.Is(err, domain.ErrInvalidParameter), "got %v", err)

	_, err = f.manager.SubmitSwarm(ctx, &domain.SwarmDefinition{}, swarm.Input{})
	assert.True(t, errors.Is(err, domain.ErrInvalidParameter), "got %v", err)
}

func TestShutdownCancelsRuns(t *testing.T) {
	f := newFixture(t, blockingBackend, Config{})
	ctx := context.Background()

	runID, err := f.manager.SubmitGraph(ctx, &domain.GraphDefinition{
		Nodes: []domain.NodeDefinition{{ID: "a", AgentID: "planner"}},
	}, "")
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.manager.Shutdown(shutdownCtx))

	result, err := f.manager.GetResult(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.ReasonCancelled, result.Reason())
	assert.Equal(t, 0, f.manager.ActiveRuns())

	_, err = f.manager.SubmitGraph(ctx, &domain.GraphDefinition{
		Nodes: []domain.NodeDefinition{{ID: "a", AgentID: "planner"}},
	}, "")
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
}
