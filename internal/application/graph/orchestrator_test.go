package graph

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/agentmesh/internal/application/workers"
	"github.com/aescanero/agentmesh/pkg/domain"
	"github.com/aescanero/agentmesh/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFunc func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error)

type fakeBackend struct {
	mu       sync.Mutex
	calls    []string
	handlers map[string]handlerFunc
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{handlers: make(map[string]handlerFunc)}
}

func (f *fakeBackend) on(agentID string, h handlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[agentID] = h
}

func (f *fakeBackend) Execute(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.AgentID)
	h := f.handlers[req.AgentID]
	f.mu.Unlock()

	if h == nil {
		return &ports.AgentOutput{Content: req.AgentID + " done"}, nil
	}
	return h(ctx, req)
}

func (f *fakeBackend) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func addNodes(t *testing.T, o *Orchestrator, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, o.AddNode(id, "agent-"+id, id, ""))
	}
}

func nodeByID(g domain.ExecutionGraph, id string) domain.WorkflowNode {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}
	return domain.WorkflowNode{}
}

func outputOf(vars map[string]any, nodeID string) string {
	nodes, _ := vars[VarNodes].(map[string]any)
	entry, _ := nodes[nodeID].(map[string]any)
	s, _ := entry["output"].(string)
	return s
}

func TestAddNodeRejectsDuplicates(t *testing.T) {
	o := New(newFakeBackend())
	require.NoError(t, o.AddNode("a", "agent-a", "A", ""))

	err := o.AddNode("a", "agent-b", "B", "")
	assert.ErrorIs(t, err, domain.ErrDuplicateNode)
}

func TestAddEdgeValidation(t *testing.T) {
	o := New(newFakeBackend())
	addNodes(t, o, "a", "b")

	assert.ErrorIs(t, o.AddEdge("e1", "a", "missing", domain.EdgeTypeSequential, nil), domain.ErrUnknownNode)
	assert.ErrorIs(t, o.AddEdge("e1", "missing", "b", domain.EdgeTypeSequential, nil), domain.ErrUnknownNode)
	assert.ErrorIs(t, o.AddEdge("e1", "a", "b", domain.EdgeTypeConditional, nil), domain.ErrInvalidEdge)
	assert.ErrorIs(t, o.AddEdge("e1", "a", "b", "weird", nil), domain.ErrInvalidEdge)

	require.NoError(t, o.AddEdge("e1", "a", "b", domain.EdgeTypeSequential, nil))
	assert.ErrorIs(t, o.AddEdge("e1", "a", "b", domain.EdgeTypeSequential, nil), domain.ErrDuplicateEdge)
}

func TestAddEdgeRejectsCycleAndLeavesGraphUnchanged(t *testing.T) {
	o := New(newFakeBackend())
	addNodes(t, o, "a", "b", "c")
	require.NoError(t, o.AddEdge("ab", "a", "b", domain.EdgeTypeSequential, nil))
	require.NoError(t, o.AddEdge("bc", "b", "c", domain.EdgeTypeSequential, nil))

	before := o.GetExecutionGraph()

	err := o.AddEdge("ca", "c", "a", domain.EdgeTypeSequential, nil)
	require.ErrorIs(t, err, domain.ErrCycle)
	assert.ErrorIs(t, o.AddEdge("aa", "a", "a", domain.EdgeTypeParallel, nil), domain.ErrCycle)

	assert.Equal(t, before, o.GetExecutionGraph())

	// The rejected id stays free.
	require.NoError(t, o.AddEdge("ca", "a", "c", domain.EdgeTypeSequential, nil))
}

func TestAddParallelBranchValidation(t *testing.T) {
	o := New(newFakeBackend())
	addNodes(t, o, "b", "c", "d")

	assert.ErrorIs(t, o.AddParallelBranch("fan", []string{"b", "x"}, "d"), domain.ErrUnknownNode)
	assert.ErrorIs(t, o.AddParallelBranch("fan", []string{"b", "c"}, "x"), domain.ErrUnknownNode)
	require.NoError(t, o.AddParallelBranch("fan", []string{"b", "c"}, "d"))

	g := o.GetExecutionGraph()
	require.Len(t, g.Branches, 1)
	assert.Equal(t, "d", g.Branches[0].JoinNode)
}

func TestExecuteForkJoin(t *testing.T) {
	// A fans out to B and C in parallel; D synchronizes on both.
	for i := 0; i < 20; i++ {
		t.Run(fmt.Sprintf("interleaving-%d", i), func(t *testing.T) {
			backend := newFakeBackend()
			delay := func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
				time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
				return &ports.AgentOutput{Content: req.AgentID + " done"}, nil
			}
			backend.on("agent-b", delay)
			backend.on("agent-c", delay)

			o := New(backend)
			addNodes(t, o, "a", "b", "c", "d")
			require.NoError(t, o.AddEdge("ab", "a", "b", domain.EdgeTypeParallel, nil))
			require.NoError(t, o.AddEdge("ac", "a", "c", domain.EdgeTypeParallel, nil))
			require.NoError(t, o.AddEdge("bd", "b", "d", domain.EdgeTypeSynchronize, nil))
			require.NoError(t, o.AddEdge("cd", "c", "d", domain.EdgeTypeSynchronize, nil))

			res, err := o.Execute(context.Background(), "task")
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, domain.ReasonCompleted, res.Reason())

			g := o.GetExecutionGraph()
			for _, id := range []string{"a", "b", "c", "d"} {
				assert.Equal(t, domain.NodeStatusCompleted, nodeByID(g, id).Status, id)
			}
			d := nodeByID(g, "d")
			require.NotNil(t, d.ReadyAt)
			assert.False(t, d.ReadyAt.Before(*nodeByID(g, "b").CompletedAt))
			assert.False(t, d.ReadyAt.Before(*nodeByID(g, "c").CompletedAt))
			assert.Len(t, res.OutputMessages, 4)
		})
	}
}

func TestExecuteSequentialSeesPredecessorOutputs(t *testing.T) {
	backend := newFakeBackend()
	var seen sync.Map
	record := func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
		seen.Store(req.AgentID, req.Context)
		return &ports.AgentOutput{Content: req.AgentID + " done"}, nil
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		backend.on("agent-"+id, record)
	}

	o := New(backend)
	addNodes(t, o, "a", "b", "c", "d")
	require.NoError(t, o.AddEdge("ab", "a", "b", domain.EdgeTypeSequential, nil))
	require.NoError(t, o.AddEdge("ac", "a", "c", domain.EdgeTypeSequential, nil))
	require.NoError(t, o.AddEdge("bd", "b", "d", domain.EdgeTypeSequential, nil))
	require.NoError(t, o.AddEdge("cd", "c", "d", domain.EdgeTypeSequential, nil))

	res, err := o.Execute(context.Background(), "task")
	require.NoError(t, err)
	require.True(t, res.Success)

	calls := backend.called()
	require.Len(t, calls, 4)
	assert.Equal(t, "agent-a", calls[0])
	assert.Equal(t, "agent-d", calls[3])

	v, _ := seen.Load("agent-d")
	vars := v.(map[string]any)
	assert.Equal(t, "task", vars[VarInput])
	assert.Equal(t, "agent-b done", outputOf(vars, "b"))
	assert.Equal(t, "agent-c done", outputOf(vars, "c"))

	v, _ = seen.Load("agent-b")
	assert.Equal(t, "agent-a done", outputOf(v.(map[string]any), "a"))
}

func TestExecuteConditionalBranchesExactlyOne(t *testing.T) {
	backend := newFakeBackend()
	backend.on("agent-review", func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
		return &ports.AgentOutput{Content: "approved", Data: map[string]any{"verdict": "approved"}}, nil
	})

	verdictIs := func(want string) domain.Condition {
		return domain.ConditionFunc(func(vars map[string]any) (bool, error) {
			return vars["verdict"] == want, nil
		})
	}

	o := New(backend)
	addNodes(t, o, "review", "publish", "rework", "notify")
	require.NoError(t, o.AddEdge("r-p", "review", "publish", domain.EdgeTypeConditional, verdictIs("approved")))
	require.NoError(t, o.AddEdge("r-w", "review", "rework", domain.EdgeTypeConditional, verdictIs("rejected")))
	require.NoError(t, o.AddEdge("w-n", "rework", "notify", domain.EdgeTypeSequential, nil))

	res, err := o.Execute(context.Background(), "doc")
	require.NoError(t, err)
	assert.True(t, res.Success)

	g := o.GetExecutionGraph()
	assert.Equal(t, domain.NodeStatusCompleted, nodeByID(g, "publish").Status)
	assert.Equal(t, domain.NodeStatusSkipped, nodeByID(g, "rework").Status)
	assert.Equal(t, domain.NodeStatusSkipped, nodeByID(g, "notify").Status)
	assert.NotContains(t, backend.called(), "agent-rework")
}

func TestExecuteConditionalJoinReadyWhenAnyAlternativeHolds(t *testing.T) {
	o := New(newFakeBackend())
	addNodes(t, o, "a", "b", "c")
	always := domain.ConditionFunc(func(map[string]any) (bool, error) { return true, nil })
	fails := domain.ConditionFunc(func(map[string]any) (bool, error) { return false, errors.New("boom") })
	require.NoError(t, o.AddEdge("ac", "a", "c", domain.EdgeTypeConditional, fails))
	require.NoError(t, o.AddEdge("bc", "b", "c", domain.EdgeTypeConditional, always))

	res, err := o.Execute(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.NodeStatusCompleted, nodeByID(o.GetExecutionGraph(), "c").Status)
}

func TestExecuteNodeFailureFailsRun(t *testing.T) {
	backend := newFakeBackend()
	backend.on("agent-b", func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
		return nil, fmt.Errorf("%w: backend down", domain.ErrAgentUnavailable)
	})

	o := New(backend)
	addNodes(t, o, "a", "b", "c")
	require.NoError(t, o.AddEdge("ab", "a", "b", domain.EdgeTypeSequential, nil))
	require.NoError(t, o.AddEdge("bc", "b", "c", domain.EdgeTypeSequential, nil))

	res, err := o.Execute(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.ReasonNodeFailed, res.Reason())
	assert.Equal(t, "b", res.Metadata[domain.MetaFailedNode])
	assert.Contains(t, res.Metadata[domain.MetaError], "backend down")
	assert.Equal(t, domain.RunStatusFailed, o.Status())

	g := o.GetExecutionGraph()
	assert.Equal(t, domain.NodeStatusFailed, nodeByID(g, "b").Status)
	assert.Equal(t, domain.NodeStatusPending, nodeByID(g, "c").Status)
	assert.NotContains(t, backend.called(), "agent-c")
}

func TestExecutePanickingBackendFailsNode(t *testing.T) {
	pool, err := workers.NewPool(2, nil, nil, 0)
	require.NoError(t, err)
	defer pool.Shutdown(context.Background())

	backend := newFakeBackend()
	backend.on("agent-a", func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
		panic("backend bug")
	})

	o := New(backend, WithDispatcher(pool))
	addNodes(t, o, "a", "b")
	require.NoError(t, o.AddEdge("ab", "a", "b", domain.EdgeTypeSequential, nil))

	done := make(chan *domain.WorkflowResult, 1)
	go func() {
		res, _ := o.Execute(context.Background(), "")
		done <- res
	}()

	select {
	case res := <-done:
		assert.False(t, res.Success)
		assert.Equal(t, domain.ReasonNodeFailed, res.Reason())
		assert.Equal(t, "a", res.Metadata[domain.MetaFailedNode])
		assert.Contains(t, res.Metadata[domain.MetaError], "panicked: backend bug")
	case <-time.After(2 * time.Second):
		t.Fatalf("run still running after a backend panic: %+v", o.GetExecutionState())
	}

	g := o.GetExecutionGraph()
	assert.Equal(t, domain.NodeStatusFailed, nodeByID(g, "a").Status)
	assert.Equal(t, domain.NodeStatusPending, nodeByID(g, "b").Status)
}

func TestExecuteFailureFreezesUntouchedNodes(t *testing.T) {
	backend := newFakeBackend()
	backend.on("agent-a", func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
		return nil, errors.New("boom")
	})
	// b only returns once the failed run cancels it, and still reports success.
	backend.on("agent-b", func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
		<-ctx.Done()
		return &ports.AgentOutput{Content: "late"}, nil
	})

	for i := 0; i < 10; i++ {
		o := New(backend)
		addNodes(t, o, "a", "b", "c", "d")
		require.NoError(t, o.AddEdge("bc", "b", "c", domain.EdgeTypeSequential, nil))
		require.NoError(t, o.AddEdge("cd", "c", "d", domain.EdgeTypeSequential, nil))

		res, err := o.Execute(context.Background(), "")
		require.NoError(t, err)
		require.Equal(t, domain.ReasonNodeFailed, res.Reason())

		g := o.GetExecutionGraph()
		assert.Equal(t, domain.NodeStatusFailed, nodeByID(g, "a").Status)
		assert.Equal(t, domain.NodeStatusSkipped, nodeByID(g, "b").Status)
		assert.Equal(t, domain.NodeStatusPending, nodeByID(g, "c").Status)
		assert.Equal(t, domain.NodeStatusPending, nodeByID(g, "d").Status)
	}
}

func TestExecuteContinueOnErrorSkipsDownstream(t *testing.T) {
	backend := newFakeBackend()
	backend.on("agent-a", func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
		return nil, errors.New("flaky")
	})

	o := New(backend)
	require.NoError(t, o.AddNode("a", "agent-a", "a", "", WithContinueOnError()))
	addNodes(t, o, "b", "c", "d")
	require.NoError(t, o.AddEdge("ab", "a", "b", domain.EdgeTypeSequential, nil))
	require.NoError(t, o.AddEdge("cd", "c", "d", domain.EdgeTypeSequential, nil))

	res, err := o.Execute(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, res.Success)

	state := o.GetExecutionState()
	assert.Equal(t, []string{"a"}, state.FailedNodes)
	assert.Equal(t, []string{"b"}, state.SkippedNodes)
	assert.ElementsMatch(t, []string{"c", "d"}, state.CompletedNodes)
	assert.Equal(t, float64(100), state.ProgressPercentage)
}

func TestExecuteSynchronizeSkipsWhenBranchFailsTolerated(t *testing.T) {
	backend := newFakeBackend()
	backend.on("agent-b", func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
		return nil, errors.New("no luck")
	})

	o := New(backend)
	addNodes(t, o, "a", "c", "d")
	require.NoError(t, o.AddNode("b", "agent-b", "b", "", WithContinueOnError()))
	require.NoError(t, o.AddEdge("ab", "a", "b", domain.EdgeTypeParallel, nil))
	require.NoError(t, o.AddEdge("ac", "a", "c", domain.EdgeTypeParallel, nil))
	require.NoError(t, o.AddEdge("bd", "b", "d", domain.EdgeTypeSynchronize, nil))
	require.NoError(t, o.AddEdge("cd", "c", "d", domain.EdgeTypeSynchronize, nil))

	res, err := o.Execute(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.NodeStatusSkipped, nodeByID(o.GetExecutionGraph(), "d").Status)
}

func TestExecuteMergesWithoutOverwriting(t *testing.T) {
	backend := newFakeBackend()
	write := func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
		return &ports.AgentOutput{Content: "ok", Data: map[string]any{"summary": req.AgentID}}, nil
	}
	backend.on("agent-a", write)
	backend.on("agent-b", write)

	o := New(backend)
	addNodes(t, o, "a", "b")
	require.NoError(t, o.AddEdge("ab", "a", "b", domain.EdgeTypeSequential, nil))

	res, err := o.Execute(context.Background(), "")
	require.NoError(t, err)

	vars := res.Metadata[domain.MetaContext].(map[string]any)
	assert.Equal(t, "agent-a", vars["summary"])
	assert.Equal(t, "agent-b", vars["b.summary"])
}

func TestExecutePauseAndResume(t *testing.T) {
	backend := newFakeBackend()
	release := make(chan struct{})
	backend.on("agent-a", func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
		<-release
		return &ports.AgentOutput{Content: "a"}, nil
	})

	o := New(backend)
	addNodes(t, o, "a", "b")
	require.NoError(t, o.AddEdge("ab", "a", "b", domain.EdgeTypeSequential, nil))

	done := make(chan *domain.WorkflowResult, 1)
	go func() {
		res, err := o.Execute(context.Background(), "")
		assert.NoError(t, err)
		done <- res
	}()

	require.Eventually(t, func() bool {
		return len(o.GetExecutionState().RunningNodes) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, o.Pause())
	assert.ErrorIs(t, o.Pause(), domain.ErrInvalidState)
	close(release)

	require.Eventually(t, func() bool {
		s := o.GetExecutionState()
		return len(s.ReadyNodes) == 1 && s.ReadyNodes[0] == "b"
	}, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.NotContains(t, backend.called(), "agent-b")
	assert.Equal(t, domain.RunStatusPaused, o.Status())

	require.NoError(t, o.Resume())
	assert.ErrorIs(t, o.Resume(), domain.ErrInvalidState)

	select {
	case res := <-done:
		assert.True(t, res.Success)
	case <-time.After(time.Second):
		t.Fatal("run did not finish after resume")
	}
}

func TestExecuteCancelDiscardsInFlight(t *testing.T) {
	backend := newFakeBackend()
	started := make(chan struct{})
	backend.on("agent-a", func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	o := New(backend)
	addNodes(t, o, "a", "b")
	require.NoError(t, o.AddEdge("ab", "a", "b", domain.EdgeTypeSequential, nil))

	done := make(chan *domain.WorkflowResult, 1)
	go func() {
		res, _ := o.Execute(context.Background(), "")
		done <- res
	}()

	<-started
	require.NoError(t, o.Cancel())

	select {
	case res := <-done:
		assert.False(t, res.Success)
		assert.Equal(t, domain.ReasonCancelled, res.Reason())
	case <-time.After(time.Second):
		t.Fatal("run did not stop after cancel")
	}

	assert.Equal(t, domain.RunStatusCancelled, o.Status())
	g := o.GetExecutionGraph()
	assert.Equal(t, domain.NodeStatusSkipped, nodeByID(g, "a").Status)
	assert.Equal(t, domain.NodeStatusPending, nodeByID(g, "b").Status)
	assert.ErrorIs(t, o.Cancel(), domain.ErrInvalidState)
}

func TestExecuteNodeTimeout(t *testing.T) {
	backend := newFakeBackend()
	backend.on("agent-a", func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	o := New(backend, WithNodeTimeout(time.Minute))
	require.NoError(t, o.AddNode("a", "agent-a", "a", "", WithTimeout(10*time.Millisecond)))

	res, err := o.Execute(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Metadata[domain.MetaError], domain.ErrAgentTimeout.Error())
}

func TestExecuteRunDeadlineReportsTimeout(t *testing.T) {
	backend := newFakeBackend()
	backend.on("agent-a", func(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	o := New(backend)
	addNodes(t, o, "a")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res, err := o.Execute(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonTimeout, res.Reason())
	assert.Equal(t, domain.RunStatusFailed, o.Status())
}

type rejectingDispatcher struct{}

func (rejectingDispatcher) Submit(func()) error { return errors.New("pool overloaded") }

func TestExecuteDispatchRejectionFailsNode(t *testing.T) {
	o := New(newFakeBackend(), WithDispatcher(rejectingDispatcher{}))
	addNodes(t, o, "a")

	res, err := o.Execute(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Metadata[domain.MetaError], "pool overloaded")
}

func TestExecuteMisuse(t *testing.T) {
	empty := New(newFakeBackend())
	_, err := empty.Execute(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	o := New(newFakeBackend())
	addNodes(t, o, "a")
	_, err = o.Execute(context.Background(), "")
	require.NoError(t, err)

	_, err = o.Execute(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.ErrorIs(t, o.AddNode("b", "agent-b", "b", ""), domain.ErrInvalidState)
}

func TestCheckStopDetectsDeadlock(t *testing.T) {
	o := New(newFakeBackend())
	addNodes(t, o, "a", "b")
	require.NoError(t, o.AddEdge("ab", "a", "b", domain.EdgeTypeSequential, nil))

	// A node stuck in running with nothing in flight cannot make progress.
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nodes["a"].Status = domain.NodeStatusRunning
	assert.Equal(t, domain.ReasonDeadlock, o.checkStopLocked(context.Background()))

	o.paused = true
	assert.Equal(t, "", o.checkStopLocked(context.Background()))
}

func TestSetStatusRefusesRegression(t *testing.T) {
	o := New(newFakeBackend())
	addNodes(t, o, "a")

	o.mu.Lock()
	defer o.mu.Unlock()
	node := o.nodes["a"]
	require.True(t, o.setStatusLocked(node, domain.NodeStatusReady))
	assert.False(t, o.setStatusLocked(node, domain.NodeStatusPending))
	require.True(t, o.setStatusLocked(node, domain.NodeStatusCompleted))

	o.skipLocked(node, "late")
	assert.Equal(t, domain.NodeStatusCompleted, node.Status)
	assert.Empty(t, node.Error)
}
