package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/agentmesh/pkg/ports"
)

var _ ports.MetricsCollector = (*Collector)(nil)

func TestCollectorRecordsRuns(t *testing.T) {
	c := NewCollectorWithRegisterer(prometheus.NewRegistry())

	c.RecordRunSubmitted("graph")
	c.RecordRunSubmitted("graph")
	c.RecordRunSubmitted("swarm")
	c.RecordRunCompleted("graph", "completed", 2*time.Second)
	c.SetActiveRuns(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.runsSubmitted.WithLabelValues("graph")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsSubmitted.WithLabelValues("swarm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsCompleted.WithLabelValues("graph", "completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.activeRuns))
}

func TestCollectorRecordsSwarmAndHandoffs(t *testing.T) {
	c := NewCollectorWithRegisterer(prometheus.NewRegistry())

	c.RecordHandoff("pending")
	c.RecordHandoff("accepted")
	c.RecordHandoff("accepted")
	c.RecordRoutingDecision("coder", 0.8)
	c.RecordSwarmTurn("coder", true, time.Second)
	c.RecordSwarmTurn("coder", false, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.handoffs.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.routingDecisions.WithLabelValues("coder")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.swarmTurns.WithLabelValues("coder", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.swarmTurns.WithLabelValues("coder", "false")))
}

func TestCollectorRecordsWorkerPool(t *testing.T) {
	c := NewCollectorWithRegisterer(prometheus.NewRegistry())

	c.RecordWorkerPoolStatus(10, 3, 7)

	assert.Equal(t, 10.0, testutil.ToFloat64(c.workerPoolCapacity))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.workerPoolRunning))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.workerPoolFree))
}

func TestCollectorRegistersOnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectorWithRegisterer(reg)
	c.RecordNodeExecuted("completed", 500*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["agentmesh_nodes_executed_total"])
	assert.True(t, names["agentmesh_node_execution_duration_seconds"])

	assert.Panics(t, func() { NewCollectorWithRegisterer(reg) })
}
