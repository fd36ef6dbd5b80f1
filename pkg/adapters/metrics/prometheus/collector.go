package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	runsSubmitted     *prometheus.CounterVec
	runsCompleted     *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	activeRuns        prometheus.Gauge
	nodesExecuted     *prometheus.CounterVec
	nodeExecutionTime prometheus.Histogram

	handoffs         *prometheus.CounterVec
	routingDecisions *prometheus.CounterVec
	routingScore     *prometheus.HistogramVec
	swarmTurns       *prometheus.CounterVec
	swarmTurnTime    *prometheus.HistogramVec

	workerPoolCapacity prometheus.Gauge
	workerPoolRunning  prometheus.Gauge
	workerPoolFree     prometheus.Gauge
}

// NewCollector creates a collector registered on the default registerer
func NewCollector() *Collector {
	return NewCollectorWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCollectorWithRegisterer creates a collector registered on reg
func NewCollectorWithRegisterer(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		runsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentmesh_runs_submitted_total",
				Help: "Total number of runs submitted",
			},
			[]string{"pattern"},
		),
		runsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentmesh_runs_completed_total",
				Help: "Total number of runs that reached a terminal status",
			},
			[]string{"pattern", "status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentmesh_run_duration_seconds",
				Help:    "Run duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"pattern"},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentmesh_active_runs",
				Help: "Number of runs currently in progress",
			},
		),
		nodesExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentmesh_nodes_executed_total",
				Help: "Total number of graph nodes executed",
			},
			[]string{"status"},
		),
		nodeExecutionTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentmesh_node_execution_duration_seconds",
				Help:    "Node execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
		handoffs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentmesh_handoffs_total",
				Help: "Total number of handoff transitions by resulting status",
			},
			[]string{"status"},
		),
		routingDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentmesh_swarm_routing_decisions_total",
				Help: "Total number of swarm routing decisions by selected agent",
			},
			[]string{"agent"},
		),
		routingScore: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentmesh_swarm_routing_score",
				Help:    "Score of the selected participant",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
			[]string{"agent"},
		),
		swarmTurns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentmesh_swarm_turns_total",
				Help: "Total number of swarm turns",
			},
			[]string{"agent", "success"},
		),
		swarmTurnTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentmesh_swarm_turn_duration_seconds",
				Help:    "Swarm turn duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"agent"},
		),
		workerPoolCapacity: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentmesh_worker_pool_capacity",
				Help: "Configured worker pool capacity",
			},
		),
		workerPoolRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentmesh_worker_pool_running",
				Help: "Number of busy workers",
			},
		),
		workerPoolFree: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentmesh_worker_pool_free",
				Help: "Number of idle workers",
			},
		),
	}
}

// RecordRunSubmitted records a run submission
func (c *Collector) RecordRunSubmitted(pattern string) {
	c.runsSubmitted.WithLabelValues(pattern).Inc()
}

// RecordRunCompleted records a run reaching a terminal status
func (c *Collector) RecordRunCompleted(pattern, status string, duration time.Duration) {
	c.runsCompleted.WithLabelValues(pattern, status).Inc()
	c.runDuration.WithLabelValues(pattern).Observe(duration.Seconds())
}

// SetActiveRuns sets the number of runs in progress
func (c *Collector) SetActiveRuns(count int) {
	c.activeRuns.Set(float64(count))
}

// RecordNodeExecuted records a node execution
func (c *Collector) RecordNodeExecuted(status string, duration time.Duration) {
	c.nodesExecuted.WithLabelValues(status).Inc()
	c.nodeExecutionTime.Observe(duration.Seconds())
}

// RecordHandoff records a handoff transition
func (c *Collector) RecordHandoff(status string) {
	c.handoffs.WithLabelValues(status).Inc()
}

// RecordRoutingDecision records the participant chosen by swarm routing
func (c *Collector) RecordRoutingDecision(agentID string, score float64) {
	c.routingDecisions.WithLabelValues(agentID).Inc()
	c.routingScore.WithLabelValues(agentID).Observe(score)
}

// RecordSwarmTurn records a swarm turn
func (c *Collector) RecordSwarmTurn(agentID string, success bool, duration time.Duration) {
	c.swarmTurns.WithLabelValues(agentID, strconv.FormatBool(success)).Inc()
	c.swarmTurnTime.WithLabelValues(agentID).Observe(duration.Seconds())
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(capacity, running, free int) {
	c.workerPoolCapacity.Set(float64(capacity))
	c.workerPoolRunning.Set(float64(running))
	c.workerPoolFree.Set(float64(free))
}
