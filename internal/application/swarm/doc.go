// Package swarm implements the swarm orchestration pattern.
//
// A swarm has no static graph. The current agent runs a turn, then the
// orchestrator scores every eligible participant and hands control to the
// best one through the handoff manager. Routing weights are tunable while
// the run is in progress.
package swarm
