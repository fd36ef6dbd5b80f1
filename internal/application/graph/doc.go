// Package graph implements the graph orchestration pattern.
//
// An Orchestrator owns one workflow graph and drives a single run of it:
//   - Nodes become ready from their incoming edges (sequential, parallel,
//     conditional and synchronize)
//   - Independent ready nodes are dispatched concurrently to the agent backend
//   - Agent output is merged into the run's execution context
//   - Runs can be paused, resumed and cancelled
//
// Graph structure is validated as it is built; an edge that would close a
// cycle is rejected and leaves the graph unchanged.
package graph
