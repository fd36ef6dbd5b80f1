// Package orchestrator implements the workflow manager.
//
// The manager accepts graph and swarm definitions and:
//   - Validates them against the agent registry
//   - Builds the matching graph or swarm orchestrator
//   - Runs each workflow in its own goroutine under a per-run deadline
//   - Persists run snapshots periodically and on completion
//   - Routes pause, resume, cancel and query calls to the live run
//
// Runs that are no longer in memory are answered from state storage.
package orchestrator
