// Package domain holds the core types shared by the orchestration engine.
//
// It covers:
//   - Workflow graphs (nodes, edges, parallel branches, run snapshots)
//   - Handoffs between agents and their audit trail
//   - Swarm participants and routing metrics
//   - Events published on the event bus
//   - Sentinel errors returned by every component
package domain
