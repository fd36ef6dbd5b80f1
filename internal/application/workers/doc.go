// Package workers implements the bounded goroutine pool that runs graph
// nodes.
//
// The pool wraps an ants pool and satisfies the orchestrator dispatcher:
//   - Submit blocks while every worker is busy
//   - Shutdown drains running tasks before returning
//
// The health monitor tracks pool occupancy and records metrics.
package workers
