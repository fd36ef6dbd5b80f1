// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Agent registration and lookup
//   - Graph and swarm submission, control and queries
//   - Swarm parameter tuning and analytics
//   - Handoff negotiation and audit trails
//   - Health checks
//   - Prometheus metrics
package http
