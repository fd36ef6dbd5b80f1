// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/workflows/:id/ws to receive workflow,
// node, handoff and swarm events of a single run as JSON text frames.
package websocket
