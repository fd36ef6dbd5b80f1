// Package handoff implements the handoff negotiation protocol.
//
// A handoff proposes moving control of a conversation from one agent to
// another. It starts pending and ends accepted, rejected, expired or
// cancelled; every transition is appended to its audit trail. At most one
// handoff may be pending per conversation and target agent.
//
// Expiry is observed lazily on every access and proactively by the Sweeper.
package handoff
