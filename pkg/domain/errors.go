package domain

import "errors"

var (
	// ErrDuplicateNode is returned when a node id is added twice.
	ErrDuplicateNode = errors.New("duplicate node")
	// ErrDuplicateEdge is returned when an edge id is added twice.
	ErrDuplicateEdge = errors.New("duplicate edge")
	// ErrUnknownNode is returned when an edge or branch references a missing node.
	ErrUnknownNode = errors.New("unknown node")
	// ErrInvalidEdge is returned for malformed edges.
	ErrInvalidEdge = errors.New("invalid edge")
	// ErrCycle is returned when an edge would close a cycle.
	ErrCycle = errors.New("cycle detected")
	// ErrConflict is returned when a pending handoff already targets the same agent in a conversation.
	ErrConflict = errors.New("conflict")
	// ErrUnknownAgent is returned when an agent is not registered.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrInvalidState is returned when an operation is not allowed in the current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrNotFound is returned when a run or handoff does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidParameter is returned for unknown or out of range parameters.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrUnsupportedFormat is returned for unknown visualization formats.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrAgentUnavailable is returned by backends when the agent cannot serve the request.
	ErrAgentUnavailable = errors.New("agent unavailable")
	// ErrAgentTimeout is returned by backends when the agent does not answer in time.
	ErrAgentTimeout = errors.New("agent timeout")
)
