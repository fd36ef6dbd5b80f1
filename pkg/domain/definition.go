package domain

// NodeDefinition describes a node in a parsed workflow definition
type NodeDefinition struct {
	ID              string `json:"id"`
	AgentID         string `json:"agent_id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	ContinueOnError bool   `json:"continue_on_error,omitempty"`
	TimeoutSeconds  int    `json:"timeout_seconds,omitempty"`
}

// EdgeDefinition describes an edge in a parsed workflow definition
type EdgeDefinition struct {
	ID        string   `json:"id"`
	Source    string   `json:"source"`
	Target    string   `json:"target"`
	Type      EdgeType `json:"type"`
	Condition string   `json:"condition,omitempty"`
}

// GraphDefinition is a parsed graph workflow
type GraphDefinition struct {
	Name     string           `json:"name"`
	Nodes    []NodeDefinition `json:"nodes"`
	Edges    []EdgeDefinition `json:"edges"`
	Branches []ParallelBranch `json:"parallel_branches,omitempty"`
}

// SwarmDefinition is a parsed swarm workflow
type SwarmDefinition struct {
	Name           string             `json:"name"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Participants   []SwarmParticipant `json:"participants"`
	StartAgent     string             `json:"start_agent,omitempty"`
	MaxMessages    int                `json:"max_messages,omitempty"`
	AutoAccept     *bool              `json:"auto_accept,omitempty"`
	Parameters     map[string]float64 `json:"parameters,omitempty"`
}
