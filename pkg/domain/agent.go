package domain

import "time"

// AgentInfo describes a registered agent
type AgentInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}
