package domain

import "time"

// SwarmParticipant is an agent taking part in a swarm run
type SwarmParticipant struct {
	AgentID         string   `json:"agent_id"`
	Name            string   `json:"name"`
	Specializations []string `json:"specializations"`
	HandoffTargets  []string `json:"handoff_targets,omitempty"`
	AutoAccept      *bool    `json:"auto_accept,omitempty"`
}

// CanHandoffTo reports whether agentID is inside the participant's allow-list.
// An empty allow-list permits any target.
func (p SwarmParticipant) CanHandoffTo(agentID string) bool {
	if len(p.HandoffTargets) == 0 {
		return true
	}
	for _, t := range p.HandoffTargets {
		if t == agentID {
			return true
		}
	}
	return false
}

// SwarmMetrics aggregates per participant statistics
type SwarmMetrics struct {
	AgentID           string        `json:"agent_id"`
	Turns             int           `json:"turns"`
	FailedTurns       int           `json:"failed_turns"`
	HandoffsInitiated int           `json:"handoffs_initiated"`
	HandoffsAccepted  int           `json:"handoffs_accepted"`
	HandoffsRejected  int           `json:"handoffs_rejected"`
	AverageLatency    time.Duration `json:"average_latency"`
	SuccessRate       float64       `json:"success_rate"`
}
