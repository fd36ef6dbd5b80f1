// Package memory provides an in-process agent registry.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/agentmesh/pkg/domain"
)

// Registry implements AgentRegistry with a map.
// ListAgents returns agents in registration order.
type Registry struct {
	agents map[string]domain.AgentInfo
	order  []string
	now    func() time.Time
	mu     sync.RWMutex
}

// NewRegistry creates a registry pre-loaded with agents
func NewRegistry(agents ...domain.AgentInfo) *Registry {
	r := &Registry{
		agents: make(map[string]domain.AgentInfo),
		now:    time.Now,
	}
	for _, a := range agents {
		_ = r.Register(context.Background(), a)
	}
	return r
}

// Register adds an agent or replaces the one with the same id.
// Re-registering keeps the original position and registration time.
func (r *Registry) Register(ctx context.Context, agent domain.AgentInfo) error {
	if agent.ID == "" {
		return fmt.Errorf("%w: agent id is required", domain.ErrInvalidParameter)
	}
	agent.Capabilities = append([]string(nil), agent.Capabilities...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.agents[agent.ID]; ok {
		agent.RegisteredAt = prev.RegisteredAt
	} else {
		if agent.RegisteredAt.IsZero() {
			agent.RegisteredAt = r.now()
		}
		r.order = append(r.order, agent.ID)
	}
	r.agents[agent.ID] = agent
	return nil
}

// GetAgent returns the agent with the given id
func (r *Registry) GetAgent(ctx context.Context, agentID string) (*domain.AgentInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownAgent, agentID)
	}
	agent.Capabilities = append([]string(nil), agent.Capabilities...)
	return &agent, nil
}

// ListAgents returns all registered agents
func (r *Registry) ListAgents(ctx context.Context) ([]domain.AgentInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]domain.AgentInfo, 0, len(r.order))
	for _, id := range r.order {
		agent := r.agents[id]
		agent.Capabilities = append([]string(nil), agent.Capabilities...)
		agents = append(agents, agent)
	}
	return agents, nil
}
