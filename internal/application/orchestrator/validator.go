package orchestrator

import (
	"context"
	"fmt"

	"github.com/aescanero/agentmesh/pkg/domain"
	"github.com/aescanero/agentmesh/pkg/ports"
)

// Validator checks workflow definitions before a run is built.
// Structural rules that depend on the whole graph (cycles, duplicate edge
// ids) are enforced by the graph builder.
type Validator struct {
	registry ports.AgentRegistry
}

// NewValidator creates a new workflow validator.
// A nil registry skips agent resolution.
func NewValidator(registry ports.AgentRegistry) *Validator {
	return &Validator{registry: registry}
}

// ValidateGraph validates a graph workflow definition
func (v *Validator) ValidateGraph(ctx context.Context, def *domain.GraphDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: graph definition is nil", domain.ErrInvalidParameter)
	}
	if len(def.Nodes) == 0 {
		return fmt.Errorf("%w: graph must have at least one node", domain.ErrInvalidParameter)
	}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	for _, node := range def.Nodes {
		if err := v.validateNode(ctx, node); err != nil {
			return fmt.Errorf("invalid node %s: %w", node.ID, err)
		}
		if nodeIDs[node.ID] {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateNode, node.ID)
		}
		nodeIDs[node.ID] = true
	}

	for _, edge := range def.Edges {
		if edge.ID == "" {
			return fmt.Errorf("%w: edge from %s to %s has no id", domain.ErrInvalidEdge, edge.Source, edge.Target)
		}
		if !edge.Type.Valid() {
			return fmt.Errorf("%w: edge %s has unknown type %q", domain.ErrInvalidEdge, edge.ID, edge.Type)
		}
		if edge.Type == domain.EdgeTypeConditional && edge.Condition == "" {
			return fmt.Errorf("%w: conditional edge %s has no condition", domain.ErrInvalidEdge, edge.ID)
		}
		if edge.Type != domain.EdgeTypeConditional && edge.Condition != "" {
			return fmt.Errorf("%w: %s edge %s cannot carry a condition", domain.ErrInvalidEdge, edge.Type, edge.ID)
		}
		if !nodeIDs[edge.Source] {
			return fmt.Errorf("%w: edge %s references source %s", domain.ErrUnknownNode, edge.ID, edge.Source)
		}
		if !nodeIDs[edge.Target] {
			return fmt.Errorf("%w: edge %s references target %s", domain.ErrUnknownNode, edge.ID, edge.Target)
		}
	}

	return nil
}

// validateNode validates a single node
func (v *Validator) validateNode(ctx context.Context, node domain.NodeDefinition) error {
	if node.ID == "" {
		return fmt.Errorf("%w: node id is required", domain.ErrInvalidParameter)
	}
	if node.AgentID == "" {
		return fmt.Errorf("%w: agent id is required", domain.ErrInvalidParameter)
	}
	if node.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: timeout_seconds must not be negative", domain.ErrInvalidParameter)
	}
	return v.resolveAgent(ctx, node.AgentID)
}

// ValidateSwarm validates a swarm workflow definition
func (v *Validator) ValidateSwarm(ctx context.Context, def *domain.SwarmDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: swarm definition is nil", domain.ErrInvalidParameter)
	}
	if len(def.Participants) == 0 {
		return fmt.Errorf("%w: swarm must have at least one participant", domain.ErrInvalidParameter)
	}
	if def.MaxMessages < 0 {
		return fmt.Errorf("%w: max_messages must not be negative", domain.ErrInvalidParameter)
	}

	agents := make(map[string]bool, len(def.Participants))
	for _, p := range def.Participants {
		if p.AgentID == "" {
			return fmt.Errorf("%w: participant agent id is required", domain.ErrInvalidParameter)
		}
		if agents[p.AgentID] {
			return fmt.Errorf("%w: participant %s listed twice", domain.ErrInvalidParameter, p.AgentID)
		}
		agents[p.AgentID] = true
		if err := v.resolveAgent(ctx, p.AgentID); err != nil {
			return fmt.Errorf("invalid participant %s: %w", p.AgentID, err)
		}
	}

	for _, p := range def.Participants {
		for _, target := range p.HandoffTargets {
			if !agents[target] {
				return fmt.Errorf("%w: participant %s hands off to non-participant %s", domain.ErrInvalidParameter, p.AgentID, target)
			}
		}
	}
	if def.StartAgent != "" && !agents[def.StartAgent] {
		return fmt.Errorf("%w: start agent %s is not a participant", domain.ErrInvalidParameter, def.StartAgent)
	}

	return nil
}

func (v *Validator) resolveAgent(ctx context.Context, agentID string) error {
	if v.registry == nil {
		return nil
	}
	if _, err := v.registry.GetAgent(ctx, agentID); err != nil {
		return err
	}
	return nil
}
