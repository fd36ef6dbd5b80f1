// Package echo provides a backend that answers without calling a model.
// It is meant for local development and demos.
package echo

import (
	"context"
	"fmt"
	"time"

	"github.com/aescanero/agentmesh/pkg/domain"
	"github.com/aescanero/agentmesh/pkg/ports"
)

// Backend echoes the input back, prefixed by the agent id
type Backend struct {
	delay time.Duration
	tags  map[string][]string
}

// Option configures the echo backend
type Option func(*Backend)

// WithDelay makes every call take d
func WithDelay(d time.Duration) Option {
	return func(b *Backend) { b.delay = d }
}

// WithTags makes an agent label its outputs with tags
func WithTags(agentID string, tags ...string) Option {
	return func(b *Backend) { b.tags[agentID] = tags }
}

// NewBackend creates a new echo backend
func NewBackend(opts ...Option) *Backend {
	b := &Backend{tags: make(map[string][]string)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute returns "[agent] input"
func (b *Backend) Execute(ctx context.Context, req ports.AgentRequest) (*ports.AgentOutput, error) {
	if b.delay > 0 {
		timer := time.NewTimer(b.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("%w: agent %s", domain.ErrAgentTimeout, req.AgentID)
			}
			return nil, ctx.Err()
		}
	}

	return &ports.AgentOutput{
		Content: fmt.Sprintf("[%s] %s", req.AgentID, req.Input),
		Data:    map[string]any{"echoed_by": req.AgentID},
		Tags:    append([]string(nil), b.tags[req.AgentID]...),
	}, nil
}
