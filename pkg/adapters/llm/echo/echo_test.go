package echo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/agentmesh/pkg/domain"
	"github.com/aescanero/agentmesh/pkg/ports"
)

var _ ports.AgentBackend = (*Backend)(nil)

func TestExecute(t *testing.T) {
	b := NewBackend(WithTags("planner", "code"))

	out, err := b.Execute(context.Background(), ports.AgentRequest{AgentID: "planner", Input: "plan it"})
	require.NoError(t, err)
	assert.Equal(t, "[planner] plan it", out.Content)
	assert.Equal(t, []string{"code"}, out.Tags)
	assert.Equal(t, "planner", out.Data["echoed_by"])
}

func TestExecuteTimeout(t *testing.T) {
	b := NewBackend(WithDelay(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.Execute(ctx, ports.AgentRequest{AgentID: "slow", Input: "x"})
	assert.True(t, errors.Is(err, domain.ErrAgentTimeout))
}
