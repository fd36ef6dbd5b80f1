package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/agentmesh/pkg/adapters/llm/anthropic"
	"github.com/aescanero/agentmesh/pkg/adapters/llm/echo"
)

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(&Config{Provider: "echo"})
	require.NoError(t, err)
	assert.IsType(t, &echo.Backend{}, b)

	b, err = NewBackend(&Config{Provider: "anthropic", APIKey: "key"})
	require.NoError(t, err)
	assert.IsType(t, &anthropic.Backend{}, b)

	_, err = NewBackend(&Config{Provider: "anthropic"})
	assert.Error(t, err)

	_, err = NewBackend(&Config{Provider: "openai"})
	assert.Error(t, err)
}
