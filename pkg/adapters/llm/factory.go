package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/agentmesh/pkg/adapters/llm/anthropic"
	"github.com/aescanero/agentmesh/pkg/adapters/llm/echo"
	"github.com/aescanero/agentmesh/pkg/ports"
)

// Config holds agent backend configuration
type Config struct {
	Provider      string
	APIKey        string
	Model         string
	MaxTokens     int64
	BaseURL       string
	SystemPrompts map[string]string
	Logger        *zap.Logger
}

// NewBackend creates a new agent backend based on provider
func NewBackend(cfg *Config) (ports.AgentBackend, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewBackend(anthropic.Config{
			APIKey:        cfg.APIKey,
			Model:         cfg.Model,
			MaxTokens:     cfg.MaxTokens,
			BaseURL:       cfg.BaseURL,
			SystemPrompts: cfg.SystemPrompts,
			Logger:        cfg.Logger,
		})
	case "echo":
		return echo.NewBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
