package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "echo")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, "memory", cfg.StorageBackend)
	assert.Equal(t, "memory", cfg.EventBackend)
	assert.Equal(t, 5*time.Minute, cfg.Handoff.DefaultTTL)
	assert.Equal(t, 20, cfg.Swarm.MaxMessages)
	assert.True(t, cfg.Swarm.AutoAccept)
	assert.Equal(t, 0.6, cfg.Swarm.SpecializationWeight)
	assert.Equal(t, time.Hour, cfg.Timeouts.GraphExecutionTimeout)
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("LLM_API_KEY", "secret")
	t.Setenv("STORAGE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/mesh.db")
	t.Setenv("EVENT_BACKEND", "nats")
	t.Setenv("NATS_EMBEDDED", "true")
	t.Setenv("AGENTS", "planner:planning, coder:code|go ,reviewer")
	t.Setenv("HANDOFF_SWEEP_INTERVAL", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/mesh.db", cfg.SQLite.Path)
	assert.True(t, cfg.NATS.Embedded)
	assert.Equal(t, 5*time.Second, cfg.Handoff.SweepInterval)

	agents, err := cfg.AgentRoster()
	require.NoError(t, err)
	require.Len(t, agents, 3)
	assert.Equal(t, "planner", agents[0].ID)
	assert.Equal(t, []string{"code", "go"}, agents[1].Capabilities)
	assert.Empty(t, agents[2].Capabilities)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTPPort:       8080,
			GRPCPort:       9090,
			LogLevel:       "info",
			StorageBackend: "memory",
			EventBackend:   "memory",
			LLM:            LLMConfig{Provider: "echo"},
			Workers:        WorkerConfig{PoolSize: 1},
			Handoff:        HandoffConfig{DefaultTTL: time.Minute, SweepInterval: time.Second},
			Swarm:          SwarmConfig{MaxMessages: 10, SpecializationWeight: 1},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http port", func(c *Config) { c.HTTPPort = 0 }},
		{"grpc port", func(c *Config) { c.GRPCPort = 70000 }},
		{"storage backend", func(c *Config) { c.StorageBackend = "etcd" }},
		{"event backend", func(c *Config) { c.EventBackend = "kafka" }},
		{"redis addr", func(c *Config) { c.StorageBackend = "redis" }},
		{"anthropic key", func(c *Config) { c.LLM.Provider = "anthropic" }},
		{"provider", func(c *Config) { c.LLM.Provider = "openai" }},
		{"pool size", func(c *Config) { c.Workers.PoolSize = 0 }},
		{"handoff ttl", func(c *Config) { c.Handoff.DefaultTTL = 0 }},
		{"sweep interval", func(c *Config) { c.Handoff.SweepInterval = 0 }},
		{"max messages", func(c *Config) { c.Swarm.MaxMessages = 0 }},
		{"weight", func(c *Config) { c.Swarm.LatencyWeight = 1.5 }},
		{"duplicate agent", func(c *Config) { c.Agents = []string{"a", "a"} }},
		{"empty agent id", func(c *Config) { c.Agents = []string{":code"} }},
		{"log level", func(c *Config) { c.LogLevel = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
