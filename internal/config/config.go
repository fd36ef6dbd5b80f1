package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/aescanero/agentmesh/pkg/domain"
)

// Config holds all configuration for the AgentMesh service
type Config struct {
	// Server configuration
	HTTPPort int    `env:"AGENTMESH_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"AGENTMESH_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Backends
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`
	EventBackend   string `env:"EVENT_BACKEND" envDefault:"memory"`

	// Redis configuration
	Redis RedisConfig

	// NATS configuration
	NATS NATSConfig

	// SQLite configuration
	SQLite SQLiteConfig

	// LLM configuration
	LLM LLMConfig

	// Worker configuration
	Workers WorkerConfig

	// Timeouts
	Timeouts TimeoutConfig

	// Handoff configuration
	Handoff HandoffConfig

	// Swarm defaults
	Swarm SwarmConfig

	// Agents registered at startup, as "id" or "id:cap1|cap2"
	Agents []string `env:"AGENTS" envSeparator:","`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Stream consumer settings
	ConsumerGroup string `env:"REDIS_CONSUMER_GROUP" envDefault:"agentmesh"`
	ConsumerName  string `env:"REDIS_CONSUMER_NAME" envDefault:"agentmesh-1"`

	// Retention of finished runs and handoffs
	RunTTL time.Duration `env:"REDIS_RUN_TTL" envDefault:"168h"`
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	// Embedded starts an in-process server instead of dialing URL.
	Embedded bool   `env:"NATS_EMBEDDED" envDefault:"false"`
	Host     string `env:"NATS_HOST" envDefault:"127.0.0.1"`
	Port     int    `env:"NATS_PORT" envDefault:"4222"`
}

// SQLiteConfig holds SQLite configuration
type SQLiteConfig struct {
	Path string `env:"SQLITE_PATH" envDefault:"agentmesh.db"`
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	Provider string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"LLM_API_KEY"`
	BaseURL  string `env:"LLM_BASE_URL"`

	// Default model settings
	DefaultModel     string `env:"LLM_DEFAULT_MODEL" envDefault:"claude-sonnet-4-20250514"`
	DefaultMaxTokens int    `env:"LLM_DEFAULT_MAX_TOKENS" envDefault:"4096"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	GraphExecutionTimeout time.Duration `env:"TIMEOUT_GRAPH_EXECUTION" envDefault:"3600s"` // 1 hour
	NodeExecutionTimeout  time.Duration `env:"TIMEOUT_NODE_EXECUTION" envDefault:"300s"`   // 5 minutes
	SwarmTurnTimeout      time.Duration `env:"TIMEOUT_SWARM_TURN" envDefault:"300s"`
	SnapshotInterval      time.Duration `env:"TIMEOUT_SNAPSHOT_INTERVAL" envDefault:"10s"`
	ShutdownTimeout       time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// HandoffConfig holds handoff negotiation settings
type HandoffConfig struct {
	DefaultTTL    time.Duration `env:"HANDOFF_DEFAULT_TTL" envDefault:"5m"`
	SweepInterval time.Duration `env:"HANDOFF_SWEEP_INTERVAL" envDefault:"30s"`
	// Retention is how long finished handoffs stay in SQLite.
	Retention time.Duration `env:"HANDOFF_RETENTION" envDefault:"720h"`
}

// SwarmConfig holds swarm routing defaults
type SwarmConfig struct {
	MaxMessages          int     `env:"SWARM_MAX_MESSAGES" envDefault:"20"`
	AutoAccept           bool    `env:"SWARM_AUTO_ACCEPT" envDefault:"true"`
	SpecializationWeight float64 `env:"SWARM_SPECIALIZATION_WEIGHT" envDefault:"0.6"`
	LatencyWeight        float64 `env:"SWARM_LATENCY_WEIGHT" envDefault:"0.2"`
	SuccessWeight        float64 `env:"SWARM_SUCCESS_WEIGHT" envDefault:"0.2"`
	MinScore             float64 `env:"SWARM_MIN_SCORE" envDefault:"0"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate backends
	switch c.StorageBackend {
	case "memory", "sqlite":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s (must be memory, redis, or sqlite)", c.StorageBackend)
	}
	if c.StorageBackend == "sqlite" && c.SQLite.Path == "" {
		return fmt.Errorf("sqlite path is required")
	}

	switch c.EventBackend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	case "nats":
		if !c.NATS.Embedded && c.NATS.URL == "" {
			return fmt.Errorf("NATS URL is required")
		}
		if c.NATS.Embedded && (c.NATS.Port < 1 || c.NATS.Port > 65535) {
			return fmt.Errorf("invalid NATS port: %d", c.NATS.Port)
		}
	default:
		return fmt.Errorf("unsupported event backend: %s (must be memory, redis, or nats)", c.EventBackend)
	}

	// Validate LLM config
	switch c.LLM.Provider {
	case "anthropic":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM API key is required")
		}
	case "echo":
	default:
		return fmt.Errorf("unsupported LLM provider: %s (must be anthropic or echo)", c.LLM.Provider)
	}

	// Validate worker config
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}

	// Validate handoff config
	if c.Handoff.DefaultTTL <= 0 {
		return fmt.Errorf("handoff default TTL must be positive")
	}
	if c.Handoff.SweepInterval <= 0 {
		return fmt.Errorf("handoff sweep interval must be positive")
	}

	// Validate swarm defaults
	if c.Swarm.MaxMessages < 1 {
		return fmt.Errorf("swarm max messages must be at least 1")
	}
	for name, w := range map[string]float64{
		"specialization weight": c.Swarm.SpecializationWeight,
		"latency weight":        c.Swarm.LatencyWeight,
		"success weight":        c.Swarm.SuccessWeight,
		"min score":             c.Swarm.MinScore,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("swarm %s must be within [0, 1], got %g", name, w)
		}
	}

	// Validate agent roster
	if _, err := c.AgentRoster(); err != nil {
		return err
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// AgentRoster parses the startup agent list
func (c *Config) AgentRoster() ([]domain.AgentInfo, error) {
	var agents []domain.AgentInfo
	seen := make(map[string]bool)
	for _, raw := range c.Agents {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, caps, _ := strings.Cut(raw, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("invalid agent entry: %q", raw)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate agent: %s", id)
		}
		seen[id] = true

		agent := domain.AgentInfo{ID: id, Name: id}
		for _, capability := range strings.Split(caps, "|") {
			if capability = strings.TrimSpace(capability); capability != "" {
				agent.Capabilities = append(agent.Capabilities, capability)
			}
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
