package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aescanero/agentmesh/internal/application/handoff"
	"github.com/aescanero/agentmesh/internal/application/orchestrator"
	"github.com/aescanero/agentmesh/internal/application/swarm"
	"github.com/aescanero/agentmesh/internal/application/workers"
	"github.com/aescanero/agentmesh/internal/config"
	"github.com/aescanero/agentmesh/pkg/adapters/condition/cel"
	eventsmem "github.com/aescanero/agentmesh/pkg/adapters/events/memory"
	"github.com/aescanero/agentmesh/pkg/adapters/events/natsbus"
	"github.com/aescanero/agentmesh/pkg/adapters/events/redis"
	"github.com/aescanero/agentmesh/pkg/adapters/llm"
	"github.com/aescanero/agentmesh/pkg/adapters/metrics/prometheus"
	registrymem "github.com/aescanero/agentmesh/pkg/adapters/registry/memory"
	storagemem "github.com/aescanero/agentmesh/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/agentmesh/pkg/adapters/storage/redis"
	"github.com/aescanero/agentmesh/pkg/adapters/storage/sqlite"
	"github.com/aescanero/agentmesh/pkg/api/grpc"
	"github.com/aescanero/agentmesh/pkg/api/http"
	"github.com/aescanero/agentmesh/pkg/api/websocket"
	"github.com/aescanero/agentmesh/pkg/ports"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

// durableStore is implemented by the redis and sqlite adapters
type durableStore interface {
	ports.StateStorage
	ports.HandoffStore
}

// closers run in reverse order on shutdown
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting AgentMesh",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("storage_backend", cfg.StorageBackend),
		zap.String("event_backend", cfg.EventBackend))

	var cleanup closers
	defer cleanup.run()

	ctx := context.Background()

	var redisClient *goredis.Client
	if cfg.StorageBackend == "redis" || cfg.EventBackend == "redis" {
		redisClient = newRedisClient(ctx, cfg, logger)
		cleanup.add(func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("Redis close error", zap.Error(err))
			}
		})
	}

	// Initialize adapters
	storage, store := newStorage(cfg, redisClient, logger, &cleanup)
	eventBus := newEventBus(cfg, redisClient, logger, &cleanup)

	backend, err := llm.NewBackend(&llm.Config{
		Provider:  cfg.LLM.Provider,
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.DefaultModel,
		MaxTokens: int64(cfg.LLM.DefaultMaxTokens),
		BaseURL:   cfg.LLM.BaseURL,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("failed to create agent backend", zap.Error(err))
	}

	roster, err := cfg.AgentRoster()
	if err != nil {
		logger.Fatal("invalid agent roster", zap.Error(err))
	}
	registry := registrymem.NewRegistry(roster...)

	metricsCollector := prometheus.NewCollector()

	compiler, err := cel.Default()
	if err != nil {
		logger.Fatal("failed to create condition compiler", zap.Error(err))
	}

	// Initialize application components
	handoffOpts := []handoff.Option{
		handoff.WithEventBus(eventBus),
		handoff.WithMetrics(metricsCollector),
		handoff.WithLogger(logger),
	}
	if store != nil {
		handoffOpts = append(handoffOpts, handoff.WithStore(store))
	}
	handoffMgr := handoff.NewManager(registry, handoffOpts...)

	sweeper := handoff.NewSweeper(handoffMgr, cfg.Handoff.SweepInterval, logger)
	if purger, ok := store.(handoff.Purger); ok {
		sweeper = sweeper.WithPurger(purger, cfg.Handoff.Retention)
	}
	sweeper.Start()

	workerPool, err := workers.NewPool(
		cfg.Workers.PoolSize,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)
	if err != nil {
		logger.Fatal("failed to create worker pool", zap.Error(err))
	}

	// Start worker pool
	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	orchestratorMgr := orchestrator.NewManager(backend, registry, handoffMgr,
		orchestrator.Config{
			GraphTimeout:     cfg.Timeouts.GraphExecutionTimeout,
			NodeTimeout:      cfg.Timeouts.NodeExecutionTimeout,
			TurnTimeout:      cfg.Timeouts.SwarmTurnTimeout,
			HandoffTTL:       cfg.Handoff.DefaultTTL,
			SnapshotInterval: cfg.Timeouts.SnapshotInterval,
			SwarmParameters: swarm.Parameters{
				SpecializationWeight: cfg.Swarm.SpecializationWeight,
				LatencyWeight:        cfg.Swarm.LatencyWeight,
				SuccessWeight:        cfg.Swarm.SuccessWeight,
				MinScore:             cfg.Swarm.MinScore,
				MaxMessages:          cfg.Swarm.MaxMessages,
			},
			SwarmAutoAccept: cfg.Swarm.AutoAccept,
		},
		orchestrator.WithConditionCompiler(compiler),
		orchestrator.WithDispatcher(workerPool),
		orchestrator.WithEventBus(eventBus),
		orchestrator.WithStorage(storage),
		orchestrator.WithMetrics(metricsCollector),
		orchestrator.WithLogger(logger),
	)

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Registry:     registry,
		Pool:         workerPool,
		HandoffTTL:   cfg.Handoff.DefaultTTL,
		Logger:       logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(eventBus, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:         cfg.GRPCPort,
		Orchestrator: orchestratorMgr,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("AgentMesh started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize),
		zap.Int("agents", len(roster)))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	grpcServer.SetServing(false)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	sweeper.Stop()

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	logger.Info("AgentMesh shut down complete")
}

// newRedisClient connects to Redis and exits on failure
func newRedisClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) *goredis.Client {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	return client
}

// newStorage selects the state storage. The second return is non-nil
// when handoffs are persisted too.
func newStorage(cfg *config.Config, client *goredis.Client, logger *zap.Logger, cleanup *closers) (ports.StateStorage, durableStore) {
	switch cfg.StorageBackend {
	case "redis":
		s := redisstorage.NewStateStorage(client, cfg.Redis.RunTTL, cfg.Redis.RunTTL, logger)
		return s, s
	case "sqlite":
		s, err := sqlite.Open(cfg.SQLite.Path, logger)
		if err != nil {
			logger.Fatal("failed to open SQLite store", zap.String("path", cfg.SQLite.Path), zap.Error(err))
		}
		cleanup.add(func() {
			if err := s.Close(); err != nil {
				logger.Error("SQLite close error", zap.Error(err))
			}
		})
		return s, s
	default:
		return storagemem.NewInMemoryStateStorage(), nil
	}
}

// newEventBus selects the event bus
func newEventBus(cfg *config.Config, client *goredis.Client, logger *zap.Logger, cleanup *closers) ports.EventBus {
	switch cfg.EventBackend {
	case "redis":
		bus, err := redis.NewStreamsEventBus(client, cfg.Redis.ConsumerGroup, cfg.Redis.ConsumerName, logger)
		if err != nil {
			logger.Fatal("failed to create event bus", zap.Error(err))
		}
		return bus
	case "nats":
		url := cfg.NATS.URL
		if cfg.NATS.Embedded {
			srv, err := natsbus.StartServer(cfg.NATS.Host, cfg.NATS.Port)
			if err != nil {
				logger.Fatal("failed to start embedded NATS server", zap.Error(err))
			}
			cleanup.add(srv.Close)
			url = srv.ClientURL()
			logger.Info("embedded NATS server started", zap.String("url", url))
		}
		bus, err := natsbus.Connect(url, logger)
		if err != nil {
			logger.Fatal("failed to connect to NATS", zap.String("url", url), zap.Error(err))
		}
		return bus
	default:
		return eventsmem.NewInMemoryEventBus(logger)
	}
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
