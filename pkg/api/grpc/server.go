package grpc

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/aescanero/agentmesh/internal/application/orchestrator"
)

// ServiceName is the health-checked service name
const ServiceName = "agentmesh.Orchestrator"

// Server represents the gRPC API server
type Server struct {
	server       *grpc.Server
	listener     net.Listener
	health       *health.Server
	orchestrator *orchestrator.Manager
	logger       *zap.Logger
}

// Config holds gRPC server configuration
type Config struct {
	Port int
	// Listener overrides Port when set
	Listener     net.Listener
	Orchestrator *orchestrator.Manager
	Logger       *zap.Logger
}

// NewServer creates a new gRPC server
func NewServer(cfg *Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	listener := cfg.Listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
		if err != nil {
			return nil, fmt.Errorf("failed to create listener: %w", err)
		}
	}

	grpcServer := grpc.NewServer()

	s := &Server{
		server:       grpcServer,
		listener:     listener,
		health:       health.NewServer(),
		orchestrator: cfg.Orchestrator,
		logger:       logger,
	}

	healthpb.RegisterHealthServer(grpcServer, s.health)
	reflection.Register(grpcServer)
	s.SetServing(cfg.Orchestrator != nil)

	return s, nil
}

// SetServing flips the reported health of the orchestrator service
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Addr returns the listening address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start starts the gRPC server
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.listener.Addr().String()))

	if err := s.server.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
// Health reports NOT_SERVING before in-flight calls drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("failed to shutdown gRPC server: %w", ctx.Err())
	}

	s.logger.Info("gRPC server shut down complete")
	return nil
}
