package natsbus

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// Server is an in-process NATS server for single-node deployments
type Server struct {
	server *natsserver.Server
}

// StartServer starts an embedded NATS server on port.
// Port -1 picks a random free port.
func StartServer(host string, port int) (*Server, error) {
	opts := &natsserver.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready")
	}

	return &Server{server: ns}, nil
}

// ClientURL returns the URL clients connect to
func (s *Server) ClientURL() string {
	return s.server.ClientURL()
}

// Close shuts the server down and waits for it
func (s *Server) Close() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
}
