// Package grpc provides the gRPC endpoint of the orchestrator.
//
// It serves the standard gRPC health service, reporting the
// agentmesh.Orchestrator service, plus server reflection.
package grpc
