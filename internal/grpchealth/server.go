// Package grpchealth exposes the standard gRPC health checking protocol
// for orchestrator health checks.
package grpchealth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/pobradovic08/demo-app/internal/tlsutil"
)

// Server serves grpc.health.v1.Health.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listenAddr string
	services   []string
}

// ServerDeps holds the dependencies for the gRPC health server.
type ServerDeps struct {
	ListenAddr string
	// Service is reported alongside the overall ("") status.
	Service    string
	CertLoader *tlsutil.CertificateLoader
}

// NewServer creates a gRPC server with the health service registered.
// Every service starts NOT_SERVING until MarkServing is called.
func NewServer(deps ServerDeps) *Server {
	var opts []grpc.ServerOption

	if deps.CertLoader != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsutil.NewServerTLSConfig(deps.CertLoader, nil))))
	}

	opts = append(opts,
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	s := &Server{
		grpcServer: grpc.NewServer(opts...),
		health:     health.NewServer(),
		listenAddr: deps.ListenAddr,
		services:   []string{""},
	}
	if deps.Service != "" {
		s.services = append(s.services, deps.Service)
	}
	for _, svc := range s.services {
		s.health.SetServingStatus(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	return s
}

// MarkServing reports every service as SERVING.
func (s *Server) MarkServing() {
	for _, svc := range s.services {
		s.health.SetServingStatus(svc, healthpb.HealthCheckResponse_SERVING)
	}
}

// MarkNotServing reports every service as NOT_SERVING so health checks fail
// before listeners close.
func (s *Server) MarkNotServing() {
	for _, svc := range s.services {
		s.health.SetServingStatus(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("gRPC listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("starting gRPC health server", "addr", lis.Addr().String())
	s.MarkServing()
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("gRPC serve: %w", err)
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight RPCs until ctx expires.
func (s *Server) Shutdown(ctx context.Context) {
	slog.Info("shutting down gRPC health server")
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		// Watch streams never finish on their own.
		s.grpcServer.Stop()
	}
}
