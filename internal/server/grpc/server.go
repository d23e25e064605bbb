// Package grpc is the transport of the archive: a gRPC server that
// authenticates callers from request metadata, maps domain errors onto
// status codes, reports health and serves the archive API.
package grpc

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/archivekeeper/internal/logging"
)

// Registration attaches a service implementation to the server before it
// starts serving.
type Registration func(grpc.ServiceRegistrar)

type Server struct {
	address       string
	logger        logging.Logger
	auth          Authenticator
	health        *health.Server
	registrations []Registration
}

func NewServer(address string, l logging.Logger, a Authenticator, registrations ...Registration) *Server {
	return &Server{
		address:       address,
		logger:        l.With("module", "grpc_server"),
		auth:          a,
		health:        health.NewServer(),
		registrations: registrations,
	}
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is cancelled, then stops
// gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.accessTokenInterceptor, s.errorInterceptor),
		grpc.ChainStreamInterceptor(s.accessTokenStreamInterceptor, s.errorStreamInterceptor),
	)

	healthpb.RegisterHealthServer(srv, s.health)
	for _, register := range s.registrations {
		register(srv)
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
