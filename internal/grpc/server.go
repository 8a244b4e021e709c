package grpc

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/weiawesome/groupwatch/pkg/log"
)

// ServiceName is the name reported by the health service.
const ServiceName = "groupwatch"

// Server wraps the gRPC server and its health reporter.
type Server struct {
	*grpc.Server
	Health *health.Server
	lis    net.Listener
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.lis.Addr()
}

// Shutdown marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Shutdown() {
	s.Health.Shutdown()
	s.GracefulStop()
}

// StartGRPCServer listens on addr and serves grpc.health.v1.Health.
func StartGRPCServer(addr string, logger zerolog.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := grpc.NewServer(
		grpc.UnaryInterceptor(log.UnaryServerInterceptor(logger)),
		grpc.StreamInterceptor(log.StreamServerInterceptor(logger)),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	go func() {
		l := log.L()
		l.Info().Str("address", lis.Addr().String()).Msg("grpc health server listening")
		if err := s.Serve(lis); err != nil {
			l.Error().Err(err).Msg("grpc server error")
		}
	}()

	return &Server{Server: s, Health: hs, lis: lis}, nil
}
