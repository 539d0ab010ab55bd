package grpc

import (
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mr1hm/rental-alerts/internal/alerting"
	"github.com/mr1hm/rental-alerts/internal/logging"
)

// ChecksService is the health service name that tracks detection passes.
const ChecksService = "rentalalerts.Checks"

// Server exposes the standard gRPC health protocol. The overall status is
// SERVING while the process runs; ChecksService follows the last pass.
type Server struct {
	health     *health.Server
	grpcServer *grpc.Server
	log        *slog.Logger
}

func NewServer() *Server {
	hs := health.NewServer()
	hs.SetServingStatus(ChecksService, healthpb.HealthCheckResponse_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		health:     hs,
		grpcServer: gs,
		log:        logging.Component("grpc"),
	}
}

// Observe records a check pass. A pass where every rule failed marks
// ChecksService NOT_SERVING until a later pass completes any rule.
func (s *Server) Observe(r alerting.Report) {
	status := healthpb.HealthCheckResponse_SERVING
	if len(r.Counts) == 0 && r.Failed() > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ChecksService, status)
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve blocks until Stop. Stopping before Serve starts is not an error.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC server listening", "addr", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
