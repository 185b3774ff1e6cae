package grpcserver

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/rzbill/pulse/internal/runtime"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

// ServiceName is the health service name reported alongside "".
const ServiceName = "pulse.v1.Progress"

// Server owns the gRPC server instance and runtime.
type Server struct {
	rt     *runtime.Runtime
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
	logger logpkg.Logger
	// probeEvery is how often runtime health is mirrored into the
	// health service while serving.
	probeEvery time.Duration
}

// New constructs a gRPC server and registers services.
func New(rt *runtime.Runtime, logger logpkg.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	s := &Server{
		rt:         rt,
		grpc:       grpc.NewServer(opts...),
		health:     health.NewServer(),
		logger:     logger.WithComponent("grpc"),
		probeEvery: 5 * time.Second,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.probe(context.Background())
	return s
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve serves on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.lis = l
	s.logger.Info("grpc listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	ticker := time.NewTicker(s.probeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			s.grpc.GracefulStop()
			return nil
		case <-ticker.C:
			s.probe(ctx)
		case err := <-errCh:
			return err
		}
	}
}

// probe mirrors runtime health into the health service.
func (s *Server) probe(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.rt.CheckHealth(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Warn("health probe failed", logpkg.Err(err))
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.lis != nil {
		_ = s.lis.Close()
	}
}
