package transports

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GrpcHealthTransport checks the grpc.health.v1 service.
type GrpcHealthTransport struct {
	addr string
	opts []grpc.DialOption
}

// NewGrpcHealthTransport returns a transport for addr. Without options the
// connection uses insecure credentials for local use.
func NewGrpcHealthTransport(addr string, opts ...grpc.DialOption) *GrpcHealthTransport {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &GrpcHealthTransport{addr: addr, opts: opts}
}

// Check returns the serving status name of service ("" for the server).
func (t *GrpcHealthTransport) Check(ctx context.Context, service string) (string, error) {
	conn, err := grpc.NewClient(t.addr, t.opts...)
	if err != nil {
		return "", err
	}
	defer func() { _ = conn.Close() }()
	res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return "", err
	}
	return res.GetStatus().String(), nil
}
