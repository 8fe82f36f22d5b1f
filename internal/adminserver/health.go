package adminserver

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer wraps grpc-go's own bundled health service (not a
// hand-authored stub) so an orchestrator can probe liveness the standard
// gRPC way alongside the JSON admin surface.
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
}

func NewHealthServer() *HealthServer {
	h := health.NewServer()
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, h)
	return &HealthServer{grpcServer: s, health: h}
}

// SetServing flips the overall serving status the health check reports.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
}

// Serve blocks accepting gRPC health-check connections on lis.
func (h *HealthServer) Serve(lis net.Listener) error {
	return h.grpcServer.Serve(lis)
}

func (h *HealthServer) Stop() {
	h.grpcServer.GracefulStop()
}
