package grpcserver

import (
	"context"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/drewthekiiid/pipai-sub002/internal/runtime"
	logpkg "github.com/drewthekiiid/pipai-sub002/pkg/log"
)

// ServicePrefix names per-component health services, e.g. "relay.event_log".
const ServicePrefix = "relay."

// refreshHealth probes the runtime once and publishes the overall status
// under "" and each component under ServicePrefix+name. Disabled components
// report SERVING.
func (s *Server) refreshHealth(ctx context.Context) bool {
	h := s.rt.Health(ctx)
	overall := healthpb.HealthCheckResponse_SERVING
	if !h.Healthy() {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", overall)
	for name, c := range h.Components {
		st := healthpb.HealthCheckResponse_SERVING
		if c.Status == runtime.StatusDown {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus(ServicePrefix+name, st)
	}
	return h.Healthy()
}

func (s *Server) watchHealth(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	last := true
	for {
		if ok := s.refreshHealth(ctx); ok != last {
			s.logger.Warn("grpc.health_changed", logpkg.Bool("serving", ok))
			last = ok
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
