package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/juju/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	cfgpkg "github.com/drewthekiiid/pipai-sub002/internal/config"
	"github.com/drewthekiiid/pipai-sub002/internal/jobs/jobstest"
	"github.com/drewthekiiid/pipai-sub002/internal/runtime"
)

const bufSize = 1 << 20

func openRuntime(t *testing.T, opts runtime.Options) *runtime.Runtime {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.EventLog.Fsync = "never"
	opts.Config = cfg
	rt, err := runtime.Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

// serve starts srv on an in-memory listener and returns a health client.
func serve(t *testing.T, srv *Server) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, lis)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

// waitStatus polls Check until service reports want; the first probe runs
// asynchronously after Serve starts.
func waitStatus(t *testing.T, c healthpb.HealthClient, service string, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last healthpb.HealthCheckResponse_ServingStatus
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		res, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		cancel()
		if err == nil {
			last = res.GetStatus()
			if last == want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("service %q status %v, want %v", service, last, want)
}

func TestHealthServing(t *testing.T) {
	rt := openRuntime(t, runtime.Options{})
	c := serve(t, New(rt, nil))
	waitStatus(t, c, "", healthpb.HealthCheckResponse_SERVING)
	waitStatus(t, c, ServicePrefix+"event_log", healthpb.HealthCheckResponse_SERVING)
	// A disabled engine is not a failure.
	waitStatus(t, c, ServicePrefix+"engine", healthpb.HealthCheckResponse_SERVING)
}

func TestHealthNotServingWhenEngineDown(t *testing.T) {
	engine := jobstest.NewEngine()
	engine.HealthErr = errors.New("connection refused")
	rt := openRuntime(t, runtime.Options{Engine: engine})
	c := serve(t, New(rt, nil))
	waitStatus(t, c, "", healthpb.HealthCheckResponse_NOT_SERVING)
	waitStatus(t, c, ServicePrefix+"engine", healthpb.HealthCheckResponse_NOT_SERVING)
	waitStatus(t, c, ServicePrefix+"event_log", healthpb.HealthCheckResponse_SERVING)
}

func TestHealthFollowsRecovery(t *testing.T) {
	engine := jobstest.NewEngine()
	engine.HealthErr = errors.New("connection refused")
	rt := openRuntime(t, runtime.Options{Engine: engine})
	srv := New(rt, nil)
	srv.interval = 20 * time.Millisecond
	c := serve(t, srv)
	waitStatus(t, c, "", healthpb.HealthCheckResponse_NOT_SERVING)
	engine.SetHealthErr(nil)
	waitStatus(t, c, "", healthpb.HealthCheckResponse_SERVING)
}
