package serverrun

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/drewthekiiid/pipai-sub002/internal/config"
	"github.com/drewthekiiid/pipai-sub002/internal/runtime"
	grpcserver "github.com/drewthekiiid/pipai-sub002/internal/server/grpc"
	httpserver "github.com/drewthekiiid/pipai-sub002/internal/server/http"
	logpkg "github.com/drewthekiiid/pipai-sub002/pkg/log"
)

// Options configure Run.
type Options struct {
	Config cfgpkg.Config
	// Logger overrides the logger built from Config.Log.
	Logger logpkg.Logger
	// Runtime overrides fields of the runtime options, mainly for tests.
	Runtime runtime.Options
}

// Run opens the runtime and serves HTTP and gRPC until ctx is cancelled or
// either listener fails.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := opts.Logger
	if logger == nil {
		l, err := newLogger(cfg.Log)
		if err != nil {
			return errors.Annotate(err, "logger")
		}
		logger = l
	}
	// Pebble and the AWS SDK log through the standard library.
	logpkg.RedirectStdLog(logger)

	ropts := opts.Runtime
	ropts.Config = cfg
	ropts.Logger = logger
	rt, err := runtime.Open(sctx, ropts)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			logger.Warn("runtime.close_failed", logpkg.Err(err))
		}
	}()

	logger.Info("relay.starting",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("grpc", cfg.GRPCAddr),
		logpkg.Str("event_log", cfg.EventLog.Backend),
		logpkg.Str("engine", cfg.Engine.Backend),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Bool("uploads", rt.Uploads() != nil),
	)

	hsrv := httpserver.New(rt, logger)
	gsrv := grpcserver.New(rt, logger)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return errors.Annotate(hsrv.ListenAndServe(gctx, cfg.HTTPAddr), "http") })
	g.Go(func() error { return errors.Annotate(gsrv.ListenAndServe(gctx, cfg.GRPCAddr), "grpc") })
	err = g.Wait()
	logger.Info("relay.stopped")
	return err
}

func newLogger(c cfgpkg.LogConfig) (logpkg.Logger, error) {
	lc := &logpkg.Config{Level: c.Level, Format: c.Format}
	if lc.Level == "" {
		lc.Level = "info"
	}
	return logpkg.ApplyConfig(lc)
}
