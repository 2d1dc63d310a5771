package runtime

import (
	"context"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	cfgpkg "github.com/drewthekiiid/pipai-sub002/internal/config"
	"github.com/drewthekiiid/pipai-sub002/internal/eventlog"
	"github.com/drewthekiiid/pipai-sub002/internal/eventlog/pebblelog"
	"github.com/drewthekiiid/pipai-sub002/internal/eventlog/redislog"
	"github.com/drewthekiiid/pipai-sub002/internal/jobs"
	"github.com/drewthekiiid/pipai-sub002/internal/jobs/temporal"
	"github.com/drewthekiiid/pipai-sub002/internal/publisher"
	"github.com/drewthekiiid/pipai-sub002/internal/relay"
	pebblestore "github.com/drewthekiiid/pipai-sub002/internal/storage/pebble"
	"github.com/drewthekiiid/pipai-sub002/internal/upload"
	"github.com/drewthekiiid/pipai-sub002/pkg/id"
	logpkg "github.com/drewthekiiid/pipai-sub002/pkg/log"
)

// Options for building the Runtime. Log, Engine and Store replace the
// backends the config would select.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
	Clock  clock.Clock

	Log    eventlog.Log
	Engine jobs.Engine
	Store  upload.ObjectStore
}

// Runtime owns the components of one relay process.
type Runtime struct {
	config    cfgpkg.Config
	logger    logpkg.Logger
	clock     clock.Clock
	log       eventlog.Log
	engine    jobs.Engine
	store     upload.ObjectStore
	registry  *relay.Registry
	publisher *publisher.Publisher
	uploads   *upload.Service
	relayOpts relay.Options
	ids       *id.Generator
	startedAt time.Time
}

// Open builds every component named by opts.Config.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	l := opts.Log
	if l == nil {
		var err error
		if l, err = openLog(cfg, logger); err != nil {
			return nil, errors.Annotate(err, "open event log")
		}
	}

	engine := opts.Engine
	if engine == nil {
		engine = openEngine(cfg.Engine, logger)
	}

	store := opts.Store
	if store == nil && cfg.Upload.Bucket != "" {
		s3, err := upload.NewS3Store(ctx, upload.S3Options{
			Bucket:   cfg.Upload.Bucket,
			Region:   cfg.Upload.Region,
			Endpoint: cfg.Upload.Endpoint,
		})
		if err != nil {
			_ = engine.Close()
			_ = l.Close()
			return nil, errors.Annotate(err, "open object store")
		}
		store = s3
	}

	pub := publisher.New(l, publisher.Options{Clock: clk, Logger: logger})
	rt := &Runtime{
		config:    cfg,
		logger:    logger,
		clock:     clk,
		log:       l,
		engine:    engine,
		store:     store,
		registry:  relay.NewRegistry(),
		publisher: pub,
		relayOpts: relay.OptionsFromConfig(cfg.Relay),
		ids:       id.NewGenerator(clk),
		startedAt: clk.Now(),
	}
	if store != nil {
		rt.uploads = upload.NewService(store, engine, pub, upload.Options{
			MaxFileBytes:        cfg.Upload.MaxFileBytes,
			AllowedContentTypes: cfg.Upload.AllowedContentTypes,
			PresignTTL:          time.Duration(cfg.Upload.PresignTTLSeconds) * time.Second,
			Clock:               clk,
			Logger:              logger,
		})
	}
	logger.Info("runtime.open",
		logpkg.Str("event_log", cfg.EventLog.Backend),
		logpkg.Str("engine", cfg.Engine.Backend),
		logpkg.Bool("uploads", store != nil))
	return rt, nil
}

func openLog(cfg cfgpkg.Config, logger logpkg.Logger) (eventlog.Log, error) {
	switch cfg.EventLog.Backend {
	case "redis":
		r := cfg.EventLog.Redis
		return redislog.Dial(redislog.DialOptions{
			Addrs:    []string{r.Addr},
			Password: r.Password,
			DB:       r.DB,
			TLS:      r.TLS,
		}, redislog.Options{
			KeyPrefix: r.KeyPrefix,
			MaxLen:    int64(cfg.EventLog.MaxLen),
			Logger:    logger,
		}), nil
	default:
		mode, err := pebblestore.ParseFsyncMode(cfg.EventLog.Fsync)
		if err != nil {
			return nil, errors.Trace(err)
		}
		dataDir := cfg.DataDir
		if dataDir == "" {
			dataDir = cfgpkg.DefaultDataDir()
		}
		return pebblelog.Open(pebblestore.Options{
			DataDir:       filepath.Join(dataDir, "events"),
			Fsync:         mode,
			FsyncInterval: cfgpkg.Millis(cfg.EventLog.FsyncIntervalMs),
		}, pebblelog.Options{MaxLen: cfg.EventLog.MaxLen, Logger: logger})
	}
}

func openEngine(cfg cfgpkg.EngineConfig, logger logpkg.Logger) jobs.Engine {
	if cfg.Backend != "temporal" {
		return jobs.Disabled{}
	}
	return temporal.New(temporal.Options{
		HostPort:     cfg.HostPort,
		Namespace:    cfg.Namespace,
		APIKey:       cfg.APIKey,
		TLS:          cfg.TLS,
		TaskQueue:    cfg.TaskQueue,
		WorkflowType: cfg.WorkflowType,
		QueryName:    cfg.QueryName,
		CancelSignal: cfg.CancelSignal,
		Logger:       logger,
	})
}

// NewSession builds a relay session over the runtime's log and registry.
func (r *Runtime) NewSession(cfg relay.Config) (*relay.Session, error) {
	return relay.NewSession(cfg, relay.Deps{
		Log:      r.log,
		Registry: r.registry,
		Clock:    r.clock,
		Logger:   r.logger,
		IDs:      r.ids,
	}, r.relayOpts)
}

// Close cancels every session, waits for them to drain, then closes the
// engine and the log. ctx bounds the wait.
func (r *Runtime) Close(ctx context.Context) error {
	var firstErr error
	if err := r.registry.CancelAll(ctx, "server shutting down"); err != nil {
		r.logger.Warn("runtime.sessions_not_drained", logpkg.Err(err))
		firstErr = errors.Trace(err)
	}
	if err := r.engine.Close(); err != nil && firstErr == nil {
		firstErr = errors.Trace(err)
	}
	if err := r.log.Close(); err != nil && firstErr == nil {
		firstErr = errors.Trace(err)
	}
	return firstErr
}

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

func (r *Runtime) Logger() logpkg.Logger           { return r.logger }
func (r *Runtime) Clock() clock.Clock              { return r.clock }
func (r *Runtime) Log() eventlog.Log               { return r.log }
func (r *Runtime) Engine() jobs.Engine             { return r.engine }
func (r *Runtime) Registry() *relay.Registry       { return r.registry }
func (r *Runtime) Publisher() *publisher.Publisher { return r.publisher }
func (r *Runtime) RelayOptions() relay.Options     { return r.relayOpts }

// Uploads returns the upload service, or nil when no bucket is configured.
func (r *Runtime) Uploads() *upload.Service { return r.uploads }
