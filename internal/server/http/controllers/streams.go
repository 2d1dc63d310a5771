package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/juju/errors"

	"github.com/drewthekiiid/pipai-sub002/internal/config"
	"github.com/drewthekiiid/pipai-sub002/internal/eventlog"
	"github.com/drewthekiiid/pipai-sub002/internal/jobs"
	"github.com/drewthekiiid/pipai-sub002/internal/publisher"
	"github.com/drewthekiiid/pipai-sub002/internal/relay"
	"github.com/drewthekiiid/pipai-sub002/internal/runtime"
	logpkg "github.com/drewthekiiid/pipai-sub002/pkg/log"
)

// StreamsController serves progress streams over SSE and websockets.
//
// Query params: last_event_id (or the Last-Event-ID header) resumes after a
// frame id, from=latest skips history when not resuming, filter narrows
// events with a CEL expression, workflow_id attaches a job to a file stream.
type StreamsController struct {
	rt       *runtime.Runtime
	logger   logpkg.Logger
	upgrader websocket.Upgrader
}

// NewStreamsController creates a new streams controller.
func NewStreamsController(rt *runtime.Runtime, logger logpkg.Logger) *StreamsController {
	return &StreamsController{
		rt:     rt,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(rt.Config().AllowedOrigins),
		},
	}
}

// RegisterRoutes registers stream routes with the given router.
func (c *StreamsController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/stream/{kind:workflow|file|user}/{id}", c.handleSSE).Methods(http.MethodGet)
	r.HandleFunc("/v1/ws/{kind:workflow|file|user}/{id}", c.handleWS).Methods(http.MethodGet)
}

// lastCursorer is implemented by logs that can report their newest cursor.
type lastCursorer interface {
	LastCursor(subject string) (eventlog.Cursor, error)
}

// sessionConfig builds the subscription named by the request path.
func (c *StreamsController) sessionConfig(r *http.Request) (relay.Config, error) {
	vars := mux.Vars(r)
	kind, target := relay.Kind(vars["kind"]), vars["id"]
	if strings.TrimSpace(target) == "" {
		return relay.Config{}, errors.NotValidf("empty %s id", kind)
	}
	q := r.URL.Query()
	clientExpr := q.Get("filter")
	if len(clientExpr) > relay.MaxFilterBytes {
		return relay.Config{}, errors.NotValidf("filter of %d bytes", len(clientExpr))
	}

	cfg := relay.Config{
		Key:                string(kind) + ":" + target,
		Kind:               kind,
		Singleton:          kind != relay.KindUser,
		EndOnTerminalEvent: kind != relay.KindUser,
	}
	var err error
	switch kind {
	case relay.KindWorkflow:
		cfg.Subjects = []string{publisher.WorkflowSubject(target)}
		cfg.Job = c.job(target)
		cfg.Meta = map[string]any{"workflow_id": target}
	case relay.KindFile:
		cfg.Subjects = []string{publisher.FileSubject(target)}
		cfg.Meta = map[string]any{"file_id": target}
		if wf := q.Get("workflow_id"); wf != "" {
			cfg.Job = c.job(wf)
			cfg.Meta["workflow_id"] = wf
		}
	case relay.KindUser:
		cfg.Subjects = c.rt.Config().FanInTopics
		cfg.Meta = map[string]any{"user_id": target}
		if cfg.Filter, err = relay.OwnershipFilter(target, clientExpr); err != nil {
			return relay.Config{}, err
		}
	}
	if kind != relay.KindUser && clientExpr != "" {
		if cfg.Filter, err = relay.NewFilter(clientExpr, nil); err != nil {
			return relay.Config{}, err
		}
	}
	if len(cfg.Subjects) == 0 {
		return relay.Config{}, errors.NotValidf("no fan-in topics configured")
	}

	token := r.Header.Get("Last-Event-ID")
	if token == "" {
		token = q.Get("last_event_id")
	}
	cfg.Cursors = relay.DecodeFrameID(token, cfg.Subjects)
	cfg.Meta["resumed"] = token != ""
	if token == "" && q.Get("from") == "latest" {
		if lc, ok := c.rt.Log().(lastCursorer); ok {
			for _, s := range cfg.Subjects {
				cur, err := lc.LastCursor(s)
				if err != nil {
					return relay.Config{}, errors.Trace(err)
				}
				cfg.Cursors[s] = cur
			}
		}
	}
	return cfg, nil
}

// job returns a handle for workflowID, or nil when no engine is configured.
func (c *StreamsController) job(workflowID string) jobs.StatusClient {
	if _, disabled := c.rt.Engine().(jobs.Disabled); disabled {
		return nil
	}
	return c.rt.Engine().Handle(workflowID)
}

// openSession builds and registers a session so that a taken singleton key
// is reported before any stream bytes are written.
func (c *StreamsController) openSession(r *http.Request) (*relay.Session, error) {
	cfg, err := c.sessionConfig(r)
	if err != nil {
		return nil, err
	}
	s, err := c.rt.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Register(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (c *StreamsController) writeTimeout() time.Duration {
	return config.Millis(c.rt.Config().Relay.WriteTimeoutMs)
}

// handleSSE streams one session as text/event-stream. The response ends
// after the final frame.
func (c *StreamsController) handleSSE(w http.ResponseWriter, r *http.Request) {
	s, err := c.openSession(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	sink := newSSESink(w, c.writeTimeout(), c.logger)
	if err := sink.start(); err != nil {
		s.Close()
		return
	}
	c.run(r.Context(), s, sink)
}

// handleWS streams one session over a websocket. The client may send
// {"type":"cancel"} to drain the session.
func (c *StreamsController) handleWS(w http.ResponseWriter, r *http.Request) {
	s, err := c.openSession(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		s.Close()
		return
	}
	defer conn.Close()

	ctx, gone := context.WithCancel(r.Context())
	defer gone()
	go readPump(conn, func() { s.Cancel(clientCancelReason) }, gone)

	sink := &wsSink{conn: conn, writeTimeout: c.writeTimeout(), logger: c.logger}
	if err := c.run(ctx, s, sink); err == nil {
		sink.closeNormal()
	}
}

func (c *StreamsController) run(ctx context.Context, s *relay.Session, sink relay.Sink) error {
	err := s.Run(ctx, sink)
	switch {
	case err == nil:
	case errors.Is(err, relay.ErrClientGone):
		c.logger.Debug("stream.client_gone", logpkg.Str("session", s.ID()), logpkg.Str("key", s.Key()))
	default:
		c.logger.Warn("stream.failed", logpkg.Str("session", s.ID()), logpkg.Err(err))
	}
	return err
}
