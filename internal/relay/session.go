package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"

	"github.com/drewthekiiid/pipai-sub002/internal/eventlog"
	"github.com/drewthekiiid/pipai-sub002/internal/jobs"
	"github.com/drewthekiiid/pipai-sub002/pkg/id"
	logpkg "github.com/drewthekiiid/pipai-sub002/pkg/log"
)

// Kind names what a session follows.
type Kind string

const (
	KindWorkflow Kind = "workflow"
	KindFile     Kind = "file"
	KindUser     Kind = "user"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config describes one subscription.
type Config struct {
	// Key is the registry key, e.g. "workflow:analyze-1".
	Key       string
	Kind      Kind
	Singleton bool
	Subjects  []string
	// Cursors holds the resume position per subject; missing subjects start
	// at the beginning.
	Cursors map[string]eventlog.Cursor
	// Job, when set, is polled every cycle.
	Job    jobs.StatusClient
	Filter *Filter
	// EndOnTerminalEvent drains the session when a completed or failed
	// event is read from the log.
	EndOnTerminalEvent bool
	// Meta is merged into the connected frame.
	Meta map[string]any
}

// Deps are the collaborators shared by sessions.
type Deps struct {
	Log      eventlog.Log
	Registry *Registry
	Clock    clock.Clock
	Logger   logpkg.Logger
	IDs      *id.Generator
}

var defaultIDs = id.NewGenerator(nil)

// Session merges log subjects and an optional job poll into one ordered frame
// stream. Everything below the "loop state" marker is touched only by the
// goroutine executing Run.
type Session struct {
	cfg      Config
	opts     Options
	deps     Deps
	id       string
	logger   logpkg.Logger
	queryLog logpkg.Logger
	redactor Redactor

	startedAt time.Time
	state     atomic.Int32
	polls     atomic.Int64
	frames    atomic.Int64
	running   atomic.Bool

	stop      chan struct{}
	stopOnce  sync.Once
	reason    atomic.Value
	done      chan struct{}
	closeOnce sync.Once
	regMu     sync.Mutex
	reg       bool

	// loop state
	sink          Sink
	cursors       map[string]eventlog.Cursor
	lastState     jobs.RuntimeState
	lastProgress  float64
	lastStep      string
	lastError     string
	queryFailures int
	logDown       bool
	pushed        bool
	terminalSent  bool
}

// NewSession validates cfg and builds a session in StateConnecting.
func NewSession(cfg Config, deps Deps, opts Options) (*Session, error) {
	if cfg.Key == "" {
		return nil, errors.NotValidf("empty session key")
	}
	if len(cfg.Subjects) == 0 {
		return nil, errors.NotValidf("session %s without subjects", cfg.Key)
	}
	if deps.Log == nil {
		return nil, errors.NotValidf("session %s without event log", cfg.Key)
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if deps.Logger == nil {
		deps.Logger = logpkg.NewNop()
	}
	if deps.IDs == nil {
		deps.IDs = defaultIDs
	}
	opts = opts.withDefaults()

	cursors := make(map[string]eventlog.Cursor, len(cfg.Subjects))
	for _, subj := range cfg.Subjects {
		cursors[subj] = eventlog.NormalizeCursor(cfg.Cursors[subj])
	}
	s := &Session{
		cfg:          cfg,
		opts:         opts,
		deps:         deps,
		id:           deps.IDs.Next().String(),
		redactor:     opts.Redaction,
		startedAt:    deps.Clock.Now(),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		cursors:      cursors,
		lastProgress: -1,
	}
	s.logger = deps.Logger.With(
		logpkg.Component("relay"),
		logpkg.Str("session", s.id),
		logpkg.Str("key", cfg.Key),
	)
	s.queryLog = s.logger.Sampled(1, opts.QueryLogEvery)
	return s, nil
}

// ID returns the unique session id.
func (s *Session) ID() string { return s.id }

// Key returns the registry key.
func (s *Session) Key() string { return s.cfg.Key }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Info snapshots the session for listings.
func (s *Session) Info() Info {
	return Info{
		ID:        s.id,
		Key:       s.cfg.Key,
		Kind:      s.cfg.Kind,
		Subjects:  append([]string(nil), s.cfg.Subjects...),
		State:     s.State().String(),
		StartedAt: s.startedAt,
		Polls:     s.polls.Load(),
		Frames:    s.frames.Load(),
	}
}

// Register reserves the registry slot. Run calls it when the caller has not.
func (s *Session) Register() error {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	if s.reg {
		return nil
	}
	if s.State() == StateClosed {
		return errors.Errorf("session %s closed", s.id)
	}
	if !s.deps.Registry.Register(s) {
		return errors.Annotatef(ErrSessionActive, "%s", s.cfg.Key)
	}
	s.reg = true
	return nil
}

// Cancel asks the session to drain. Only the first reason is kept; later
// calls are no-ops.
func (s *Session) Cancel(reason string) {
	s.stopOnce.Do(func() {
		s.reason.Store(reason)
		close(s.stop)
	})
}

// Close cancels the session. When Run never started, the registry slot is
// released at once. Close is idempotent.
func (s *Session) Close() {
	s.Cancel("closed")
	if !s.running.Load() {
		s.close()
	}
}

func (s *Session) cancelled() (string, bool) {
	select {
	case <-s.stop:
		r, _ := s.reason.Load().(string)
		return r, true
	default:
		return "", false
	}
}

// close moves the session to StateClosed exactly once.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		s.regMu.Lock()
		if s.reg {
			s.deps.Registry.Unregister(s)
			s.reg = false
		}
		s.regMu.Unlock()
		close(s.done)
		s.logger.Debug("relay.closed",
			logpkg.Int64("polls", s.polls.Load()),
			logpkg.Int64("frames", s.frames.Load()))
	})
}

// Run drives the session until a terminal condition, a cancel, or a failed
// write. It returns ErrSessionActive when the key is taken and ErrClientGone
// when the consumer went away.
func (s *Session) Run(ctx context.Context, sink Sink) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.Errorf("session %s already running", s.id)
	}
	if err := s.Register(); err != nil {
		s.close()
		return err
	}
	defer s.close()
	s.sink = sink

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	if err := s.send(eventlog.KindConnected, s.connectedData()); err != nil {
		return s.gone(err)
	}
	s.state.CompareAndSwap(int32(StateConnecting), int32(StateStreaming))
	s.logger.Info("relay.streaming", logpkg.F("subjects", s.cfg.Subjects), logpkg.Bool("job", s.cfg.Job != nil))

	for {
		end, err := s.cycle(runCtx)
		if err != nil {
			return s.gone(err)
		}
		if end || !s.sleep(runCtx) {
			break
		}
	}
	return s.drain(ctx)
}

// drain flushes the final frames. A consumer whose context ended gets none.
func (s *Session) drain(parent context.Context) error {
	s.state.Store(int32(StateDraining))
	reason, stopped := s.cancelled()
	if !s.terminalSent {
		switch {
		case stopped:
			s.terminalSent = true
			if err := s.send(eventlog.KindCancelled, map[string]any{"reason": reason}); err != nil {
				return s.gone(err)
			}
		case parent.Err() != nil:
			return s.gone(parent.Err())
		}
	}
	data := s.baseData()
	data["polls"] = s.polls.Load()
	if err := s.send(eventlog.KindDisconnected, data); err != nil {
		return s.gone(err)
	}
	s.logger.Info("relay.drained", logpkg.Int64("polls", s.polls.Load()), logpkg.Int64("frames", s.frames.Load()))
	return nil
}

// gone closes the session without further frames.
func (s *Session) gone(err error) error {
	s.close()
	s.logger.Debug("relay.client_gone", logpkg.Err(err))
	return ClientGone(err)
}

func (s *Session) sleep(ctx context.Context) bool {
	select {
	case <-s.deps.Clock.After(s.opts.PollInterval):
		return true
	case <-ctx.Done():
		return false
	}
}

// cycle runs one read-poll-heartbeat round. It reports whether the session
// must drain; a returned error means the consumer is gone.
func (s *Session) cycle(ctx context.Context) (bool, error) {
	s.pushed = false
	if ctx.Err() != nil {
		return true, nil
	}

	end, err := s.readLogs(ctx)
	if err != nil || end {
		return true, err
	}
	if ctx.Err() != nil {
		return true, nil
	}

	if s.cfg.Job != nil {
		end, err = s.pollJob(ctx)
		if err != nil || end {
			return true, err
		}
	}

	polls := s.polls.Add(1)
	if polls%int64(s.opts.HeartbeatEvery) == 0 && !s.pushed {
		if err := s.send(eventlog.KindHeartbeat, s.heartbeatData()); err != nil {
			return true, err
		}
	}
	if polls >= int64(s.opts.MaxPolls) {
		s.logger.Warn("relay.max_polls", logpkg.Int64("polls", polls))
		data := s.baseData()
		data["polls"] = polls
		data["status"] = string(s.lastState)
		return true, s.terminal(eventlog.KindTimeout, data)
	}
	return false, nil
}

func (s *Session) readLogs(ctx context.Context) (bool, error) {
	batches, errs := s.readAll(ctx)
	for _, ev := range mergeByTime(batches) {
		s.cursors[ev.SubjectKey] = ev.ID
		if !s.cfg.Filter.Match(ev) {
			continue
		}
		kind := ev.Type
		if kind == "" {
			kind = eventlog.KindProgress
		}
		if s.cfg.EndOnTerminalEvent && kind.Terminal() {
			return true, s.terminal(kind, s.eventData(ev))
		}
		if err := s.send(kind, s.eventData(ev)); err != nil {
			return true, err
		}
	}

	var transient error
	for i, err := range errs {
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return true, nil
		case errors.Is(err, errors.NotValid), errors.Is(err, errors.NotFound):
			data := s.baseData()
			data["subject_key"] = s.cfg.Subjects[i]
			data["error"] = err.Error()
			return true, s.terminal(eventlog.KindError, data)
		default:
			transient = err
		}
	}
	if transient != nil {
		if !s.logDown {
			s.logDown = true
			s.logger.Warn("relay.log_unavailable", logpkg.Err(transient))
			data := s.baseData()
			data["error"] = "event log unavailable"
			data["transient"] = true
			if err := s.send(eventlog.KindError, data); err != nil {
				return true, err
			}
		}
	} else if s.logDown {
		s.logDown = false
		s.logger.Info("relay.log_recovered")
	}
	return false, nil
}

// readAll reads every subject once. Several subjects are read concurrently
// and the first one to return events releases the others early.
func (s *Session) readAll(ctx context.Context) ([][]eventlog.Event, []error) {
	n := len(s.cfg.Subjects)
	batches := make([][]eventlog.Event, n)
	errs := make([]error, n)
	if n == 1 {
		subj := s.cfg.Subjects[0]
		batches[0], errs[0] = s.deps.Log.ReadAfter(ctx, subj, s.cursors[subj], s.opts.BlockTimeout, s.opts.ReadCount)
		return batches, errs
	}

	readCtx, release := context.WithCancel(ctx)
	defer release()
	var g errgroup.Group
	g.SetLimit(s.opts.ReadConcurrency)
	for i, subj := range s.cfg.Subjects {
		cur := s.cursors[subj]
		g.Go(func() error {
			evs, err := s.deps.Log.ReadAfter(readCtx, subj, cur, s.opts.BlockTimeout, s.opts.ReadCount)
			if err != nil && ctx.Err() == nil && readCtx.Err() != nil {
				// Released early by a sibling; nothing was consumed.
				err = nil
			}
			batches[i], errs[i] = evs, err
			if len(evs) > 0 {
				release()
			}
			return nil
		})
	}
	_ = g.Wait()
	return batches, errs
}

func (s *Session) pollJob(ctx context.Context) (bool, error) {
	job := s.cfg.Job
	d, err := job.Describe(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return true, nil
	case errors.Is(err, errors.NotFound):
		return true, s.jobFailed("NOT_FOUND", err.Error())
	default:
		s.queryLog.Debug("relay.describe_failed", logpkg.Err(err))
		return false, nil
	}

	if d.State != s.lastState {
		prev := s.lastState
		s.lastState = d.State
		data := s.jobData()
		data["status"] = string(d.State)
		if prev != "" {
			data["previous"] = string(prev)
		}
		if err := s.send(eventlog.KindStatus, data); err != nil {
			return true, err
		}
	}

	if !d.State.Terminal() {
		return false, s.queryProgress(ctx)
	}

	if d.State.Succeeded() {
		res, err := job.FetchResult(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return true, nil
		case errors.Is(err, errors.NotFound):
			return true, s.jobFailed("NOT_FOUND", err.Error())
		default:
			s.queryLog.Debug("relay.result_failed", logpkg.Err(err))
			return false, nil
		}
		data := s.jobData()
		data["status"] = string(d.State)
		data["progress"] = 100
		data["result"] = s.redactor.Redact(res)
		return true, s.terminal(eventlog.KindCompleted, data)
	}
	return true, s.jobFailed(string(d.State), s.lastError)
}

func (s *Session) queryProgress(ctx context.Context) error {
	st, err := s.cfg.Job.QueryProgress(ctx)
	switch {
	case err == nil:
		s.queryFailures = 0
		if st.Error != "" {
			s.lastError = st.Error
		}
		if st.Progress == s.lastProgress && st.Step == s.lastStep {
			return nil
		}
		s.lastProgress, s.lastStep = st.Progress, st.Step
		data := s.jobData()
		data["step"] = st.Step
		data["progress"] = st.Progress
		data["source"] = "engine"
		if st.Error != "" {
			data["error"] = st.Error
		}
		if st.Canceled {
			data["canceled"] = true
		}
		return s.send(eventlog.KindProgress, data)
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, jobs.ErrQueryUnsupported):
		s.queryFailures++
		s.queryLog.Debug("relay.query_unsupported",
			logpkg.Int("consecutive", s.queryFailures),
			logpkg.Str("state", string(s.lastState)))
		if s.queryFailures == s.opts.QueryWarnAfter {
			s.logger.Warn("relay.query_unsupported_persistent",
				logpkg.Int("consecutive", s.queryFailures),
				logpkg.Str("state", string(s.lastState)))
		}
	default:
		s.logger.Debug("relay.query_failed", logpkg.Err(err))
	}
	return nil
}

func (s *Session) jobFailed(status, msg string) error {
	data := s.jobData()
	data["status"] = status
	if msg != "" {
		data["error"] = msg
	}
	return s.terminal(eventlog.KindFailed, data)
}

// terminal sends the one frame that ends the stream.
func (s *Session) terminal(kind eventlog.Kind, data map[string]any) error {
	s.state.Store(int32(StateDraining))
	s.terminalSent = true
	return s.send(kind, data)
}

func (s *Session) send(kind eventlog.Kind, data map[string]any) error {
	f := Frame{
		Event: kind,
		ID:    EncodeFrameID(s.cfg.Subjects, s.cursors),
		Data:  data,
	}
	if err := s.sink.Send(f); err != nil {
		return ClientGone(err)
	}
	s.frames.Add(1)
	s.pushed = true
	return nil
}

func (s *Session) baseData() map[string]any {
	return map[string]any{
		"session_id": s.id,
		"timestamp":  s.deps.Clock.Now().UTC().Format(time.RFC3339Nano),
	}
}

func (s *Session) jobData() map[string]any {
	data := s.baseData()
	data["workflow_id"] = s.cfg.Job.ID()
	return data
}

func (s *Session) connectedData() map[string]any {
	data := s.baseData()
	data["key"] = s.cfg.Key
	data["kind"] = string(s.cfg.Kind)
	data["subjects"] = append([]string(nil), s.cfg.Subjects...)
	cursors := make(map[string]any, len(s.cursors))
	for k, v := range s.cursors {
		cursors[k] = string(v)
	}
	data["cursors"] = cursors
	for k, v := range s.cfg.Meta {
		if _, taken := data[k]; !taken {
			data[k] = v
		}
	}
	return data
}

func (s *Session) heartbeatData() map[string]any {
	data := s.baseData()
	data["elapsed_ms"] = s.deps.Clock.Now().Sub(s.startedAt).Milliseconds()
	data["poll_count"] = s.polls.Load()
	if s.lastState != "" {
		data["status"] = string(s.lastState)
	}
	if s.queryFailures > 0 {
		data["query_failures"] = s.queryFailures
	}
	return data
}

// eventData copies a log event's payload and stamps its origin. Results of
// completed events are redacted like job results.
func (s *Session) eventData(ev eventlog.Event) map[string]any {
	data := make(map[string]any, len(ev.Payload)+3)
	for k, v := range ev.Payload {
		data[k] = v
	}
	if ev.Type == eventlog.KindCompleted {
		if res, ok := data["result"].(map[string]any); ok {
			data["result"] = s.redactor.Redact(res)
		}
	}
	data["subject_key"] = ev.SubjectKey
	data["event_id"] = string(ev.ID)
	if !ev.Timestamp.IsZero() {
		data["timestamp"] = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return data
}
