package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"

	"github.com/drewthekiiid/pipai-sub002/internal/jobs"
	logpkg "github.com/drewthekiiid/pipai-sub002/pkg/log"
)

// ErrClosed is returned after Close.
const ErrClosed = errors.ConstError("temporal engine closed")

// Options configure an Engine.
type Options struct {
	HostPort     string
	Namespace    string
	APIKey       string
	TLS          bool
	TaskQueue    string
	WorkflowType string
	QueryName    string
	// CancelSignal is signalled on Cancel; empty falls back to a workflow
	// cancellation request.
	CancelSignal string
	// QueryTimeout bounds a single progress query. A query that has not been
	// answered in time is treated as unsupported.
	QueryTimeout time.Duration
	Logger       logpkg.Logger
}

type dialFunc func(ctx context.Context, o Options) (workflowAPI, error)

// Engine is a jobs.Engine backed by one lazily dialled Temporal client.
type Engine struct {
	opts   Options
	dial   dialFunc
	logger logpkg.Logger

	mu     sync.Mutex
	api    workflowAPI
	closed bool
}

var _ jobs.Engine = (*Engine)(nil)

// New returns an Engine that dials on first use.
func New(opts Options) *Engine {
	return newEngine(opts, dialSDK)
}

func newEngine(opts Options, dial dialFunc) *Engine {
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNop()
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 2 * time.Second
	}
	return &Engine{
		opts:   opts,
		dial:   dial,
		logger: opts.Logger.WithComponent("temporal"),
	}
}

// conn returns the shared client, dialling it once.
func (e *Engine) conn(ctx context.Context) (workflowAPI, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if e.api != nil {
		return e.api, nil
	}
	api, err := e.dial(ctx, e.opts)
	if err != nil {
		return nil, errors.Annotatef(err, "dial temporal %s", e.opts.HostPort)
	}
	e.logger.Info("temporal.connected",
		logpkg.Str("host", e.opts.HostPort),
		logpkg.Str("namespace", e.opts.Namespace))
	e.api = api
	return api, nil
}

// Handle implements jobs.Engine.
func (e *Engine) Handle(workflowID string) jobs.StatusClient {
	return &handle{e: e, id: workflowID}
}

// Start implements jobs.Engine.
func (e *Engine) Start(ctx context.Context, req jobs.StartRequest) (string, error) {
	if req.WorkflowID == "" {
		return "", errors.NotValidf("empty workflow id")
	}
	api, err := e.conn(ctx)
	if err != nil {
		return "", err
	}
	id, err := api.Execute(ctx, req.WorkflowID, e.opts.TaskQueue, e.opts.WorkflowType, req.Input)
	if err != nil {
		return "", errors.Annotatef(err, "start workflow %s", req.WorkflowID)
	}
	e.logger.Info("temporal.started", logpkg.Str("workflow_id", id), logpkg.Str("type", e.opts.WorkflowType))
	return id, nil
}

// CheckHealth implements jobs.Engine.
func (e *Engine) CheckHealth(ctx context.Context) error {
	api, err := e.conn(ctx)
	if err != nil {
		return err
	}
	return errors.Annotate(api.CheckHealth(ctx), "temporal health")
}

// Close releases the client. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.api != nil {
		e.api.Close()
		e.api = nil
	}
	return nil
}

type handle struct {
	e  *Engine
	id string
}

func (h *handle) ID() string { return h.id }

func (h *handle) Describe(ctx context.Context) (jobs.Description, error) {
	api, err := h.e.conn(ctx)
	if err != nil {
		return jobs.Description{}, err
	}
	st, err := api.Describe(ctx, h.id)
	if err != nil {
		return jobs.Description{}, mapError(err, "describe %s", h.id)
	}
	return jobs.Description{State: stateFromStatus(st)}, nil
}

func (h *handle) QueryProgress(ctx context.Context) (jobs.Status, error) {
	api, err := h.e.conn(ctx)
	if err != nil {
		return jobs.Status{}, err
	}
	qctx, cancel := context.WithTimeout(ctx, h.e.opts.QueryTimeout)
	defer cancel()
	v, err := api.Query(qctx, h.id, h.e.opts.QueryName)
	if err != nil {
		if ctx.Err() == nil && errors.Is(qctx.Err(), context.DeadlineExceeded) {
			return jobs.Status{}, errors.Annotatef(jobs.ErrQueryUnsupported, "query %s timed out", h.id)
		}
		return jobs.Status{}, mapError(err, "query %s", h.id)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return jobs.Status{}, errors.Annotatef(jobs.ErrQueryUnsupported, "query %s answered %T", h.id, v)
	}
	return jobs.StatusFromMap(m), nil
}

func (h *handle) FetchResult(ctx context.Context) (map[string]any, error) {
	d, err := h.Describe(ctx)
	if err != nil {
		return nil, err
	}
	if !d.State.Succeeded() {
		return nil, errors.Annotatef(jobs.ErrResultUnavailable, "workflow %s is %s", h.id, d.State)
	}
	api, err := h.e.conn(ctx)
	if err != nil {
		return nil, err
	}
	v, err := api.Result(ctx, h.id)
	if err != nil {
		return nil, mapError(err, "result %s", h.id)
	}
	switch r := v.(type) {
	case map[string]any:
		return r, nil
	case nil:
		return map[string]any{}, nil
	default:
		return map[string]any{"value": r}, nil
	}
}

func (h *handle) Cancel(ctx context.Context) error {
	api, err := h.e.conn(ctx)
	if err != nil {
		return err
	}
	if sig := h.e.opts.CancelSignal; sig != "" {
		err = api.Signal(ctx, h.id, sig)
	} else {
		err = api.Cancel(ctx, h.id)
	}
	if err != nil {
		return mapError(err, "cancel %s", h.id)
	}
	return nil
}

// mapError converts Temporal service errors into jobs error kinds.
func mapError(err error, format string, args ...any) error {
	var notFound *serviceerror.NotFound
	var queryFailed *serviceerror.QueryFailed
	switch {
	case errors.As(err, &notFound):
		return errors.NewNotFound(err, fmt.Sprintf(format, args...))
	case errors.As(err, &queryFailed):
		return errors.Annotatef(jobs.ErrQueryUnsupported, "%s: %v", fmt.Sprintf(format, args...), err)
	default:
		return errors.Annotatef(err, format, args...)
	}
}

func stateFromStatus(s enumspb.WorkflowExecutionStatus) jobs.RuntimeState {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		return jobs.StateRunning
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return jobs.StateCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:
		return jobs.StateFailed
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return jobs.StateCanceled
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return jobs.StateTerminated
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return jobs.StateTimedOut
	case enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return jobs.StateContinuedAsNew
	default:
		return jobs.StateUnknown
	}
}
