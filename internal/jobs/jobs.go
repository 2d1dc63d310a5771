package jobs

import (
	"context"
	"strings"

	"github.com/juju/errors"
)

const (
	// ErrQueryUnsupported is returned by QueryProgress while the job has not
	// registered its status query handler yet. It is transient.
	ErrQueryUnsupported = errors.ConstError("job status query unsupported")

	// ErrResultUnavailable is returned by FetchResult before the job succeeded.
	ErrResultUnavailable = errors.ConstError("job result unavailable")

	// ErrEngineDisabled is returned when no workflow engine is configured.
	ErrEngineDisabled = errors.ConstError("workflow engine disabled")
)

// RuntimeState is the engine-reported execution state of a job.
type RuntimeState string

const (
	StateUnknown        RuntimeState = "UNKNOWN"
	StateRunning        RuntimeState = "RUNNING"
	StateCompleted      RuntimeState = "COMPLETED"
	StateFailed         RuntimeState = "FAILED"
	StateCanceled       RuntimeState = "CANCELED"
	StateTerminated     RuntimeState = "TERMINATED"
	StateTimedOut       RuntimeState = "TIMED_OUT"
	StateContinuedAsNew RuntimeState = "CONTINUED_AS_NEW"
)

// Terminal reports whether the job will not run again.
func (s RuntimeState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled, StateTerminated, StateTimedOut:
		return true
	}
	return false
}

// Succeeded reports terminal success.
func (s RuntimeState) Succeeded() bool { return s == StateCompleted }

// Description is the cheap, always available view of a job.
type Description struct {
	State RuntimeState `json:"state"`
}

// Status is the job's own answer to the progress query.
type Status struct {
	Step     string         `json:"step"`
	Progress float64        `json:"progress"`
	Error    string         `json:"error,omitempty"`
	Canceled bool           `json:"canceled,omitempty"`
	Terminal bool           `json:"terminal,omitempty"`
	Result   map[string]any `json:"result,omitempty"`
}

// StatusFromMap decodes a loosely typed query answer. Both "canceled" and
// "cancelled" are accepted; progress is clamped to 0..100.
func StatusFromMap(m map[string]any) Status {
	var st Status
	st.Step, _ = m["step"].(string)
	if st.Step == "" {
		st.Step, _ = m["status"].(string)
	}
	st.Progress = clampProgress(toFloat(m["progress"]))
	switch e := m["error"].(type) {
	case string:
		st.Error = e
	case map[string]any:
		st.Error, _ = e["message"].(string)
	}
	st.Canceled = toBool(m["canceled"]) || toBool(m["cancelled"])
	st.Terminal = toBool(m["terminal"]) || toBool(m["completed"])
	st.Result, _ = m["result"].(map[string]any)
	return st
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	}
	return false
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// StatusClient addresses one job. Implementations are safe for concurrent use.
type StatusClient interface {
	ID() string
	Describe(ctx context.Context) (Description, error)
	// QueryProgress fails with ErrQueryUnsupported until the job answers.
	QueryProgress(ctx context.Context) (Status, error)
	// FetchResult is valid only once Describe reports StateCompleted.
	FetchResult(ctx context.Context) (map[string]any, error)
	// Cancel is best effort; it fails with errors.NotFound if the job is gone.
	Cancel(ctx context.Context) error
}

// StartRequest starts an analysis job.
type StartRequest struct {
	WorkflowID string
	Input      map[string]any
}

// Engine creates and addresses jobs.
type Engine interface {
	Handle(jobID string) StatusClient
	Start(ctx context.Context, req StartRequest) (string, error)
	CheckHealth(ctx context.Context) error
	Close() error
}

// Disabled is the Engine used when no workflow engine is configured.
type Disabled struct{}

var _ Engine = Disabled{}

func (Disabled) Handle(jobID string) StatusClient { return disabledHandle(jobID) }

func (Disabled) Start(context.Context, StartRequest) (string, error) {
	return "", ErrEngineDisabled
}

func (Disabled) CheckHealth(context.Context) error { return ErrEngineDisabled }
func (Disabled) Close() error                      { return nil }

type disabledHandle string

func (h disabledHandle) ID() string { return string(h) }
func (disabledHandle) Describe(context.Context) (Description, error) {
	return Description{}, ErrEngineDisabled
}
func (disabledHandle) QueryProgress(context.Context) (Status, error) {
	return Status{}, ErrEngineDisabled
}
func (disabledHandle) FetchResult(context.Context) (map[string]any, error) {
	return nil, ErrEngineDisabled
}
func (disabledHandle) Cancel(context.Context) error { return ErrEngineDisabled }
