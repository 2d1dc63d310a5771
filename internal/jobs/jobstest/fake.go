// Package jobstest provides scripted jobs.StatusClient and jobs.Engine fakes.
package jobstest

import (
	"context"
	"sync"

	"github.com/juju/errors"

	"github.com/drewthekiiid/pipai-sub002/internal/jobs"
)

// Answer is one scripted QueryProgress outcome.
type Answer struct {
	Status jobs.Status
	Err    error
}

// Job is a scripted job. Each Describe call consumes the next entry of
// States and each QueryProgress the next entry of Answers; the last entry
// repeats once a script is exhausted.
type Job struct {
	JobID   string
	States  []jobs.RuntimeState
	Answers []Answer
	Result  map[string]any
	// DescribeErr, when set, is returned by every Describe call.
	DescribeErr error

	mu        sync.Mutex
	describes int
	queries   int
	fetches   int
	cancels   int
}

var _ jobs.StatusClient = (*Job)(nil)

func (j *Job) ID() string { return j.JobID }

func (j *Job) Describe(ctx context.Context) (jobs.Description, error) {
	if err := ctx.Err(); err != nil {
		return jobs.Description{}, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	i := j.describes
	j.describes++
	if j.DescribeErr != nil {
		return jobs.Description{}, j.DescribeErr
	}
	if len(j.States) == 0 {
		return jobs.Description{State: jobs.StateRunning}, nil
	}
	return jobs.Description{State: j.States[min(i, len(j.States)-1)]}, nil
}

func (j *Job) QueryProgress(ctx context.Context) (jobs.Status, error) {
	if err := ctx.Err(); err != nil {
		return jobs.Status{}, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	i := j.queries
	j.queries++
	if len(j.Answers) == 0 {
		return jobs.Status{}, jobs.ErrQueryUnsupported
	}
	a := j.Answers[min(i, len(j.Answers)-1)]
	return a.Status, a.Err
}

func (j *Job) FetchResult(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fetches++
	if j.Result == nil {
		return nil, jobs.ErrResultUnavailable
	}
	return j.Result, nil
}

func (j *Job) Cancel(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancels++
	if j.DescribeErr != nil && errors.Is(j.DescribeErr, errors.NotFound) {
		return j.DescribeErr
	}
	return nil
}

// Calls reports how many times each operation ran.
func (j *Job) Calls() (describes, queries, fetches, cancels int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.describes, j.queries, j.fetches, j.cancels
}

// Engine is an in-memory jobs.Engine over scripted Jobs.
type Engine struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	started []jobs.StartRequest
	// HealthErr is returned by CheckHealth.
	HealthErr error
	// StartErr is returned by Start.
	StartErr error
}

var _ jobs.Engine = (*Engine)(nil)

func NewEngine(js ...*Job) *Engine {
	e := &Engine{jobs: make(map[string]*Job)}
	for _, j := range js {
		e.jobs[j.JobID] = j
	}
	return e
}

// Handle returns the scripted job or one whose Describe fails with NotFound.
func (e *Engine) Handle(id string) jobs.StatusClient {
	e.mu.Lock()
	defer e.mu.Unlock()
	if j, ok := e.jobs[id]; ok {
		return j
	}
	return &Job{JobID: id, DescribeErr: errors.NotFoundf("workflow %q", id)}
}

func (e *Engine) Start(ctx context.Context, req jobs.StartRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if e.StartErr != nil {
		return "", e.StartErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, req)
	if _, ok := e.jobs[req.WorkflowID]; !ok {
		e.jobs[req.WorkflowID] = &Job{JobID: req.WorkflowID}
	}
	return req.WorkflowID, nil
}

// Started returns the requests passed to Start.
func (e *Engine) Started() []jobs.StartRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]jobs.StartRequest(nil), e.started...)
}

// SetHealthErr replaces HealthErr while the engine is in use.
func (e *Engine) SetHealthErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.HealthErr = err
}

func (e *Engine) CheckHealth(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.HealthErr
}

func (e *Engine) Close() error { return nil }
