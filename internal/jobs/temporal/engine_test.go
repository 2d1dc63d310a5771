package temporal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/juju/errors"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"

	"github.com/drewthekiiid/pipai-sub002/internal/jobs"
)

type fakeAPI struct {
	mu        sync.Mutex
	status    enumspb.WorkflowExecutionStatus
	describeE error
	query     any
	queryE    error
	queryWait bool
	result    any
	signals   []string
	cancels   int
	executed  []string
	closed    int
}

func (f *fakeAPI) Execute(_ context.Context, id, taskQueue, workflowType string, _ any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, id+"@"+taskQueue+"/"+workflowType)
	return id, nil
}

func (f *fakeAPI) Describe(context.Context, string) (enumspb.WorkflowExecutionStatus, error) {
	return f.status, f.describeE
}

func (f *fakeAPI) Query(ctx context.Context, _, _ string) (any, error) {
	if f.queryWait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.query, f.queryE
}

func (f *fakeAPI) Result(context.Context, string) (any, error) { return f.result, nil }

func (f *fakeAPI) Signal(_ context.Context, _, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, name)
	return f.describeE
}

func (f *fakeAPI) Cancel(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func (f *fakeAPI) CheckHealth(context.Context) error { return nil }
func (f *fakeAPI) Close()                            { f.closed++ }

func newTestEngine(t *testing.T, api *fakeAPI, opts Options) (*Engine, *int) {
	t.Helper()
	dials := 0
	if opts.QueryName == "" {
		opts.QueryName = "getAnalysisStatus"
	}
	e := newEngine(opts, func(context.Context, Options) (workflowAPI, error) {
		dials++
		return api, nil
	})
	t.Cleanup(func() { _ = e.Close() })
	return e, &dials
}

func TestDescribeMapsStatus(t *testing.T) {
	cases := map[enumspb.WorkflowExecutionStatus]jobs.RuntimeState{
		enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:          jobs.StateRunning,
		enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:        jobs.StateCompleted,
		enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:           jobs.StateFailed,
		enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:         jobs.StateCanceled,
		enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:       jobs.StateTerminated,
		enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:        jobs.StateTimedOut,
		enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW: jobs.StateContinuedAsNew,
		enumspb.WORKFLOW_EXECUTION_STATUS_UNSPECIFIED:      jobs.StateUnknown,
	}
	api := &fakeAPI{}
	e, dials := newTestEngine(t, api, Options{})
	h := e.Handle("analyze-1")
	for in, want := range cases {
		api.status = in
		d, err := h.Describe(context.Background())
		if err != nil {
			t.Fatalf("describe: %v", err)
		}
		if d.State != want {
			t.Errorf("%v -> %s, want %s", in, d.State, want)
		}
	}
	if *dials != 1 {
		t.Fatalf("client dialled %d times, want once", *dials)
	}
}

func TestDescribeNotFound(t *testing.T) {
	api := &fakeAPI{describeE: serviceerror.NewNotFound("workflow not found")}
	e, _ := newTestEngine(t, api, Options{})
	_, err := e.Handle("gone").Describe(context.Background())
	if !errors.Is(err, errors.NotFound) {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestQueryProgress(t *testing.T) {
	api := &fakeAPI{query: map[string]any{"step": "extracting", "progress": float64(40)}}
	e, _ := newTestEngine(t, api, Options{})
	st, err := e.Handle("analyze-1").QueryProgress(context.Background())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if diff := cmp.Diff(jobs.Status{Step: "extracting", Progress: 40}, st); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestQueryUnsupportedKinds(t *testing.T) {
	cases := map[string]*fakeAPI{
		"query failed":   {queryE: serviceerror.NewQueryFailed("unknown queryType getAnalysisStatus")},
		"query deadline": {queryWait: true},
		"non map answer": {query: "RUNNING"},
	}
	for name, api := range cases {
		t.Run(name, func(t *testing.T) {
			e, _ := newTestEngine(t, api, Options{QueryTimeout: 20 * time.Millisecond})
			_, err := e.Handle("analyze-1").QueryProgress(context.Background())
			if !errors.Is(err, jobs.ErrQueryUnsupported) {
				t.Fatalf("want ErrQueryUnsupported, got %v", err)
			}
		})
	}
}

func TestFetchResultOnlyAfterSuccess(t *testing.T) {
	api := &fakeAPI{status: enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, result: map[string]any{"summary": "ok"}}
	e, _ := newTestEngine(t, api, Options{})
	h := e.Handle("analyze-1")
	if _, err := h.FetchResult(context.Background()); !errors.Is(err, jobs.ErrResultUnavailable) {
		t.Fatalf("running: want ErrResultUnavailable, got %v", err)
	}
	api.status = enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED
	r, err := h.FetchResult(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if r["summary"] != "ok" {
		t.Fatalf("unexpected result %v", r)
	}
	api.result = "plain"
	r, err = h.FetchResult(context.Background())
	if err != nil || r["value"] != "plain" {
		t.Fatalf("scalar result: %v %v", r, err)
	}
}

func TestCancelSignalsOrCancels(t *testing.T) {
	api := &fakeAPI{}
	e, _ := newTestEngine(t, api, Options{CancelSignal: "cancelAnalysis"})
	if err := e.Handle("analyze-1").Cancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if diff := cmp.Diff([]string{"cancelAnalysis"}, api.signals); diff != "" {
		t.Fatalf("signals (-want +got):\n%s", diff)
	}

	api2 := &fakeAPI{}
	e2, _ := newTestEngine(t, api2, Options{})
	if err := e2.Handle("analyze-2").Cancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if api2.cancels != 1 {
		t.Fatalf("cancel requests %d, want 1", api2.cancels)
	}

	gone := &fakeAPI{describeE: serviceerror.NewNotFound("gone")}
	e3, _ := newTestEngine(t, gone, Options{CancelSignal: "cancelAnalysis"})
	if err := e3.Handle("x").Cancel(context.Background()); !errors.Is(err, errors.NotFound) {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestStartAndClose(t *testing.T) {
	api := &fakeAPI{}
	e, _ := newTestEngine(t, api, Options{TaskQueue: "pip-ai-task-queue", WorkflowType: "analyzeDocumentWorkflow"})
	id, err := e.Start(context.Background(), jobs.StartRequest{WorkflowID: "analyze-9"})
	if err != nil || id != "analyze-9" {
		t.Fatalf("start: %q %v", id, err)
	}
	if diff := cmp.Diff([]string{"analyze-9@pip-ai-task-queue/analyzeDocumentWorkflow"}, api.executed); diff != "" {
		t.Fatalf("executed (-want +got):\n%s", diff)
	}
	if _, err := e.Start(context.Background(), jobs.StartRequest{}); !errors.Is(err, errors.NotValid) {
		t.Fatalf("empty id: want NotValid, got %v", err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if api.closed != 1 {
		t.Fatalf("client closed %d times, want 1", api.closed)
	}
	if err := e.CheckHealth(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("after close: want ErrClosed, got %v", err)
	}
}
