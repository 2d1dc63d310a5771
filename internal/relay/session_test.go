package relay

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/juju/errors"

	"github.com/drewthekiiid/pipai-sub002/internal/eventlog"
	"github.com/drewthekiiid/pipai-sub002/internal/eventlog/pebblelog"
	"github.com/drewthekiiid/pipai-sub002/internal/jobs"
	"github.com/drewthekiiid/pipai-sub002/internal/jobs/jobstest"
	pebblestore "github.com/drewthekiiid/pipai-sub002/internal/storage/pebble"
	logpkg "github.com/drewthekiiid/pipai-sub002/pkg/log"
)

// recordingSink collects frames and fails the send numbered failAt (1-based).
type recordingSink struct {
	mu     sync.Mutex
	frames []Frame
	failAt int
	sends  int
}

func (r *recordingSink) Send(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends++
	if r.failAt > 0 && r.sends >= r.failAt {
		return errors.New("broken pipe")
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordingSink) events() []eventlog.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]eventlog.Kind, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.Event
	}
	return out
}

func (r *recordingSink) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.ID
	}
	return out
}

func (r *recordingSink) count(k eventlog.Kind) int {
	n := 0
	for _, e := range r.events() {
		if e == k {
			n++
		}
	}
	return n
}

// countingLog counts ReadAfter calls and can fail the first n of them.
type countingLog struct {
	eventlog.Log
	reads    atomic.Int64
	failNext atomic.Int64
}

func (c *countingLog) ReadAfter(ctx context.Context, subject string, cur eventlog.Cursor, block time.Duration, n int) ([]eventlog.Event, error) {
	c.reads.Add(1)
	if c.failNext.Load() > 0 {
		c.failNext.Add(-1)
		return nil, eventlog.Unavailable(errors.New("connection reset"), "read %q", subject)
	}
	return c.Log.ReadAfter(ctx, subject, cur, block, n)
}

func newLog(t *testing.T) *pebblelog.Store {
	t.Helper()
	s, err := pebblelog.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever}, pebblelog.Options{})
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testOptions() Options {
	return Options{
		BlockTimeout:   2 * time.Millisecond,
		ReadCount:      10,
		PollInterval:   time.Millisecond,
		HeartbeatEvery: 1000,
		MaxPolls:       1000,
		QueryWarnAfter: 2,
		QueryLogEvery:  10,
		Redaction:      Redactor{MaxFieldBytes: 64, MaxResultBytes: 4096},
	}
}

func appendProgress(t *testing.T, l eventlog.Log, subject string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		if _, err := l.Append(context.Background(), subject, eventlog.Event{
			Type:    eventlog.KindProgress,
			Payload: map[string]any{"step": "processing", "progress": float64(i * 10)},
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func runSession(t *testing.T, cfg Config, deps Deps, opts Options, sink Sink) (*Session, error) {
	t.Helper()
	s, err := NewSession(cfg, deps, opts)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s, s.Run(ctx, sink)
}

func fileConfig(cursor eventlog.Cursor) Config {
	return Config{
		Key:                "file:A",
		Kind:               KindFile,
		Singleton:          true,
		Subjects:           []string{"file-A"},
		Cursors:            map[string]eventlog.Cursor{"file-A": cursor},
		EndOnTerminalEvent: true,
	}
}

func TestResumeFromCursor(t *testing.T) {
	l := newLog(t)
	appendProgress(t, l, "file-A", 3)
	opts := testOptions()
	opts.MaxPolls = 2

	sink := &recordingSink{}
	if _, err := runSession(t, fileConfig("0"), Deps{Log: l}, opts, sink); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := sink.events()[:4]
	want := []eventlog.Kind{eventlog.KindConnected, eventlog.KindProgress, eventlog.KindProgress, eventlog.KindProgress}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("frames (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"0", "1", "2", "3"}, sink.ids()[:4]); diff != "" {
		t.Fatalf("frame ids (-want +got):\n%s", diff)
	}

	resumed := &recordingSink{}
	if _, err := runSession(t, fileConfig("2"), Deps{Log: l}, opts, resumed); err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]eventlog.Kind{eventlog.KindConnected, eventlog.KindProgress}, resumed.events()[:2]); diff != "" {
		t.Fatalf("resumed frames (-want +got):\n%s", diff)
	}
	if resumed.count(eventlog.KindProgress) != 1 || resumed.ids()[1] != "3" {
		t.Fatalf("resumed session must see only event 3, got %v %v", resumed.events(), resumed.ids())
	}
}

func TestResumeFromEveryCursor(t *testing.T) {
	l := newLog(t)
	const n = 5
	appendProgress(t, l, "file-A", n)
	opts := testOptions()
	opts.MaxPolls = 2
	for k := 0; k <= n; k++ {
		sink := &recordingSink{}
		cur := eventlog.Cursor(string(rune('0' + k)))
		if _, err := runSession(t, fileConfig(cur), Deps{Log: l}, opts, sink); err != nil {
			t.Fatalf("run from %s: %v", cur, err)
		}
		var ids []string
		for _, f := range sink.frames {
			if f.Event == eventlog.KindProgress {
				ids = append(ids, f.Data["event_id"].(string))
			}
		}
		var want []string
		for i := k + 1; i <= n; i++ {
			want = append(want, string(rune('0'+i)))
		}
		if diff := cmp.Diff(want, ids); diff != "" {
			t.Fatalf("from %s (-want +got):\n%s", cur, diff)
		}
	}
}

func TestQueryUnsupportedStaysQuiet(t *testing.T) {
	l := newLog(t)
	job := &jobstest.Job{
		JobID: "analyze-1",
		States: []jobs.RuntimeState{
			jobs.StateRunning, jobs.StateRunning, jobs.StateRunning, jobs.StateRunning, jobs.StateRunning,
			jobs.StateCompleted,
		},
		Answers: []Answer{
			{Err: jobs.ErrQueryUnsupported},
			{Err: jobs.ErrQueryUnsupported},
			{Err: jobs.ErrQueryUnsupported},
			{Status: jobs.Status{Step: "done", Progress: 100}},
		},
		Result: map[string]any{"summary": "ok"},
	}
	cfg := Config{
		Key:                "workflow:analyze-1",
		Kind:               KindWorkflow,
		Singleton:          true,
		Subjects:           []string{"workflow:analyze-1:progress"},
		Job:                job,
		EndOnTerminalEvent: true,
	}
	sink := &recordingSink{}
	s, err := runSession(t, cfg, Deps{Log: l}, testOptions(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := sink.count(eventlog.KindError); n != 0 {
		t.Fatalf("want no error frames, got %d: %v", n, sink.events())
	}
	if n := sink.count(eventlog.KindCompleted); n != 1 {
		t.Fatalf("want exactly one completed frame, got %d: %v", n, sink.events())
	}
	if s.State() != StateClosed {
		t.Fatalf("state %s, want closed", s.State())
	}
	describes, queries, _, _ := job.Calls()
	if describes != 6 || queries != 5 {
		t.Fatalf("describes=%d queries=%d, want 6 and 5", describes, queries)
	}
	events := sink.events()
	if events[len(events)-1] != eventlog.KindDisconnected {
		t.Fatalf("last frame %s, want disconnected", events[len(events)-1])
	}
}

// Answer aliases the fake's scripted answer for brevity.
type Answer = jobstest.Answer

func TestWriteFailureStopsSameCycle(t *testing.T) {
	l := &countingLog{Log: newLog(t)}
	opts := testOptions()
	opts.HeartbeatEvery = 1
	// connected, then one heartbeat per cycle: send 5 is cycle 4's heartbeat.
	sink := &recordingSink{failAt: 5}
	reg := NewRegistry()
	s, err := runSession(t, fileConfig("0"), Deps{Log: l, Registry: reg}, opts, sink)
	if !errors.Is(err, ErrClientGone) {
		t.Fatalf("want ErrClientGone, got %v", err)
	}
	if got := l.reads.Load(); got != 4 {
		t.Fatalf("log reads %d, want 4", got)
	}
	time.Sleep(20 * time.Millisecond)
	if got := l.reads.Load(); got != 4 {
		t.Fatalf("log read after teardown: %d", got)
	}
	if s.State() != StateClosed || reg.Len() != 0 {
		t.Fatalf("state %s registry %d", s.State(), reg.Len())
	}
	if sink.count(eventlog.KindDisconnected) != 0 {
		t.Fatalf("no frames may follow a failed write")
	}
}

func TestTerminalFailureConverges(t *testing.T) {
	l := newLog(t)
	job := &jobstest.Job{JobID: "analyze-2", States: []jobs.RuntimeState{jobs.StateFailed}}
	cfg := Config{Key: "workflow:analyze-2", Singleton: true, Subjects: []string{"workflow:analyze-2:progress"}, Job: job}
	sink := &recordingSink{}
	if _, err := runSession(t, cfg, Deps{Log: l}, testOptions(), sink); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []eventlog.Kind{eventlog.KindConnected, eventlog.KindStatus, eventlog.KindFailed, eventlog.KindDisconnected}
	if diff := cmp.Diff(want, sink.events()); diff != "" {
		t.Fatalf("frames (-want +got):\n%s", diff)
	}
	if describes, _, _, _ := job.Calls(); describes != 1 {
		t.Fatalf("job polled %d times after terminal", describes)
	}
	if got := sink.frames[2].Data["status"]; got != "FAILED" {
		t.Fatalf("failed frame status %v", got)
	}
}

func TestMissingJobFails(t *testing.T) {
	l := newLog(t)
	engine := jobstest.NewEngine()
	cfg := Config{Key: "workflow:gone", Singleton: true, Subjects: []string{"workflow:gone:progress"}, Job: engine.Handle("gone")}
	sink := &recordingSink{}
	if _, err := runSession(t, cfg, Deps{Log: l}, testOptions(), sink); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sink.count(eventlog.KindFailed) != 1 {
		t.Fatalf("want one failed frame, got %v", sink.events())
	}
	if sink.frames[1].Data["status"] != "NOT_FOUND" {
		t.Fatalf("failed frame %v", sink.frames[1].Data)
	}
}

// lockedBuffer is a bytes.Buffer safe for concurrent log writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTransientDescribeFailuresAreSampled(t *testing.T) {
	l := newLog(t)
	var out lockedBuffer
	logger := logpkg.NewLogger(logpkg.WithLevel(logpkg.DebugLevel), logpkg.WithOutput(logpkg.NewWriterOutput(&out)))
	job := &jobstest.Job{JobID: "analyze-5", DescribeErr: errors.New("connection refused")}
	opts := testOptions()
	opts.MaxPolls = 25
	opts.QueryLogEvery = 10
	cfg := Config{Key: "workflow:analyze-5", Singleton: true, Subjects: []string{"workflow:analyze-5:progress"}, Job: job}
	sink := &recordingSink{}
	if _, err := runSession(t, cfg, Deps{Log: l, Logger: logger}, opts, sink); err != nil {
		t.Fatalf("run: %v", err)
	}
	if describes, _, _, _ := job.Calls(); describes != 25 {
		t.Fatalf("describes %d, want 25", describes)
	}
	if sink.count(eventlog.KindTimeout) != 1 {
		t.Fatalf("want a timeout frame, got %v", sink.events())
	}
	// the first failure, then every tenth after it
	if n := strings.Count(out.String(), "relay.describe_failed"); n != 4 {
		t.Fatalf("logged %d describe failures, want 4", n)
	}
}

func TestTimeoutAfterExactlyMaxPolls(t *testing.T) {
	l := newLog(t)
	job := &jobstest.Job{JobID: "analyze-3", States: []jobs.RuntimeState{jobs.StateRunning}}
	opts := testOptions()
	opts.MaxPolls = 7
	cfg := Config{Key: "workflow:analyze-3", Singleton: true, Subjects: []string{"workflow:analyze-3:progress"}, Job: job}
	sink := &recordingSink{}
	s, err := runSession(t, cfg, Deps{Log: l}, opts, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if describes, _, _, _ := job.Calls(); describes != 7 {
		t.Fatalf("describes %d, want 7", describes)
	}
	if s.Info().Polls != 7 {
		t.Fatalf("polls %d, want 7", s.Info().Polls)
	}
	if sink.count(eventlog.KindTimeout) != 1 {
		t.Fatalf("want one timeout frame: %v", sink.events())
	}
}

func TestLogAndJobTerminalEmitOnce(t *testing.T) {
	l := newLog(t)
	subject := "workflow:analyze-4:progress"
	if _, err := l.Append(context.Background(), subject, eventlog.Event{
		Type:    eventlog.KindCompleted,
		Payload: map[string]any{"result": map[string]any{"token": "abc"}},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	job := &jobstest.Job{JobID: "analyze-4", States: []jobs.RuntimeState{jobs.StateCompleted}, Result: map[string]any{}}
	cfg := Config{Key: "workflow:analyze-4", Singleton: true, Subjects: []string{subject}, Job: job, EndOnTerminalEvent: true}
	sink := &recordingSink{}
	if _, err := runSession(t, cfg, Deps{Log: l}, testOptions(), sink); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := sink.count(eventlog.KindCompleted); n != 1 {
		t.Fatalf("completed frames %d, want 1", n)
	}
	res := sink.frames[1].Data["result"].(map[string]any)
	if res["token"] != "[REDACTED]" {
		t.Fatalf("log result not redacted: %v", res)
	}
}

func TestCompletedResultIsRedacted(t *testing.T) {
	l := newLog(t)
	job := &jobstest.Job{
		JobID:  "analyze-5",
		States: []jobs.RuntimeState{jobs.StateCompleted},
		Result: map[string]any{"api_key": "sk-123", "text": string(make([]byte, 200))},
	}
	cfg := Config{Key: "workflow:analyze-5", Singleton: true, Subjects: []string{"workflow:analyze-5:progress"}, Job: job}
	sink := &recordingSink{}
	if _, err := runSession(t, cfg, Deps{Log: l}, testOptions(), sink); err != nil {
		t.Fatalf("run: %v", err)
	}
	var completed Frame
	for _, f := range sink.frames {
		if f.Event == eventlog.KindCompleted {
			completed = f
		}
	}
	res := completed.Data["result"].(map[string]any)
	if res["api_key"] != "[REDACTED]" {
		t.Fatalf("api_key leaked: %v", res["api_key"])
	}
	if diff := cmp.Diff([]any{"api_key", "text"}, res[TruncatedKey]); diff != "" {
		t.Fatalf("truncated paths (-want +got):\n%s", diff)
	}
}

func TestTransientLogErrorReportedOnce(t *testing.T) {
	l := &countingLog{Log: newLog(t)}
	l.failNext.Store(3)
	opts := testOptions()
	opts.MaxPolls = 6
	sink := &recordingSink{}
	if _, err := runSession(t, fileConfig("0"), Deps{Log: l}, opts, sink); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := sink.count(eventlog.KindError); n != 1 {
		t.Fatalf("error frames %d, want 1: %v", n, sink.events())
	}
	if sink.count(eventlog.KindTimeout) != 1 {
		t.Fatalf("session must keep running until timeout: %v", sink.events())
	}
}

func TestCancelDrainsWithCancelledFrame(t *testing.T) {
	l := newLog(t)
	reg := NewRegistry()
	s, err := NewSession(fileConfig("0"), Deps{Log: l, Registry: reg}, testOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sink := &recordingSink{}
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), sink) }()

	time.Sleep(20 * time.Millisecond)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Cancel("client request")
			s.Close()
		}()
	}
	wg.Wait()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not drain")
	}
	events := sink.events()
	tail := events[len(events)-2:]
	if diff := cmp.Diff([]eventlog.Kind{eventlog.KindCancelled, eventlog.KindDisconnected}, tail); diff != "" {
		t.Fatalf("tail frames (-want +got):\n%s", diff)
	}
	if sink.frames[len(sink.frames)-2].Data["reason"] != "client request" {
		t.Fatalf("first cancel reason must win: %v", sink.frames[len(sink.frames)-2].Data)
	}
	s.Close()
	s.Cancel("again")
	if s.State() != StateClosed || reg.Len() != 0 {
		t.Fatalf("state %s registry %d", s.State(), reg.Len())
	}
}

func TestContextCancelIsSilent(t *testing.T) {
	l := newLog(t)
	s, err := NewSession(fileConfig("0"), Deps{Log: l}, testOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sink := &recordingSink{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = s.Run(ctx, sink)
	if !errors.Is(err, ErrClientGone) {
		t.Fatalf("want ErrClientGone, got %v", err)
	}
	if sink.count(eventlog.KindDisconnected) != 0 || sink.count(eventlog.KindCancelled) != 0 {
		t.Fatalf("no final frames for a vanished client: %v", sink.events())
	}
}

func TestSingletonKeyRejectsSecondSession(t *testing.T) {
	l := newLog(t)
	reg := NewRegistry()
	first, err := NewSession(fileConfig("0"), Deps{Log: l, Registry: reg}, testOptions())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := first.Register(); err != nil {
		t.Fatalf("register: %v", err)
	}
	defer first.Close()

	sink := &recordingSink{}
	_, err = runSession(t, fileConfig("0"), Deps{Log: l, Registry: reg}, testOptions(), sink)
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("want ErrSessionActive, got %v", err)
	}
	if len(sink.frames) != 0 {
		t.Fatalf("rejected session wrote frames: %v", sink.events())
	}
	if reg.Len() != 1 {
		t.Fatalf("registry %d, want 1", reg.Len())
	}
}

func TestFanInFiltersAndAdvancesCursors(t *testing.T) {
	l := newLog(t)
	ctx := context.Background()
	topics := []string{"relay:workflow:progress", "relay:analysis:progress"}
	mustAppend := func(subject string, payload map[string]any) {
		if _, err := l.Append(ctx, subject, eventlog.Event{Type: eventlog.KindProgress, Payload: payload}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	mustAppend(topics[0], map[string]any{"workflow_id": "user:u1:analyze-1", "progress": float64(10)})
	mustAppend(topics[1], map[string]any{"user_id": "u2", "progress": float64(20)})
	mustAppend(topics[1], map[string]any{"file_id": "user:u1:f-9", "progress": float64(30)})

	filter, err := OwnershipFilter("u1", "")
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	opts := testOptions()
	opts.MaxPolls = 3
	cfg := Config{Key: "user:u1", Kind: KindUser, Subjects: topics, Filter: filter}
	sink := &recordingSink{}
	if _, err := runSession(t, cfg, Deps{Log: l}, opts, sink); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := sink.count(eventlog.KindProgress); n != 2 {
		t.Fatalf("progress frames %d, want 2: %v", n, sink.events())
	}
	last := sink.frames[len(sink.frames)-1]
	cursors := DecodeFrameID(last.ID, topics)
	want := map[string]eventlog.Cursor{topics[0]: "1", topics[1]: "2"}
	if diff := cmp.Diff(want, cursors); diff != "" {
		t.Fatalf("cursors (-want +got):\n%s", diff)
	}
}

func TestNewSessionValidates(t *testing.T) {
	l := newLog(t)
	if _, err := NewSession(Config{Subjects: []string{"a"}}, Deps{Log: l}, Options{}); !errors.Is(err, errors.NotValid) {
		t.Fatalf("empty key: %v", err)
	}
	if _, err := NewSession(Config{Key: "k"}, Deps{Log: l}, Options{}); !errors.Is(err, errors.NotValid) {
		t.Fatalf("no subjects: %v", err)
	}
}
