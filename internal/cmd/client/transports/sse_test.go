package transports

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/juju/errors"
)

func TestReadEvents(t *testing.T) {
	in := strings.Join([]string{
		": comment",
		"id: 1",
		"event: progress",
		`data: {"step":"extract",`,
		`data: "progress":40}`,
		"",
		"event: heartbeat",
		"data: not json",
		"",
		"id: 3",
		"event: disconnected",
		"data: {}",
		"",
		"",
	}, "\n")
	var got []Frame
	if err := ReadEvents(strings.NewReader(in), func(f Frame) error {
		got = append(got, f)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []Frame{
		{ID: "1", Event: "progress", Data: map[string]any{"step": "extract", "progress": float64(40)}},
		{ID: "1", Event: "heartbeat", Data: map[string]any{"raw": "not json"}},
		{ID: "3", Event: "disconnected", Data: map[string]any{}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("frames (-want +got):\n%s", diff)
	}
}

func TestReadEventsDropsUnterminatedEvent(t *testing.T) {
	in := "event: a\ndata: {}\n\nevent: b\ndata: {}\n"
	var got []string
	if err := ReadEvents(strings.NewReader(in), func(f Frame) error {
		got = append(got, f.Event)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff([]string{"a"}, got); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}

func TestReadEventsStopsOnCallbackError(t *testing.T) {
	in := "event: a\ndata: {}\n\nevent: b\ndata: {}\n\n"
	n := 0
	err := ReadEvents(strings.NewReader(in), func(Frame) error {
		n++
		return ErrStop
	})
	if !errors.Is(err, ErrStop) || n != 1 {
		t.Fatalf("err=%v frames=%d", err, n)
	}
}

func writeFrame(w http.ResponseWriter, id, event, data string) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", id, event, data)
	w.(http.Flusher).Flush()
}

func TestSSEReconnectsWithLastEventID(t *testing.T) {
	var (
		mu      sync.Mutex
		resumes []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/stream/file/f1" || r.URL.Query().Get("workflow_id") != "wf-1" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		resumes = append(resumes, r.Header.Get("Last-Event-ID"))
		attempt := len(resumes)
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		if attempt == 1 {
			writeFrame(w, "1", "progress", `{"progress":10}`)
			return // drop without the disconnected frame
		}
		writeFrame(w, "2", "completed", `{"progress":100}`)
		writeFrame(w, "2", "disconnected", `{}`)
	}))
	defer srv.Close()

	tr := NewSSETransport(srv.URL)
	tr.Backoff = time.Millisecond
	var events []string
	err := tr.Tail(context.Background(), TailRequest{Kind: "file", ID: "f1", WorkflowID: "wf-1"}, func(f Frame) error {
		events = append(events, f.Event)
		return nil
	})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if diff := cmp.Diff([]string{"progress", "completed", "disconnected"}, events); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"", "1"}, resumes); diff != "" {
		t.Fatalf("Last-Event-ID per attempt (-want +got):\n%s", diff)
	}
}

func TestSSEConflictIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"stream already active"}`))
	}))
	defer srv.Close()

	tr := NewSSETransport(srv.URL)
	tr.Backoff = time.Millisecond
	err := tr.Tail(context.Background(), TailRequest{Kind: "workflow", ID: "w"}, func(Frame) error { return nil })
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusConflict || se.Message != "stream already active" {
		t.Fatalf("want 409 StatusError, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("conflict retried: %d calls", n)
	}
}

func TestSSEGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := NewSSETransport(srv.URL)
	tr.Backoff = time.Millisecond
	tr.Retries = 2
	err := tr.Tail(context.Background(), TailRequest{Kind: "user", ID: "u"}, func(Frame) error { return nil })
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503 StatusError, got %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("want 1 attempt plus 2 retries, got %d", n)
	}
}

func TestSSEStopFromCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(w, "1", "connected", `{}`)
		writeFrame(w, "2", "progress", `{}`)
		<-r.Context().Done()
	}))
	defer srv.Close()

	n := 0
	err := NewSSETransport(srv.URL).Tail(context.Background(), TailRequest{Kind: "user", ID: "u"}, func(Frame) error {
		n++
		if n == 2 {
			return ErrStop
		}
		return nil
	})
	if err != nil || n != 2 {
		t.Fatalf("err=%v frames=%d", err, n)
	}
}

func TestStreamURL(t *testing.T) {
	got := streamURL("http://h:1/", "/v1/stream", TailRequest{Kind: "user", ID: "u 1", From: "latest", Filter: `event_type == "progress"`})
	want := "http://h:1/v1/stream/user/u%201?filter=event_type+%3D%3D+%22progress%22&from=latest"
	if got != want {
		t.Fatalf("url\n got %s\nwant %s", got, want)
	}
}
