// Package eventlogtest holds behaviour tests every eventlog.Log backend must pass.
package eventlogtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/drewthekiiid/pipai-sub002/internal/eventlog"
)

// Factory returns a fresh, empty log. It registers its own cleanup.
type Factory func(t *testing.T) eventlog.Log

// Options toggles checks that depend on backend capabilities.
type Options struct {
	// WakesOnAppend asserts that a blocked ReadAfter returns as soon as an
	// event is appended rather than at the end of its block window.
	WakesOnAppend bool
}

// Run executes the suite against logs produced by newLog.
func Run(t *testing.T, newLog Factory, opts Options) {
	t.Run("ResumeFromEveryCursor", func(t *testing.T) { testResume(t, newLog(t)) })
	t.Run("PagedReadKeepsOrder", func(t *testing.T) { testPaged(t, newLog(t)) })
	t.Run("SubjectsAreIsolated", func(t *testing.T) { testIsolation(t, newLog(t)) })
	t.Run("PayloadRoundTrip", func(t *testing.T) { testPayload(t, newLog(t)) })
	t.Run("EmptyReadTimesOut", func(t *testing.T) { testTimeout(t, newLog(t)) })
	if opts.WakesOnAppend {
		t.Run("BlockedReadWakesOnAppend", func(t *testing.T) { testWake(t, newLog(t)) })
	}
}

// AppendN appends n progress events to subject and returns their cursors.
func AppendN(t *testing.T, l eventlog.Log, subject string, n int) []eventlog.Cursor {
	t.Helper()
	ctx := context.Background()
	out := make([]eventlog.Cursor, 0, n)
	for i := 1; i <= n; i++ {
		c, err := l.Append(ctx, subject, eventlog.Event{
			Type:    eventlog.KindProgress,
			Payload: map[string]any{"step": fmt.Sprintf("step-%d", i), "progress": float64(i * 10)},
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		out = append(out, c)
	}
	return out
}

func ids(events []eventlog.Event) []eventlog.Cursor {
	out := make([]eventlog.Cursor, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

func testResume(t *testing.T, l eventlog.Log) {
	const n = 6
	cursors := AppendN(t, l, "file-A", n)
	starts := append([]eventlog.Cursor{eventlog.Beginning}, cursors...)
	for k, start := range starts {
		got, err := l.ReadAfter(context.Background(), "file-A", start, 0, 100)
		if err != nil {
			t.Fatalf("read after %q: %v", start, err)
		}
		if diff := cmp.Diff(cursors[k:], ids(got)); diff != "" && !(k == n && len(got) == 0) {
			t.Fatalf("read after %q (-want +got):\n%s", start, diff)
		}
	}
}

func testPaged(t *testing.T, l eventlog.Log) {
	cursors := AppendN(t, l, "wf", 7)
	var seen []eventlog.Cursor
	cur := eventlog.Beginning
	for i := 0; i < 10; i++ {
		page, err := l.ReadAfter(context.Background(), "wf", cur, 0, 3)
		if err != nil {
			t.Fatalf("page %d: %v", i, err)
		}
		if len(page) == 0 {
			break
		}
		if len(page) > 3 {
			t.Fatalf("page %d exceeds maxCount: %d", i, len(page))
		}
		seen = append(seen, ids(page)...)
		cur = page[len(page)-1].ID
	}
	if diff := cmp.Diff(cursors, seen); diff != "" {
		t.Fatalf("paged ids (-want +got):\n%s", diff)
	}
}

func testIsolation(t *testing.T, l eventlog.Log) {
	AppendN(t, l, "a", 2)
	got, err := l.ReadAfter(context.Background(), "b", eventlog.Beginning, 0, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("subject b saw %d events of subject a", len(got))
	}
	got, err = l.ReadAfter(context.Background(), "a", eventlog.Beginning, 0, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, ev := range got {
		if ev.SubjectKey != "a" {
			t.Fatalf("subject key %q on event of a", ev.SubjectKey)
		}
	}
}

func testPayload(t *testing.T, l eventlog.Log) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := eventlog.Event{
		Type:      eventlog.KindCompleted,
		Timestamp: ts,
		Payload: map[string]any{
			"file_id": "f-1",
			"nested":  map[string]any{"pages": float64(3)},
			"tags":    []any{"pdf", "scan"},
		},
	}
	c, err := l.Append(context.Background(), "file-P", in)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := l.ReadAfter(context.Background(), "file-P", eventlog.Beginning, 0, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 event, got %d", len(got))
	}
	ev := got[0]
	if ev.ID != c || ev.Type != eventlog.KindCompleted {
		t.Fatalf("unexpected event header %+v", ev)
	}
	if !ev.Timestamp.Equal(ts) {
		t.Fatalf("timestamp %v want %v", ev.Timestamp, ts)
	}
	if diff := cmp.Diff(in.Payload, ev.Payload); diff != "" {
		t.Fatalf("payload (-want +got):\n%s", diff)
	}
}

func testTimeout(t *testing.T, l eventlog.Log) {
	start := time.Now()
	got, err := l.ReadAfter(context.Background(), "quiet", eventlog.Beginning, 50*time.Millisecond, 10)
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("want no events, got %d", len(got))
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("read overran its block bound: %v", time.Since(start))
	}
}

func testWake(t *testing.T, l eventlog.Log) {
	type result struct {
		events []eventlog.Event
		err    error
	}
	done := make(chan result, 1)
	go func() {
		evs, err := l.ReadAfter(context.Background(), "live", eventlog.Beginning, 5*time.Second, 10)
		done <- result{evs, err}
	}()
	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	AppendN(t, l, "live", 1)

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("read: %v", r.err)
		}
		if len(r.events) != 1 {
			t.Fatalf("want 1 event, got %d", len(r.events))
		}
		if time.Since(start) > 2*time.Second {
			t.Fatalf("woke too late: %v", time.Since(start))
		}
	case <-time.After(4 * time.Second):
		t.Fatalf("blocked reader was not woken by append")
	}
}
