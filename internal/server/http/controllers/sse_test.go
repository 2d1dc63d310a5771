package controllers

import (
	"math"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/drewthekiiid/pipai-sub002/internal/eventlog"
	"github.com/drewthekiiid/pipai-sub002/internal/relay"
)

func TestSSESinkWritesEventBlock(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := newSSESink(rec, 0, nil)
	if err := sink.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := sink.Send(relay.Frame{Event: eventlog.KindProgress, ID: "1-0", Data: map[string]any{"progress": 40}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	want := "id: 1-0\nevent: progress\ndata: {\"progress\":40}\n\n"
	if got := rec.Body.String(); got != want {
		t.Fatalf("body %q, want %q", got, want)
	}
}

func TestSSESinkSendsErrorFrameForUnencodableData(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := newSSESink(rec, 0, nil)
	err := sink.Send(relay.Frame{Event: eventlog.KindProgress, ID: "2-0", Data: map[string]any{"progress": math.NaN()}})
	if err != nil {
		t.Fatalf("send: want nil, got %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: error\n") {
		t.Fatalf("no error event in %q", body)
	}
	if !strings.Contains(body, `data: {"error":"encode frame: `) {
		t.Fatalf("error data missing in %q", body)
	}
	if !strings.HasPrefix(body, "id: 2-0\n") {
		t.Fatalf("frame id not kept in %q", body)
	}

	// The sink stays usable.
	if err := sink.Send(relay.Frame{Event: eventlog.KindHeartbeat, Data: map[string]any{}}); err != nil {
		t.Fatalf("send after error frame: %v", err)
	}
	if !strings.HasSuffix(rec.Body.String(), "event: heartbeat\ndata: {}\n\n") {
		t.Fatalf("heartbeat missing in %q", rec.Body.String())
	}
}
