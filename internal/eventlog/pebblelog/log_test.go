package pebblelog

import (
	"context"
	"testing"
	"time"

	"github.com/juju/errors"

	"github.com/drewthekiiid/pipai-sub002/internal/eventlog"
	"github.com/drewthekiiid/pipai-sub002/internal/eventlog/eventlogtest"
	pebblestore "github.com/drewthekiiid/pipai-sub002/internal/storage/pebble"
)

func dbOptions(dir string) pebblestore.Options {
	return pebblestore.Options{
		DataDir:       dir,
		Fsync:         pebblestore.FsyncModeInterval,
		FsyncInterval: 2 * time.Millisecond,
	}
}

func openStore(t *testing.T, dir string, opts Options) *Store {
	t.Helper()
	s, err := Open(dbOptions(dir), opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	eventlogtest.Run(t, func(t *testing.T) eventlog.Log {
		return openStore(t, t.TempDir(), Options{})
	}, eventlogtest.Options{WakesOnAppend: true})
}

func TestCursorsAreSequential(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{})
	got := eventlogtest.AppendN(t, s, "file-A", 3)
	want := []eventlog.Cursor{"1", "2", "3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cursor %d = %q, want %q", i, got[i], want[i])
		}
	}

	// Resuming after "2" yields only the third event.
	evs, err := s.ReadAfter(context.Background(), "file-A", "2", 0, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(evs) != 1 || evs[0].ID != "3" || evs[0].Payload["progress"] != float64(30) {
		t.Fatalf("unexpected events after cursor 2: %+v", evs)
	}
}

func TestSequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dbOptions(dir), Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	eventlogtest.AppendN(t, s, "wf", 2)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2 := openStore(t, dir, Options{})
	last, err := s2.LastCursor("wf")
	if err != nil {
		t.Fatalf("last cursor: %v", err)
	}
	if last != "2" {
		t.Fatalf("last cursor after reopen = %q, want 2", last)
	}
	c, err := s2.Append(context.Background(), "wf", eventlog.Event{Type: eventlog.KindStatus})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if c != "3" {
		t.Fatalf("cursor after reopen = %q, want 3", c)
	}
	evs, err := s2.ReadAfter(context.Background(), "wf", eventlog.Beginning, 0, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("want 3 events after reopen, got %d", len(evs))
	}
}

func TestMaxLenTrimsOldest(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{MaxLen: 3})
	eventlogtest.AppendN(t, s, "file-T", 5)
	evs, err := s.ReadAfter(context.Background(), "file-T", eventlog.Beginning, 0, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("want 3 retained events, got %d", len(evs))
	}
	if evs[0].ID != "3" || evs[2].ID != "5" {
		t.Fatalf("retained ids %q..%q, want 3..5", evs[0].ID, evs[2].ID)
	}
}

func TestBadInputs(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{})
	ctx := context.Background()
	if _, err := s.ReadAfter(ctx, "x", "1700000000000-0", 0, 10); !errors.Is(err, errors.NotValid) {
		t.Fatalf("foreign cursor: want NotValid, got %v", err)
	}
	if _, err := s.Append(ctx, "", eventlog.Event{}); !errors.Is(err, errors.NotValid) {
		t.Fatalf("empty subject: want NotValid, got %v", err)
	}
	evs, err := s.ReadAfter(ctx, "x", "", 0, 10)
	if err != nil || len(evs) != 0 {
		t.Fatalf("empty cursor on empty subject: %v %v", evs, err)
	}
}

func TestCloseReleasesBlockedReaders(t *testing.T) {
	s, err := Open(dbOptions(t.TempDir()), Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := s.ReadAfter(context.Background(), "idle", eventlog.Beginning, 10*time.Second, 10)
		done <- err
	}()
	time.Sleep(30 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, eventlog.ErrUnavailable) {
			t.Fatalf("want ErrUnavailable, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("blocked reader not released by close")
	}

	if _, err := s.Append(context.Background(), "idle", eventlog.Event{}); !errors.Is(err, eventlog.ErrUnavailable) {
		t.Fatalf("append after close: want ErrUnavailable, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestContextCancelsBlockedRead(t *testing.T) {
	s := openStore(t, t.TempDir(), Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := s.ReadAfter(ctx, "idle", eventlog.Beginning, 10*time.Second, 10)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestRecordRejectsCorruption(t *testing.T) {
	rec := encodeRecord(time.UnixMilli(1700000000000), eventlog.KindProgress, []byte(`{"a":1}`))
	got, err := decodeRecord(rec)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.kind != eventlog.KindProgress || got.ts.UnixMilli() != 1700000000000 {
		t.Fatalf("unexpected record %+v", got)
	}
	rec[len(rec)-6] ^= 0xff
	if _, err := decodeRecord(rec); !errors.Is(err, errCorrupt) {
		t.Fatalf("want errCorrupt, got %v", err)
	}
	if _, err := decodeRecord([]byte{0x01}); !errors.Is(err, errCorrupt) {
		t.Fatalf("short record: want errCorrupt, got %v", err)
	}
}
