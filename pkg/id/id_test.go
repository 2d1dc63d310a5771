package id

import (
	"math"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
)

var epoch = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func TestIDsIncreaseWithinMillisecond(t *testing.T) {
	g := NewGenerator(testclock.NewClock(epoch))
	a, b := g.Next(), g.Next()
	if a.Compare(b) >= 0 || a.String() >= b.String() {
		t.Fatalf("want %s < %s", a, b)
	}
	if !a.Time().Equal(epoch) || b.Seq() != 1 {
		t.Fatalf("time %v seq %d", a.Time(), b.Seq())
	}
}

func TestClockRegressionKeepsOrder(t *testing.T) {
	clk := testclock.NewClock(epoch)
	g := NewGenerator(clk)
	a := g.Next()
	clk.Advance(-time.Second)
	b := g.Next()
	if a.Compare(b) >= 0 {
		t.Fatalf("want %s < %s after regression", a, b)
	}
	if !b.Time().Equal(epoch) {
		t.Fatalf("regressed id carries %v", b.Time())
	}
}

func TestExhaustedSequenceWaitsForNextMillisecond(t *testing.T) {
	clk := testclock.NewClock(epoch)
	g := NewGenerator(clk)
	g.lastMs = epoch.UnixMilli()
	g.seq = math.MaxUint64

	done := make(chan ID, 1)
	go func() { done <- g.Next() }()
	if err := clk.WaitAdvance(time.Millisecond, time.Second, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	select {
	case got := <-done:
		if got.Seq() != 0 || !got.Time().Equal(epoch.Add(time.Millisecond)) {
			t.Fatalf("got seq %d at %v", got.Seq(), got.Time())
		}
	case <-time.After(time.Second):
		t.Fatalf("generator did not resume")
	}
}

func TestParse(t *testing.T) {
	want := NewGenerator(testclock.NewClock(epoch)).Next()
	got, err := Parse(want.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	for _, bad := range []string{"", "abc", "zz" + want.String()[2:]} {
		if _, err := Parse(bad); !errors.Is(err, errors.NotValid) {
			t.Fatalf("Parse(%q): want NotValid, got %v", bad, err)
		}
	}
}
