package system

import (
	"testing"
	"time"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().Add(-time.Second)
	got := clk.Now()
	after := time.Now().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

func TestClockIn(t *testing.T) {
	t.Parallel()

	cst := time.FixedZone("CST", 8*3600)
	got := In(cst).Now()
	if got.Location() != cst {
		t.Fatalf("expected CST location, got %v", got.Location())
	}
	if In(nil).Now().Location() != time.UTC {
		t.Fatal("expected nil location to fall back to UTC")
	}
}
