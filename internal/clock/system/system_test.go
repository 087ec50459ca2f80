// Package system exercises the real-time clock adapter.
package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

func TestClockDisplayZone(t *testing.T) {
	t.Parallel()

	clk := New()
	if got := clk.Location().String(); got != DefaultZone {
		t.Fatalf("expected %s, got %s", DefaultZone, got)
	}
	winter := time.Date(2025, 1, 15, 7, 0, 0, 0, time.UTC).In(clk.Location())
	if winter.Hour() != 8 {
		t.Fatalf("expected CET offset, got %v", winter)
	}

	utc, err := NewIn("UTC")
	if err != nil {
		t.Fatalf("NewIn(UTC) error = %v", err)
	}
	if utc.Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", utc.Location())
	}
	if _, err := NewIn("Mars/Olympus"); err == nil {
		t.Fatal("expected error for unknown zone")
	}
	var zero Clock
	if zero.Location() != time.UTC {
		t.Fatal("zero clock should display UTC")
	}
}
