package keypad

import (
	"fmt"
	"testing"
	"time"
)

func TestSourceLimiterDisabled(t *testing.T) {
	l := newSourceLimiter(0, 5, time.Now)
	if l != nil {
		t.Fatal("newSourceLimiter(0) should be nil")
	}
	for range 100 {
		if !l.Allow("door") {
			t.Fatal("nil limiter refused a request")
		}
	}
}

func TestSourceLimiterBurstAndRefill(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l := newSourceLimiter(30, 3, func() time.Time { return now })

	for i := range 3 {
		if !l.Allow("door") {
			t.Fatalf("request %d within burst refused", i)
		}
	}
	if l.Allow("door") {
		t.Error("request beyond burst allowed")
	}

	// 30 per minute is one every two seconds.
	now = now.Add(time.Second)
	if l.Allow("door") {
		t.Error("allowed before a token refilled")
	}
	now = now.Add(time.Second)
	if !l.Allow("door") {
		t.Error("refused after a token refilled")
	}
}

func TestSourceLimiterZeroBurst(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l := newSourceLimiter(60, 0, func() time.Time { return now })
	if !l.Allow("door") {
		t.Error("first request refused with burst defaulted to 1")
	}
	if l.Allow("door") {
		t.Error("second immediate request allowed")
	}
}

func TestSourceLimiterEvictsIdleSources(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l := newSourceLimiter(60, 1, func() time.Time { return now })

	for i := range maxTrackedSources {
		l.Allow(fmt.Sprintf("keypad-%d", i))
	}
	if got := l.tracked(); got != maxTrackedSources {
		t.Fatalf("tracked = %d, want %d", got, maxTrackedSources)
	}

	now = now.Add(idleEviction)
	l.Allow("late")
	if got := l.tracked(); got != 1 {
		t.Errorf("tracked after eviction = %d, want 1", got)
	}
}

func TestSourceLimiterCapsBusySources(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l := newSourceLimiter(60, 1, func() time.Time { return now })

	for i := range maxTrackedSources * 5 {
		now = now.Add(time.Millisecond)
		if !l.Allow(fmt.Sprintf("keypad-%d", i)) {
			t.Fatalf("first request from keypad-%d refused", i)
		}
		if got := l.tracked(); got > maxTrackedSources {
			t.Fatalf("tracked = %d after %d sources, want at most %d", got, i+1, maxTrackedSources)
		}
	}

	// The most recent source keeps its spent bucket.
	last := fmt.Sprintf("keypad-%d", maxTrackedSources*5-1)
	if l.Allow(last) {
		t.Errorf("%s allowed a second immediate request", last)
	}
}
