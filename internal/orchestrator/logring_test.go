package orchestrator

import (
	"fmt"
	"testing"
	"time"
)

func TestLogRingKeepsMostRecentEntries(t *testing.T) {
	ring := newLogRing(3)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ring.Append(base.Add(time.Duration(i)*time.Second), fmt.Sprintf("entry %d", i))
	}

	got := ring.Snapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"entry 2", "entry 3", "entry 4"} {
		if got[i].Message != want {
			t.Fatalf("entry %d = %q, want %q", i, got[i].Message, want)
		}
	}
}

func TestLogRingPartialFill(t *testing.T) {
	ring := newLogRing(10)
	ring.Append(time.Now(), "only one")
	got := ring.Snapshot()
	if len(got) != 1 || got[0].Message != "only one" {
		t.Fatalf("snapshot = %v", got)
	}
}

func TestLogRingMinimumCapacity(t *testing.T) {
	ring := newLogRing(0)
	ring.Append(time.Now(), "a")
	ring.Append(time.Now(), "b")
	got := ring.Snapshot()
	if len(got) != 1 || got[0].Message != "b" {
		t.Fatalf("snapshot = %v", got)
	}
}
