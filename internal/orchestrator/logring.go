package orchestrator

import (
	"sync"
	"time"

	"streamcast/internal/models"
)

// logRing keeps the most recent session log entries in a fixed-size ring.
// Older entries are overwritten once the capacity is reached.
type logRing struct {
	mu      sync.Mutex
	entries []models.LogEntry
	next    int
	full    bool
}

func newLogRing(capacity int) *logRing {
	if capacity < 1 {
		capacity = 1
	}
	return &logRing{entries: make([]models.LogEntry, capacity)}
}

func (r *logRing) Append(at time.Time, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = models.LogEntry{At: at, Message: message}
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
}

// Snapshot returns the retained entries in chronological order.
func (r *logRing) Snapshot() []models.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]models.LogEntry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]models.LogEntry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}
