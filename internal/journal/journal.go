// Package journal persists session lifecycle events so operators can audit
// what happened to a session after the fact. It plugs into the notifier as
// an ordinary sink.
package journal

import (
	"context"
	"sync"
	"time"

	"streamcast/internal/orchestrator"
)

// Entry is one recorded lifecycle event.
type Entry struct {
	ID          int64                  `json:"id"`
	SessionID   string                 `json:"sessionId"`
	SessionName string                 `json:"sessionName"`
	Kind        orchestrator.EventKind `json:"kind"`
	Severity    orchestrator.Severity  `json:"severity"`
	Message     string                 `json:"message"`
	At          time.Time              `json:"at"`
}

// Journal is the persistence interface. Implementations must be safe for
// concurrent use.
type Journal interface {
	Append(ctx context.Context, entry Entry) error
	// List returns entries for one session in chronological order, capped
	// at limit when limit is positive.
	List(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	Close(ctx context.Context) error
}

// Memory is an in-process Journal used in tests and when no database is
// configured.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
	nextID  int64
}

func NewMemory() *Memory {
	return &Memory{nextID: 1}
}

func (m *Memory) Append(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.nextID
	m.nextID++
	m.entries = append(m.entries, entry)
	return nil
}

func (m *Memory) List(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, entry := range m.entries {
		if entry.SessionID == sessionID {
			out = append(out, entry)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) Close(context.Context) error {
	return nil
}

// Sink adapts a Journal to the notifier's sink interface.
type Sink struct {
	journal Journal
}

func NewSink(j Journal) *Sink {
	return &Sink{journal: j}
}

func (s *Sink) Name() string { return "journal" }

func (s *Sink) Deliver(ctx context.Context, event orchestrator.Event) error {
	return s.journal.Append(ctx, Entry{
		SessionID:   event.SessionID,
		SessionName: event.SessionName,
		Kind:        event.Kind,
		Severity:    event.Severity,
		Message:     event.Message,
		At:          event.At,
	})
}
