package journal

import (
	"context"
	"testing"
	"time"

	"streamcast/internal/orchestrator"
)

func TestMemoryJournalAppendAndList(t *testing.T) {
	j := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, kind := range []orchestrator.EventKind{
		orchestrator.EventStarting,
		orchestrator.EventLive,
		orchestrator.EventStopped,
	} {
		err := j.Append(ctx, Entry{
			SessionID: "bc-001",
			Kind:      kind,
			Severity:  orchestrator.SeverityInfo,
			At:        base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := j.Append(ctx, Entry{SessionID: "bc-002", Kind: orchestrator.EventFailed}); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := j.List(ctx, "bc-001", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	if entries[0].Kind != orchestrator.EventStarting || entries[2].Kind != orchestrator.EventStopped {
		t.Fatalf("unexpected order: %v", entries)
	}
	if entries[0].ID == 0 {
		t.Fatal("ids not assigned")
	}

	limited, err := j.List(ctx, "bc-001", 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 || limited[1].Kind != orchestrator.EventStopped {
		t.Fatalf("limited = %v", limited)
	}

	empty, err := j.List(ctx, "missing", 0)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty list, got %v, %v", empty, err)
	}
}

func TestSinkRecordsEvents(t *testing.T) {
	j := NewMemory()
	sink := NewSink(j)
	if sink.Name() != "journal" {
		t.Fatalf("name = %q", sink.Name())
	}

	event := orchestrator.Event{
		Kind:        orchestrator.EventDegraded,
		Severity:    orchestrator.SeverityWarning,
		SessionID:   "bc-009",
		SessionName: "demo",
		Message:     "health checks failing",
		At:          time.Now().UTC(),
	}
	if err := sink.Deliver(context.Background(), event); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	entries, err := j.List(context.Background(), "bc-009", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	got := entries[0]
	if got.Kind != event.Kind || got.Severity != event.Severity || got.Message != event.Message {
		t.Fatalf("entry = %+v", got)
	}
}

func TestNewPostgresRequiresDSN(t *testing.T) {
	if _, err := NewPostgres(context.Background(), PostgresConfig{}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}
