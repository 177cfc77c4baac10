package orchestrator

import "time"

// EventKind identifies why an event was emitted. Most kinds mirror a state
// transition; the remainder flag per-child incidents that do not change the
// session state on their own.
type EventKind string

const (
	EventScheduled        EventKind = "scheduled"
	EventStarting         EventKind = "starting"
	EventLive             EventKind = "live"
	EventDegraded         EventKind = "degraded"
	EventReconnecting     EventKind = "reconnecting"
	EventStopped          EventKind = "stopped"
	EventFailed           EventKind = "failed"
	EventRetriesExhausted EventKind = "retries_exhausted"
	EventChildFailed      EventKind = "child_failed"
)

// Severity ranks events for downstream sinks.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event describes a session lifecycle change handed to the notifier.
type Event struct {
	Kind        EventKind `json:"kind"`
	Severity    Severity  `json:"severity"`
	SessionID   string    `json:"sessionId"`
	SessionName string    `json:"sessionName"`
	Message     string    `json:"message"`
	At          time.Time `json:"at"`
}

// EventPublisher accepts lifecycle events. Publish must not block; slow
// consumers drop rather than stall the supervisor.
type EventPublisher interface {
	Publish(event Event)
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
