package orchestrator

import "errors"

var (
	// ErrDuplicateName is returned when a session name is already registered
	// or currently being created.
	ErrDuplicateName = errors.New("session name already in use")
	// ErrSessionNotFound is returned when no session matches the given id or name.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionTerminal is returned for operations that require a running session.
	ErrSessionTerminal = errors.New("session already finished")
	// ErrSessionActive is returned when removing a session that has not finished.
	ErrSessionActive = errors.New("session is still active")
	// ErrScheduleRequired is returned by Schedule when no future start time is set.
	ErrScheduleRequired = errors.New("scheduled start time required")
	// ErrChatUnavailable is returned when the broadcast carries no chat channel.
	ErrChatUnavailable = errors.New("broadcast has no chat")
	// ErrShuttingDown is returned for new work submitted during shutdown.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)
