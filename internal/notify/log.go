package notify

import (
	"context"
	"log/slog"

	"streamcast/internal/orchestrator"
)

// LogSink writes every event to the structured log. It is the default sink
// when no external transport is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, event orchestrator.Event) error {
	level := slog.LevelInfo
	switch event.Severity {
	case orchestrator.SeverityWarning:
		level = slog.LevelWarn
	case orchestrator.SeverityError:
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, "session event",
		"kind", event.Kind,
		"session_id", event.SessionID,
		"session_name", event.SessionName,
		"message", event.Message,
	)
	return nil
}
