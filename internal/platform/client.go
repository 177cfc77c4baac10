// Package platform talks to the remote streaming platform that hosts
// broadcasts: creating them, binding ingest streams, transitioning their
// lifecycle, posting chat messages, and fetching basic analytics.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"streamcast/internal/models"
)

// Broadcast is the platform's identity for one live event. The broadcast ID
// doubles as the orchestrator's session ID.
type Broadcast struct {
	ID         string
	ChatID     string
	PrivacyURL string
}

// StreamBinding is the ingest endpoint returned when a stream is bound to a
// broadcast.
type StreamBinding struct {
	StreamID     string
	IngestionURL string
	StreamKey    string
}

// Target returns the complete push destination (ingestion URL + stream key).
func (b StreamBinding) Target() string {
	if b.StreamKey == "" {
		return b.IngestionURL
	}
	return b.IngestionURL + "/" + b.StreamKey
}

// BroadcastRequest carries the fields needed to create a broadcast. A non-nil
// ScheduledAt creates a future-dated broadcast.
type BroadcastRequest struct {
	Title       string
	Description string
	Privacy     string
	ScheduledAt *time.Time
}

// LifecycleStatus values accepted by Transition.
const (
	LifecycleTesting  = "testing"
	LifecycleLive     = "live"
	LifecycleComplete = "complete"
)

// Client is the facade onto the remote platform. All calls may fail with an
// *APIError whose Transient field distinguishes retryable failures from
// permanent ones.
type Client interface {
	CreateBroadcast(ctx context.Context, req BroadcastRequest) (Broadcast, error)
	BindStream(ctx context.Context, broadcastID, resolution, bitrate string) (StreamBinding, error)
	Transition(ctx context.Context, broadcastID, status string) error
	SendChatMessage(ctx context.Context, broadcastID, text string) error
	DisableChat(ctx context.Context, broadcastID string) error
	Analytics(ctx context.Context, broadcastID string) (models.AnalyticsSnapshot, error)
}

// APIError describes a failed platform call. Transient errors (5xx, network
// timeouts) are retried by callers; permanent errors (4xx) are not.
type APIError struct {
	Operation string
	Status    int
	Message   string
	Transient bool
}

func (e *APIError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Status > 0 {
		return fmt.Sprintf("platform %s: %s error (status %d): %s", e.Operation, kind, e.Status, e.Message)
	}
	return fmt.Sprintf("platform %s: %s error: %s", e.Operation, kind, e.Message)
}

// IsTransient reports whether err is a retryable platform failure.
func IsTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Transient
}
