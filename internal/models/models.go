package models

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SessionState enumerates the lifecycle states of a streaming session.
type SessionState string

const (
	StateScheduled    SessionState = "scheduled"
	StateStarting     SessionState = "starting"
	StateLive         SessionState = "live"
	StateDegraded     SessionState = "degraded"
	StateReconnecting SessionState = "reconnecting"
	StateStopped      SessionState = "stopped"
	StateFailed       SessionState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// ContentSource describes the media a session pushes to its ingestion
// targets: a local path, remote URL, or playlist reference.
type ContentSource struct {
	Source string   `json:"source"`
	Loop   bool     `json:"loop"`
	Tags   []string `json:"tags,omitempty"`
}

// SessionConfig is the immutable request that creates a session. Name must be
// unique across the registry for the lifetime of the process.
type SessionConfig struct {
	Name        string        `json:"name"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Privacy     string        `json:"privacy"`
	Resolution  string        `json:"resolution"`
	Bitrate     string        `json:"bitrate"`
	Content     ContentSource `json:"content"`
	// ExtraIngestionURLs fan the same content out to additional
	// destinations beyond the platform-provided primary.
	ExtraIngestionURLs []string   `json:"extraIngestionUrls,omitempty"`
	ScheduledAt        *time.Time `json:"scheduledAt,omitempty"`
}

var validPrivacy = map[string]struct{}{
	"public":   {},
	"unlisted": {},
	"private":  {},
}

// ConfigError reports an invalid SessionConfig field. Configs failing
// validation are rejected before any session is created.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid session config: %s %s", e.Field, e.Reason)
}

// Validate checks the config before any remote call is made.
func (c SessionConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ConfigError{Field: "name", Reason: "is required"}
	}
	if strings.TrimSpace(c.Title) == "" {
		return &ConfigError{Field: "title", Reason: "is required"}
	}
	if c.Privacy != "" {
		if _, ok := validPrivacy[strings.ToLower(c.Privacy)]; !ok {
			return &ConfigError{Field: "privacy", Reason: "must be public, unlisted, or private"}
		}
	}
	if strings.TrimSpace(c.Content.Source) == "" {
		return &ConfigError{Field: "content.source", Reason: "is required"}
	}
	if c.Resolution != "" {
		if _, err := ResolutionHeight(c.Resolution); err != nil {
			return &ConfigError{Field: "resolution", Reason: err.Error()}
		}
	}
	if c.Bitrate != "" {
		if _, err := BitrateKbps(c.Bitrate); err != nil {
			return &ConfigError{Field: "bitrate", Reason: err.Error()}
		}
	}
	for i, raw := range c.ExtraIngestionURLs {
		parsed, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return &ConfigError{Field: fmt.Sprintf("extraIngestionUrls[%d]", i), Reason: "must be an absolute URL"}
		}
	}
	return nil
}

// ResolutionHeight extracts the vertical resolution from labels like "1080p"
// or "720p60".
func ResolutionHeight(resolution string) (int, error) {
	trimmed := strings.ToLower(strings.TrimSpace(resolution))
	trimmed = strings.TrimSuffix(trimmed, "p60")
	trimmed = strings.TrimSuffix(trimmed, "p")
	height, err := strconv.Atoi(trimmed)
	if err != nil || height <= 0 {
		return 0, fmt.Errorf("unrecognized resolution %q", resolution)
	}
	return height, nil
}

// BitrateKbps parses bitrate labels like "4500k" into a kilobit count.
func BitrateKbps(bitrate string) (int, error) {
	trimmed := strings.ToLower(strings.TrimSpace(bitrate))
	trimmed = strings.TrimSuffix(trimmed, "k")
	kbps, err := strconv.Atoi(trimmed)
	if err != nil || kbps <= 0 {
		return 0, fmt.Errorf("unrecognized bitrate %q", bitrate)
	}
	return kbps, nil
}

// ChildStreamStatus reports one ingestion target's last observed health.
type ChildStreamStatus struct {
	Target       string     `json:"target"`
	Primary      bool       `json:"primary"`
	Alive        bool       `json:"alive"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
	ExitCode     *int       `json:"exitCode,omitempty"`
}

// LogEntry is one timestamped line in a session's bounded log buffer.
type LogEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// AnalyticsSnapshot carries best-effort broadcast statistics fetched from the
// remote platform when a status request is served.
type AnalyticsSnapshot struct {
	ConcurrentViewers int    `json:"concurrentViewers"`
	HealthStatus      string `json:"healthStatus,omitempty"`
	LifecycleStatus   string `json:"lifecycleStatus,omitempty"`
}

// SessionSummary is the list() projection of a session.
type SessionSummary struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	State          SessionState `json:"state"`
	Retries        int          `json:"retries"`
	CreatedAt      time.Time    `json:"createdAt"`
	TransitionedAt time.Time    `json:"transitionedAt"`
	ScheduledAt    *time.Time   `json:"scheduledAt,omitempty"`
}

// SessionStatus is the full status() projection: state, per-child health,
// recent log entries, and an optional analytics snapshot.
type SessionStatus struct {
	SessionSummary
	Config      SessionConfig       `json:"config"`
	LastFailure string              `json:"lastFailure,omitempty"`
	Children    []ChildStreamStatus `json:"children"`
	Logs        []LogEntry          `json:"logs"`
	Analytics   *AnalyticsSnapshot  `json:"analytics,omitempty"`
}
