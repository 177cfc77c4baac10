// Package pushproc launches and supervises the external media-push processes
// that feed a session's ingestion targets. The orchestrator only sees the
// Handle interface, so tests substitute in-memory fakes.
package pushproc

import (
	"context"
	"fmt"
	"time"

	"streamcast/internal/models"
)

// Spec describes one push process: a content source transmitted to a single
// ingestion destination at the requested resolution and bitrate.
type Spec struct {
	Content     models.ContentSource
	Destination string
	Resolution  string
	Bitrate     string
}

// Handle is an owned, running (or exited) push process. Alive, ExitCode, and
// LastActivity are non-blocking so health sampling never stalls on process
// I/O.
type Handle interface {
	// Alive reports whether the process is still running.
	Alive() bool
	// ExitCode returns the process exit code once it has exited.
	ExitCode() (int, bool)
	// LastActivity returns the time output was last observed from the
	// process, which the health monitor uses as its forward-progress
	// signal.
	LastActivity() time.Time
	// Terminate requests a graceful stop, escalating to a forced kill
	// after the launcher's grace period or when ctx expires.
	Terminate(ctx context.Context) error
}

// Launcher creates push processes. The production implementation execs
// ffmpeg; tests install fakes.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Handle, error)
}

// LaunchError indicates the push process could not be started at all.
type LaunchError struct {
	Destination string
	Err         error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch push process for %s: %v", e.Destination, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
