package orchestrator

import "time"

// Tunables collects the timing and escalation knobs of the supervisory loop.
// Zero fields are replaced with defaults, so callers only set what they
// want to override.
type Tunables struct {
	// SampleInterval is the health sampling cadence.
	SampleInterval time.Duration
	// StalenessWindow bounds how old the last process activity may be before
	// a sample counts as unhealthy.
	StalenessWindow time.Duration
	// DebounceSamples is the number of consecutive failed samples required
	// before a live session is marked degraded.
	DebounceSamples int
	// StabilizationWindow is how long a session must stay healthy after a
	// reconnect before its retry counter resets.
	StabilizationWindow time.Duration
	// ReconnectBaseDelay seeds the exponential backoff between restarts.
	ReconnectBaseDelay time.Duration
	// ReconnectMaxDelay caps the backoff.
	ReconnectMaxDelay time.Duration
	// MaxRetries bounds restart attempts between stable periods.
	MaxRetries int
	// EscalateChildFailures treats a failed secondary destination like a
	// failed primary instead of only logging it.
	EscalateChildFailures bool
	// TerminateGrace bounds how long child teardown may take during stop
	// and shutdown.
	TerminateGrace time.Duration
	// SchedulerInterval is how often the scheduler checks for due sessions.
	SchedulerInterval time.Duration
	// LogCapacity is the number of retained per-session log entries.
	LogCapacity int
	// ChatGreeting, when set, is posted to the broadcast chat once the
	// session first reaches live. Empty disables the greeting.
	ChatGreeting string
}

// DefaultTunables returns the production defaults.
func DefaultTunables() Tunables {
	return Tunables{
		SampleInterval:      15 * time.Second,
		StalenessWindow:     30 * time.Second,
		DebounceSamples:     2,
		StabilizationWindow: time.Minute,
		ReconnectBaseDelay:  2 * time.Second,
		ReconnectMaxDelay:   time.Minute,
		MaxRetries:          3,
		TerminateGrace:      10 * time.Second,
		SchedulerInterval:   time.Second,
		LogCapacity:         200,
		ChatGreeting:        "streamcast connected, enjoy the show",
	}
}

func (t Tunables) withDefaults() Tunables {
	def := DefaultTunables()
	if t.SampleInterval <= 0 {
		t.SampleInterval = def.SampleInterval
	}
	if t.StalenessWindow <= 0 {
		t.StalenessWindow = def.StalenessWindow
	}
	if t.DebounceSamples <= 0 {
		t.DebounceSamples = def.DebounceSamples
	}
	if t.StabilizationWindow <= 0 {
		t.StabilizationWindow = def.StabilizationWindow
	}
	if t.ReconnectBaseDelay <= 0 {
		t.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if t.ReconnectMaxDelay <= 0 {
		t.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if t.MaxRetries <= 0 {
		t.MaxRetries = def.MaxRetries
	}
	if t.TerminateGrace <= 0 {
		t.TerminateGrace = def.TerminateGrace
	}
	if t.SchedulerInterval <= 0 {
		t.SchedulerInterval = def.SchedulerInterval
	}
	if t.LogCapacity <= 0 {
		t.LogCapacity = def.LogCapacity
	}
	return t
}

func (t Tunables) policy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:  t.ReconnectBaseDelay,
		MaxDelay:   t.ReconnectMaxDelay,
		MaxRetries: t.MaxRetries,
	}
}
