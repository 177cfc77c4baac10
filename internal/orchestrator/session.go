package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"streamcast/internal/models"
	"streamcast/internal/pushproc"
)

type commandKind int

const (
	stopCommand commandKind = iota
	activateCommand
)

type command struct {
	kind  commandKind
	reply chan error
}

// childStream pairs an ingestion target with its current push process.
// The handle is nil until the first launch and is replaced on reconnect.
type childStream struct {
	target  string
	primary bool
	handle  pushproc.Handle
	// notified marks that the current outage of a secondary has already
	// produced a child_failed event.
	notified bool
}

// Session is the supervised unit of work: one broadcast plus the push
// processes feeding it. All lifecycle mutation happens on the session's
// supervisor goroutine; the mutex only guards snapshot reads from the API.
type Session struct {
	id        string
	name      string
	chatID    string
	cfg       models.SessionConfig
	createdAt time.Time
	logs      *logRing

	mu             sync.Mutex
	state          models.SessionState
	children       []*childStream
	retries        int
	lastFailure    string
	transitionedAt time.Time

	commands chan command
	done     chan struct{}
}

func newSession(id string, cfg models.SessionConfig, chatID string, now time.Time, logCapacity int) *Session {
	s := &Session{
		id:             id,
		name:           cfg.Name,
		chatID:         chatID,
		cfg:            cfg,
		createdAt:      now,
		logs:           newLogRing(logCapacity),
		state:          models.StateStarting,
		transitionedAt: now,
		commands:       make(chan command),
		done:           make(chan struct{}),
	}
	return s
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Name() string { return s.name }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) Config() models.SessionConfig { return s.cfg }

func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

func (s *Session) setState(state models.SessionState, at time.Time) models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = state
	s.transitionedAt = at
	return prev
}

func (s *Session) setFailure(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFailure = reason
}

func (s *Session) incrementRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries++
	return s.retries
}

func (s *Session) resetRetries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries = 0
}

// setChildren installs the ingestion targets. The first entry is the primary.
func (s *Session) setChildren(primary string, extras []string) {
	children := make([]*childStream, 0, 1+len(extras))
	children = append(children, &childStream{target: primary, primary: true})
	for _, target := range extras {
		children = append(children, &childStream{target: target})
	}
	s.mu.Lock()
	s.children = children
	s.mu.Unlock()
}

func (s *Session) childSnapshot() []*childStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*childStream, len(s.children))
	copy(out, s.children)
	return out
}

func (s *Session) appendLog(at time.Time, format string, args ...any) {
	s.logs.Append(at, fmt.Sprintf(format, args...))
}

// Summary builds the listing view of the session.
func (s *Session) Summary() models.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionSummary{
		ID:             s.id,
		Name:           s.name,
		State:          s.state,
		Retries:        s.retries,
		CreatedAt:      s.createdAt,
		TransitionedAt: s.transitionedAt,
		ScheduledAt:    s.cfg.ScheduledAt,
	}
}

// Status builds the detail view, including per-child process health and the
// retained log tail.
func (s *Session) Status() models.SessionStatus {
	s.mu.Lock()
	children := make([]models.ChildStreamStatus, 0, len(s.children))
	for _, c := range s.children {
		status := models.ChildStreamStatus{Target: c.target, Primary: c.primary}
		if c.handle != nil {
			status.Alive = c.handle.Alive()
			if last := c.handle.LastActivity(); !last.IsZero() {
				status.LastActivity = &last
			}
			if code, exited := c.handle.ExitCode(); exited {
				status.ExitCode = &code
			}
		}
		children = append(children, status)
	}
	summary := models.SessionSummary{
		ID:             s.id,
		Name:           s.name,
		State:          s.state,
		Retries:        s.retries,
		CreatedAt:      s.createdAt,
		TransitionedAt: s.transitionedAt,
		ScheduledAt:    s.cfg.ScheduledAt,
	}
	lastFailure := s.lastFailure
	cfg := s.cfg
	s.mu.Unlock()
	return models.SessionStatus{
		SessionSummary: summary,
		Config:         cfg,
		LastFailure:    lastFailure,
		Children:       children,
		Logs:           s.logs.Snapshot(),
	}
}

// Done closes once the supervisor goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
